package rvkernel

import (
	"sync/atomic"
	"time"
)

// Metrics tracks operational statistics across every subsystem rvkernel
// wires together: the buffer cache, the transaction log, pipes, and the
// physical frame allocator. It satisfies internal/interfaces.Observer so a
// *Kernel can hand it straight to each subsystem's constructor.
type Metrics struct {
	// Buffer cache
	BufferHits    atomic.Uint64
	BufferMisses  atomic.Uint64
	BufferEvicts  atomic.Uint64

	// Transaction log
	LogCommits       atomic.Uint64
	LogBlocksWritten atomic.Uint64
	LogAbsorbed      atomic.Uint64

	// Pipes
	PipeBytesWritten atomic.Uint64
	PipeBytesRead    atomic.Uint64

	// Physical frame allocator
	FrameAllocs        atomic.Uint64
	FrameAllocFailures atomic.Uint64
	FrameFrees         atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance with StartTime set to now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// ObserveBufferHit implements internal/interfaces.Observer.
func (m *Metrics) ObserveBufferHit(dev, blockno uint32) { m.BufferHits.Add(1) }

// ObserveBufferMiss implements internal/interfaces.Observer.
func (m *Metrics) ObserveBufferMiss(dev, blockno uint32) { m.BufferMisses.Add(1) }

// ObserveBufferEvict implements internal/interfaces.Observer.
func (m *Metrics) ObserveBufferEvict(dev, blockno uint32) { m.BufferEvicts.Add(1) }

// ObserveLogCommit implements internal/interfaces.Observer. blocks is the
// number of distinct blocks installed; absorbed is how many log_write calls
// within the transaction hit an already-logged block.
func (m *Metrics) ObserveLogCommit(blocks int, absorbed int) {
	m.LogCommits.Add(1)
	m.LogBlocksWritten.Add(uint64(blocks))
	m.LogAbsorbed.Add(uint64(absorbed))
}

// ObservePipeBytes implements internal/interfaces.Observer.
func (m *Metrics) ObservePipeBytes(n int, write bool) {
	if write {
		m.PipeBytesWritten.Add(uint64(n))
	} else {
		m.PipeBytesRead.Add(uint64(n))
	}
}

// ObserveFrameAlloc implements internal/interfaces.Observer.
func (m *Metrics) ObserveFrameAlloc(ok bool) {
	if ok {
		m.FrameAllocs.Add(1)
	} else {
		m.FrameAllocFailures.Add(1)
	}
}

// ObserveFrameFree implements internal/interfaces.Observer.
func (m *Metrics) ObserveFrameFree() { m.FrameFrees.Add(1) }

// Stop marks the kernel as stopped for uptime accounting.
func (m *Metrics) Stop() { m.StopTime.Store(time.Now().UnixNano()) }

// MetricsSnapshot is a point-in-time, non-atomic copy of Metrics suitable
// for logging or export.
type MetricsSnapshot struct {
	BufferHits   uint64
	BufferMisses uint64
	BufferEvicts uint64
	BufferHitRate float64

	LogCommits       uint64
	LogBlocksWritten uint64
	LogAbsorbed      uint64

	PipeBytesWritten uint64
	PipeBytesRead    uint64

	FrameAllocs        uint64
	FrameAllocFailures uint64
	FrameFrees         uint64

	UptimeNs uint64
}

// Snapshot returns a consistent-enough snapshot of m for reporting; callers
// needing strict consistency across fields should treat it as advisory.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		BufferHits:         m.BufferHits.Load(),
		BufferMisses:       m.BufferMisses.Load(),
		BufferEvicts:       m.BufferEvicts.Load(),
		LogCommits:         m.LogCommits.Load(),
		LogBlocksWritten:   m.LogBlocksWritten.Load(),
		LogAbsorbed:        m.LogAbsorbed.Load(),
		PipeBytesWritten:   m.PipeBytesWritten.Load(),
		PipeBytesRead:      m.PipeBytesRead.Load(),
		FrameAllocs:        m.FrameAllocs.Load(),
		FrameAllocFailures: m.FrameAllocFailures.Load(),
		FrameFrees:         m.FrameFrees.Load(),
	}

	total := snap.BufferHits + snap.BufferMisses
	if total > 0 {
		snap.BufferHitRate = float64(snap.BufferHits) / float64(total) * 100.0
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	return snap
}

// Reset zeroes every counter, useful between test scenarios.
func (m *Metrics) Reset() {
	m.BufferHits.Store(0)
	m.BufferMisses.Store(0)
	m.BufferEvicts.Store(0)
	m.LogCommits.Store(0)
	m.LogBlocksWritten.Store(0)
	m.LogAbsorbed.Store(0)
	m.PipeBytesWritten.Store(0)
	m.PipeBytesRead.Store(0)
	m.FrameAllocs.Store(0)
	m.FrameAllocFailures.Store(0)
	m.FrameFrees.Store(0)
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}
