// Package rvkernel wires the synchronization substrate and crash-consistent
// I/O stack (spinlocks, the physical frame allocator, the buffer cache, the
// redo log, pipes, and exec) into a single bootable unit.
package rvkernel

import (
	"context"
	"fmt"
	"sync"

	"github.com/rvkern/rvkernel/internal/bufcache"
	"github.com/rvkern/rvkernel/internal/constants"
	"github.com/rvkern/rvkernel/internal/execfs"
	"github.com/rvkern/rvkernel/internal/interfaces"
	"github.com/rvkern/rvkernel/internal/logging"
	"github.com/rvkern/rvkernel/internal/pagealloc"
	"github.com/rvkern/rvkernel/internal/pipe"
	"github.com/rvkern/rvkernel/internal/sched"
	"github.com/rvkern/rvkernel/internal/txlog"
)

// Kernel is a running instance of the substrate: a frame allocator, a
// buffer cache and transaction log over one disk, a pool of dispatch harts,
// and the metrics/logging that observe all of them.
type Kernel struct {
	params Params

	logger   interfaces.Logger
	metrics  *Metrics
	observer interfaces.Observer

	alloc *pagealloc.Allocator
	bc    *bufcache.Cache
	log   *txlog.Log
	harts []*sched.Hart

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	started bool
}

// Params contains parameters for booting a Kernel.
type Params struct {
	// Disk backs the buffer cache and transaction log.
	Disk interfaces.Disk

	// LogDev, LogStart, LogSize describe the transaction log's region on
	// Disk, in blocks. LogSize must be <= constants.LOGSIZE.
	LogDev   uint32
	LogStart uint32
	LogSize  uint32

	// BufSlots sizes the buffer cache's LRU pool; 0 means
	// constants.NBUF.
	BufSlots int

	// FrameBase and NumFrames describe the physical frame arena the
	// allocator hands out to exec.
	FrameBase uintptr
	NumFrames int

	// NumHarts is the number of dispatch harts to start; 0 means
	// constants.NCPU.
	NumHarts int
}

// DefaultParams returns sensible defaults for a Kernel over disk, with the
// log occupying the region immediately following a one-block superblock.
func DefaultParams(disk interfaces.Disk) Params {
	return Params{
		Disk:      disk,
		LogDev:    0,
		LogStart:  1,
		LogSize:   constants.LOGSIZE,
		BufSlots:  constants.NBUF,
		FrameBase: 0x80000000,
		NumFrames: 256,
		NumHarts:  constants.NCPU,
	}
}

// Options contains additional, optional boot configuration.
type Options struct {
	// Logger receives subsystem diagnostics; nil disables logging output
	// beyond the package default.
	Logger interfaces.Logger

	// Observer receives metrics callbacks; nil defaults to a fresh
	// *Metrics instance, retrievable via Kernel.Metrics.
	Observer interfaces.Observer
}

// Boot brings up a Kernel: it initializes the physical frame allocator,
// opens the buffer cache and transaction log over params.Disk (running log
// recovery if a prior commit left work to replay), and starts params.
// NumHarts dispatch harts: construct every subsystem, start their run
// loops, then hand back a live handle.
func Boot(ctx context.Context, params Params, options *Options) (*Kernel, error) {
	if params.Disk == nil {
		return nil, NewError("BOOT", ErrCodeInvalidParameters, "params.Disk is required")
	}
	if params.LogSize == 0 || params.LogSize > constants.LOGSIZE {
		return nil, NewError("BOOT", ErrCodeInvalidParameters,
			fmt.Sprintf("log size must be in (0, %d]", constants.LOGSIZE))
	}

	if ctx == nil {
		ctx = context.Background()
	}
	if options == nil {
		options = &Options{}
	}

	logger := options.Logger
	if logger == nil {
		logger = logging.Default()
	}

	metrics := NewMetrics()
	var observer interfaces.Observer = metrics
	if options.Observer != nil {
		observer = options.Observer
	}

	bufSlots := params.BufSlots
	if bufSlots == 0 {
		bufSlots = constants.NBUF
	}
	numFrames := params.NumFrames
	if numFrames == 0 {
		numFrames = 256
	}
	numHarts := params.NumHarts
	if numHarts == 0 {
		numHarts = constants.NCPU
	}

	alloc := pagealloc.New(observer)
	alloc.Init(params.FrameBase, numFrames)

	bc := bufcache.NewSized(params.Disk, observer, bufSlots)

	log, err := txlog.Open(params.Disk, bc, observer, params.LogDev, params.LogStart, params.LogSize)
	if err != nil {
		return nil, WrapError("BOOT", err)
	}

	kctx, cancel := context.WithCancel(ctx)

	k := &Kernel{
		params:   params,
		logger:   logger,
		metrics:  metrics,
		observer: observer,
		alloc:    alloc,
		bc:       bc,
		log:      log,
		ctx:      kctx,
		cancel:   cancel,
	}

	k.harts = make([]*sched.Hart, numHarts)
	for i := 0; i < numHarts; i++ {
		h := sched.NewHart(sched.HartConfig{ID: i, Logger: logger})
		h.Start()
		k.harts[i] = h
	}

	k.started = true
	logger.Printf("rvkernel: booted with %d harts, %d frames, log region [%d,%d)",
		numHarts, numFrames, params.LogStart, params.LogStart+params.LogSize)

	return k, nil
}

// Shutdown stops every hart's dispatch loop, marks metrics stopped, and
// closes the underlying disk.
func Shutdown(ctx context.Context, k *Kernel) error {
	if k == nil {
		return NewError("SHUTDOWN", ErrCodeInvalidParameters, "nil kernel")
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.started {
		return NewError("SHUTDOWN", ErrCodeNotBooted, "kernel not booted")
	}

	k.cancel()
	for _, h := range k.harts {
		h.Stop()
	}
	k.harts = nil

	k.metrics.Stop()

	if err := k.params.Disk.Close(); err != nil {
		return WrapError("SHUTDOWN", err)
	}

	k.started = false
	return nil
}

// KernelState describes the substrate's lifecycle.
type KernelState string

const (
	KernelStateCreated KernelState = "created"
	KernelStateRunning KernelState = "running"
	KernelStateStopped KernelState = "stopped"
)

// State returns the kernel's current lifecycle state.
func (k *Kernel) State() KernelState {
	if k == nil {
		return KernelStateStopped
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.started {
		return KernelStateStopped
	}
	select {
	case <-k.ctx.Done():
		return KernelStateStopped
	default:
		return KernelStateRunning
	}
}

// IsRunning reports whether the kernel is currently dispatching traps.
func (k *Kernel) IsRunning() bool { return k.State() == KernelStateRunning }

// NumHarts returns the number of dispatch harts started at Boot.
func (k *Kernel) NumHarts() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.harts)
}

// Hart returns the i'th dispatch hart, for submitting traps directly.
func (k *Kernel) Hart(i int) *sched.Hart {
	k.mu.Lock()
	defer k.mu.Unlock()
	if i < 0 || i >= len(k.harts) {
		return nil
	}
	return k.harts[i]
}

// Allocator returns the kernel's physical frame allocator.
func (k *Kernel) Allocator() *pagealloc.Allocator { return k.alloc }

// BufCache returns the kernel's buffer cache.
func (k *Kernel) BufCache() *bufcache.Cache { return k.bc }

// Log returns the kernel's transaction log.
func (k *Kernel) Log() *txlog.Log { return k.log }

// NewPipe creates a pipe wired to the kernel's observer, so pipe byte
// accounting shows up in Kernel.MetricsSnapshot.
func (k *Kernel) NewPipe() *pipe.Pipe {
	p := pipe.New()
	obs := k.observer
	p.SetObserver(func(n int, write bool) { obs.ObservePipeBytes(n, write) })
	return p
}

// Exec loads img into a fresh address space for p and, on success, swaps
// it in atomically, using the kernel's frame allocator. It's a thin
// convenience wrapper over internal/execfs.Exec so callers only need a
// *Kernel and a hart ID.
func (k *Kernel) Exec(p *execfs.Proc, hart int, img *execfs.Image, argv []string) (int, error) {
	argc, err := execfs.Exec(p, k.alloc, hart, img, argv)
	if err != nil {
		return argc, NewError("EXEC", ErrCodeExecFailed, err.Error())
	}
	return argc, nil
}

// Metrics returns the kernel's built-in metrics instance. If the caller
// supplied a custom Observer at Boot, this still returns the built-in
// *Metrics (which was not wired in that case, and will read as all zero);
// use the custom Observer directly for that deployment instead.
func (k *Kernel) Metrics() *Metrics { return k.metrics }

// MetricsSnapshot returns a point-in-time snapshot of the kernel's built-in
// metrics.
func (k *Kernel) MetricsSnapshot() MetricsSnapshot {
	if k == nil || k.metrics == nil {
		return MetricsSnapshot{}
	}
	return k.metrics.Snapshot()
}

// FrameStats returns the physical frame allocator's current occupancy.
func (k *Kernel) FrameStats(hart int) pagealloc.Stats {
	return k.alloc.Stat(hart)
}

var _ interfaces.Observer = (*Metrics)(nil)
