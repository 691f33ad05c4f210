package rvkernel

import (
	"fmt"
	"sync"

	"github.com/rvkern/rvkernel/internal/constants"
	"github.com/rvkern/rvkernel/internal/interfaces"
)

// MockDisk is a call-tracking, fault-injectable Disk for exercising boot
// and recovery paths without internal/diskio.MemDisk's crash-snapshot
// machinery: a minimal implementation that also records what was called,
// so assertions can check behavior instead of just final state.
type MockDisk struct {
	mu      sync.Mutex
	blocks  [][]byte
	closed  bool
	readCalls  int
	writeCalls int

	// failBlock, if non-negative, makes the next ReadBlock/WriteBlock of
	// that block number return failErr instead of succeeding.
	failBlock int64
	failErr   error
}

// NewMockDisk creates a zero-filled mock disk of nblocks blocks.
func NewMockDisk(nblocks uint32) *MockDisk {
	d := &MockDisk{
		blocks:    make([][]byte, nblocks),
		failBlock: -1,
	}
	for i := range d.blocks {
		d.blocks[i] = make([]byte, constants.BSIZE)
	}
	return d
}

// ReadBlock implements internal/interfaces.Disk.
func (d *MockDisk) ReadBlock(n uint32, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.readCalls++
	if d.closed {
		return fmt.Errorf("mockdisk: read after close")
	}
	if err := d.maybeFail(n); err != nil {
		return err
	}
	if int(n) >= len(d.blocks) {
		return fmt.Errorf("mockdisk: read of out-of-range block %d", n)
	}
	copy(buf, d.blocks[n])
	return nil
}

// WriteBlock implements internal/interfaces.Disk.
func (d *MockDisk) WriteBlock(n uint32, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writeCalls++
	if d.closed {
		return fmt.Errorf("mockdisk: write after close")
	}
	if err := d.maybeFail(n); err != nil {
		return err
	}
	if int(n) >= len(d.blocks) {
		return fmt.Errorf("mockdisk: write of out-of-range block %d", n)
	}
	copy(d.blocks[n], buf)
	return nil
}

func (d *MockDisk) maybeFail(n uint32) error {
	if d.failBlock >= 0 && uint32(d.failBlock) == n {
		d.failBlock = -1
		return d.failErr
	}
	return nil
}

// Close implements internal/interfaces.Disk.
func (d *MockDisk) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// InjectFailure makes the next access to block n fail with err.
func (d *MockDisk) InjectFailure(n uint32, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failBlock = int64(n)
	d.failErr = err
}

// IsClosed reports whether Close has been called.
func (d *MockDisk) IsClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// CallCounts returns the number of ReadBlock/WriteBlock calls observed.
func (d *MockDisk) CallCounts() (reads, writes int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readCalls, d.writeCalls
}

var _ interfaces.Disk = (*MockDisk)(nil)
