package sched

import (
	"context"
	"fmt"
	"sync"

	"github.com/rvkern/rvkernel/internal/interfaces"
	"github.com/rvkern/rvkernel/internal/logging"
)

// Trap is one unit of work dispatched to a hart: a user syscall or device
// interrupt handler. It returns the simulated trapframe return value.
type Trap func(hart int) (retval int64, err error)

// HartConfig configures a simulated hart's run loop.
type HartConfig struct {
	ID     int
	Logger interfaces.Logger
}

// Hart runs one goroutine that dispatches Traps submitted to it, standing
// in for the trap-gate dispatch loop of spec §4.7 and §6: traps arrive on a
// channel instead of via scause, but the contract (one handler in flight
// per hart, completed traps report back their result) is the same.
type Hart struct {
	id     int
	logger interfaces.Logger

	traps  chan trapRequest
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type trapRequest struct {
	trap  Trap
	reply chan trapResult
}

type trapResult struct {
	retval int64
	err    error
}

// NewHart creates a hart that has not yet started its dispatch loop.
func NewHart(cfg HartConfig) *Hart {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hart{
		id:     cfg.ID,
		logger: logger,
		traps:  make(chan trapRequest, 16),
		ctx:    ctx,
		cancel: cancel,
	}
}

// ID returns the hart's identifier, used by spinlock/sleeplock calls made
// from traps dispatched on this hart.
func (h *Hart) ID() int { return h.id }

// Start launches the hart's dispatch goroutine.
func (h *Hart) Start() {
	h.logger.Debugf("hart %d starting", h.id)
	h.wg.Add(1)
	go h.loop()
}

func (h *Hart) loop() {
	defer h.wg.Done()
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Debugf("hart %d stopping", h.id)
			return
		case req := <-h.traps:
			retval, err := req.trap(h.id)
			req.reply <- trapResult{retval: retval, err: err}
		}
	}
}

// Submit dispatches trap to this hart and blocks for its result, like a
// synchronous syscall trap: the caller (a user-mode goroutine standing in
// for a process) is parked until the trap handler returns.
func (h *Hart) Submit(trap Trap) (int64, error) {
	reply := make(chan trapResult, 1)
	select {
	case h.traps <- trapRequest{trap: trap, reply: reply}:
	case <-h.ctx.Done():
		return 0, fmt.Errorf("hart %d: submit after stop", h.id)
	}
	select {
	case res := <-reply:
		return res.retval, res.err
	case <-h.ctx.Done():
		return 0, fmt.Errorf("hart %d: stopped before trap completed", h.id)
	}
}

// Stop cancels the dispatch loop and waits for it to exit.
func (h *Hart) Stop() {
	h.cancel()
	h.wg.Wait()
}
