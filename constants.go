package rvkernel

import "github.com/rvkern/rvkernel/internal/constants"

// Re-exported budgets from internal/constants, for callers that want to
// size their own Params without importing the internal package directly.
const (
	BSIZE       = constants.BSIZE
	NBUF        = constants.NBUF
	LOGSIZE     = constants.LOGSIZE
	MAXOPBLOCKS = constants.MAXOPBLOCKS
	PGSIZE      = constants.PGSIZE
	PIPESIZE    = constants.PIPESIZE
	NCPU        = constants.NCPU
	NPROC       = constants.NPROC
)
