// Package constants holds the fixed sizes and budgets that tie the
// synchronization substrate to the crash-consistent I/O stack. These mirror
// xv6's param.h: small, fixed, and chosen so invariants are cheap to check.
package constants

const (
	// BSIZE is the size in bytes of a disk block and of a buffer payload.
	BSIZE = 1024

	// NBUF is the number of slots in the buffer cache's LRU pool.
	NBUF = 30

	// LOGSIZE bounds the number of distinct blocks a transaction's log can
	// hold, including the header's own block.
	LOGSIZE = 30

	// MAXOPBLOCKS bounds the number of distinct blocks a single syscall may
	// log_write in one transaction; it sounds the admission predicate in
	// begin_op.
	MAXOPBLOCKS = 10

	// PGSIZE is the size in bytes of one physical frame.
	PGSIZE = 4096

	// PIPESIZE is the capacity in bytes of a pipe's ring buffer.
	PIPESIZE = 512

	// NCPU is the number of harts the scheduler multiplexes processes over.
	NCPU = 4

	// NPROC bounds the number of processes the scheduler's process table
	// can hold at once.
	NPROC = 64
)

// Poison bytes used by the page allocator to surface use-before-init and
// use-after-free. AllocPoison fills a frame handed out by Alloc; FreePoison
// overwrites a frame handed to Free, so a dangling write after free reads
// back as a different, recognizable pattern than a read of uninitialized
// memory would.
const (
	AllocPoison byte = 0x5A
	FreePoison  byte = 0x1A
)
