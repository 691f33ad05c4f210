// Package execfs implements building a fresh address space from an
// executable image and committing it atomically (spec §4.8). The
// address-space shape (a mutex-guarded set of mapped pages, built up
// lazily and swapped into the owning process only once fully formed)
// follows biscuit's Vm_t/Pmap pattern, simplified here to a flat
// virtual-page-number-to-frame map since this target has no page-fault
// path of its own to share with it.
package execfs

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/rvkern/rvkernel/internal/constants"
	"github.com/rvkern/rvkernel/internal/pagealloc"
)

// elfMagic is the four-byte ELF identification sequence; exec rejects
// any image that doesn't start with it.
var elfMagic = []byte{0x7f, 'E', 'L', 'F'}

// Segment is one loadable region of an executable image: the bytes at
// VAddr..VAddr+len(Data) in the new address space, zero-filled to the
// next page boundary.
type Segment struct {
	VAddr uint64
	Data  []byte
}

// Image is the minimal view of an executable exec needs; ELF parsing,
// symbol resolution, and path lookup are the FS/loader layer's concern
// and live outside this package.
type Image struct {
	Magic    [4]byte
	Entry    uint64
	Segments []Segment
}

// Valid reports whether Magic matches the ELF identification bytes.
func (img *Image) Valid() bool {
	return bytes.Equal(img.Magic[:], elfMagic)
}

// AddrSpace is a process's page table: a set of owned frames keyed by
// virtual page number, guarded by a mutex exactly as biscuit's Vm_t
// guards its Vmregion/Pmap/P_pmap triple together.
type AddrSpace struct {
	mu     sync.Mutex
	pages  map[uint64]uintptr // vpn -> frame address
	frames map[uint64][]byte  // vpn -> backing bytes, for this simulation's reads/writes
	sz     uint64             // first byte past the highest mapped address
}

func newAddrSpace() *AddrSpace {
	return &AddrSpace{pages: map[uint64]uintptr{}, frames: map[uint64][]byte{}}
}

func vpn(addr uint64) uint64 { return addr / constants.PGSIZE }

// mapPage installs one freshly allocated frame at vpn.
func (as *AddrSpace) mapPage(a *pagealloc.Allocator, hart int, v uint64) ([]byte, error) {
	addr, frame, ok := a.Alloc(hart)
	if !ok {
		return nil, fmt.Errorf("execfs: out of physical frames")
	}
	as.pages[v] = addr
	as.frames[v] = frame
	return frame, nil
}

// Size returns the address space's current high-water mark.
func (as *AddrSpace) Size() uint64 {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.sz
}

// free returns every frame this address space owns to the allocator.
func (as *AddrSpace) free(a *pagealloc.Allocator, hart int) {
	as.mu.Lock()
	defer as.mu.Unlock()
	for v, addr := range as.pages {
		a.Free(hart, addr, as.frames[v])
	}
	as.pages = map[uint64]uintptr{}
	as.frames = map[uint64][]byte{}
}

// Proc is the minimal process state exec mutates: the active address
// space and the two trapframe fields exec sets on success.
type Proc struct {
	mu   sync.Mutex
	as   *AddrSpace
	Epc  uint64
	Sp   uint64
	Argc int
}

// NewProc creates a process with an empty address space, as if freshly
// forked with no image loaded yet.
func NewProc() *Proc {
	return &Proc{as: newAddrSpace()}
}

// AddrSpace returns the process's current address space.
func (p *Proc) AddrSpace() *AddrSpace {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.as
}

// Exec builds a fresh address space from img, lays out argv on a new
// stack, and only if every step succeeds atomically swaps it in for p's
// current address space, returning argc in the syscall-return register's
// stead. On any failure, the new (partial) address space's
// frames are freed and p is left completely unchanged.
func Exec(p *Proc, a *pagealloc.Allocator, hart int, img *Image, argv []string) (int, error) {
	if !img.Valid() {
		return -1, fmt.Errorf("execfs: bad ELF magic")
	}

	newAS := newAddrSpace()
	var highWater uint64

	for _, seg := range img.Segments {
		if err := loadSegment(newAS, a, hart, seg); err != nil {
			newAS.free(a, hart)
			return -1, err
		}
		end := seg.VAddr + uint64(len(seg.Data))
		if end > highWater {
			highWater = end
		}
	}

	stackTop := alignUp(highWater, constants.PGSIZE) + constants.PGSIZE // guard page
	sp, argc, err := layoutArgv(newAS, a, hart, stackTop, argv)
	if err != nil {
		newAS.free(a, hart)
		return -1, err
	}
	newAS.sz = stackTop + constants.PGSIZE

	old := p.swapAddrSpace(newAS, img.Entry, sp, argc)
	old.free(a, hart)
	return argc, nil
}

// swapAddrSpace installs newAS and the new trapframe fields atomically
// and returns the process's previous address space for the caller to
// free once the swap itself is safely committed.
func (p *Proc) swapAddrSpace(newAS *AddrSpace, entry, sp uint64, argc int) *AddrSpace {
	p.mu.Lock()
	defer p.mu.Unlock()
	old := p.as
	p.as = newAS
	p.Epc = entry
	p.Sp = sp
	p.Argc = argc
	return old
}

// loadSegment copies seg.Data into freshly mapped, page-aligned frames
// starting at seg.VAddr, walking every page the span touches.
func loadSegment(as *AddrSpace, a *pagealloc.Allocator, hart int, seg Segment) error {
	return copySpanned(as, a, hart, seg.VAddr, seg.Data)
}

// copySpanned maps and fills every page touched by [vaddr, vaddr+len(data)).
func copySpanned(as *AddrSpace, a *pagealloc.Allocator, hart int, vaddr uint64, data []byte) error {
	remaining := data
	addr := vaddr
	for len(remaining) > 0 {
		v := vpn(addr)
		frame, ok := as.frames[v]
		if !ok {
			var err error
			frame, err = as.mapPage(a, hart, v)
			if err != nil {
				return err
			}
		}
		pageOff := addr % constants.PGSIZE
		n := copy(frame[pageOff:], remaining)
		remaining = remaining[n:]
		addr += uint64(n)
	}
	return nil
}

// layoutArgv copies argument strings and a trailing argv pointer array
// onto a two-page stack (guard page + stack page) ending at stackTop,
// 16-byte aligned, per spec §4.8.
func layoutArgv(as *AddrSpace, a *pagealloc.Allocator, hart int, stackTop uint64, argv []string) (sp uint64, argc int, err error) {
	guardVPN := vpn(stackTop - constants.PGSIZE)
	if _, err := as.mapPage(a, hart, guardVPN); err != nil {
		return 0, 0, err
	}
	stackVPN := vpn(stackTop)
	if _, err := as.mapPage(a, hart, stackVPN); err != nil {
		return 0, 0, err
	}

	sp = stackTop + constants.PGSIZE
	ptrs := make([]uint64, len(argv))
	for i := len(argv) - 1; i >= 0; i-- {
		s := argv[i]
		n := uint64(len(s) + 1) // NUL terminator
		sp -= n
		if err := copySpanned(as, a, hart, sp, append([]byte(s), 0)); err != nil {
			return 0, 0, err
		}
		ptrs[i] = sp
	}
	sp = alignDown(sp, 16)

	sp -= uint64(len(ptrs)+1) * 8
	sp = alignDown(sp, 16)
	ptrBytes := make([]byte, (len(ptrs)+1)*8)
	for i, p := range ptrs {
		putUint64(ptrBytes[i*8:], p)
	}
	// final 8 bytes are the NULL argv terminator, already zero.
	if err := copySpanned(as, a, hart, sp, ptrBytes); err != nil {
		return 0, 0, err
	}

	return sp, len(argv), nil
}

func alignUp(v, align uint64) uint64   { return (v + align - 1) &^ (align - 1) }
func alignDown(v, align uint64) uint64 { return v &^ (align - 1) }

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
