// Package ondisk defines the bit-exact on-disk wire formats the log and
// buffer cache exchange with the disk backend (spec §6): little-endian,
// fixed-width, hand-packed into byte slices the way the teacher's uapi
// package packs ioctl structs for the kernel ABI, rather than leaning on
// encoding/gob or reflection-based codecs that offer no on-disk format
// guarantee across versions.
package ondisk

import (
	"encoding/binary"
	"errors"

	"github.com/rvkern/rvkernel/internal/constants"
)

// ErrShortBuffer is returned when a buffer is too small to hold the
// wire-encoded structure being unmarshaled.
var ErrShortBuffer = errors.New("ondisk: buffer too short")

// LogHeader is the in-memory mirror of the log's on-disk header block: a
// count followed by the ordered, deduplicated list of target block
// numbers currently staged in the log's data slots.
type LogHeader struct {
	N     uint32
	Block [constants.LOGSIZE]uint32
}

// HeaderSize is the wire size of a LogHeader: one u32 count plus
// LOGSIZE u32 block numbers. It is always <= BSIZE; the header occupies
// one full disk block with the remainder left as zero padding.
const HeaderSize = 4 + 4*constants.LOGSIZE

// Marshal packs h into a BSIZE-byte block buffer, little-endian, matching
// spec §6's "u32 n then u32 block[LOGSIZE]" wire format exactly.
func (h *LogHeader) Marshal() []byte {
	buf := make([]byte, constants.BSIZE)
	binary.LittleEndian.PutUint32(buf[0:4], h.N)
	for i, b := range h.Block {
		off := 4 + i*4
		binary.LittleEndian.PutUint32(buf[off:off+4], b)
	}
	return buf
}

// Unmarshal reads a LogHeader back out of a disk block previously produced
// by Marshal. Trailing bytes beyond HeaderSize are padding and ignored.
func (h *LogHeader) Unmarshal(data []byte) error {
	if len(data) < HeaderSize {
		return ErrShortBuffer
	}
	h.N = binary.LittleEndian.Uint32(data[0:4])
	for i := range h.Block {
		off := 4 + i*4
		h.Block[i] = binary.LittleEndian.Uint32(data[off : off+4])
	}
	return nil
}

// Reset clears the header to the empty-transaction state (n=0), the same
// state a truncate-after-install or truncate-after-erase writes back.
func (h *LogHeader) Reset() {
	h.N = 0
	for i := range h.Block {
		h.Block[i] = 0
	}
}
