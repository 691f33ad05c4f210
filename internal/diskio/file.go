package diskio

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/rvkern/rvkernel/internal/constants"
)

// FileDisk backs the Disk contract with a single open file, using
// positioned pread/pwrite so concurrent block transfers from different
// harts never race over a shared file offset.
type FileDisk struct {
	f    *os.File
	fd   int
	size int64
}

// OpenFileDisk opens (creating if needed) path as a block store of
// nblocks blocks, growing the file to exactly that size if it's smaller.
func OpenFileDisk(path string, nblocks uint32) (*FileDisk, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("diskio: open %s: %w", path, err)
	}
	size := int64(nblocks) * constants.BSIZE
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("diskio: truncate %s: %w", path, err)
	}
	return &FileDisk{f: f, fd: int(f.Fd()), size: size}, nil
}

func (d *FileDisk) offset(n uint32) int64 { return int64(n) * constants.BSIZE }

// ReadBlock reads block n via pread(2), retrying on short reads the way a
// real block device transfer can be interrupted and resumed.
func (d *FileDisk) ReadBlock(n uint32, buf []byte) error {
	if len(buf) != constants.BSIZE {
		return fmt.Errorf("diskio: read buffer must be %d bytes, got %d", constants.BSIZE, len(buf))
	}
	off := d.offset(n)
	for got := 0; got < len(buf); {
		m, err := unix.Pread(d.fd, buf[got:], off+int64(got))
		if err != nil {
			return fmt.Errorf("diskio: pread block %d: %w", n, err)
		}
		if m == 0 {
			return fmt.Errorf("diskio: pread block %d: unexpected EOF", n)
		}
		got += m
	}
	return nil
}

// WriteBlock writes block n via pwrite(2).
func (d *FileDisk) WriteBlock(n uint32, buf []byte) error {
	if len(buf) != constants.BSIZE {
		return fmt.Errorf("diskio: write buffer must be %d bytes, got %d", constants.BSIZE, len(buf))
	}
	off := d.offset(n)
	for sent := 0; sent < len(buf); {
		m, err := unix.Pwrite(d.fd, buf[sent:], off+int64(sent))
		if err != nil {
			return fmt.Errorf("diskio: pwrite block %d: %w", n, err)
		}
		sent += m
	}
	return nil
}

// Close closes the backing file.
func (d *FileDisk) Close() error {
	return d.f.Close()
}
