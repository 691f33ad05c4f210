//go:build !(linux && uring)

package diskio

import "fmt"

// OpenURingDisk is available when built with -tags uring on linux.
func OpenURingDisk(path string, nblocks uint32, entries uint32) (*URingDisk, error) {
	return nil, fmt.Errorf("diskio: io_uring backend not enabled; build with -tags uring on linux")
}

// URingDisk is the stub type returned when the uring build tag is absent.
type URingDisk struct{}

func (d *URingDisk) ReadBlock(n uint32, buf []byte) error { return fmt.Errorf("diskio: uring disabled") }
func (d *URingDisk) WriteBlock(n uint32, buf []byte) error {
	return fmt.Errorf("diskio: uring disabled")
}
func (d *URingDisk) Close() error { return nil }
