// Package unit exercises the root rvkernel package's public API surface in
// isolation: Params defaults, error construction, metrics, and the test
// disk helpers, all without booting a full Kernel.
package unit

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rvkern/rvkernel"
	"github.com/rvkern/rvkernel/internal/constants"
)

func TestDefaultParams(t *testing.T) {
	disk := rvkernel.NewMemDisk(64)
	params := rvkernel.DefaultParams(disk)

	require.Equal(t, disk, params.Disk)
	require.Equal(t, uint32(1), params.LogStart)
	require.Equal(t, uint32(constants.LOGSIZE), params.LogSize)
	require.Equal(t, constants.NBUF, params.BufSlots)
	require.Equal(t, constants.NCPU, params.NumHarts)
}

func TestBootRejectsNilDisk(t *testing.T) {
	_, err := rvkernel.Boot(nil, rvkernel.Params{}, nil)
	require.Error(t, err)
	require.True(t, rvkernel.IsCode(err, rvkernel.ErrCodeInvalidParameters))
}

func TestBootRejectsOversizedLog(t *testing.T) {
	disk := rvkernel.NewMemDisk(64)
	params := rvkernel.DefaultParams(disk)
	params.LogSize = constants.LOGSIZE + 1

	_, err := rvkernel.Boot(nil, params, nil)
	require.Error(t, err)
	require.True(t, rvkernel.IsCode(err, rvkernel.ErrCodeInvalidParameters))
}

func TestMockDiskFailureInjection(t *testing.T) {
	d := rvkernel.NewMockDisk(10)
	buf := make([]byte, rvkernel.BSIZE)

	require.NoError(t, d.WriteBlock(3, buf))

	d.InjectFailure(3, errTestInjected)
	require.ErrorIs(t, d.ReadBlock(3, buf), errTestInjected)

	// Injection is one-shot.
	require.NoError(t, d.ReadBlock(3, buf))

	reads, writes := d.CallCounts()
	require.Equal(t, 2, reads)
	require.Equal(t, 1, writes)
}

func TestMockDiskClose(t *testing.T) {
	d := rvkernel.NewMockDisk(4)
	require.False(t, d.IsClosed())
	require.NoError(t, d.Close())
	require.True(t, d.IsClosed())

	buf := make([]byte, rvkernel.BSIZE)
	require.Error(t, d.ReadBlock(0, buf))
}

var errTestInjected = &testInjectedError{}

type testInjectedError struct{}

func (*testInjectedError) Error() string { return "unit: injected disk failure" }
