// Package integration exercises the full rvkernel stack together: Boot
// wiring the frame allocator, buffer cache, transaction log, pipes, and
// exec into one running Kernel, then Shutdown tearing it back down.
package integration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rvkern/rvkernel"
	"github.com/rvkern/rvkernel/internal/constants"
	"github.com/rvkern/rvkernel/internal/execfs"
	"github.com/rvkern/rvkernel/internal/sched"
)

func bootTestKernel(t *testing.T) *rvkernel.Kernel {
	t.Helper()
	disk := rvkernel.NewMemDisk(uint32(constants.LOGSIZE) + 64)
	params := rvkernel.DefaultParams(disk)
	params.NumFrames = 32
	params.NumHarts = 2

	k, err := rvkernel.Boot(context.Background(), params, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, rvkernel.Shutdown(context.Background(), k))
	})
	return k
}

func TestBootShutdownLifecycle(t *testing.T) {
	k := bootTestKernel(t)
	require.True(t, k.IsRunning())
	require.Equal(t, 2, k.NumHarts())
}

func TestShutdownTwiceErrors(t *testing.T) {
	disk := rvkernel.NewMemDisk(uint32(constants.LOGSIZE) + 64)
	k, err := rvkernel.Boot(context.Background(), rvkernel.DefaultParams(disk), nil)
	require.NoError(t, err)

	require.NoError(t, rvkernel.Shutdown(context.Background(), k))
	err = rvkernel.Shutdown(context.Background(), k)
	require.Error(t, err)
	require.True(t, rvkernel.IsCode(err, rvkernel.ErrCodeNotBooted))
}

// TestTransactionSurvivesAcrossSubsystems drives a transaction through the
// buffer cache and log obtained from a booted Kernel, confirming the whole
// wiring (not just the package in isolation) produces a durable write.
func TestTransactionSurvivesAcrossSubsystems(t *testing.T) {
	k := bootTestKernel(t)
	proc := sched.NewProc(1)

	k.Log().BeginOp(0)
	buf, err := k.BufCache().Read(0, proc, 0, 10)
	require.NoError(t, err)
	buf.Data[0] = 0x7E
	k.Log().LogWrite(0, buf)
	k.BufCache().Release(0, buf)
	require.NoError(t, k.Log().EndOp(0))

	snap := k.MetricsSnapshot()
	require.Equal(t, uint64(1), snap.LogCommits)
	require.GreaterOrEqual(t, snap.LogBlocksWritten, uint64(1))
}

// TestPipeThroughKernel confirms Kernel.NewPipe wires pipe byte accounting
// into the same Metrics instance as the buffer cache and log.
func TestPipeThroughKernel(t *testing.T) {
	k := bootTestKernel(t)
	proc := sched.NewProc(1)

	p := k.NewPipe()
	n, err := p.Write(0, proc, []byte("integration"))
	require.NoError(t, err)
	require.Equal(t, 11, n)

	out := make([]byte, 32)
	n, err = p.Read(0, proc, out)
	require.NoError(t, err)
	require.Equal(t, "integration", string(out[:n]))

	snap := k.MetricsSnapshot()
	require.Equal(t, uint64(11), snap.PipeBytesWritten)
	require.Equal(t, uint64(11), snap.PipeBytesRead)
}

// TestExecThroughKernel confirms Kernel.Exec routes through the kernel's
// own frame allocator and that its accounting shows up in MetricsSnapshot.
func TestExecThroughKernel(t *testing.T) {
	k := bootTestKernel(t)
	p := execfs.NewProc()

	img := &execfs.Image{
		Magic: [4]byte{0x7f, 'E', 'L', 'F'},
		Entry: 0x1000,
		Segments: []execfs.Segment{
			{VAddr: 0x1000, Data: []byte("integration test program")},
		},
	}
	argc, err := k.Exec(p, 0, img, []string{"prog", "a", "b"})
	require.NoError(t, err)
	require.Equal(t, 3, argc)

	snap := k.MetricsSnapshot()
	require.Greater(t, snap.FrameAllocs, uint64(0))
}

func TestExecThroughKernelWrapsError(t *testing.T) {
	k := bootTestKernel(t)
	p := execfs.NewProc()

	_, err := k.Exec(p, 0, &execfs.Image{Magic: [4]byte{'B', 'A', 'D', '!'}}, nil)
	require.Error(t, err)
	require.True(t, rvkernel.IsCode(err, rvkernel.ErrCodeExecFailed))
}
