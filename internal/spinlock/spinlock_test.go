package spinlock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	l := New("test")
	require.False(t, l.Holding(0))
	l.Acquire(0)
	require.True(t, l.Holding(0))
	require.False(t, l.Holding(1))
	l.Release(0)
	require.False(t, l.Holding(0))
}

func TestNestedAcquirePanics(t *testing.T) {
	l := New("test")
	l.Acquire(0)
	defer l.Release(0)
	require.Panics(t, func() { l.Acquire(0) })
}

func TestReleaseWithoutHoldingPanics(t *testing.T) {
	l := New("test")
	require.Panics(t, func() { l.Release(0) })
}

func TestReleaseByWrongHartPanics(t *testing.T) {
	l := New("test")
	l.Acquire(0)
	defer l.Release(0)
	require.Panics(t, func() { l.Release(1) })
}

func TestInterruptsDisabledWhileHeld(t *testing.T) {
	const hart = 2
	require.True(t, InterruptsEnabled(hart))
	l := New("test")
	l.Acquire(hart)
	require.False(t, InterruptsEnabled(hart))
	l.Release(hart)
	require.True(t, InterruptsEnabled(hart))
}

func TestNestedLocksRestoreInterruptStateOnlyAtOuterRelease(t *testing.T) {
	const hart = 3
	a := New("a")
	b := New("b")
	a.Acquire(hart)
	b.Acquire(hart)
	require.False(t, InterruptsEnabled(hart))
	b.Release(hart)
	require.False(t, InterruptsEnabled(hart), "interrupts must stay disabled until the outermost release")
	a.Release(hart)
	require.True(t, InterruptsEnabled(hart))
}

// TestMutualExclusionUnderContention runs one goroutine per simulated hart,
// each looping acquire/release many times, since a hart ID must be owned by
// exactly one goroutine at a time (a hart is a single physical core).
func TestMutualExclusionUnderContention(t *testing.T) {
	l := New("counter")
	counter := 0
	const itersPerHart = 200
	var wg sync.WaitGroup
	for hart := 0; hart < 4; hart++ {
		wg.Add(1)
		go func(hart int) {
			defer wg.Done()
			for i := 0; i < itersPerHart; i++ {
				l.Acquire(hart)
				counter++
				l.Release(hart)
			}
		}(hart)
	}
	wg.Wait()
	require.Equal(t, 4*itersPerHart, counter)
}
