package freemap

import "testing"

import "github.com/stretchr/testify/require"

func TestNewReservesSectorZero(t *testing.T) {
	fm := New(8)
	require.Equal(t, 7, fm.FreeCount())
	_, ok := fm.AllocRun(1)
	require.True(t, ok)
}

func TestAllocRunFirstFit(t *testing.T) {
	fm := New(16)
	fm.MarkUsed(1, 2) // sectors 1,2 now used; free run starts at 3
	start, ok := fm.AllocRun(3)
	require.True(t, ok)
	require.Equal(t, 3, start)
}

func TestAllocRunFailsWhenNoRunFits(t *testing.T) {
	fm := New(4)
	// only sectors 1-3 free, never contiguous enough for a run of 4
	_, ok := fm.AllocRun(4)
	require.False(t, ok)
}

func TestFreeReturnsSectorsToPool(t *testing.T) {
	fm := New(8)
	start, ok := fm.AllocRun(4)
	require.True(t, ok)
	before := fm.FreeCount()
	fm.Free(start, 4)
	require.Equal(t, before+4, fm.FreeCount())
}

func TestAllocRunNonPositiveCount(t *testing.T) {
	fm := New(4)
	_, ok := fm.AllocRun(0)
	require.False(t, ok)
	_, ok = fm.AllocRun(-1)
	require.False(t, ok)
}

func TestLen(t *testing.T) {
	fm := New(10)
	require.Equal(t, 10, fm.Len())
}
