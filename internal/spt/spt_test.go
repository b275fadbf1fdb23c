package spt

import (
	"testing"

	"github.com/stretchr/testify/require"

	"kernelfs/internal/vmtypes"
)

func TestPageRound(t *testing.T) {
	require.EqualValues(t, 0x1000, PageRound(0x1000))
	require.EqualValues(t, 0x1000, PageRound(0x1fff))
	require.EqualValues(t, 0x2000, PageRound(0x2000))
}

func TestPutAndGet(t *testing.T) {
	tbl := New()
	e := &vmtypes.Entry{VAddr: 0x4000, Type: vmtypes.Anonymous}
	tbl.Put(e)

	got, ok := tbl.Get(0x4000)
	require.True(t, ok)
	require.Same(t, e, got)

	// Get rounds down to the containing page.
	got, ok = tbl.Get(0x4010)
	require.True(t, ok)
	require.Same(t, e, got)
}

func TestDelete(t *testing.T) {
	tbl := New()
	tbl.Put(&vmtypes.Entry{VAddr: 0x5000})
	tbl.Delete(0x5000)
	_, ok := tbl.Get(0x5000)
	require.False(t, ok)
}

func TestByMapIDAndAllMapIDs(t *testing.T) {
	tbl := New()
	tbl.Put(&vmtypes.Entry{VAddr: 0x1000, MapID: 1})
	tbl.Put(&vmtypes.Entry{VAddr: 0x2000, MapID: 1})
	tbl.Put(&vmtypes.Entry{VAddr: 0x3000, MapID: 2})
	tbl.Put(&vmtypes.Entry{VAddr: 0x4000, MapID: 0}) // not a mapping

	require.Len(t, tbl.ByMapID(1), 2)
	require.Len(t, tbl.ByMapID(2), 1)
	require.Len(t, tbl.ByMapID(3), 0)

	ids := tbl.AllMapIDs()
	require.ElementsMatch(t, []int{1, 2}, ids)
}

func TestLen(t *testing.T) {
	tbl := New()
	require.Equal(t, 0, tbl.Len())
	tbl.Put(&vmtypes.Entry{VAddr: 0x1000})
	require.Equal(t, 1, tbl.Len())
}
