package inode

import (
	"testing"

	"github.com/stretchr/testify/require"

	"kernelfs/internal/bufcache"
	"kernelfs/internal/defs"
	"kernelfs/internal/device"
	"kernelfs/internal/freemap"
)

func newFixture(t *testing.T, sectors int) (*bufcache.Cache, *freemap.FreeMap, *Table) {
	t.Helper()
	dev, err := device.Open(t.TempDir()+"/inode.img", SectorSize, sectors, 2)
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })
	c := bufcache.New(dev, 16, nil)
	fm := freemap.New(sectors)
	tbl := NewTable(c, fm, nil)
	return c, fm, tbl
}

func TestClassifyBoundaries(t *testing.T) {
	kind, i1, _ := Classify(0)
	require.Equal(t, KindDirect, kind)
	require.Equal(t, 0, i1)

	kind, i1, _ = Classify(NDIRECT)
	require.Equal(t, KindIndirect, kind)
	require.Equal(t, 0, i1)

	kind, i1, i2 := Classify(NDIRECT + NINDIRECT)
	require.Equal(t, KindDoubleIndirect, kind)
	require.Equal(t, 0, i1)
	require.Equal(t, 0, i2)

	kind, _, _ = Classify(MaxFileSectors)
	require.Equal(t, KindOutOfRange, kind)
}

func TestCreateAndWriteReadRoundTrip(t *testing.T) {
	c, fm, tbl := newFixture(t, 4096)
	sector, err := Create(c, fm, false)
	require.Zero(t, err)

	ino := tbl.Open(sector)
	defer tbl.Close(ino)

	payload := []byte("the quick brown fox")
	n, werr := ino.WriteAt(0, payload)
	require.Zero(t, werr)
	require.Equal(t, len(payload), n)
	require.Equal(t, len(payload), ino.Length())

	out := make([]byte, len(payload))
	got := ino.ReadAt(0, out)
	require.Equal(t, len(payload), got)
	require.Equal(t, payload, out)
}

func TestWriteGrowsAcrossIndirectBoundary(t *testing.T) {
	c, fm, tbl := newFixture(t, 8192)
	sector, err := Create(c, fm, false)
	require.Zero(t, err)

	ino := tbl.Open(sector)
	defer tbl.Close(ino)

	// Offset deep enough to require the single-indirect block.
	offset := (NDIRECT + 1) * SectorSize
	payload := []byte("indirect block payload")
	_, werr := ino.WriteAt(offset, payload)
	require.Zero(t, werr)

	out := make([]byte, len(payload))
	ino.ReadAt(offset, out)
	require.Equal(t, payload, out)
}

func TestWriteGrowsAcrossDoubleIndirectBoundary(t *testing.T) {
	c, fm, tbl := newFixture(t, 1<<16)
	sector, err := Create(c, fm, false)
	require.Zero(t, err)

	ino := tbl.Open(sector)
	defer tbl.Close(ino)

	offset := (NDIRECT + NINDIRECT + 1) * SectorSize
	payload := []byte("double indirect payload")
	_, werr := ino.WriteAt(offset, payload)
	require.Zero(t, werr)

	out := make([]byte, len(payload))
	ino.ReadAt(offset, out)
	require.Equal(t, payload, out)
}

func TestDenyWriteBlocksWriteAt(t *testing.T) {
	c, fm, tbl := newFixture(t, 4096)
	sector, err := Create(c, fm, false)
	require.Zero(t, err)

	ino := tbl.Open(sector)
	defer tbl.Close(ino)

	require.Zero(t, ino.DenyWrite())
	_, werr := ino.WriteAt(0, []byte("nope"))
	require.Equal(t, -defs.ETXTBSY, werr)

	ino.AllowWrite()
	_, werr = ino.WriteAt(0, []byte("ok"))
	require.Zero(t, werr)
}

func TestRemoveFreesSectorsOnLastClose(t *testing.T) {
	c, fm, tbl := newFixture(t, 4096)
	before := fm.FreeCount()

	sector, err := Create(c, fm, false)
	require.Zero(t, err)
	ino := tbl.Open(sector)
	_, werr := ino.WriteAt(0, make([]byte, SectorSize*3))
	require.Zero(t, werr)

	afterAlloc := fm.FreeCount()
	require.Less(t, afterAlloc, before)

	ino.Remove()
	tbl.Close(ino)

	require.Equal(t, before, fm.FreeCount())
}

func TestOpenTableRefcounting(t *testing.T) {
	c, fm, tbl := newFixture(t, 4096)
	sector, err := Create(c, fm, false)
	require.Zero(t, err)

	a := tbl.Open(sector)
	b := tbl.Open(sector)
	require.Same(t, a, b)

	tbl.Close(a)
	tbl.Close(b)
}
