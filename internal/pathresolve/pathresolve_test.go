package pathresolve

import (
	"testing"

	"github.com/stretchr/testify/require"

	"kernelfs/internal/bufcache"
	"kernelfs/internal/defs"
	"kernelfs/internal/device"
	"kernelfs/internal/freemap"
	"kernelfs/internal/inode"
)

// testVolume is a minimal Opener backed directly by an inode.Table, enough
// to exercise Resolve without pulling in the fs package.
type testVolume struct {
	cache *bufcache.Cache
	fm    *freemap.FreeMap
	tbl   *inode.Table
	root  *inode.Inode
}

func (v *testVolume) Root() *inode.Inode           { return v.root }
func (v *testVolume) Open(sector int) *inode.Inode { return v.tbl.Open(sector) }
func (v *testVolume) Close(ino *inode.Inode)       { v.tbl.Close(ino) }

func newTestVolume(t *testing.T) *testVolume {
	t.Helper()
	dev, err := device.Open(t.TempDir()+"/vol.img", inode.SectorSize, 8192, 2)
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })
	c := bufcache.New(dev, 32, nil)
	fm := freemap.New(8192)
	tbl := inode.NewTable(c, fm, nil)

	rootSector, cerr := inode.Create(c, fm, true)
	require.Zero(t, cerr)
	root := tbl.Open(rootSector)
	require.Zero(t, InitDir(root, rootSector, rootSector))

	return &testVolume{cache: c, fm: fm, tbl: tbl, root: root}
}

func TestRecordEncodeDecodeRoundTrip(t *testing.T) {
	r := Record{Name: "etc", Sector: 42}
	got := decodeRecord(encodeRecord(r))
	require.Equal(t, r, got)
}

func TestCreateLookupRemoveEntry(t *testing.T) {
	v := newTestVolume(t)

	require.Zero(t, CreateEntry(v.root, "file.txt", 99))
	sector, ok := Lookup(v.root, "file.txt")
	require.True(t, ok)
	require.Equal(t, 99, sector)

	require.Equal(t, -defs.EEXIST, CreateEntry(v.root, "file.txt", 7))

	require.Zero(t, RemoveEntry(v.root, "file.txt"))
	_, ok = Lookup(v.root, "file.txt")
	require.False(t, ok)
	require.Equal(t, -defs.ENOENT, RemoveEntry(v.root, "file.txt"))
}

func TestCreateEntryNameTooLong(t *testing.T) {
	v := newTestVolume(t)
	require.Equal(t, -defs.ENAMETOOLONG, CreateEntry(v.root, "this-name-is-too-long", 1))
}

func TestIsEmptyConsidersDotEntries(t *testing.T) {
	v := newTestVolume(t)
	require.True(t, IsEmpty(v.root))
	require.Zero(t, CreateEntry(v.root, "child", 55))
	require.False(t, IsEmpty(v.root))
}

func TestResolveRootPath(t *testing.T) {
	v := newTestVolume(t)
	dir, name, err := Resolve(v, "/", v.root)
	require.Zero(t, err)
	require.Same(t, v.root, dir)
	require.Equal(t, ".", name)
}

func TestResolveEmptyPathIsEinval(t *testing.T) {
	v := newTestVolume(t)
	_, _, err := Resolve(v, "", v.root)
	require.Equal(t, -defs.EINVAL, err)
}

func TestResolveTraversesSubdirectories(t *testing.T) {
	v := newTestVolume(t)

	subSector, cerr := inode.Create(v.cache, v.fm, true)
	require.Zero(t, cerr)
	sub := v.tbl.Open(subSector)
	require.Zero(t, InitDir(sub, subSector, v.root.Sector()))
	require.Zero(t, CreateEntry(v.root, "sub", subSector))
	require.Zero(t, CreateEntry(sub, "leaf.txt", 12345))
	v.tbl.Close(sub)

	dir, name, rerr := Resolve(v, "/sub/leaf.txt", v.root)
	require.Zero(t, rerr)
	require.Equal(t, "leaf.txt", name)
	sector, ok := Lookup(dir, name)
	require.True(t, ok)
	require.Equal(t, 12345, sector)
	if dir != v.root {
		v.tbl.Close(dir)
	}
}

func TestResolveRelativePathFromCwd(t *testing.T) {
	v := newTestVolume(t)

	subSector, cerr := inode.Create(v.cache, v.fm, true)
	require.Zero(t, cerr)
	sub := v.tbl.Open(subSector)
	require.Zero(t, InitDir(sub, subSector, v.root.Sector()))
	require.Zero(t, CreateEntry(sub, "here.txt", 777))

	dir, name, rerr := Resolve(v, "here.txt", sub)
	require.Zero(t, rerr)
	require.Equal(t, "here.txt", name)
	require.Same(t, sub, dir)

	v.tbl.Close(sub)
}

func TestResolveMissingIntermediateDirectory(t *testing.T) {
	v := newTestVolume(t)
	_, _, err := Resolve(v, "/nope/leaf.txt", v.root)
	require.Equal(t, -defs.ENOENT, err)
}

func TestResolveIntermediateNotADirectory(t *testing.T) {
	v := newTestVolume(t)
	fileSector, cerr := inode.Create(v.cache, v.fm, false)
	require.Zero(t, cerr)
	require.Zero(t, CreateEntry(v.root, "plain.txt", fileSector))
	_, _, err := Resolve(v, "/plain.txt/leaf.txt", v.root)
	require.Equal(t, -defs.ENOTDIR, err)
}
