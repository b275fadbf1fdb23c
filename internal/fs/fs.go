// Package fs is the top-level filesystem facade: it wires the buffer
// cache, the free-sector map, the inode layer, and path resolution
// together behind a create/remove/open/mkdir/chdir/readdir surface meant
// to be consumed by an external syscall dispatcher.
package fs

import (
	"kernelfs/internal/bufcache"
	"kernelfs/internal/config"
	"kernelfs/internal/defs"
	"kernelfs/internal/device"
	"kernelfs/internal/freemap"
	"kernelfs/internal/inode"
	"kernelfs/internal/klog"
	"kernelfs/internal/metrics"
	"kernelfs/internal/pathresolve"
)

// RootDirSector is where mkfs places the root directory's inode. Sector 0
// is reserved by the volume; freemap.New marks it used, so the first real
// allocation — the root inode, performed by Format — lands on sector 1.
const RootDirSector = 1

// FS is the assembled filesystem: cache + free-sector map + inode table,
// with the root directory's inode held open for the filesystem's
// lifetime.
type FS struct {
	Cache   *bufcache.Cache
	FreeMap *freemap.FreeMap
	Inodes  *inode.Table
	root    *inode.Inode
	metrics *metrics.Registry
}

// Format initializes a brand-new volume on dev: an empty free-sector map
// and a freshly created, empty root directory.
func Format(dev device.Device, cfg config.Config, m *metrics.Registry) (*FS, defs.Err_t) {
	cache := bufcache.New(dev, cfg.CacheCapacity, m)
	fm := freemap.New(dev.NumSectors())
	inodes := inode.NewTable(cache, fm, m)

	sector, err := inode.Create(cache, fm, true)
	if err != 0 {
		return nil, err
	}
	if sector != RootDirSector {
		panic("fs: root directory did not land on RootDirSector")
	}
	root := inodes.Open(sector)
	if err := pathresolve.InitDir(root, sector, sector); err != 0 {
		return nil, err
	}

	klog.Info("fs: formatted new volume", "sectors", dev.NumSectors(), "cache", cfg.CacheCapacity)
	return &FS{Cache: cache, FreeMap: fm, Inodes: inodes, root: root, metrics: m}, 0
}

// Boot mounts an already-formatted volume: it trusts the on-disk root
// inode and rebuilds the free-sector map in memory by walking every
// reachable inode's block tables, since the free-sector map is not
// itself persisted as on-disk state beyond the files it describes.
func Boot(dev device.Device, cfg config.Config, m *metrics.Registry) (*FS, defs.Err_t) {
	cache := bufcache.New(dev, cfg.CacheCapacity, m)
	fm := freemap.New(dev.NumSectors())
	inodes := inode.NewTable(cache, fm, m)
	root := inodes.Open(RootDirSector)
	if root.Length() < 0 {
		return nil, -defs.EINVAL
	}
	fm.MarkUsed(RootDirSector, 1)
	rebuildFreeMap(inodes, fm, root)

	klog.Info("fs: booted existing volume", "sectors", dev.NumSectors())
	return &FS{Cache: cache, FreeMap: fm, Inodes: inodes, root: root, metrics: m}, 0
}

// rebuildFreeMap walks dir's tree, marking every sector any reachable
// inode occupies as used. It is a straightforward (not exhaustive) scan
// sufficient for the single-volume, single-mount lifecycle this
// repository targets; it does not maintain a crash-consistent free-map
// log.
func rebuildFreeMap(inodes *inode.Table, fm *freemap.FreeMap, dir *inode.Inode) {
	for _, s := range dir.OccupiedSectors() {
		fm.MarkUsed(s, 1)
	}
	n := dir.Length() / pathresolve.RecordSize
	for i := 0; i < n; i++ {
		name, ok := pathresolve.NthEntry(dir, i)
		if !ok || name == "." || name == ".." {
			continue
		}
		sector, ok := pathresolve.Lookup(dir, name)
		if !ok {
			continue
		}
		child := inodes.Open(sector)
		for _, s := range child.OccupiedSectors() {
			fm.MarkUsed(s, 1)
		}
		if child.IsDir() {
			rebuildFreeMap(inodes, fm, child)
		}
		inodes.Close(child)
	}
}

// Root returns the filesystem-wide root directory inode, satisfying
// pathresolve.Opener.
func (fs *FS) Root() *inode.Inode { return fs.root }

// Open returns a fresh, refcounted in-memory handle on the inode at
// sector, satisfying pathresolve.Opener.
func (fs *FS) Open(sector int) *inode.Inode { return fs.Inodes.Open(sector) }

// Close drops a reference obtained via Open, satisfying
// pathresolve.Opener.
func (fs *FS) Close(ino *inode.Inode) { fs.Inodes.Close(ino) }

// release closes dir unless it is the caller's cwd or the filesystem
// root, which the caller does not own a reference to via this call.
func (fs *FS) release(dir, cwd *inode.Inode) {
	if dir != cwd && dir != fs.root {
		fs.Inodes.Close(dir)
	}
}

// Create makes a new file or directory named by path, resolved relative
// to cwd, and returns its inode sector.
func (fs *FS) Create(path string, cwd *inode.Inode, isDir bool) (int, defs.Err_t) {
	dir, name, err := pathresolve.Resolve(fs, path, cwd)
	if err != 0 {
		return 0, err
	}
	defer fs.release(dir, cwd)

	if _, exists := pathresolve.Lookup(dir, name); exists {
		return 0, -defs.EEXIST
	}
	sector, err := inode.Create(fs.Cache, fs.FreeMap, isDir)
	if err != 0 {
		return 0, err
	}
	if err := pathresolve.CreateEntry(dir, name, sector); err != 0 {
		return 0, err
	}
	if isDir {
		child := fs.Inodes.Open(sector)
		err := pathresolve.InitDir(child, sector, dir.Sector())
		fs.Inodes.Close(child)
		if err != 0 {
			return 0, err
		}
	}
	return sector, 0
}

// Remove unlinks path. Non-empty directories cannot be removed.
func (fs *FS) Remove(path string, cwd *inode.Inode) defs.Err_t {
	dir, name, err := pathresolve.Resolve(fs, path, cwd)
	if err != 0 {
		return err
	}
	defer fs.release(dir, cwd)

	sector, ok := pathresolve.Lookup(dir, name)
	if !ok {
		return -defs.ENOENT
	}
	target := fs.Inodes.Open(sector)
	if target.IsDir() && !pathresolve.IsEmpty(target) {
		fs.Inodes.Close(target)
		return -defs.EINVAL
	}
	if err := pathresolve.RemoveEntry(dir, name); err != 0 {
		fs.Inodes.Close(target)
		return err
	}
	target.Remove()
	fs.Inodes.Close(target)
	return 0
}

// OpenPath resolves path and returns an open, refcounted handle on it.
func (fs *FS) OpenPath(path string, cwd *inode.Inode) (*inode.Inode, defs.Err_t) {
	dir, name, err := pathresolve.Resolve(fs, path, cwd)
	if err != 0 {
		return nil, err
	}
	defer fs.release(dir, cwd)

	if name == "." {
		return fs.Inodes.Open(dir.Sector()), 0
	}
	sector, ok := pathresolve.Lookup(dir, name)
	if !ok {
		return nil, -defs.ENOENT
	}
	return fs.Inodes.Open(sector), 0
}

// Chdir resolves path and returns an open handle on it, requiring that it
// be a directory.
func (fs *FS) Chdir(path string, cwd *inode.Inode) (*inode.Inode, defs.Err_t) {
	ino, err := fs.OpenPath(path, cwd)
	if err != 0 {
		return nil, err
	}
	if !ino.IsDir() {
		fs.Inodes.Close(ino)
		return nil, -defs.ENOTDIR
	}
	return ino, 0
}

// Readdir returns the name of the idx'th live (non-tombstoned) entry of
// dir, or ok=false once idx runs past the last entry.
func (fs *FS) Readdir(dir *inode.Inode, idx int) (string, bool) {
	return pathresolve.NthEntry(dir, idx)
}
