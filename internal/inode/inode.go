// Package inode implements the extensible-file inode layer: a 512-byte
// on-disk descriptor with direct, single-indirect, and double-indirect
// block pointers, file growth on write, and an open-inode table with
// reference counting.
package inode

import (
	"sync"

	"kernelfs/internal/bufcache"
	"kernelfs/internal/defs"
	"kernelfs/internal/freemap"
	"kernelfs/internal/klog"
	"kernelfs/internal/metrics"
	"kernelfs/internal/util"
)

const (
	// SectorSize is fixed at 512 bytes: the on-disk inode's field layout
	// (123 direct pointers) only adds up to exactly one sector at this size.
	SectorSize = 512

	NDIRECT   = 123
	NINDIRECT = 128 // sector indices per indirect block (128*4 = 512 bytes)

	Magic uint32 = 0x494E4F44

	// MaxFileSectors is the number of logical sectors a file can address;
	// Classify accepts q in [0, MaxFileSectors).
	MaxFileSectors = NDIRECT + NINDIRECT + NINDIRECT*NINDIRECT

	// On-disk field offsets within one inode sector.
	offLength         = 0
	offMagic          = 4
	offIsDir          = 8
	offDirect         = 12
	offIndirect       = offDirect + NDIRECT*4
	offDoubleIndirect = offIndirect + 4
)

// Kind classifies a logical block index.
type Kind int

const (
	KindDirect Kind = iota
	KindIndirect
	KindDoubleIndirect
	KindOutOfRange
)

// Classify dispatches a logical sector index q into direct, indirect, or
// double-indirect, returning the first and (for double-indirect)
// second-level index within the index blocks.
func Classify(q int) (kind Kind, i1, i2 int) {
	switch {
	case q < NDIRECT:
		return KindDirect, q, 0
	case q < NDIRECT+NINDIRECT:
		return KindIndirect, q - NDIRECT, 0
	case q < NDIRECT+NINDIRECT*(1+NINDIRECT):
		r := q - NDIRECT - NINDIRECT
		return KindDoubleIndirect, r / NINDIRECT, r % NINDIRECT
	default:
		return KindOutOfRange, 0, 0
	}
}

// DiskInode is the decoded 512-byte on-disk layout.
type DiskInode struct {
	Length         int32
	Magic          uint32
	IsDir          int32
	Direct         [NDIRECT]uint32
	Indirect       uint32
	DoubleIndirect uint32
}

// Encode serializes di into a SectorSize-byte buffer.
func (di *DiskInode) Encode() []byte {
	b := make([]byte, SectorSize)
	util.Writen32s(b, offLength, di.Length)
	util.Writen32(b, offMagic, di.Magic)
	util.Writen32s(b, offIsDir, di.IsDir)
	for i, d := range di.Direct {
		util.Writen32(b, offDirect+i*4, d)
	}
	util.Writen32(b, offIndirect, di.Indirect)
	util.Writen32(b, offDoubleIndirect, di.DoubleIndirect)
	return b
}

// Decode parses a SectorSize-byte buffer into a DiskInode.
func Decode(b []byte) DiskInode {
	var di DiskInode
	di.Length = util.Readn32s(b, offLength)
	di.Magic = util.Readn32(b, offMagic)
	di.IsDir = util.Readn32s(b, offIsDir)
	for i := range di.Direct {
		di.Direct[i] = util.Readn32(b, offDirect+i*4)
	}
	di.Indirect = util.Readn32(b, offIndirect)
	di.DoubleIndirect = util.Readn32(b, offDoubleIndirect)
	return di
}

// readIndexBlock reads a 128-entry index block (zero sector index means
// "no such block") into a slice, returning all zeros if sector == 0.
func readIndexBlock(c *bufcache.Cache, sector int) [NINDIRECT]uint32 {
	var out [NINDIRECT]uint32
	if sector == 0 {
		return out
	}
	buf := make([]byte, SectorSize)
	c.Read(sector, buf, 0, SectorSize, 0)
	for i := range out {
		out[i] = util.Readn32(buf, i*4)
	}
	return out
}

func writeIndexBlock(c *bufcache.Cache, sector int, tbl [NINDIRECT]uint32) {
	buf := make([]byte, SectorSize)
	for i, v := range tbl {
		util.Writen32(buf, i*4, v)
	}
	c.Write(sector, buf, 0, SectorSize, 0)
}

// ReadDiskInode fetches and decodes the inode sector, validating magic.
// A bad magic number is an invariant violation and is fatal.
func ReadDiskInode(c *bufcache.Cache, sector int) DiskInode {
	buf := make([]byte, SectorSize)
	c.Read(sector, buf, 0, SectorSize, 0)
	di := Decode(buf)
	if di.Magic != Magic {
		panic("inode: bad magic")
	}
	return di
}

// WriteDiskInode persists di at sector.
func WriteDiskInode(c *bufcache.Cache, sector int, di DiskInode) {
	c.Write(sector, di.Encode(), 0, SectorSize, 0)
}

// Inode is the in-memory inode descriptor: sector index of its on-disk
// inode, open-count, removed flag, deny-write counter, and an extension
// mutex guarding length-changing operations.
type Inode struct {
	sector int

	mu        sync.Mutex // guards openCount/removed/denyWrite
	openCount int
	removed   bool
	denyWrite int

	extLock sync.Mutex // per-inode extension lock

	cache   *bufcache.Cache
	fm      *freemap.FreeMap
	metrics *metrics.Registry
}

// Sector returns the sector index of this inode's on-disk descriptor.
func (ino *Inode) Sector() int { return ino.sector }

// Length returns the current file length by re-reading the on-disk inode,
// matching byte_to_sector's "always read fresh from the cache" contract.
func (ino *Inode) Length() int {
	di := ReadDiskInode(ino.cache, ino.sector)
	return int(di.Length)
}

func (ino *Inode) IsDir() bool {
	di := ReadDiskInode(ino.cache, ino.sector)
	return di.IsDir != 0
}

// DenyWrite / AllowWrite protect a running executable's backing file from
// modification while it has open deny-write holders.
func (ino *Inode) DenyWrite() defs.Err_t {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	ino.denyWrite++
	if ino.denyWrite > ino.openCount {
		panic("inode: deny_write_cnt exceeds open_cnt")
	}
	return 0
}

func (ino *Inode) AllowWrite() {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	if ino.denyWrite == 0 {
		panic("inode: allow_write without matching deny_write")
	}
	ino.denyWrite--
}

func (ino *Inode) writeDenied() bool {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	return ino.denyWrite > 0
}

// byteToSector maps a byte offset p to its backing sector: classify the
// logical block, then read through at most two cache-backed index blocks
// to find the final sector. Returns (sector, true), or (0, false) if p is
// at or past length, or if the addressed block was never allocated.
func byteToSector(c *bufcache.Cache, di DiskInode, p int) (int, bool) {
	if int32(p) >= di.Length {
		return 0, false
	}
	q := p / SectorSize
	kind, i1, i2 := Classify(q)
	switch kind {
	case KindDirect:
		s := di.Direct[i1]
		return int(s), s != 0
	case KindIndirect:
		tbl := readIndexBlock(c, int(di.Indirect))
		s := tbl[i1]
		return int(s), s != 0
	case KindDoubleIndirect:
		l1 := readIndexBlock(c, int(di.DoubleIndirect))
		l2sector := l1[i1]
		if l2sector == 0 {
			return 0, false
		}
		l2 := readIndexBlock(c, int(l2sector))
		s := l2[i2]
		return int(s), s != 0
	default:
		return 0, false
	}
}

// growth extends the sector map from oldEnd to newEnd: for each
// sector-sized interval in [old_end, new_end) lacking a backing sector,
// allocate one, zero it, and install it in the direct/indirect/
// double-indirect table, creating index blocks as needed. It mutates di
// in place and returns an error if any allocation fails; partial growth
// is not rolled back.
func growth(c *bufcache.Cache, fm *freemap.FreeMap, di *DiskInode, oldEnd, newEnd int) defs.Err_t {
	if newEnd <= oldEnd {
		return 0
	}
	firstQ := oldEnd / SectorSize
	lastQ := (newEnd - 1) / SectorSize
	zero := make([]byte, SectorSize)

	allocSector := func() (int, bool) { return fm.Alloc1() }

	for q := firstQ; q <= lastQ; q++ {
		kind, i1, i2 := Classify(q)
		switch kind {
		case KindDirect:
			if di.Direct[i1] != 0 {
				continue
			}
			s, ok := allocSector()
			if !ok {
				return -defs.ENOSPC
			}
			c.Write(s, zero, 0, SectorSize, 0)
			di.Direct[i1] = uint32(s)

		case KindIndirect:
			if di.Indirect == 0 {
				s, ok := allocSector()
				if !ok {
					return -defs.ENOSPC
				}
				c.Write(s, zero, 0, SectorSize, 0)
				di.Indirect = uint32(s)
			}
			tbl := readIndexBlock(c, int(di.Indirect))
			if tbl[i1] != 0 {
				continue
			}
			s, ok := allocSector()
			if !ok {
				return -defs.ENOSPC
			}
			c.Write(s, zero, 0, SectorSize, 0)
			tbl[i1] = uint32(s)
			writeIndexBlock(c, int(di.Indirect), tbl)

		case KindDoubleIndirect:
			if di.DoubleIndirect == 0 {
				s, ok := allocSector()
				if !ok {
					return -defs.ENOSPC
				}
				c.Write(s, zero, 0, SectorSize, 0)
				di.DoubleIndirect = uint32(s)
			}
			l1 := readIndexBlock(c, int(di.DoubleIndirect))
			if l1[i1] == 0 {
				s, ok := allocSector()
				if !ok {
					return -defs.ENOSPC
				}
				c.Write(s, zero, 0, SectorSize, 0)
				l1[i1] = uint32(s)
				writeIndexBlock(c, int(di.DoubleIndirect), l1)
			}
			l2 := readIndexBlock(c, int(l1[i1]))
			if l2[i2] != 0 {
				continue
			}
			s, ok := allocSector()
			if !ok {
				return -defs.ENOSPC
			}
			c.Write(s, zero, 0, SectorSize, 0)
			l2[i2] = uint32(s)
			writeIndexBlock(c, int(l1[i1]), l2)

		default:
			return -defs.EINVAL
		}
	}
	return 0
}

// ReadAt copies up to len(dst) bytes starting at offset off, returning the
// number of bytes actually read (short of len(dst) at end-of-file).
func (ino *Inode) ReadAt(off int, dst []byte) int {
	length := ino.Length()
	if off >= length {
		return 0
	}
	n := util.Min(len(dst), length-off)
	read := 0
	for read < n {
		di := ReadDiskInode(ino.cache, ino.sector)
		p := off + read
		sectorOff := p % SectorSize
		chunk := util.Min(SectorSize-sectorOff, n-read)
		sector, ok := byteToSector(ino.cache, di, p)
		if !ok {
			// A hole within [0,length) should not occur for files grown
			// only by ordinary writes; treat it as a read of zeros
			// defensively.
			for i := 0; i < chunk; i++ {
				dst[read+i] = 0
			}
		} else {
			ino.cache.Read(sector, dst, read, chunk, sectorOff)
		}
		read += chunk
	}
	return read
}

// WriteAt writes src at offset off, growing the file first if the write
// extends past the current length. Returns the number of bytes written
// and an error code.
func (ino *Inode) WriteAt(off int, src []byte) (int, defs.Err_t) {
	if ino.writeDenied() {
		return 0, -defs.ETXTBSY
	}
	e := off + len(src)

	ino.extLock.Lock()
	di := ReadDiskInode(ino.cache, ino.sector)
	oldLength := int(di.Length)
	if e > oldLength {
		if err := growth(ino.cache, ino.fm, &di, oldLength, e); err != 0 {
			ino.extLock.Unlock()
			return 0, err
		}
		di.Length = int32(e)
		WriteDiskInode(ino.cache, ino.sector, di)
		if ino.metrics != nil {
			ino.metrics.InodeGrowth()
		}
		klog.Debug("inode: grew file", "sector", ino.sector, "old", oldLength, "new", e)
	}
	ino.extLock.Unlock()

	written := 0
	for written < len(src) {
		p := off + written
		sectorOff := p % SectorSize
		chunk := util.Min(SectorSize-sectorOff, len(src)-written)
		d2 := ReadDiskInode(ino.cache, ino.sector)
		sector, ok := byteToSector(ino.cache, d2, p)
		if !ok {
			panic("inode: write target has no backing sector after growth")
		}
		ino.cache.Write(sector, src, written, chunk, sectorOff)
		written += chunk
	}
	return written, 0
}

// walkSectors visits every sector this inode occupies — its own sector
// plus every allocated data and index block, in the order the
// double-indirect tree (leaves, then second-level index blocks, then the
// first-level index block), the single-indirect block, and the direct
// entries appear — stopping at the first zero entry in each table
// (allocation never leaves holes, so a zero entry always marks the end),
// and calls visit on each one.
func walkSectors(c *bufcache.Cache, sector int, visit func(int)) {
	di := ReadDiskInode(c, sector)

	if di.DoubleIndirect != 0 {
		l1 := readIndexBlock(c, int(di.DoubleIndirect))
		for _, l2sector := range l1 {
			if l2sector == 0 {
				break
			}
			l2 := readIndexBlock(c, int(l2sector))
			for _, leaf := range l2 {
				if leaf == 0 {
					break
				}
				visit(int(leaf))
			}
			visit(int(l2sector))
		}
		visit(int(di.DoubleIndirect))
	}

	if di.Indirect != 0 {
		tbl := readIndexBlock(c, int(di.Indirect))
		for _, leaf := range tbl {
			if leaf == 0 {
				break
			}
			visit(int(leaf))
		}
		visit(int(di.Indirect))
	}

	for _, d := range di.Direct {
		if d == 0 {
			break
		}
		visit(int(d))
	}

	visit(sector)
}

// OccupiedSectors lists every sector this inode currently owns (its own
// sector plus every data/index block), used to rebuild the free-sector
// map when mounting an existing volume.
func (ino *Inode) OccupiedSectors() []int {
	var out []int
	walkSectors(ino.cache, ino.sector, func(s int) { out = append(out, s) })
	return out
}

func (ino *Inode) free() {
	walkSectors(ino.cache, ino.sector, func(s int) { ino.fm.Free(s, 1) })
}

// Remove marks the inode removed; it is actually freed when the last
// opener closes.
func (ino *Inode) Remove() {
	ino.mu.Lock()
	ino.removed = true
	ino.mu.Unlock()
}

// Create allocates a fresh on-disk inode, zero-filled and zero-length.
func Create(c *bufcache.Cache, fm *freemap.FreeMap, isDir bool) (int, defs.Err_t) {
	sector, ok := fm.Alloc1()
	if !ok {
		return 0, -defs.ENOSPC
	}
	di := DiskInode{Magic: Magic}
	if isDir {
		di.IsDir = 1
	}
	WriteDiskInode(c, sector, di)
	return sector, 0
}

// Table is the open-inode table: a single filesystem-wide collection of
// live in-memory inodes keyed by sector, with reference counting.
type Table struct {
	mu      sync.Mutex
	entries map[int]*Inode

	cache   *bufcache.Cache
	fm      *freemap.FreeMap
	metrics *metrics.Registry
}

func NewTable(c *bufcache.Cache, fm *freemap.FreeMap, m *metrics.Registry) *Table {
	return &Table{entries: make(map[int]*Inode), cache: c, fm: fm, metrics: m}
}

// Open returns the in-memory Inode for sector, creating the in-memory
// entry and bumping its open-count; Close must be called exactly once per
// Open.
func (t *Table) Open(sector int) *Inode {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ino, ok := t.entries[sector]; ok {
		ino.mu.Lock()
		ino.openCount++
		ino.mu.Unlock()
		return ino
	}
	ino := &Inode{sector: sector, openCount: 1, cache: t.cache, fm: t.fm, metrics: t.metrics}
	t.entries[sector] = ino
	return ino
}

// Close drops one reference to ino; when the last reference to a removed
// inode closes, its on-disk storage is freed.
func (t *Table) Close(ino *Inode) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ino.mu.Lock()
	ino.openCount--
	last := ino.openCount == 0
	removed := ino.removed
	ino.mu.Unlock()

	if !last {
		return
	}
	delete(t.entries, ino.sector)
	if removed {
		ino.free()
		klog.Debug("inode: freed on last close", "sector", ino.sector)
	}
}
