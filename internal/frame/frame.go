// Package frame implements the physical-frame table and eviction policy:
// physical-frame allocation backed by a global clock-hand LRU list shared
// across processes, with per-page-type eviction.
package frame

import (
	"kernelfs/internal/defs"
	"kernelfs/internal/hw"
	"kernelfs/internal/inode"
	"kernelfs/internal/klog"
	"kernelfs/internal/metrics"
	"kernelfs/internal/spt"
	"kernelfs/internal/vmtypes"
	"sync"
)

// Owner identifies the SPT entry a frame currently backs.
type Owner struct {
	Tid   defs.Tid_t
	VAddr uintptr
}

// ProcessView is what the frame table needs from a process it might
// evict a page from: its simulated hardware page table and its
// supplementary page table.
type ProcessView interface {
	HW() *hw.Table
	SPT() *spt.Table
}

// ProcessProvider resolves a Tid_t to its ProcessView; absence means the
// process has already exited (the frame is orphaned and freed outright).
type ProcessProvider interface {
	Lookup(tid defs.Tid_t) (ProcessView, bool)
}

// SwapDevice is the subset of swap.Swap the frame table uses.
type SwapDevice interface {
	Out(page []byte) (int, defs.Err_t)
	In(slot int, dst []byte) defs.Err_t
	Free(slot int)
}

// FileWriter writes dirty file-backed bytes back through the filesystem
// during eviction of a file-mapped page.
type FileWriter interface {
	WriteFile(ino *inode.Inode, offset int, data []byte)
}

// Table is the global, fixed-capacity frame table.
type Table struct {
	mu       sync.Mutex // frame-list lock
	frames   [][]byte
	inUse    []bool
	evicting []bool // reserved mid-eviction: not free, not a valid victim either
	owners   []Owner
	hand     int

	pageSize int
	procs    ProcessProvider
	swap     SwapDevice
	writer   FileWriter
	metrics  *metrics.Registry
}

// New builds a frame table of the given capacity and page size.
func New(capacity, pageSize int, procs ProcessProvider, sw SwapDevice, w FileWriter, m *metrics.Registry) *Table {
	t := &Table{
		frames:   make([][]byte, capacity),
		inUse:    make([]bool, capacity),
		evicting: make([]bool, capacity),
		owners:   make([]Owner, capacity),
		pageSize: pageSize,
		procs:    procs,
		swap:     sw,
		writer:   w,
		metrics:  m,
	}
	for i := range t.frames {
		t.frames[i] = make([]byte, pageSize)
	}
	return t
}

func (t *Table) Capacity() int { return len(t.frames) }

// FrameData returns the backing bytes for frame idx, e.g. so a caller can
// write them back through a file before freeing the frame (munmap).
func (t *Table) FrameData(idx int) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frames[idx]
}

// Alloc returns a fresh, zero-filled physical frame for owner, evicting
// via the clock algorithm as many times as necessary. Loops until
// allocation succeeds or every frame is mid-eviction.
func (t *Table) Alloc(owner Owner) (int, []byte, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for {
		for i := range t.inUse {
			if !t.inUse[i] && !t.evicting[i] {
				t.inUse[i] = true
				t.owners[i] = owner
				data := t.frames[i]
				for j := range data {
					data[j] = 0
				}
				return i, data, 0
			}
		}
		if !t.tryEvictOne() {
			return 0, nil, -defs.ENOMEM
		}
	}
}

// Free detaches frame idx outright, with no writeback (used by munmap and
// process-exit cleanup, which have already handled persistence).
func (t *Table) Free(idx int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.freeFrameLocked(idx)
}

func (t *Table) freeFrameLocked(idx int) {
	t.inUse[idx] = false
	t.owners[idx] = Owner{}
}

// tryEvictOne must be called with t.mu held; it returns with t.mu held
// either way. It implements a global clock sweep: the cursor advances
// under the frame-list lock (so two concurrent evictors never pick the
// same frame), reference bits give each candidate one second chance, and
// the victim's eviction I/O runs with the lock released to avoid a cycle
// with the buffer-cache locks.
//
// The iteration cap bounds a pathological sweep: clearing every reference
// bit takes at most one full pass, so a second pass is guaranteed to find
// a victim if any frame is in use.
func (t *Table) tryEvictOne() bool {
	total := len(t.frames)
	if total == 0 {
		return false
	}
	for iter := 0; iter < 2*total+1; iter++ {
		idx := t.hand
		t.hand = (t.hand + 1) % total
		if !t.inUse[idx] || t.evicting[idx] {
			continue
		}
		owner := t.owners[idx]
		proc, ok := t.procs.Lookup(owner.Tid)
		if !ok {
			// Owning process is gone; the frame is orphaned.
			t.freeFrameLocked(idx)
			return true
		}
		if proc.HW().Reference(owner.VAddr) {
			proc.HW().ClearReference(owner.VAddr)
			continue
		}
		entry, ok := proc.SPT().Get(owner.VAddr)
		if !ok {
			t.freeFrameLocked(idx)
			return true
		}

		t.evicting[idx] = true
		data := t.frames[idx]
		t.mu.Unlock()
		t.evictEntry(proc, owner, entry, data)
		t.mu.Lock()
		t.evicting[idx] = false
		t.freeFrameLocked(idx)
		return true
	}
	return false
}

// evictEntry implements per-page-type eviction. Runs without the
// frame-list lock held.
func (t *Table) evictEntry(proc ProcessView, owner Owner, entry *vmtypes.Entry, data []byte) {
	switch entry.Type {
	case vmtypes.Anonymous:
		slot, err := t.swap.Out(data)
		if err != 0 {
			panic("frame: swap out failed during eviction")
		}
		entry.SwapSlot = slot

	case vmtypes.FileBackedMapped:
		if proc.HW().Dirty(owner.VAddr) {
			t.writer.WriteFile(entry.Ino, entry.Offset, data[:entry.ReadBytes])
			proc.HW().ClearDirty(owner.VAddr)
		}

	case vmtypes.FileBackedExecutable:
		if proc.HW().Dirty(owner.VAddr) {
			entry.Type = vmtypes.Anonymous
			slot, err := t.swap.Out(data)
			if err != 0 {
				panic("frame: swap out failed during eviction")
			}
			entry.SwapSlot = slot
		}
		// Clean: discard; a future fault reloads it from the file.
	}

	entry.Resident = false
	entry.FrameIdx = -1
	proc.HW().Remove(owner.VAddr)

	if t.metrics != nil {
		t.metrics.FrameEvicted(entry.Type.String())
	}
	klog.Debug("frame: evicted", "tid", owner.Tid, "vaddr", owner.VAddr, "type", entry.Type.String())
}
