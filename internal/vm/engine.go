package vm

import (
	"kernelfs/internal/defs"
	"kernelfs/internal/frame"
	"kernelfs/internal/inode"
	"kernelfs/internal/klog"
	"kernelfs/internal/metrics"
	"kernelfs/internal/spt"
	"kernelfs/internal/util"
	"kernelfs/internal/vmtypes"
)

// Engine ties the frame table, swap, and the inode layer together behind
// the fault-handling and mmap/munmap surface.
type Engine struct {
	Frames  *frame.Table
	Inodes  *inode.Table
	Swap    frame.SwapDevice
	metrics *metrics.Registry
}

// NewEngine constructs an Engine with Frames left nil: building the frame
// table requires a frame.FileWriter, and Engine is that writer, so the
// usual construction order is:
//
//	e := vm.NewEngine(inodes, sw, m)
//	e.Frames = frame.New(capacity, pageSize, registry, sw, e, m)
func NewEngine(inodes *inode.Table, sw frame.SwapDevice, m *metrics.Registry) *Engine {
	return &Engine{Inodes: inodes, Swap: sw, metrics: m}
}

// WriteFile implements frame.FileWriter: it writes dirty file-backed
// bytes back through the inode layer during eviction.
func (e *Engine) WriteFile(ino *inode.Inode, offset int, data []byte) {
	ino.WriteAt(offset, data)
}

// HandleFault resolves a page fault: address-range validation, SPT
// lookup, and the stack-growth fallback, dispatching to the loader on
// success. Returns 0 on a resolved fault; any nonzero code means the process
// must be terminated: -defs.EFAULT for an address outside the user range
// and the stack-growth window, otherwise the loader's own error (for
// example -defs.ENOMEM when no frame can be obtained).
func (e *Engine) HandleFault(p *Process, addr, esp uintptr) defs.Err_t {
	if addr < p.UserFloor || addr >= p.UserCeiling {
		return -defs.EFAULT
	}
	page := spt.PageRound(addr)

	if entry, ok := p.SPT().Get(page); ok {
		return e.load(p, entry)
	}

	if addr+p.StackGrowthSlack >= esp && page >= p.stackFloor() {
		entry := &vmtypes.Entry{
			VAddr:     page,
			Type:      vmtypes.Anonymous,
			Writable:  true,
			SwapSlot:  -1,
			FrameIdx:  -1,
			ReadBytes: 0,
			ZeroBytes: spt.PageSize,
		}
		p.SPT().Put(entry)
		return e.load(p, entry)
	}

	return -defs.EFAULT
}

// load resolves one SPT entry into a resident page: allocate a frame,
// fill it per the entry's backing store, install the hardware mapping,
// and mark the entry resident.
func (e *Engine) load(p *Process, entry *vmtypes.Entry) defs.Err_t {
	idx, data, err := e.Frames.Alloc(frame.Owner{Tid: p.Tid, VAddr: entry.VAddr})
	if err != 0 {
		return err
	}

	switch {
	case entry.Type != vmtypes.Anonymous && entry.ReadBytes > 0:
		n := entry.Ino.ReadAt(entry.Offset, data[:entry.ReadBytes])
		for i := n; i < len(data); i++ {
			data[i] = 0
		}
	case entry.Type == vmtypes.Anonymous && entry.SwapSlot >= 0:
		if serr := e.swapIn(entry, data); serr != 0 {
			e.Frames.Free(idx)
			return serr
		}
	default:
		// Alloc already zero-fills fresh frames.
	}

	p.HW().Install(entry.VAddr, idx, entry.Writable)
	entry.Resident = true
	entry.FrameIdx = idx
	if e.metrics != nil {
		e.metrics.PageFault()
	}
	return 0
}

// swapIn performs the anonymous-page swap-in path of the loader.
func (e *Engine) swapIn(entry *vmtypes.Entry, data []byte) defs.Err_t {
	if err := e.Swap.In(entry.SwapSlot, data); err != 0 {
		return err
	}
	entry.SwapSlot = -1
	return 0
}

// Mmap maps ino (already opened by the caller's fd) at the page-aligned
// addr, reopening the inode so unmapping does not depend on the caller's
// fd staying open.
func (e *Engine) Mmap(p *Process, ino *inode.Inode, addr uintptr) (int, defs.Err_t) {
	if addr == 0 || addr%spt.PageSize != 0 {
		return 0, -defs.EINVAL
	}
	length := ino.Length()
	if length == 0 {
		return 0, -defs.EINVAL
	}
	npages := util.Roundup(length, spt.PageSize) / spt.PageSize

	for i := 0; i < npages; i++ {
		vaddr := addr + uintptr(i*spt.PageSize)
		if _, exists := p.SPT().Get(vaddr); exists {
			return 0, -defs.EINVAL
		}
	}

	reopened := e.Inodes.Open(ino.Sector())
	mapID := p.allocMapID()

	for i := 0; i < npages; i++ {
		vaddr := addr + uintptr(i*spt.PageSize)
		offset := i * spt.PageSize
		readBytes := util.Min(spt.PageSize, length-offset)
		if readBytes < 0 {
			readBytes = 0
		}
		entry := &vmtypes.Entry{
			VAddr:     vaddr,
			Type:      vmtypes.FileBackedMapped,
			Writable:  true,
			Ino:       reopened,
			Offset:    offset,
			ReadBytes: readBytes,
			ZeroBytes: spt.PageSize - readBytes,
			SwapSlot:  -1,
			FrameIdx:  -1,
			MapID:     mapID,
		}
		p.SPT().Put(entry)
	}

	klog.Debug("vm: mmap", "tid", p.Tid, "addr", addr, "pages", npages, "mapid", mapID)
	return mapID, 0
}

// Munmap tears down one mapping; munmap(0) tears down every mapping of
// the process.
func (e *Engine) Munmap(p *Process, mapID int) defs.Err_t {
	ids := []int{mapID}
	if mapID == 0 {
		ids = p.SPT().AllMapIDs()
	}

	for _, id := range ids {
		entries := p.SPT().ByMapID(id)
		var ino *inode.Inode
		for _, entry := range entries {
			ino = entry.Ino
			if entry.Resident {
				data := e.Frames.FrameData(entry.FrameIdx)
				if p.HW().Dirty(entry.VAddr) {
					entry.Ino.WriteAt(entry.Offset, data[:entry.ReadBytes])
				}
				e.Frames.Free(entry.FrameIdx)
				p.HW().Remove(entry.VAddr)
			} else if entry.SwapSlot >= 0 {
				// never faulted back in after having been swapped out;
				// nothing to write back, the slot just needs release.
				e.Swap.Free(entry.SwapSlot)
			}
			p.SPT().Delete(entry.VAddr)
		}
		if ino != nil {
			e.Inodes.Close(ino)
		}
	}
	return 0
}
