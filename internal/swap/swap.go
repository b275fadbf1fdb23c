// Package swap implements the swap partition: a block device partitioned
// into page-sized slots, tracked by an in-memory bitmap, serialized by a
// single swap-wide mutex since the bitmap and the underlying device are
// shared.
package swap

import (
	"sync"

	"kernelfs/internal/defs"
	"kernelfs/internal/device"
	"kernelfs/internal/klog"
	"kernelfs/internal/metrics"
)

// Swap manages a block device as a set of page-sized slots.
type Swap struct {
	mu             sync.Mutex
	dev            device.Device
	pageSize       int
	sectorsPerSlot int
	occupied       []bool
	metrics        *metrics.Registry
}

// New partitions dev into page-sized slots. pageSize must be a multiple
// of dev.SectorSize().
func New(dev device.Device, pageSize int, m *metrics.Registry) *Swap {
	if pageSize%dev.SectorSize() != 0 {
		panic("swap: page size must be a multiple of the sector size")
	}
	sectorsPerSlot := pageSize / dev.SectorSize()
	nslots := dev.NumSectors() / sectorsPerSlot
	return &Swap{
		dev:            dev,
		pageSize:       pageSize,
		sectorsPerSlot: sectorsPerSlot,
		occupied:       make([]bool, nslots),
		metrics:        m,
	}
}

// NumSlots reports total slot capacity.
func (s *Swap) NumSlots() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.occupied)
}

// Out writes page_size bytes across consecutive sectors into the first
// free slot (first-fit), returning the slot index.
func (s *Swap) Out(page []byte) (int, defs.Err_t) {
	if len(page) != s.pageSize {
		return 0, -defs.EINVAL
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	slot := -1
	for i, used := range s.occupied {
		if !used {
			slot = i
			break
		}
	}
	if slot < 0 {
		return 0, -defs.ENOSPC
	}
	s.occupied[slot] = true

	base := slot * s.sectorsPerSlot
	for i := 0; i < s.sectorsPerSlot; i++ {
		off := i * s.dev.SectorSize()
		if err := s.dev.Write(base+i, page[off:off+s.dev.SectorSize()]); err != 0 {
			panic("swap: device write failed")
		}
	}
	if s.metrics != nil {
		s.metrics.SwapOut()
	}
	klog.Debug("swap: out", "slot", slot)
	return slot, 0
}

// In reads slot back into dst (len(dst) == pageSize) and frees the slot.
func (s *Swap) In(slot int, dst []byte) defs.Err_t {
	if len(dst) != s.pageSize {
		return -defs.EINVAL
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if slot < 0 || slot >= len(s.occupied) || !s.occupied[slot] {
		return -defs.EINVAL
	}

	base := slot * s.sectorsPerSlot
	for i := 0; i < s.sectorsPerSlot; i++ {
		off := i * s.dev.SectorSize()
		if err := s.dev.Read(base+i, dst[off:off+s.dev.SectorSize()]); err != 0 {
			panic("swap: device read failed")
		}
	}
	s.occupied[slot] = false
	if s.metrics != nil {
		s.metrics.SwapIn()
	}
	klog.Debug("swap: in", "slot", slot)
	return 0
}

// Free releases slot without reading it back (used when an anonymous
// page is discarded entirely, e.g. the process exits while swapped out).
func (s *Swap) Free(slot int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot >= 0 && slot < len(s.occupied) {
		s.occupied[slot] = false
	}
}
