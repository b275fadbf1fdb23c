package frame

import (
	"testing"

	"github.com/stretchr/testify/require"

	"kernelfs/internal/defs"
	"kernelfs/internal/hw"
	"kernelfs/internal/inode"
	"kernelfs/internal/spt"
	"kernelfs/internal/vmtypes"
)

type fakeProc struct {
	hw  *hw.Table
	spt *spt.Table
}

func (p *fakeProc) HW() *hw.Table   { return p.hw }
func (p *fakeProc) SPT() *spt.Table { return p.spt }

type fakeRegistry struct {
	procs map[defs.Tid_t]*fakeProc
}

func newFakeRegistry() *fakeRegistry { return &fakeRegistry{procs: make(map[defs.Tid_t]*fakeProc)} }

func (r *fakeRegistry) add(tid defs.Tid_t) *fakeProc {
	p := &fakeProc{hw: hw.NewTable(), spt: spt.New()}
	r.procs[tid] = p
	return p
}

func (r *fakeRegistry) Lookup(tid defs.Tid_t) (ProcessView, bool) {
	p, ok := r.procs[tid]
	return p, ok
}

type fakeSwap struct {
	nextSlot int
	store    map[int][]byte
}

func newFakeSwap() *fakeSwap { return &fakeSwap{store: make(map[int][]byte)} }

func (s *fakeSwap) Out(page []byte) (int, defs.Err_t) {
	slot := s.nextSlot
	s.nextSlot++
	cp := make([]byte, len(page))
	copy(cp, page)
	s.store[slot] = cp
	return slot, 0
}

func (s *fakeSwap) In(slot int, dst []byte) defs.Err_t {
	data, ok := s.store[slot]
	if !ok {
		return -defs.EINVAL
	}
	copy(dst, data)
	return 0
}

func (s *fakeSwap) Free(slot int) { delete(s.store, slot) }

type fakeWriter struct {
	wrote []byte
}

func (w *fakeWriter) WriteFile(ino *inode.Inode, offset int, data []byte) {
	w.wrote = append([]byte{}, data...)
}

const testPageSize = 64

func TestAllocZeroFillsAndReportsOwner(t *testing.T) {
	reg := newFakeRegistry()
	tbl := New(2, testPageSize, reg, newFakeSwap(), &fakeWriter{}, nil)

	idx, data, err := tbl.Alloc(Owner{Tid: 1, VAddr: 0x1000})
	require.Zero(t, err)
	require.Equal(t, testPageSize, len(data))
	for _, b := range data {
		require.EqualValues(t, 0, b)
	}
	require.Equal(t, 0, idx)
}

func TestAllocEvictsAnonymousPageWhenFull(t *testing.T) {
	reg := newFakeRegistry()
	proc := reg.add(1)
	sw := newFakeSwap()
	tbl := New(1, testPageSize, reg, sw, &fakeWriter{}, nil)

	idx, data, err := tbl.Alloc(Owner{Tid: 1, VAddr: 0x1000})
	require.Zero(t, err)
	for i := range data {
		data[i] = byte(i + 1)
	}
	proc.hw.Install(0x1000, idx, true)
	entry := &vmtypes.Entry{VAddr: 0x1000, Type: vmtypes.Anonymous, Resident: true, FrameIdx: idx}
	proc.spt.Put(entry)

	// Table is at capacity (1 frame); a second Alloc must evict the first.
	_, _, err = tbl.Alloc(Owner{Tid: 1, VAddr: 0x2000})
	require.Zero(t, err)

	require.False(t, entry.Resident)
	require.Equal(t, -1, entry.FrameIdx)
	require.GreaterOrEqual(t, entry.SwapSlot, 0)
	require.False(t, proc.hw.Mapped(0x1000))
}

func TestEvictionWritesBackDirtyMappedFile(t *testing.T) {
	reg := newFakeRegistry()
	proc := reg.add(1)
	writer := &fakeWriter{}
	tbl := New(1, testPageSize, reg, newFakeSwap(), writer, nil)

	idx, data, err := tbl.Alloc(Owner{Tid: 1, VAddr: 0x3000})
	require.Zero(t, err)
	copy(data, []byte("dirty file contents"))
	// Alloc zero-fills the reused frame, so keep what was there to compare.
	want := append([]byte{}, data...)
	proc.hw.Install(0x3000, idx, true)
	proc.hw.Touch(0x3000, true) // mark dirty

	entry := &vmtypes.Entry{VAddr: 0x3000, Type: vmtypes.FileBackedMapped, Resident: true, FrameIdx: idx, ReadBytes: testPageSize}
	proc.spt.Put(entry)

	_, _, err = tbl.Alloc(Owner{Tid: 1, VAddr: 0x4000})
	require.Zero(t, err)

	require.Equal(t, want[:len(writer.wrote)], writer.wrote)
	require.False(t, entry.Resident)
}

func TestAllocFailsWhenFrameIsMidEviction(t *testing.T) {
	reg := newFakeRegistry()
	tbl := New(1, testPageSize, reg, newFakeSwap(), &fakeWriter{}, nil)
	tbl.evicting[0] = true
	tbl.inUse[0] = false

	_, _, err := tbl.Alloc(Owner{Tid: 1, VAddr: 0x1000})
	require.Equal(t, -defs.ENOMEM, err)
}

func TestFreeDetachesFrameWithoutWriteback(t *testing.T) {
	reg := newFakeRegistry()
	tbl := New(1, testPageSize, reg, newFakeSwap(), &fakeWriter{}, nil)
	idx, _, err := tbl.Alloc(Owner{Tid: 1, VAddr: 0x1000})
	require.Zero(t, err)

	tbl.Free(idx)
	idx2, _, err := tbl.Alloc(Owner{Tid: 2, VAddr: 0x2000})
	require.Zero(t, err)
	require.Equal(t, idx, idx2)
}
