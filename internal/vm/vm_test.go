package vm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"kernelfs/internal/bufcache"
	"kernelfs/internal/defs"
	"kernelfs/internal/device"
	"kernelfs/internal/frame"
	"kernelfs/internal/freemap"
	"kernelfs/internal/inode"
	"kernelfs/internal/spt"
	"kernelfs/internal/swap"
	"kernelfs/internal/vmtypes"
)

const pageSize = spt.PageSize

type fixture struct {
	inodes *inode.Table
	cache  *bufcache.Cache
	fm     *freemap.FreeMap
	swap   *swap.Swap
	reg    *Registry
	engine *Engine
}

func newFixture(t *testing.T, frameCapacity int) *fixture {
	t.Helper()

	fsDev, err := device.Open(t.TempDir()+"/fs.img", 512, 8192, 2)
	require.NoError(t, err)
	t.Cleanup(func() { fsDev.Close() })
	c := bufcache.New(fsDev, 32, nil)
	fm := freemap.New(8192)
	inodes := inode.NewTable(c, fm, nil)

	swapDev, err := device.Open(t.TempDir()+"/swap.img", 512, (pageSize/512)*4, 2)
	require.NoError(t, err)
	t.Cleanup(func() { swapDev.Close() })
	sw := swap.New(swapDev, pageSize, nil)

	reg := NewRegistry()
	engine := NewEngine(inodes, sw, nil)
	engine.Frames = frame.New(frameCapacity, pageSize, reg, sw, engine, nil)

	return &fixture{inodes: inodes, cache: c, fm: fm, swap: sw, reg: reg, engine: engine}
}

func TestHandleFaultOutOfRangeIsEfault(t *testing.T) {
	f := newFixture(t, 4)
	proc := NewProcess(1, 0x1000, 0x2000, 32, 4)
	f.reg.Register(proc)

	err := f.engine.HandleFault(proc, 0x9999, 0x1fff)
	require.Equal(t, -defs.EFAULT, err)
}

func TestHandleFaultGrowsStack(t *testing.T) {
	f := newFixture(t, 4)
	ceiling := uintptr(0x10000)
	proc := NewProcess(1, 0x1000, ceiling, 32, 4)
	f.reg.Register(proc)

	// A fault right at the (nearly-top-of-stack) stack pointer, within
	// slack bytes of itself, should grow the stack by one page.
	esp := ceiling - 16
	addr := esp
	page := spt.PageRound(addr)

	err := f.engine.HandleFault(proc, addr, esp)
	require.Zero(t, err)

	entry, ok := proc.SPT().Get(page)
	require.True(t, ok)
	require.True(t, entry.Resident)
	require.True(t, proc.HW().Mapped(page))
}

func TestHandleFaultBeyondStackSlackIsEfault(t *testing.T) {
	f := newFixture(t, 4)
	ceiling := uintptr(0x10000)
	proc := NewProcess(1, 0x1000, ceiling, 32, 4)
	f.reg.Register(proc)

	// addr is far below esp - slack, so it cannot be stack growth and has
	// no existing SPT entry either.
	esp := ceiling - 16
	addr := proc.UserFloor
	err := f.engine.HandleFault(proc, addr, esp)
	require.Equal(t, -defs.EFAULT, err)
}

func TestMmapFaultWriteBackOnMunmap(t *testing.T) {
	f := newFixture(t, 4)
	proc := NewProcess(1, 0x400000, 0x500000, 32, 4)
	f.reg.Register(proc)

	sector, cerr := inode.Create(f.cache, f.fm, false)
	require.Zero(t, cerr)
	ino := f.inodes.Open(sector)
	defer f.inodes.Close(ino)

	payload := []byte("mmap roundtrip payload")
	_, werr := ino.WriteAt(0, payload)
	require.Zero(t, werr)

	addr := proc.UserFloor
	mapID, merr := f.engine.Mmap(proc, ino, addr)
	require.Zero(t, merr)
	require.Greater(t, mapID, 0)

	require.Zero(t, f.engine.HandleFault(proc, addr, addr))

	entry, ok := proc.SPT().Get(addr)
	require.True(t, ok)
	require.True(t, entry.Resident)

	data := f.engine.Frames.FrameData(entry.FrameIdx)
	require.Equal(t, payload, data[:len(payload)])

	// Dirty the page, then munmap should write it back.
	proc.HW().Touch(addr, true)
	mutated := []byte("MUTATED PAYLOAD VALUE!")
	copy(data, mutated)

	require.Zero(t, f.engine.Munmap(proc, mapID))

	_, stillMapped := proc.SPT().Get(addr)
	require.False(t, stillMapped)

	readback := make([]byte, len(mutated))
	ino.ReadAt(0, readback)
	require.Equal(t, mutated, readback)
}

func TestMunmapZeroTearsDownAllMappings(t *testing.T) {
	f := newFixture(t, 8)
	proc := NewProcess(1, 0x400000, 0x500000, 32, 4)
	f.reg.Register(proc)

	s1, _ := inode.Create(f.cache, f.fm, false)
	s2, _ := inode.Create(f.cache, f.fm, false)
	i1 := f.inodes.Open(s1)
	i2 := f.inodes.Open(s2)
	i1.WriteAt(0, []byte("file one"))
	i2.WriteAt(0, []byte("file two"))

	id1, err := f.engine.Mmap(proc, i1, proc.UserFloor)
	require.Zero(t, err)
	id2, err := f.engine.Mmap(proc, i2, proc.UserFloor+uintptr(pageSize))
	require.Zero(t, err)
	require.NotEqual(t, id1, id2)

	require.Zero(t, f.engine.Munmap(proc, 0))
	require.Equal(t, 0, proc.SPT().Len())

	f.inodes.Close(i1)
	f.inodes.Close(i2)
}

func TestAllocEvictionReclaimsFrameAcrossProcesses(t *testing.T) {
	f := newFixture(t, 1)
	procA := NewProcess(1, 0x1000, 0x100000, 32, 4)
	procB := NewProcess(2, 0x1000, 0x100000, 32, 4)
	f.reg.Register(procA)
	f.reg.Register(procB)

	// Pre-populate each process's SPT with an anonymous page directly, as
	// a loaded segment would, so HandleFault takes the existing-entry
	// path rather than the stack-growth fallback.
	procA.SPT().Put(&vmtypes.Entry{VAddr: 0x1000, Type: vmtypes.Anonymous, Writable: true, SwapSlot: -1, FrameIdx: -1, ZeroBytes: pageSize})
	procB.SPT().Put(&vmtypes.Entry{VAddr: 0x1000, Type: vmtypes.Anonymous, Writable: true, SwapSlot: -1, FrameIdx: -1, ZeroBytes: pageSize})

	require.Zero(t, f.engine.HandleFault(procA, 0x1000, 0x1000))
	// Second process faulting in forces eviction of procA's only frame.
	require.Zero(t, f.engine.HandleFault(procB, 0x1000, 0x1000))

	entryA, _ := procA.SPT().Get(0x1000)
	require.False(t, entryA.Resident)
	entryB, _ := procB.SPT().Get(0x1000)
	require.True(t, entryB.Resident)
}
