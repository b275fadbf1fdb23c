// Package vm wires the supplementary page table, the frame table, swap,
// and the simulated hardware page table into the fault-handling and
// mmap/munmap surface.
package vm

import (
	"sync"

	"kernelfs/internal/defs"
	"kernelfs/internal/frame"
	"kernelfs/internal/hw"
	"kernelfs/internal/spt"
)

// Process is one address space: its simulated hardware page table, its
// supplementary page table, and the address-space bounds the fault
// handler enforces.
type Process struct {
	Tid defs.Tid_t

	hwTable  *hw.Table
	sptTable *spt.Table

	UserFloor        uintptr
	UserCeiling      uintptr
	StackGrowthSlack uintptr
	MaxStackPages    int

	mu        sync.Mutex
	nextMapID int
}

// NewProcess creates a process address space with the given floor,
// ceiling, stack-growth slack, and maximum stack size in pages.
func NewProcess(tid defs.Tid_t, floor, ceiling, slack uintptr, maxStackPages int) *Process {
	return &Process{
		Tid:              tid,
		hwTable:          hw.NewTable(),
		sptTable:         spt.New(),
		UserFloor:        floor,
		UserCeiling:      ceiling,
		StackGrowthSlack: slack,
		MaxStackPages:    maxStackPages,
	}
}

func (p *Process) HW() *hw.Table   { return p.hwTable }
func (p *Process) SPT() *spt.Table { return p.sptTable }

func (p *Process) allocMapID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextMapID++
	return p.nextMapID
}

// stackFloor is the lowest address the stack region is permitted to grow
// down to, per MaxStackPages.
func (p *Process) stackFloor() uintptr {
	size := uintptr(p.MaxStackPages) * spt.PageSize
	if size > p.UserCeiling {
		return 0
	}
	return p.UserCeiling - size
}

// Registry resolves a Tid_t to its Process, implementing
// frame.ProcessProvider.
type Registry struct {
	mu    sync.Mutex
	procs map[defs.Tid_t]*Process
}

func NewRegistry() *Registry {
	return &Registry{procs: make(map[defs.Tid_t]*Process)}
}

func (r *Registry) Register(p *Process) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.procs[p.Tid] = p
}

func (r *Registry) Unregister(tid defs.Tid_t) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.procs, tid)
}

// Lookup satisfies frame.ProcessProvider.
func (r *Registry) Lookup(tid defs.Tid_t) (frame.ProcessView, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.procs[tid]
	if !ok {
		return nil, false
	}
	return p, true
}
