// Package hw simulates the one piece of real hardware this kernel
// extension would otherwise depend on directly: a process's page table,
// with its installed mappings and reference/dirty bits. This repository
// hosts a simulation of the storage+VM engine rather than mapping real
// pages, so PTE installation and TLB shootdown are reduced to a narrow
// interface and a plain Go map standing in for the page table a CPU
// would walk.
package hw

import "sync"

type pte struct {
	frameIdx  int
	writable  bool
	reference bool
	dirty     bool
}

// Table is one process's simulated page table.
type Table struct {
	mu      sync.Mutex
	entries map[uintptr]*pte
}

func NewTable() *Table {
	return &Table{entries: make(map[uintptr]*pte)}
}

// Install maps vaddr to frameIdx. Newly installed mappings start with the
// reference bit set, matching real hardware (a TLB fill sets accessed on
// the installing access).
func (t *Table) Install(vaddr uintptr, frameIdx int, writable bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[vaddr] = &pte{frameIdx: frameIdx, writable: writable, reference: true}
}

// Remove tears down the mapping for vaddr, if any.
func (t *Table) Remove(vaddr uintptr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, vaddr)
}

func (t *Table) Reference(vaddr uintptr) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[vaddr]; ok {
		return e.reference
	}
	return false
}

func (t *Table) ClearReference(vaddr uintptr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[vaddr]; ok {
		e.reference = false
	}
}

func (t *Table) Dirty(vaddr uintptr) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[vaddr]; ok {
		return e.dirty
	}
	return false
}

func (t *Table) ClearDirty(vaddr uintptr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[vaddr]; ok {
		e.dirty = false
	}
}

// Touch simulates a memory access through this mapping: every access
// sets the reference bit, writes additionally set the dirty bit. Stands
// in for what the MMU would do on a real load/store; exercised by tests
// and by any caller modelling process memory accesses.
func (t *Table) Touch(vaddr uintptr, write bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[vaddr]
	if !ok {
		return
	}
	e.reference = true
	if write {
		e.dirty = true
	}
}

// Writable reports whether vaddr is currently mapped writable.
func (t *Table) Writable(vaddr uintptr) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[vaddr]; ok {
		return e.writable
	}
	return false
}

// Mapped reports whether vaddr currently has an installed mapping.
func (t *Table) Mapped(vaddr uintptr) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[vaddr]
	return ok
}
