// SPDX-License-Identifier: Unlicense OR MIT

package mmu

import (
	"fmt"
	"sync"
)

// AddressSpace owns the virtual ranges claimed by a process or kernel
// and the page table realizing them. All mutating operations are
// serialized on an internal lock; the tracker and the table are never
// observable in an intermediate state.
type AddressSpace struct {
	mu   sync.Mutex
	mem  Allocator
	root PhysAddr
	vmas vmaList
}

// New creates an empty address space with a freshly allocated root
// table.
func New(alloc Allocator) (*AddressSpace, error) {
	root, err := alloc.AllocPage()
	if err != nil {
		return nil, fmt.Errorf("mmu: new address space: %w", err)
	}
	clearTable(alloc.Table(root))
	return &AddressSpace{
		mem:  alloc,
		root: root,
		vmas: newVMAList(),
	}, nil
}

// Root returns the physical address of the top-level page table, the
// value a kernel would load into the page-table base register.
func (as *AddressSpace) Root() PhysAddr {
	return as.root
}

// Reserve claims an unbacked virtual range of size bytes, at hint if
// the range starting there is free, otherwise in the first hole that
// fits. A zero hint reserves in the high mapping area. No pages are
// populated; callers decide when to materialize backing memory.
func (as *AddressSpace) Reserve(hint VirtAddr, size uint64) (VMA, error) {
	as.mu.Lock()
	defer as.mu.Unlock()
	if hint == 0 {
		hint = mmapBase
	}
	start, err := as.vmas.findHole(hint, size)
	if err != nil {
		return VMA{}, err
	}
	v := newVMA(start, start+VirtAddr(size), 0)
	as.vmas.insert(v)
	return v, nil
}

// Unmap removes any mappings covering [addr, addr+size), splitting
// areas that extend beyond the range. Physical pages already
// populated behind the range are not returned to the allocator;
// reclamation is a separate sweep.
func (as *AddressSpace) Unmap(addr VirtAddr, size uint64) {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.vmas.evacuate(newVMA(addr, addr+VirtAddr(size), 0))
}

// VMAs returns the tracked areas in address order.
func (as *AddressSpace) VMAs() []VMA {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.vmas.all()
}

// Translate returns the physical address backing addr, if the page
// table currently maps it.
func (as *AddressSpace) Translate(addr VirtAddr) (PhysAddr, bool) {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.translate(addr)
}

// PageFault is the trap entry for hardware page faults. The exception
// dispatcher reads the faulting address from the fault-address
// register and passes it here. Demand paging is not implemented:
// every fault reports as an unmapped access, and the dispatcher is
// expected to halt on it. A complete system would instead consult the
// tracked areas to classify the fault and populate lazily-backed
// ranges.
func (as *AddressSpace) PageFault(addr VirtAddr) error {
	return fmt.Errorf("mmu: page fault at %#x: %w", uint64(addr), ErrUnmapped)
}
