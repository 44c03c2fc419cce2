// SPDX-License-Identifier: Unlicense OR MIT

package mmu

// Mapping is one realized translation: a contiguous virtual range and
// the physical range backing it.
type Mapping struct {
	Virt VirtAddr
	Phys PhysAddr
	Size uint64
}

// Mappings walks the whole page table and returns every realized
// translation, including large pages, in virtual address order.
func (as *AddressSpace) Mappings() []Mapping {
	as.mu.Lock()
	defer as.mu.Unlock()
	var entries []Mapping
	root := as.mem.Table(as.root)
	for i, pml4e := range root {
		if !pml4e.Present() {
			continue
		}
		vaddr := VirtAddr(i) * pageSizeRoot
		pdpt := as.mem.Table(pml4e.Addr())
		for i, pdpte := range pdpt {
			if !pdpte.Present() {
				continue
			}
			vaddr := vaddr + VirtAddr(i)*pageSize1GB
			if pdpte.Large() {
				entries = append(entries, Mapping{vaddr, pdpte.Addr(), pageSize1GB})
				continue
			}
			pd := as.mem.Table(pdpte.Addr())
			for i, pde := range pd {
				if !pde.Present() {
					continue
				}
				vaddr := vaddr + VirtAddr(i)*pageSize2MB
				if pde.Large() {
					entries = append(entries, Mapping{vaddr, pde.Addr(), pageSize2MB})
					continue
				}
				pt := as.mem.Table(pde.Addr())
				for i, e := range pt {
					if !e.Present() {
						continue
					}
					vaddr := vaddr + VirtAddr(i)*PageSize
					entries = append(entries, Mapping{vaddr, e.Addr(), PageSize})
				}
			}
		}
	}
	return entries
}
