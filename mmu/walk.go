// SPDX-License-Identifier: Unlicense OR MIT

package mmu

// allocateIntermediateLevel replaces an absent entry with a pointer
// to a new, zeroed table.
func (as *AddressSpace) allocateIntermediateLevel(pte *PTE) error {
	pa, err := as.mem.AllocPage()
	if err != nil {
		return err
	}
	clearTable(as.mem.Table(pa))
	pte.setTable(pa)
	return nil
}

// splitLargePage demotes a large-page leaf at the given level into a
// full table of entries one level down, each covering its slice of
// the original range with the original flags. At level 1 the children
// are base pages, so the large bit is dropped; above that the
// children are themselves large pages.
//
// On real hardware the stale large-page translation must be flushed
// from the TLB of every core after this; single-core operation is
// assumed here.
func (as *AddressSpace) splitLargePage(pte *PTE, level int) error {
	orig := *pte
	if level == 1 {
		orig &^= pteFlagLarge
	}
	if err := as.allocateIntermediateLevel(pte); err != nil {
		return err
	}
	tbl := as.mem.Table(pte.Addr())
	for i := range tbl {
		tbl[i] = orig | PTE(i)<<(12+9*(level-1))
	}
	return nil
}

// populatePage walks the table from the root and installs a freshly
// allocated page for addr, creating intermediate levels as needed and
// demoting any large page standing in the way.
func (as *AddressSpace) populatePage(addr VirtAddr, perm Perm) error {
	tbl := as.mem.Table(as.root)
	for level := ptLevels - 1; level > 0; level-- {
		pte := &tbl[ptIndex(addr, level)]
		if !pte.Present() {
			if err := as.allocateIntermediateLevel(pte); err != nil {
				return err
			}
		} else if pte.Large() {
			if err := as.splitLargePage(pte, level); err != nil {
				return err
			}
		}
		tbl = as.mem.Table(pte.Addr())
	}
	pa, err := as.mem.AllocPage()
	if err != nil {
		return err
	}
	tbl[ptIndex(addr, 0)] = PTE(pa) | leafFlags(perm)
	return nil
}

// populate backs every page of the area.
//
// TODO: map with 2MB pages where the range and backing allocation
// allow it, instead of walking all levels per 4K page.
func (as *AddressSpace) populate(v VMA) error {
	for addr := v.start; addr < v.end; addr += PageSize {
		if err := as.populatePage(addr, v.perm); err != nil {
			return err
		}
	}
	return nil
}

// translate walks the table without modifying it.
func (as *AddressSpace) translate(addr VirtAddr) (PhysAddr, bool) {
	tbl := as.mem.Table(as.root)
	for level := ptLevels - 1; level > 0; level-- {
		pte := tbl[ptIndex(addr, level)]
		if !pte.Present() {
			return 0, false
		}
		if pte.Large() {
			stride := VirtAddr(1) << (12 + 9*level)
			return pte.Addr() + PhysAddr(addr&(stride-1)), true
		}
		tbl = as.mem.Table(pte.Addr())
	}
	pte := tbl[ptIndex(addr, 0)]
	if !pte.Present() {
		return 0, false
	}
	return pte.Addr() + PhysAddr(addr&(PageSize-1)), true
}
