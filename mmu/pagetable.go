// SPDX-License-Identifier: Unlicense OR MIT

package mmu

const (
	ptLevels  = 4
	ptEntries = 512
)

// Table is the hardware representation of one page-table level.
type Table [ptEntries]PTE

// PTE is the hardware representation of a page table entry.
type PTE uint64

const (
	pteFlagPresent  PTE = 1 << 0
	pteFlagWritable PTE = 1 << 1
	pteFlagUser     PTE = 1 << 2
	pteFlagAccessed PTE = 1 << 5
	pteFlagDirty    PTE = 1 << 6
	pteFlagLarge    PTE = 1 << 7
	pteFlagNX       PTE = 1 << 63

	tableFlags = pteFlagPresent | pteFlagWritable | pteFlagUser
)

// pteAddrMask covers the physical address bits of an entry, bits 12
// through 52. Everything below is flags, everything above is reserved
// or the no-execute bit.
const pteAddrMask = (PTE(1)<<53 - 1) &^ (PTE(1)<<12 - 1)

// ptIndex extracts the 9-bit table index for the given level from a
// virtual address.
func ptIndex(addr VirtAddr, level int) int {
	return int(addr>>(12+9*level)) & (ptEntries - 1)
}

// Present reports whether the entry maps anything.
func (e PTE) Present() bool {
	return e&pteFlagPresent != 0
}

// Large reports whether the entry is a large-page leaf rather than a
// pointer to the next level.
func (e PTE) Large() bool {
	return e&pteFlagLarge != 0
}

// Addr returns the physical address stored in the entry.
func (e PTE) Addr() PhysAddr {
	return PhysAddr(e & pteAddrMask)
}

// Writable reports whether the entry allows writes.
func (e PTE) Writable() bool {
	return e&pteFlagWritable != 0
}

// NoExec reports whether the entry forbids instruction fetches.
func (e PTE) NoExec() bool {
	return e&pteFlagNX != 0
}

// setTable points the entry at a next-level table.
func (e *PTE) setTable(pa PhysAddr) {
	*e = PTE(pa) | tableFlags
}

// leafFlags translates mapping permissions into leaf entry bits.
// Intermediate levels are always present+writable+user; access control
// happens at the leaves.
func leafFlags(perm Perm) PTE {
	f := pteFlagPresent | pteFlagUser | pteFlagAccessed | pteFlagDirty
	if perm&PermWrite != 0 {
		f |= pteFlagWritable
	}
	if perm&PermExec == 0 {
		f |= pteFlagNX
	}
	return f
}

func clearTable(t *Table) {
	for i := range t {
		t[i] = 0
	}
}

// Allocator provides the physical pages backing page-table levels and
// mapped memory. Pages returned by AllocPage are unused, page-aligned
// and zeroed.
type Allocator interface {
	AllocPage() (PhysAddr, error)
	// Table interprets the page at pa as a page-table level.
	Table(pa PhysAddr) *Table
	// Page returns the contents of the page at pa.
	Page(pa PhysAddr) []byte
}
