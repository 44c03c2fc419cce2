// SPDX-License-Identifier: Unlicense OR MIT

// Package mmu implements the virtual-memory core of a kernel address
// space: a tracker of reserved virtual ranges and the 4-level page
// table realizing them.
package mmu

const (
	// PageSize is the base translation granule.
	PageSize = 1 << 12

	pageSize2MB = 1 << 21
	pageSize1GB = 1 << 30

	pageSizeRoot = 1 << 39
)

// VirtAddr is a virtual address.
type VirtAddr uint64

// PhysAddr is a physical address. It is a distinct type from VirtAddr
// so that a physical address can never be dereferenced by accident;
// all access to physical memory goes through an Allocator.
type PhysAddr uint64

// Align the address downwards to the page size.
func (a VirtAddr) Align() VirtAddr {
	return a &^ (PageSize - 1)
}

// Align the address upwards to the page size.
func (a VirtAddr) AlignUp() VirtAddr {
	return (a + PageSize - 1) &^ (PageSize - 1)
}

// Perm describes the access allowed through a mapping.
type Perm uint8

const (
	PermRead Perm = 1 << iota
	PermWrite
	PermExec
)

func (p Perm) String() string {
	s := [3]byte{'-', '-', '-'}
	if p&PermRead != 0 {
		s[0] = 'r'
	}
	if p&PermWrite != 0 {
		s[1] = 'w'
	}
	if p&PermExec != 0 {
		s[2] = 'x'
	}
	return string(s[:])
}
