// SPDX-License-Identifier: Unlicense OR MIT

package mmu

// Error is a constant error type usable in kernel code.
type Error string

func (e Error) Error() string {
	return string(e)
}

const (
	// ErrNoVirtualMemory means no hole of the requested size exists
	// in the allocatable address range.
	ErrNoVirtualMemory Error = "mmu: out of virtual address space"

	// ErrUnmapped means an address was accessed that no present
	// translation covers.
	ErrUnmapped Error = "mmu: unmapped address"
)
