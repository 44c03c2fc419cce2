// SPDX-License-Identifier: Unlicense OR MIT

// Package mem provides physical page allocation for an address space,
// tracking free pages of a memory arena with a bitmap.
package mem

import (
	"math/bits"
	"unsafe"

	"github.com/oskern/vm/mmu"
)

const pageSize = mmu.PageSize

// ErrNoMemory means the pool has no free page left.
const ErrNoMemory mmu.Error = "mem: out of physical memory"

// Pool is a bitmap page allocator over a contiguous arena standing in
// for physical memory. Physical addresses are offsets into the arena.
// Page 0 is permanently reserved so that a zero address never denotes
// a valid allocation.
type Pool struct {
	arena []byte
	// The index into bits of the last allocated page.
	word int
	// bits represent each page with one bit, most significant bit
	// first. 1 means free, 0 means allocated or reserved.
	bits []uint64
}

// NewPool creates a pool backed by size bytes of memory, rounded up
// to whole pages.
func NewPool(size int) (*Pool, error) {
	npages := (size + pageSize - 1) / pageSize
	if npages < 2 {
		npages = 2
	}
	arena, err := mapArena(npages * pageSize)
	if err != nil {
		return nil, err
	}
	p := &Pool{
		arena: arena,
		bits:  make([]uint64, (npages+63)/64),
	}
	p.setFree(true, 0, mmu.PhysAddr(npages*pageSize))
	// Reserve page 0.
	p.setFree(false, 0, pageSize)
	return p, nil
}

// Pages returns the number of pages in the arena, including the
// reserved page 0.
func (p *Pool) Pages() int {
	return len(p.arena) / pageSize
}

// AllocPage returns a free, zeroed page and marks it allocated.
func (p *Pool) AllocPage() (mmu.PhysAddr, error) {
	page, ok := p.nextFreePage()
	if !ok {
		return 0, ErrNoMemory
	}
	p.take(page)
	pa := mmu.PhysAddr(page * pageSize)
	mem := p.arena[pa : pa+pageSize]
	for i := range mem {
		mem[i] = 0
	}
	return pa, nil
}

// Free returns the page at pa to the pool.
func (p *Pool) Free(pa mmu.PhysAddr) {
	if pa == 0 {
		panic("mem: free of reserved page 0")
	}
	p.setFree(true, pa, pa+pageSize)
}

// Table interprets the page at pa as a page-table level.
func (p *Pool) Table(pa mmu.PhysAddr) *mmu.Table {
	return (*mmu.Table)(unsafe.Pointer(&p.arena[p.check(pa)]))
}

// Page returns the contents of the page at pa.
func (p *Pool) Page(pa mmu.PhysAddr) []byte {
	off := p.check(pa)
	return p.arena[off : off+pageSize : off+pageSize]
}

// check validates a physical address handed back by a caller. A
// misaligned or out-of-range address means the page table or the
// tracker is corrupt, which the exclusivity contract makes a caller
// bug, not a runtime condition.
func (p *Pool) check(pa mmu.PhysAddr) int {
	off := int(pa)
	if pa%pageSize != 0 || off <= 0 || off+pageSize > len(p.arena) {
		panic("mem: physical address outside arena")
	}
	return off
}

func (p *Pool) setFree(free bool, start, end mmu.PhysAddr) {
	if start%pageSize != 0 || end%pageSize != 0 {
		panic("mem: unaligned page range")
	}
	if start > end || int(end) > len(p.arena) {
		panic("mem: page range outside arena")
	}
	if start == end {
		return
	}
	startBit := uint64(start / pageSize)
	endBit := uint64(end / pageSize)
	startWord := int(startBit / 64)
	endWord := int(endBit / 64)
	// Patterns for the partial first and last words.
	startPattern := uint64(1)<<(64-startBit%64) - 1
	endPattern := ^(uint64(1)<<(64-endBit%64) - 1)
	if startWord == endWord {
		startPattern &= endPattern
		endPattern = startPattern
	}
	var pattern uint64
	if free {
		pattern = ^uint64(0)
		p.bits[startWord] |= startPattern
		if endWord < len(p.bits) {
			p.bits[endWord] |= endPattern
		}
	} else {
		pattern = 0
		p.bits[startWord] &^= startPattern
		if endWord < len(p.bits) {
			p.bits[endWord] &^= endPattern
		}
	}
	for i := startWord + 1; i < endWord && i < len(p.bits); i++ {
		p.bits[i] = pattern
	}
}

func (p *Pool) take(page int) bool {
	word := page / 64
	bit := page % 64
	mask := uint64(1) << (64 - bit - 1)
	if p.bits[word]&mask == 0 {
		return false
	}
	p.bits[word] &^= mask
	return true
}

func (p *Pool) nextFreePage() (int, bool) {
	for i := 0; i < len(p.bits); i++ {
		idx := (i + p.word) % len(p.bits)
		w := p.bits[idx]
		b := bits.LeadingZeros64(w)
		if b == 64 {
			continue
		}
		p.word = idx
		return idx*64 + b, true
	}
	return 0, false
}
