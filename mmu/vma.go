// SPDX-License-Identifier: Unlicense OR MIT

package mmu

import "golang.org/x/exp/slices"

const (
	// maxUserAddr bounds the allocatable part of the address space.
	maxUserAddr VirtAddr = 0x800000000000

	// mmapBase is where reservations without an address hint go.
	mmapBase VirtAddr = 0x200000000000
)

// VMA is a virtual memory area, a half-open range [Start, End) of
// page-aligned addresses. It is a bookkeeping record: the memory
// behind it, if any, is described by the page table.
type VMA struct {
	start VirtAddr
	end   VirtAddr
	perm  Perm
}

func newVMA(start, end VirtAddr, perm Perm) VMA {
	return VMA{start: start.Align(), end: end.AlignUp(), perm: perm}
}

// Start returns the first address of the area.
func (v VMA) Start() VirtAddr { return v.start }

// End returns the address one past the last address of the area.
func (v VMA) End() VirtAddr { return v.end }

// Size returns the extent of the area in bytes.
func (v VMA) Size() uint64 { return uint64(v.end - v.start) }

// Perm returns the access permissions of the area.
func (v VMA) Perm() Perm { return v.perm }

// contains reports whether y lies entirely within v.
func (v VMA) contains(y VMA) bool {
	return y.start >= v.start && y.end <= v.end
}

// vmaList is the ordered set of areas claimed in an address space.
// The first and last entries are degenerate markers at the edges of
// the allocatable range; they are never removed, so every scan over
// adjacent pairs has a well-defined neighbor at the extremes.
type vmaList struct {
	vmas []VMA
}

func newVMAList() vmaList {
	return vmaList{vmas: []VMA{
		{start: 0, end: 0},
		{start: maxUserAddr, end: maxUserAddr},
	}}
}

// insertPos finds the lowest index i where vmas[i].start > addr.
func (l *vmaList) insertPos(addr VirtAddr) int {
	i, j := 0, len(l.vmas)
	for i < j {
		h := int(uint(i+j) >> 1)
		if l.vmas[h].start <= addr {
			i = h + 1
		} else {
			j = h
		}
	}
	return i
}

func (l *vmaList) insert(v VMA) {
	l.vmas = slices.Insert(l.vmas, l.insertPos(v.start), v)
}

// findHole returns a starting address at or after hint where size
// bytes fit between existing areas. The hinted address wins if the
// range starting there is free; otherwise the first sufficiently
// large gap at a higher address is used.
func (l *vmaList) findHole(hint VirtAddr, size uint64) (VirtAddr, error) {
	for i := 0; i+1 < len(l.vmas); i++ {
		prev, next := l.vmas[i], l.vmas[i+1]
		if hint >= prev.end && hint+VirtAddr(size) <= next.start {
			return hint, nil
		}
		if prev.end >= hint && next.start-prev.end >= VirtAddr(size) {
			return prev.end, nil
		}
	}
	return 0, ErrNoVirtualMemory
}

// split carves the area at index i in two at edge. The original entry
// keeps [start, edge); the remainder becomes a new entry. Splitting
// at or outside the boundaries is a no-op.
func (l *vmaList) split(i int, edge VirtAddr) {
	v := l.vmas[i]
	if edge <= v.start || edge >= v.end {
		return
	}
	l.vmas[i].end = edge
	l.vmas = slices.Insert(l.vmas, i+1, VMA{start: edge, end: v.end, perm: v.perm})
}

// evacuate makes room for target: every area intersecting it is split
// at target's boundaries and the contained middle pieces are removed.
// Afterwards no area in the list overlaps target.
func (l *vmaList) evacuate(target VMA) {
	for i := 1; i < len(l.vmas)-1; i++ {
		l.split(i, target.end)
		l.split(i, target.start)
		if target.contains(l.vmas[i]) {
			l.vmas = slices.Delete(l.vmas, i, i+1)
			i--
		}
	}
}

// all returns a copy of the non-marker areas in address order.
func (l *vmaList) all() []VMA {
	if len(l.vmas) <= 2 {
		return nil
	}
	return slices.Clone(l.vmas[1 : len(l.vmas)-1])
}
