// SPDX-License-Identifier: Unlicense OR MIT

package mmu

import (
	"fmt"
	"io"
)

// File is the backing-store reference consumed by MapFile.
// bytes.Reader and os.File (via a size-reporting wrapper) satisfy it.
type File interface {
	io.ReaderAt
	Size() int64
}

// MapAnonRaw establishes a mapping over [start, end), evicting
// anything previously mapped there and backing every page. The
// contents of the range are left undefined. This is the primitive the
// other mapping operations build on.
func (as *AddressSpace) MapAnonRaw(start, end VirtAddr, perm Perm) (VMA, error) {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.mapRaw(start, end, perm)
}

func (as *AddressSpace) mapRaw(start, end VirtAddr, perm Perm) (VMA, error) {
	v := newVMA(start, end, perm)
	as.vmas.evacuate(v)
	as.vmas.insert(v)
	if err := as.populate(v); err != nil {
		return VMA{}, fmt.Errorf("mmu: map %#x-%#x: %w", uint64(v.start), uint64(v.end), err)
	}
	return v, nil
}

// MapAnon establishes a zero-filled mapping of size bytes at addr.
func (as *AddressSpace) MapAnon(addr VirtAddr, size uint64, perm Perm) (VMA, error) {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.mapAnon(addr, size, perm)
}

func (as *AddressSpace) mapAnon(addr VirtAddr, size uint64, perm Perm) (VMA, error) {
	v, err := as.mapRaw(addr, addr+VirtAddr(size), perm)
	if err != nil {
		return VMA{}, err
	}
	if err := as.zero(v.start, v.Size()); err != nil {
		return VMA{}, err
	}
	return v, nil
}

// MapFile maps size bytes of f starting at offset to addr. A mapping
// extending past the end of the file is zero-filled beyond it, and an
// offset at or past the end of the file degrades to a plain anonymous
// zeroed mapping.
func (as *AddressSpace) MapFile(addr VirtAddr, size uint64, perm Perm, f File, offset uint64) (VMA, error) {
	as.mu.Lock()
	defer as.mu.Unlock()
	fsize := uint64(f.Size())
	if offset >= fsize {
		return as.mapAnon(addr, size, perm)
	}
	v, err := as.mapRaw(addr, addr+VirtAddr(size), perm)
	if err != nil {
		return VMA{}, err
	}
	rsize := min(offset+size, fsize) - offset
	buf := make([]byte, rsize)
	if _, err := f.ReadAt(buf, int64(offset)); err != nil {
		return VMA{}, fmt.Errorf("mmu: map file: %w", err)
	}
	if err := as.store(addr, buf); err != nil {
		return VMA{}, err
	}
	if err := as.zero(addr+VirtAddr(rsize), uint64(v.end-addr)-rsize); err != nil {
		return VMA{}, err
	}
	return v, nil
}

// store copies data into the mapped range starting at addr, page by
// page through the current translations.
func (as *AddressSpace) store(addr VirtAddr, data []byte) error {
	for len(data) > 0 {
		page, off, err := as.pageAt(addr)
		if err != nil {
			return err
		}
		n := copy(page[off:], data)
		data = data[n:]
		addr += VirtAddr(n)
	}
	return nil
}

// zero clears size bytes of the mapped range starting at addr.
func (as *AddressSpace) zero(addr VirtAddr, size uint64) error {
	for size > 0 {
		page, off, err := as.pageAt(addr)
		if err != nil {
			return err
		}
		chunk := page[off:]
		if uint64(len(chunk)) > size {
			chunk = chunk[:size]
		}
		for i := range chunk {
			chunk[i] = 0
		}
		size -= uint64(len(chunk))
		addr += VirtAddr(len(chunk))
	}
	return nil
}

// pageAt returns the backing page containing addr and the offset of
// addr within it.
func (as *AddressSpace) pageAt(addr VirtAddr) ([]byte, int, error) {
	pa, ok := as.translate(addr)
	if !ok {
		return nil, 0, fmt.Errorf("mmu: access to %#x: %w", uint64(addr), ErrUnmapped)
	}
	off := int(pa & (PageSize - 1))
	return as.mem.Page(pa - PhysAddr(off)), off, nil
}
