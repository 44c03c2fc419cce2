// SPDX-License-Identifier: Unlicense OR MIT

package mmu_test

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/oskern/vm/mem"
	"github.com/oskern/vm/mmu"
)

func newSpace(t *testing.T, size int) (*mmu.AddressSpace, *mem.Pool) {
	t.Helper()
	pool, err := mem.NewPool(size)
	if err != nil {
		t.Fatal(err)
	}
	as, err := mmu.New(pool)
	if err != nil {
		t.Fatal(err)
	}
	return as, pool
}

// readVirt reads n bytes from the mapped range at addr through the
// current translations.
func readVirt(t *testing.T, as *mmu.AddressSpace, pool *mem.Pool, addr mmu.VirtAddr, n int) []byte {
	t.Helper()
	out := make([]byte, 0, n)
	for len(out) < n {
		pa, ok := as.Translate(addr)
		if !ok {
			t.Fatalf("address %#x not mapped", uint64(addr))
		}
		off := int(pa % mmu.PageSize)
		page := pool.Page(pa - mmu.PhysAddr(off))[off:]
		if len(page) > n-len(out) {
			page = page[:n-len(out)]
		}
		out = append(out, page...)
		addr += mmu.VirtAddr(len(page))
	}
	return out
}

func TestMapAnonZeroed(t *testing.T) {
	as, pool := newSpace(t, 1<<22)
	const addr, size = mmu.VirtAddr(0x10000), uint64(0x3000)
	// Scribble over the range first so zeroing is observable.
	if _, err := as.MapAnonRaw(addr, addr+mmu.VirtAddr(size), mmu.PermRead|mmu.PermWrite); err != nil {
		t.Fatal(err)
	}
	for a := addr; a < addr+mmu.VirtAddr(size); a += mmu.PageSize {
		pa, ok := as.Translate(a)
		if !ok {
			t.Fatalf("raw mapping missing page at %#x", uint64(a))
		}
		page := pool.Page(pa)
		for i := range page {
			page[i] = 0xa5
		}
	}
	v, err := as.MapAnon(addr, size, mmu.PermRead|mmu.PermWrite)
	if err != nil {
		t.Fatal(err)
	}
	if v.Start() != addr || v.Size() != size {
		t.Fatalf("vma [%#x, %#x)", uint64(v.Start()), uint64(v.End()))
	}
	for i, b := range readVirt(t, as, pool, addr, int(size)) {
		if b != 0 {
			t.Fatalf("byte %d is %#x, want 0", i, b)
		}
	}
}

func TestMapFile(t *testing.T) {
	content := make([]byte, 0x1800)
	for i := range content {
		content[i] = byte(i)
	}
	const addr = mmu.VirtAddr(0x200000)

	t.Run("within", func(t *testing.T) {
		as, pool := newSpace(t, 1<<22)
		f := bytes.NewReader(content)
		if _, err := as.MapFile(addr, 0x1000, mmu.PermRead, f, 0x800); err != nil {
			t.Fatal(err)
		}
		got := readVirt(t, as, pool, addr, 0x1000)
		if !bytes.Equal(got, content[0x800:0x1800]) {
			t.Fatal("mapped bytes differ from file")
		}
	})

	t.Run("pastEOF", func(t *testing.T) {
		as, pool := newSpace(t, 1<<22)
		f := bytes.NewReader(content)
		if _, err := as.MapFile(addr, 0x2000, mmu.PermRead, f, 0x1000); err != nil {
			t.Fatal(err)
		}
		got := readVirt(t, as, pool, addr, 0x2000)
		if !bytes.Equal(got[:0x800], content[0x1000:]) {
			t.Fatal("prefix differs from file tail")
		}
		for i, b := range got[0x800:] {
			if b != 0 {
				t.Fatalf("suffix byte %d is %#x, want 0", i, b)
			}
		}
	})

	t.Run("offsetBeyondEOF", func(t *testing.T) {
		as, pool := newSpace(t, 1<<22)
		f := bytes.NewReader(content)
		if _, err := as.MapFile(addr, 0x1000, mmu.PermRead, f, 0x4000); err != nil {
			t.Fatal(err)
		}
		for i, b := range readVirt(t, as, pool, addr, 0x1000) {
			if b != 0 {
				t.Fatalf("byte %d is %#x, want 0", i, b)
			}
		}
	})
}

func TestUnmapSplits(t *testing.T) {
	as, _ := newSpace(t, 1<<22)
	if _, err := as.MapAnon(0x10000, 0x6000, mmu.PermRead); err != nil {
		t.Fatal(err)
	}
	as.Unmap(0x12000, 0x2000)
	vmas := as.VMAs()
	if len(vmas) != 2 {
		t.Fatalf("got %d areas, want 2", len(vmas))
	}
	if vmas[0].Start() != 0x10000 || vmas[0].End() != 0x12000 ||
		vmas[1].Start() != 0x14000 || vmas[1].End() != 0x16000 {
		t.Fatalf("got [%#x,%#x) [%#x,%#x)",
			uint64(vmas[0].Start()), uint64(vmas[0].End()),
			uint64(vmas[1].Start()), uint64(vmas[1].End()))
	}
}

func TestReserveUnbacked(t *testing.T) {
	as, _ := newSpace(t, 1<<22)
	v, err := as.Reserve(0, 0x3000)
	if err != nil {
		t.Fatal(err)
	}
	if v.Start() != 0x200000000000 {
		t.Fatalf("default reservation at %#x", uint64(v.Start()))
	}
	if _, ok := as.Translate(v.Start()); ok {
		t.Fatal("reservation populated pages")
	}
	if m := as.Mappings(); len(m) != 0 {
		t.Fatalf("page table has %d mappings, want none", len(m))
	}
	// A second reservation lands after the first.
	v2, err := as.Reserve(0, 0x1000)
	if err != nil {
		t.Fatal(err)
	}
	if v2.Start() < v.End() {
		t.Fatalf("second reservation %#x overlaps first", uint64(v2.Start()))
	}
}

func TestTranslateMatchesMappings(t *testing.T) {
	as, _ := newSpace(t, 1<<22)
	if _, err := as.MapAnon(0x30000, 0x4000, mmu.PermRead|mmu.PermWrite); err != nil {
		t.Fatal(err)
	}
	maps := as.Mappings()
	if len(maps) != 4 {
		t.Fatalf("got %d mappings, want 4", len(maps))
	}
	for _, m := range maps {
		pa, ok := as.Translate(m.Virt)
		if !ok || pa != m.Phys {
			t.Fatalf("translate(%#x) = %#x, %v; dump says %#x",
				uint64(m.Virt), uint64(pa), ok, uint64(m.Phys))
		}
	}
}

func TestOutOfPhysicalMemory(t *testing.T) {
	as, _ := newSpace(t, 8*mmu.PageSize)
	_, err := as.MapAnon(0x10000, 0x10000, mmu.PermRead|mmu.PermWrite)
	if !errors.Is(err, mem.ErrNoMemory) {
		t.Fatalf("err = %v, want ErrNoMemory", err)
	}
}

func TestOutOfVirtualSpace(t *testing.T) {
	as, _ := newSpace(t, 1<<22)
	_, err := as.Reserve(0, 1<<47)
	if !errors.Is(err, mmu.ErrNoVirtualMemory) {
		t.Fatalf("err = %v, want ErrNoVirtualMemory", err)
	}
}

func TestPageFault(t *testing.T) {
	as, _ := newSpace(t, 1<<22)
	err := as.PageFault(0xdead000)
	if !errors.Is(err, mmu.ErrUnmapped) {
		t.Fatalf("err = %v, want ErrUnmapped", err)
	}
}

func TestRandomOperationsKeepInvariants(t *testing.T) {
	as, _ := newSpace(t, 1<<25)
	rng := rand.New(rand.NewSource(1))
	const region, span = mmu.VirtAddr(0x100000), 0x200000
	for i := 0; i < 200; i++ {
		addr := region + mmu.VirtAddr(rng.Intn(span))&^(mmu.PageSize-1)
		size := uint64(rng.Intn(8)+1) * mmu.PageSize
		switch rng.Intn(3) {
		case 0:
			if _, err := as.MapAnonRaw(addr, addr+mmu.VirtAddr(size), mmu.PermRead|mmu.PermWrite); err != nil {
				t.Fatal(err)
			}
		case 1:
			as.Unmap(addr, size)
		case 2:
			if _, err := as.Reserve(addr, size); err != nil {
				t.Fatal(err)
			}
		}
		checkInvariants(t, as.VMAs())
	}
}

func checkInvariants(t *testing.T, vmas []mmu.VMA) {
	t.Helper()
	for i, v := range vmas {
		if v.Start()%mmu.PageSize != 0 || v.End()%mmu.PageSize != 0 {
			t.Fatalf("area %d [%#x,%#x) not page aligned", i, uint64(v.Start()), uint64(v.End()))
		}
		if v.Start() >= v.End() {
			t.Fatalf("area %d [%#x,%#x) degenerate", i, uint64(v.Start()), uint64(v.End()))
		}
		if i > 0 && vmas[i-1].End() > v.Start() {
			t.Fatalf("areas %d and %d overlap: [%#x,%#x) [%#x,%#x)", i-1, i,
				uint64(vmas[i-1].Start()), uint64(vmas[i-1].End()),
				uint64(v.Start()), uint64(v.End()))
		}
	}
}
