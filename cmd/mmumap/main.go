// SPDX-License-Identifier: Unlicense OR MIT

// Command mmumap runs a mapping scenario against a fresh address
// space and prints the resulting layout: the tracked virtual areas
// and the translations realized in the page table.
//
// A scenario is a YAML file:
//
//	memory: "0x1000000"
//	steps:
//	  - op: map
//	    addr: "0x200000000000"
//	    size: "0x4000"
//	    perm: rw
//	  - op: map-file
//	    addr: "0x200000100000"
//	    size: "0x2000"
//	    perm: r
//	    path: testdata/payload.bin
//	  - op: unmap
//	    addr: "0x200000001000"
//	    size: "0x1000"
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"sigs.k8s.io/yaml"

	"github.com/oskern/vm/mem"
	"github.com/oskern/vm/mmu"
)

type scenario struct {
	// Memory is the size of the physical pool in bytes.
	Memory string `json:"memory"`
	Steps  []step `json:"steps"`
}

type step struct {
	Op     string `json:"op"`
	Addr   string `json:"addr"`
	Size   string `json:"size"`
	Perm   string `json:"perm"`
	Path   string `json:"path"`
	Offset string `json:"offset"`
}

func main() {
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: mmumap scenario.yaml")
		os.Exit(2)
	}
	if err := run(flag.Arg(0)); err != nil {
		log.Fatal(err)
	}
}

func run(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var sc scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	memSize := 1 << 24
	if sc.Memory != "" {
		n, err := parseNum(sc.Memory)
		if err != nil {
			return fmt.Errorf("%s: memory: %w", path, err)
		}
		memSize = int(n)
	}
	pool, err := mem.NewPool(memSize)
	if err != nil {
		return err
	}
	as, err := mmu.New(pool)
	if err != nil {
		return err
	}
	for i, st := range sc.Steps {
		if err := runStep(as, st); err != nil {
			return fmt.Errorf("%s: step %d (%s): %w", path, i+1, st.Op, err)
		}
	}
	for _, v := range as.VMAs() {
		fmt.Printf("vma %#012x-%#012x %s\n", uint64(v.Start()), uint64(v.End()), v.Perm())
	}
	for _, m := range as.Mappings() {
		fmt.Printf("pte %#012x -> %#08x size %#x\n", uint64(m.Virt), uint64(m.Phys), m.Size)
	}
	return nil
}

func runStep(as *mmu.AddressSpace, st step) error {
	addr, err := parseNum(st.Addr)
	if err != nil {
		return fmt.Errorf("addr: %w", err)
	}
	size, err := parseNum(st.Size)
	if err != nil {
		return fmt.Errorf("size: %w", err)
	}
	perm, err := parsePerm(st.Perm)
	if err != nil {
		return err
	}
	switch st.Op {
	case "reserve":
		_, err = as.Reserve(mmu.VirtAddr(addr), size)
	case "map":
		_, err = as.MapAnon(mmu.VirtAddr(addr), size, perm)
	case "map-raw":
		_, err = as.MapAnonRaw(mmu.VirtAddr(addr), mmu.VirtAddr(addr+size), perm)
	case "map-file":
		offset, oerr := parseNum(st.Offset)
		if oerr != nil {
			return fmt.Errorf("offset: %w", oerr)
		}
		f, ferr := openFile(st.Path)
		if ferr != nil {
			return ferr
		}
		defer f.Close()
		_, err = as.MapFile(mmu.VirtAddr(addr), size, perm, f, offset)
	case "unmap":
		as.Unmap(mmu.VirtAddr(addr), size)
	default:
		return fmt.Errorf("unknown op %q", st.Op)
	}
	return err
}

// sizedFile adds the file size to an os.File to satisfy mmu.File.
type sizedFile struct {
	*os.File
	size int64
}

func (f sizedFile) Size() int64 {
	return f.size
}

func openFile(path string) (sizedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return sizedFile{}, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return sizedFile{}, err
	}
	return sizedFile{File: f, size: st.Size()}, nil
}

func parseNum(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseUint(s, 0, 64)
}

func parsePerm(s string) (mmu.Perm, error) {
	var p mmu.Perm
	for _, c := range s {
		switch c {
		case 'r':
			p |= mmu.PermRead
		case 'w':
			p |= mmu.PermWrite
		case 'x':
			p |= mmu.PermExec
		default:
			return 0, fmt.Errorf("bad permission %q", s)
		}
	}
	return p, nil
}
