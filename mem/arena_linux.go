// SPDX-License-Identifier: Unlicense OR MIT

//go:build linux

package mem

import "golang.org/x/sys/unix"

// mapArena allocates the arena with an anonymous private mapping, so
// large pools don't go through the Go heap.
func mapArena(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
}
