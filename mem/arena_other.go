// SPDX-License-Identifier: Unlicense OR MIT

//go:build !linux

package mem

func mapArena(size int) ([]byte, error) {
	return make([]byte, size), nil
}
