//go:build freebsd || netbsd || openbsd || dragonfly

package pages

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

func decommitSystemPages(addr unsafe.Pointer, length int) error {
	err := unix.Madvise(pageSlice(addr, length), unix.MADV_DONTNEED)
	if err != nil {
		return errors.Wrapf(err, "madvise(MADV_DONTNEED) of %d bytes at %#x failed", length, uintptr(addr))
	}

	return nil
}

func recommitSystemPages(addr unsafe.Pointer, length int) error {
	return nil
}
