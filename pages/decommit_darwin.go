//go:build darwin

package pages

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

const (
	madvFreeReusable = 0x7
	madvFreeReuse    = 0x8
)

func decommitSystemPages(addr unsafe.Pointer, length int) error {
	err := unix.Madvise(pageSlice(addr, length), madvFreeReusable)
	if err != nil {
		return errors.Wrapf(err, "madvise(MADV_FREE_REUSABLE) of %d bytes at %#x failed", length, uintptr(addr))
	}

	return nil
}

// MADV_FREE_REUSE tells the kernel to count the pages against the process again
func recommitSystemPages(addr unsafe.Pointer, length int) error {
	err := unix.Madvise(pageSlice(addr, length), madvFreeReuse)
	if err != nil {
		return errors.Wrapf(err, "madvise(MADV_FREE_REUSE) of %d bytes at %#x failed", length, uintptr(addr))
	}

	return nil
}
