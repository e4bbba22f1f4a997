//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package pages

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

func protection(access Accessibility) int {
	if access == PageInaccessible {
		return unix.PROT_NONE
	}
	return unix.PROT_READ | unix.PROT_WRITE
}

func systemAllocPages(hint uintptr, length int, access Accessibility) (unsafe.Pointer, error) {
	ret, err := unix.MmapPtr(-1, 0, unsafe.Pointer(hint), uintptr(length), protection(access), unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, errors.Wrapf(err, "mmap of %d bytes failed", length)
	}

	return ret, nil
}

func systemFreePages(addr unsafe.Pointer, length int) error {
	err := unix.MunmapPtr(addr, uintptr(length))
	if err != nil {
		return errors.Wrapf(err, "munmap of %d bytes at %#x failed", length, uintptr(addr))
	}

	return nil
}

// trimMapping unmaps the parts of an over-sized mapping that fall outside the first align-aligned
// range of length bytes. It cannot fail to find an aligned range, so it never returns nil without
// an error.
func trimMapping(base unsafe.Pointer, baseLength, length, align int, access Accessibility) (unsafe.Pointer, error) {
	alignedAddr := (uintptr(base) + uintptr(align) - 1) &^ (uintptr(align) - 1)
	preSlack := int(alignedAddr - uintptr(base))
	postSlack := baseLength - preSlack - length

	if preSlack > 0 {
		err := systemFreePages(base, preSlack)
		if err != nil {
			return nil, err
		}
	}

	ret := unsafe.Add(base, preSlack)
	if postSlack > 0 {
		err := systemFreePages(unsafe.Add(ret, length), postSlack)
		if err != nil {
			return nil, err
		}
	}

	return ret, nil
}

func pageSlice(addr unsafe.Pointer, length int) []byte {
	return unsafe.Slice((*byte)(addr), length)
}

func setSystemPagesInaccessible(addr unsafe.Pointer, length int) error {
	err := unix.Mprotect(pageSlice(addr, length), unix.PROT_NONE)
	if err != nil {
		return errors.Wrapf(err, "mprotect(PROT_NONE) of %d bytes at %#x failed", length, uintptr(addr))
	}

	return nil
}

func setSystemPagesAccessible(addr unsafe.Pointer, length int) error {
	err := unix.Mprotect(pageSlice(addr, length), unix.PROT_READ|unix.PROT_WRITE)
	if err != nil {
		return errors.Wrapf(err, "mprotect(PROT_READ|PROT_WRITE) of %d bytes at %#x failed", length, uintptr(addr))
	}

	return nil
}
