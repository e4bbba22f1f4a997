//go:build windows

package pages

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/windows"
)

func protection(access Accessibility) uint32 {
	if access == PageInaccessible {
		return windows.PAGE_NOACCESS
	}
	return windows.PAGE_READWRITE
}

func systemAllocPages(hint uintptr, length int, access Accessibility) (unsafe.Pointer, error) {
	ret, err := windows.VirtualAlloc(hint, uintptr(length), windows.MEM_RESERVE|windows.MEM_COMMIT, protection(access))
	if err != nil {
		return nil, errors.Wrapf(err, "VirtualAlloc of %d bytes failed", length)
	}

	return unsafe.Pointer(ret), nil
}

func systemFreePages(addr unsafe.Pointer, length int) error {
	err := windows.VirtualFree(uintptr(addr), 0, windows.MEM_RELEASE)
	if err != nil {
		return errors.Wrapf(err, "VirtualFree of %d bytes at %#x failed", length, uintptr(addr))
	}

	return nil
}

// trimMapping cannot release part of a reservation on Windows, so it releases the whole mapping and
// tries to reserve the aligned range inside it. Another thread may take the range in between, in
// which case it returns nil so the caller can try again.
func trimMapping(base unsafe.Pointer, baseLength, length, align int, access Accessibility) (unsafe.Pointer, error) {
	alignedAddr := (uintptr(base) + uintptr(align) - 1) &^ (uintptr(align) - 1)

	err := systemFreePages(base, baseLength)
	if err != nil {
		return nil, err
	}

	ret, err := windows.VirtualAlloc(alignedAddr, uintptr(length), windows.MEM_RESERVE|windows.MEM_COMMIT, protection(access))
	if err != nil {
		return nil, nil
	}

	return unsafe.Pointer(ret), nil
}

func setSystemPagesInaccessible(addr unsafe.Pointer, length int) error {
	err := windows.VirtualFree(uintptr(addr), uintptr(length), windows.MEM_DECOMMIT)
	if err != nil {
		return errors.Wrapf(err, "VirtualFree(MEM_DECOMMIT) of %d bytes at %#x failed", length, uintptr(addr))
	}

	return nil
}

func setSystemPagesAccessible(addr unsafe.Pointer, length int) error {
	_, err := windows.VirtualAlloc(uintptr(addr), uintptr(length), windows.MEM_COMMIT, windows.PAGE_READWRITE)
	if err != nil {
		return errors.Wrapf(err, "VirtualAlloc(MEM_COMMIT) of %d bytes at %#x failed", length, uintptr(addr))
	}

	return nil
}

func decommitSystemPages(addr unsafe.Pointer, length int) error {
	return setSystemPagesInaccessible(addr, length)
}

func recommitSystemPages(addr unsafe.Pointer, length int) error {
	return setSystemPagesAccessible(addr, length)
}
