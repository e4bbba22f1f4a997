//go:build !debug_mem_utils

package memutils

import "unsafe"

const (
	// CookieSize is the number of bytes of guard data placed before and after every slot handed out by
	// the partition allocator. It is 0 unless the debug_mem_utils build tag is present.
	CookieSize int = 0
	// DeepDoubleFreeCheck enables the one-level-deeper double free check on the freelist. It is only
	// active when the debug_mem_utils build tag is present.
	DeepDoubleFreeCheck bool = false
)

// WriteCookie writes the cookie pattern across CookieSize bytes at the provided pointer.
// This method no-ops unless the debug_mem_utils build tag is present.
func WriteCookie(data unsafe.Pointer) {
}

// CookieValid verifies that the pattern written by WriteCookie is still present.
// This method always returns true unless the debug_mem_utils build tag is present.
func CookieValid(data unsafe.Pointer) bool {
	return true
}

// FillPattern overwrites size bytes at data with the provided byte.
// This method no-ops unless the debug_mem_utils build tag is present.
func FillPattern(data unsafe.Pointer, size int, pattern byte) {
}

// DebugValidate will call Validate on the provided object and panics if any errors are returned. This
// method no-ops unless the debug_mem_utils build tag is present
func DebugValidate(validatable Validatable) {
}
