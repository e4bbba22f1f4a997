//go:build debug_mem_utils

package memutils

import "unsafe"

const (
	// CookieSize is the number of bytes of guard data placed before and after every slot handed out by
	// the partition allocator. 16 bytes keeps slots aligned for SSE-sized loads.
	CookieSize int = 16
	// DeepDoubleFreeCheck enables the one-level-deeper double free check on the freelist.
	DeepDoubleFreeCheck bool = true
)

var cookieValue = [CookieSize]byte{
	0xDE, 0xAD, 0xBE, 0xEF, 0xCA, 0xFE, 0xD0, 0x0D,
	0x13, 0x37, 0xF0, 0x05, 0xBA, 0x11, 0xAB, 0x1E,
}

// WriteCookie writes the cookie pattern across CookieSize bytes at the provided pointer.
func WriteCookie(data unsafe.Pointer) {
	copy(unsafe.Slice((*byte)(data), CookieSize), cookieValue[:])
}

// CookieValid verifies that the pattern written by WriteCookie is still present.
// It returns true if the value is still present and false otherwise.
func CookieValid(data unsafe.Pointer) bool {
	cookie := unsafe.Slice((*byte)(data), CookieSize)
	for i := 0; i < CookieSize; i++ {
		if cookie[i] != cookieValue[i] {
			return false
		}
	}

	return true
}

// FillPattern overwrites size bytes at data with the provided byte.
func FillPattern(data unsafe.Pointer, size int, pattern byte) {
	if size <= 0 {
		return
	}

	dest := unsafe.Slice((*byte)(data), size)
	for i := range dest {
		dest[i] = pattern
	}
}

// DebugValidate will call Validate on the provided object and panics if any errors are returned. This
// method no-ops unless the debug_mem_utils build tag is present
func DebugValidate(validatable Validatable) {
	err := validatable.Validate()
	if err != nil {
		panic(err)
	}
}
