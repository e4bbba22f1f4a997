package partition

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestMaskFreelistPointer(t *testing.T) {
	require.Zero(t, maskFreelistPointer(0))

	for _, addr := range []uintptr{0x1000, 0x7f0012345678, 0xdeadbeef} {
		masked := maskFreelistPointer(addr)
		require.NotEqual(t, addr, masked)
		require.Equal(t, addr, maskFreelistPointer(masked))
	}
}

func TestFreelistCorruptionCrashes(t *testing.T) {
	root := readyRoot(t, 1024, CreateOptions{})

	first := root.Alloc(64)
	second := root.Alloc(64)
	third := root.Alloc(64)

	root.Free(first)
	root.Free(second)

	// Overwrite the link stored in the head of the freelist
	link := (*uintptr)(ptrSlot(second))
	original := *link
	*link = 0x1234

	requireCrash(t, ErrCorruption, func() {
		root.Alloc(64)
	})

	*link = original
	require.Equal(t, second, root.Alloc(64))
	require.Equal(t, first, root.Alloc(64))

	root.Free(first)
	root.Free(second)
	root.Free(third)
	require.NoError(t, root.Validate())
	require.NoError(t, root.Shutdown())
}

func TestFreelistLinksStayInsideSpan(t *testing.T) {
	root := readyRoot(t, 1024, CreateOptions{})

	var ptrs []unsafe.Pointer
	for i := 0; i < 8; i++ {
		ptrs = append(ptrs, root.Alloc(128))
	}
	root.Free(ptrs[3])
	root.Free(ptrs[6])

	page := root.pointerToPage(ptrSlot(ptrs[0]))
	start, end := page.address(), page.spanEnd()
	for entry := page.freelistHead; entry != 0; entry = page.readFreelistNext(entry) {
		require.GreaterOrEqual(t, entry, start)
		require.Less(t, entry, end)
		require.Zero(t, (entry-start)%uintptr(page.bucket.slotSize))
	}
	require.Equal(t, uintptr(ptrSlot(ptrs[6])), page.freelistHead)
	require.NoError(t, page.Validate())

	for i, ptr := range ptrs {
		if i != 3 && i != 6 {
			root.Free(ptr)
		}
	}
	require.NoError(t, root.Shutdown())
}
