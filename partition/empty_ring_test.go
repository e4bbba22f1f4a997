package partition

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/partalloc/memutils"
)

// distinctBucketSizes returns count request sizes that each land in a different bucket
func distinctBucketSizes(root *GenericRoot, count int) []int {
	var sizes []int
	seen := make(map[*Bucket]struct{})
	for size := 64; len(sizes) < count; size += 64 {
		bucket := root.sizeToBucket(uint(cookieSizeAdjustAdd(size)))
		if _, ok := seen[bucket]; ok {
			continue
		}
		seen[bucket] = struct{}{}
		sizes = append(sizes, size)
	}

	return sizes
}

func TestEmptySlotSpanIsCached(t *testing.T) {
	root := readyGenericRoot(t, CreateOptions{})

	ptr := root.Alloc(4096)
	page := root.pointerToPage(ptrSlot(ptr))
	committed := root.totalSizeOfCommittedPages

	root.Free(ptr)
	require.Equal(t, pageStateEmpty, page.state)
	require.Equal(t, 0, page.emptyCacheIndex)
	require.Same(t, page, root.emptyPageRing[0])
	require.Equal(t, 1, root.emptyPageRingIndex)
	require.Equal(t, committed, root.totalSizeOfCommittedPages)

	// Reusing the span takes it out of the empty state but leaves it in the ring
	require.Equal(t, ptr, root.Alloc(4096))
	require.Equal(t, pageStateActive, page.state)
	root.Free(ptr)

	require.NoError(t, root.Validate())
	require.NoError(t, root.Shutdown())
}

func TestPurgeDecommitsEmptySlotSpans(t *testing.T) {
	root := readyGenericRoot(t, CreateOptions{})

	ptr := root.Alloc(4096)
	page := root.pointerToPage(ptrSlot(ptr))
	committed := root.totalSizeOfCommittedPages
	root.Free(ptr)

	root.PurgeMemory(0)
	require.Equal(t, pageStateEmpty, page.state)

	root.PurgeMemory(PurgeDecommitEmptyPages)
	require.Equal(t, pageStateDecommitted, page.state)
	require.Equal(t, -1, page.emptyCacheIndex)
	require.Equal(t, committed-page.bucket.bytes(), root.totalSizeOfCommittedPages)
	for _, entry := range root.emptyPageRing {
		require.Nil(t, entry)
	}
	require.NoError(t, root.Validate())

	// The decommitted span moves to the free list, then is recommitted and reused
	reused := root.Alloc(4096)
	require.Equal(t, ptr, reused)
	require.Equal(t, pageStateActive, page.state)
	require.Nil(t, page.bucket.freePagesHead)
	require.Equal(t, committed, root.totalSizeOfCommittedPages)
	fillBytes(reused, 4096, 0x19)

	root.Free(reused)
	require.NoError(t, root.Validate())
	require.NoError(t, root.Shutdown())
}

func TestEmptyRingEvictsOldestSpan(t *testing.T) {
	root := readyGenericRoot(t, CreateOptions{})

	sizes := distinctBucketSizes(root, maxFreeableSpans+1)
	spans := make([]*partitionPage, 0, len(sizes))
	for _, size := range sizes {
		ptr := root.Alloc(size)
		spans = append(spans, root.pointerToPage(ptrSlot(ptr)))
		root.Free(ptr)
	}

	require.Equal(t, pageStateDecommitted, spans[0].state)
	require.Equal(t, -1, spans[0].emptyCacheIndex)
	for _, span := range spans[1:] {
		require.Equal(t, pageStateEmpty, span.state)
	}
	require.Same(t, spans[maxFreeableSpans], root.emptyPageRing[0])
	require.Equal(t, 1, root.emptyPageRingIndex)

	require.NoError(t, root.Validate())
	require.NoError(t, root.Shutdown())
}

func TestEmptyRingSkipsReusedSpans(t *testing.T) {
	root := readyGenericRoot(t, CreateOptions{})

	sizes := distinctBucketSizes(root, maxFreeableSpans+1)

	first := root.Alloc(sizes[0])
	firstSpan := root.pointerToPage(ptrSlot(first))
	root.Free(first)

	// Reuse the first span before the ring wraps around to it
	first = root.Alloc(sizes[0])

	for _, size := range sizes[1:] {
		root.Free(root.Alloc(size))
	}

	require.Equal(t, pageStateActive, firstSpan.state)
	require.Equal(t, -1, firstSpan.emptyCacheIndex)
	require.Equal(t, 1, firstSpan.numAllocatedSlots)

	root.Free(first)
	require.Equal(t, pageStateEmpty, firstSpan.state)
	require.NoError(t, root.Validate())
	require.NoError(t, root.Shutdown())
}

func TestEmptyActiveSpanBounces(t *testing.T) {
	root := readyRoot(t, 1024, CreateOptions{})

	size := 512 - 2*memutils.CookieSize
	bucket := &root.buckets[cookieSizeAdjustAdd(size)>>bucketShift]
	numSlots := bucket.slots()

	firstPtrs := make([]unsafe.Pointer, 0, numSlots)
	for i := 0; i < numSlots; i++ {
		firstPtrs = append(firstPtrs, root.Alloc(size))
	}
	firstSpan := bucket.activePagesHead

	extra := root.Alloc(size)
	secondSpan := bucket.activePagesHead
	require.NotSame(t, firstSpan, secondSpan)

	// Emptying the first span while it is active moves it behind the second
	for _, ptr := range firstPtrs {
		root.Free(ptr)
	}
	require.Equal(t, pageStateEmpty, firstSpan.state)
	require.Same(t, secondSpan, bucket.activePagesHead)
	require.Same(t, firstSpan, secondSpan.nextPage)
	require.Nil(t, firstSpan.nextPage)
	require.NoError(t, root.Validate())

	root.Free(extra)
	require.NoError(t, root.Validate())
	require.NoError(t, root.Shutdown())
}
