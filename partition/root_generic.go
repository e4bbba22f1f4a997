package partition

import (
	"math"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/partalloc/memutils"
)

// GenericRoot is a partition that serves any allocation size. Sizes up to GenericMaxBucketed are
// served from 8 buckets per power of two, which bounds waste to about 12.5%. Larger sizes are direct
// mapped. A GenericRoot is safe for concurrent use unless it was created with
// CreateExternallySynchronized.
type GenericRoot struct {
	rootBase

	orderIndexShifts   [bitsPerSizeT + 1]uint
	orderSubIndexMasks [bitsPerSizeT + 1]uint
	// bucketLookups has 8 entries per order, plus an overflow entry for sizes that round up past the
	// highest order
	bucketLookups [(bitsPerSizeT+1)*genericNumBucketsPerOrder + 1]*Bucket
}

// NewGenericRoot creates a root able to serve any allocation size up to GenericMaxDirectMapped
func NewGenericRoot(rt *Runtime, options CreateOptions) *GenericRoot {
	root := &GenericRoot{}
	root.rootBase.init(rt, options, options.Flags&CreateExternallySynchronized == 0)

	for order := 0; order <= bitsPerSizeT; order++ {
		shift := 0
		if order > genericNumBucketsPerOrderBits+1 {
			shift = order - (genericNumBucketsPerOrderBits + 1)
		}
		root.orderIndexShifts[order] = uint(shift)

		var subOrderIndexMask uint
		if order == bitsPerSizeT {
			// The overflow case, which would otherwise shift by the full word size
			subOrderIndexMask = math.MaxUint >> (genericNumBucketsPerOrderBits + 1)
		} else {
			subOrderIndexMask = ((uint(1) << order) - 1) >> (genericNumBucketsPerOrderBits + 1)
		}
		root.orderSubIndexMasks[order] = subOrderIndexMask
	}

	// Buckets are spaced evenly within each order, so the first orders contain sizes that are not
	// multiples of the smallest bucket. These pseudo buckets are never allocated from; lookups that
	// land on them are forwarded to the next real bucket.
	root.buckets = make([]Bucket, genericNumBuckets)
	currentSize := genericSmallestBucket
	currentIncrement := genericSmallestBucket >> genericNumBucketsPerOrderBits
	bucketIndex := 0
	for i := 0; i < genericNumBucketedOrders; i++ {
		for j := 0; j < genericNumBucketsPerOrder; j++ {
			bucket := &root.buckets[bucketIndex]
			bucket.slotSize = currentSize
			if currentSize%genericSmallestBucket != 0 {
				bucket.activePagesHead = nil
			} else {
				bucket.init(rt, currentSize)
			}

			currentSize += currentIncrement
			bucketIndex++
		}
		currentIncrement <<= 1
	}

	if currentSize != 1<<genericMaxBucketedOrder {
		panic(errors.AssertionFailedf("generic buckets end at %d rather than %d", currentSize, 1<<genericMaxBucketedOrder))
	}

	bucketIndex = 0
	lookupIndex := 0
	for order := 0; order <= bitsPerSizeT; order++ {
		for j := 0; j < genericNumBucketsPerOrder; j++ {
			if order < genericMinBucketedOrder {
				// Sizes below the smallest bucket all use the smallest bucket
				root.bucketLookups[lookupIndex] = &root.buckets[0]
			} else if order > genericMaxBucketedOrder {
				root.bucketLookups[lookupIndex] = &rt.pagedBucket
			} else {
				validIndex := bucketIndex
				for root.buckets[validIndex].slotSize%genericSmallestBucket != 0 {
					validIndex++
				}
				root.bucketLookups[lookupIndex] = &root.buckets[validIndex]
				bucketIndex++
			}
			lookupIndex++
		}
	}

	if bucketIndex != genericNumBuckets || lookupIndex != (bitsPerSizeT+1)*genericNumBucketsPerOrder {
		panic(errors.AssertionFailedf("generic bucket lookup table is inconsistent"))
	}

	// Sizes with every bit set round up past the highest order
	root.bucketLookups[lookupIndex] = &rt.pagedBucket

	return root
}

func (r *GenericRoot) sizeToBucket(size uint) *Bucket {
	order := memutils.Order(size)
	orderIndex := (size >> r.orderIndexShifts[order]) & (genericNumBucketsPerOrder - 1)
	subOrderIndex := size & r.orderSubIndexMasks[order]

	index := (order << genericNumBucketsPerOrderBits) + int(orderIndex)
	if subOrderIndex != 0 {
		index++
	}

	return r.bucketLookups[index]
}

// Alloc returns size bytes of uninitialized memory. It crashes if the memory cannot be provided or
// size is larger than GenericMaxDirectMapped.
func (r *GenericRoot) Alloc(size int) unsafe.Pointer {
	ptr, _ := r.AllocFlags(0, size)
	return ptr
}

// AllocFlags returns size bytes of uninitialized memory. With AllocReturnNull, running out of memory
// or asking for too much returns an error instead of crashing.
func (r *GenericRoot) AllocFlags(flags AllocFlags, size int) (unsafe.Pointer, error) {
	size = cookieSizeAdjustAdd(size)

	r.lock.Lock()
	defer r.lock.Unlock()

	bucket := r.sizeToBucket(uint(size))
	return r.bucketAlloc(flags, size, bucket)
}

// Free returns memory from Alloc or Realloc to the root. Freeing nil does nothing.
func (r *GenericRoot) Free(ptr unsafe.Pointer) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.free(ptr)
}

// GetSize returns the usable size of an allocation, which may be larger than was requested
func (r *GenericRoot) GetSize(ptr unsafe.Pointer) int {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.getSize(ptr)
}

// ActualSize returns the usable size an allocation of size bytes would have
func (r *GenericRoot) ActualSize(size int) int {
	size = cookieSizeAdjustAdd(size)
	bucket := r.sizeToBucket(uint(size))

	// Sizes too large to allocate are reported unchanged
	if !bucket.isDirectMapped() {
		size = bucket.slotSize
	} else if size >= 0 && size <= GenericMaxDirectMapped {
		size = directMapSize(size)
	}

	return cookieSizeAdjustSubtract(size)
}

// Realloc resizes an allocation, moving it if necessary. Realloc of nil allocates, and Realloc to
// size 0 frees and returns nil. The contents are preserved up to the smaller of the two sizes.
func (r *GenericRoot) Realloc(ptr unsafe.Pointer, newSize int) unsafe.Pointer {
	if ptr == nil {
		return r.Alloc(newSize)
	}
	if newSize == 0 {
		r.Free(ptr)
		return nil
	}
	if newSize < 0 || newSize > GenericMaxDirectMapped {
		r.rt.crashf(ErrExcessiveAllocationSize, "cannot reallocate to %d bytes", uint(newSize))
	}

	resized, actualOldSize := r.reallocInPlace(ptr, newSize)
	if resized {
		return ptr
	}

	actualNewSize := r.ActualSize(newSize)
	if actualNewSize == actualOldSize {
		// A new allocation would land in the same bucket
		return ptr
	}

	ret := r.Alloc(newSize)
	copySize := actualOldSize
	if newSize < copySize {
		copySize = newSize
	}
	copy(unsafe.Slice((*byte)(ret), copySize), unsafe.Slice((*byte)(ptr), copySize))

	r.Free(ptr)
	return ret
}

// reallocInPlace resizes a direct mapping without moving it if possible. Otherwise it returns the
// current usable size of the allocation.
func (r *GenericRoot) reallocInPlace(ptr unsafe.Pointer, newSize int) (bool, int) {
	r.lock.Lock()
	defer r.lock.Unlock()

	page := r.pointerToPage(unsafe.Add(ptr, -memutils.CookieSize))
	if page.bucket.isDirectMapped() && r.reallocDirectMappedInPlace(page, newSize) {
		return true, 0
	}

	return false, cookieSizeAdjustSubtract(page.bucket.slotSize)
}

// PurgeMemory returns unused memory to the OS
func (r *GenericRoot) PurgeMemory(flags PurgeFlags) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.purgeMemory(flags)
}

// Shutdown releases all memory held by the root. It returns ErrLeakDetected if any allocation was
// never freed; the memory is released either way.
func (r *GenericRoot) Shutdown() error {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.shutdown()
}

func (r *GenericRoot) Validate() error {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.rootBase.Validate()
}
