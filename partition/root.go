package partition

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/partalloc/memutils"
	"github.com/vkngwrapper/partalloc/pages"
)

// Root is a partition with a fixed number of buckets, one for each multiple of the pointer size up
// to its maximum allocation. A Root is not safe for concurrent use unless it was created with
// CreateSynchronized.
type Root struct {
	rootBase

	maxAllocation int
}

// NewRoot creates a fixed-bucket root. Bucket i serves allocations of i pointer-sized words, so
// numBuckets bounds the largest slot. maxAllocation is the largest size callers may request.
func NewRoot(rt *Runtime, numBuckets int, maxAllocation int, options CreateOptions) (*Root, error) {
	if rt == nil {
		return nil, errors.New("a Runtime is required")
	}
	if numBuckets < 1 {
		return nil, errors.Newf("a root requires at least one bucket, but %d were requested", numBuckets)
	}

	largestSlot := (numBuckets - 1) << bucketShift
	if largestSlot > maxSystemPagesPerSlotSpan*pages.SystemPageSize {
		return nil, errors.Newf("%d buckets would produce %d byte slots, but the largest fixed bucket is %d bytes", numBuckets, largestSlot, maxSystemPagesPerSlotSpan*pages.SystemPageSize)
	}
	if maxAllocation < 0 || cookieSizeAdjustAdd(maxAllocation) > largestSlot {
		return nil, errors.Newf("maximum allocation %d does not fit in %d buckets", maxAllocation, numBuckets)
	}

	root := &Root{maxAllocation: maxAllocation}
	root.rootBase.init(rt, options, options.Flags&CreateSynchronized != 0)

	root.buckets = make([]Bucket, numBuckets)
	for i := range root.buckets {
		bucket := &root.buckets[i]
		if i == 0 {
			bucket.init(rt, allocationGranularity)
		} else {
			bucket.init(rt, i<<bucketShift)
		}
	}

	return root, nil
}

// NewSizeSpecificRoot creates a fixed-bucket root able to serve allocations smaller than maxSize
func NewSizeSpecificRoot(rt *Runtime, maxSize int, options CreateOptions) (*Root, error) {
	if maxSize < allocationGranularity || maxSize%allocationGranularity != 0 {
		return nil, errors.Newf("maximum size %d must be a positive multiple of %d", maxSize, allocationGranularity)
	}

	return NewRoot(rt, maxSize/allocationGranularity, maxSize-allocationGranularity-2*memutils.CookieSize, options)
}

func (r *Root) MaxAllocation() int {
	return r.maxAllocation
}

// Alloc returns size bytes of uninitialized memory. It crashes if the memory cannot be provided.
func (r *Root) Alloc(size int) unsafe.Pointer {
	ptr, _ := r.AllocFlags(0, size)
	return ptr
}

// AllocFlags returns size bytes of uninitialized memory. Unless flags include AllocReturnNull,
// failing to obtain memory crashes. Requesting more than MaxAllocation always crashes.
func (r *Root) AllocFlags(flags AllocFlags, size int) (unsafe.Pointer, error) {
	if size < 0 || size > r.maxAllocation {
		r.rt.crashf(ErrExcessiveAllocationSize, "requested %d bytes from a root with a maximum of %d", size, r.maxAllocation)
	}

	size = cookieSizeAdjustAdd(size)
	size = memutils.AlignUp(size, uint(allocationGranularity))
	index := size >> bucketShift

	r.lock.Lock()
	defer r.lock.Unlock()

	if index >= len(r.buckets) {
		r.rt.crashf(ErrExcessiveAllocationSize, "requested %d bytes from a root with %d buckets", size, len(r.buckets))
	}

	return r.bucketAlloc(flags, size, &r.buckets[index])
}

// Free returns memory from Alloc to the root. Freeing nil does nothing; freeing anything else that
// did not come from this root crashes.
func (r *Root) Free(ptr unsafe.Pointer) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.free(ptr)
}

// GetSize returns the usable size of an allocation, which may be larger than was requested
func (r *Root) GetSize(ptr unsafe.Pointer) int {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.getSize(ptr)
}

// PurgeMemory returns unused memory to the OS
func (r *Root) PurgeMemory(flags PurgeFlags) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.purgeMemory(flags)
}

// Shutdown releases all memory held by the root. It returns ErrLeakDetected if any allocation was
// never freed; the memory is released either way.
func (r *Root) Shutdown() error {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.shutdown()
}

func (r *Root) Validate() error {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.rootBase.Validate()
}

// SupportsGetSize reports whether GetSize returns meaningful results
func SupportsGetSize() bool {
	return true
}
