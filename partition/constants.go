package partition

import (
	"math"
	"math/bits"
	"unsafe"

	"github.com/vkngwrapper/partalloc/pages"
)

const (
	// allocationGranularity is the alignment of every slot: one machine pointer
	allocationGranularity     = int(unsafe.Sizeof(uintptr(0)))
	allocationGranularityMask = allocationGranularity - 1
	bucketShift               = bits.UintSize/32 + 1

	// A partition page is the unit slot spans are built from. Four system pages per partition page
	// lets the allocator fault in part of a span while still reserving address space for all of it.
	partitionPageShift      = 14
	PartitionPageSize       = 1 << partitionPageShift
	partitionPageOffsetMask = uintptr(PartitionPageSize - 1)
	partitionPageBaseMask   = ^partitionPageOffsetMask

	maxPartitionPagesPerSlotSpan   = 4
	numSystemPagesPerPartitionPage = PartitionPageSize / pages.SystemPageSize
	maxSystemPagesPerSlotSpan      = numSystemPagesPerPartitionPage * maxPartitionPagesPerSlotSpan

	// A super page is the unit address space is reserved from the OS in. The first and last partition
	// pages of each super page are guard pages.
	superPageShift                = 21
	SuperPageSize                 = 1 << superPageShift
	superPageOffsetMask           = uintptr(SuperPageSize - 1)
	superPageBaseMask             = ^superPageOffsetMask
	numPartitionPagesPerSuperPage = SuperPageSize / PartitionPageSize

	genericMinBucketedOrder       = 4
	genericMaxBucketedOrder       = 20
	genericNumBucketedOrders      = genericMaxBucketedOrder - genericMinBucketedOrder + 1
	genericNumBucketsPerOrderBits = 3
	genericNumBucketsPerOrder     = 1 << genericNumBucketsPerOrderBits
	genericNumBuckets             = genericNumBucketedOrders * genericNumBucketsPerOrder
	genericSmallestBucket         = 1 << (genericMinBucketedOrder - 1)
	genericMaxBucketSpacing       = 1 << ((genericMaxBucketedOrder - 1) - genericNumBucketsPerOrderBits)

	// GenericMaxBucketed is the largest size a GenericRoot serves from a bucket. Anything larger is
	// direct mapped.
	GenericMaxBucketed = (1 << (genericMaxBucketedOrder - 1)) + ((genericNumBucketsPerOrder - 1) * genericMaxBucketSpacing)
	// genericMinDirectMappedDownsize is the smallest size a direct mapping may be shrunk to in place
	genericMinDirectMappedDownsize = GenericMaxBucketed + 1
	// GenericMaxDirectMapped is the largest allocation a GenericRoot will attempt
	GenericMaxDirectMapped = math.MaxInt32 - pages.SystemPageSize

	bitsPerSizeT = bits.UintSize

	// maxFreeableSpans is the number of recently emptied slot spans kept committed before they are
	// decommitted
	maxFreeableSpans = 16

	// reasonableSizeOfUnusedPages separates "out of memory" from "out of address space" in crash reports
	reasonableSizeOfUnusedPages = 1024 * 1024 * 1024

	// MaxPartitionSize caps the super page reservations of a single root
	MaxPartitionSize = 2046 * 1024 * 1024
)

func roundUpToSystemPage(size uintptr) uintptr {
	return (size + pages.SystemPageOffsetMask) & pages.SystemPageBaseMask
}
