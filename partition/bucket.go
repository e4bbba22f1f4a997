package partition

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/partalloc/memutils"
	"github.com/vkngwrapper/partalloc/pages"
)

// Bucket is one size class. Every slot in every slot span on its lists is exactly slotSize bytes.
type Bucket struct {
	// activePagesHead is the slot span allocations are served from. Spans behind it may be active,
	// empty, or decommitted; full spans are unlinked once a scan finds them. nil marks a generic
	// pseudo bucket that never allocates.
	activePagesHead *partitionPage
	// freePagesHead lists decommitted slot spans waiting to be reused
	freePagesHead *partitionPage

	slotSize int
	// numSystemPagesPerSlotSpan is 0 for direct mapped buckets
	numSystemPagesPerSlotSpan int
	numFullPages              uint16
}

func (b *Bucket) init(rt *Runtime, slotSize int) {
	b.activePagesHead = &rt.seedPage
	b.freePagesHead = nil
	b.numFullPages = 0
	b.slotSize = slotSize
	b.numSystemPagesPerSlotSpan = numSystemPagesPerSlotSpan(slotSize)
}

// numSystemPagesPerSlotSpan picks the span size for a slot size. Spans of up to
// maxSystemPagesPerSlotSpan pages are tried, and the one wasting the smallest fraction of its bytes
// wins. Unused tail bytes count as waste, and so does the page table cost of system pages that are
// reserved as part of the last partition page but never faulted in.
func numSystemPagesPerSlotSpan(slotSize int) int {
	if slotSize == 0 {
		return 0
	}

	if slotSize > maxSystemPagesPerSlotSpan*pages.SystemPageSize {
		if slotSize%pages.SystemPageSize != 0 {
			panic(errors.AssertionFailedf("slot size %d is above the slot span limit and is not a multiple of the system page size", slotSize))
		}
		return slotSize / pages.SystemPageSize
	}

	bestWasteRatio := 1.0
	bestPages := 0
	for i := numSystemPagesPerPartitionPage - 1; i <= maxSystemPagesPerSlotSpan; i++ {
		pageSize := pages.SystemPageSize * i
		numSlots := pageSize / slotSize
		waste := pageSize - numSlots*slotSize

		numRemainderPages := i & (numSystemPagesPerPartitionPage - 1)
		numUnfaultedPages := 0
		if numRemainderPages != 0 {
			numUnfaultedPages = numSystemPagesPerPartitionPage - numRemainderPages
		}
		waste += allocationGranularity * numUnfaultedPages

		wasteRatio := float64(waste) / float64(pageSize)
		if wasteRatio < bestWasteRatio {
			bestWasteRatio = wasteRatio
			bestPages = i
		}
	}

	return bestPages
}

func (b *Bucket) isDirectMapped() bool {
	return b.numSystemPagesPerSlotSpan == 0
}

func (b *Bucket) isPseudo() bool {
	return b.activePagesHead == nil
}

// bytes is the size of a slot span of this bucket
func (b *Bucket) bytes() int {
	return b.numSystemPagesPerSlotSpan * pages.SystemPageSize
}

func (b *Bucket) slots() int {
	return b.bytes() / b.slotSize
}

func (b *Bucket) partitionPages() int {
	return (b.numSystemPagesPerSlotSpan + (numSystemPagesPerPartitionPage - 1)) / numSystemPagesPerPartitionPage
}

func (b *Bucket) Validate() error {
	if b.isPseudo() {
		return nil
	}

	if b.slotSize <= 0 || b.slotSize%allocationGranularity != 0 {
		return errors.Newf("bucket slot size %d is not a positive multiple of %d", b.slotSize, allocationGranularity)
	}

	if b.isDirectMapped() {
		return nil
	}

	if b.slots() < 1 {
		return errors.Newf("bucket with slot size %d has a %d byte slot span, which cannot hold a slot", b.slotSize, b.bytes())
	}

	for page := b.freePagesHead; page != nil; page = page.nextPage {
		if page.state != pageStateDecommitted {
			return errors.Newf("slot span in state %s found on the free page list of bucket %d", page.state, b.slotSize)
		}
	}

	for page := b.activePagesHead; page != nil; page = page.nextPage {
		if page.state == pageStateFull {
			return errors.Newf("full slot span found on the active page list of bucket %d", b.slotSize)
		}
		if page.state != pageStateSeed && page.bucket != b {
			return errors.Newf("slot span on the active page list of bucket %d belongs to bucket %d", b.slotSize, page.bucket.slotSize)
		}
		if err := page.Validate(); err != nil {
			return err
		}
	}

	return nil
}

var _ memutils.Validatable = &Bucket{}
