package partition

import (
	"unsafe"

	"github.com/cockroachdb/errors"
)

type pageState int

const (
	// pageStateSeed is only ever held by Runtime.seedPage
	pageStateSeed pageState = iota
	// pageStateActive spans have free or unprovisioned slots, or are entirely allocated but have not
	// yet been found by a scan of the active list
	pageStateActive
	// pageStateFull spans have been found full by a scan and unlinked from every list
	pageStateFull
	// pageStateEmpty spans have no allocated slots but are still committed
	pageStateEmpty
	// pageStateDecommitted spans have no allocated slots and no physical backing
	pageStateDecommitted
)

var pageStateMapping = map[pageState]string{
	pageStateSeed:        "pageStateSeed",
	pageStateActive:      "pageStateActive",
	pageStateFull:        "pageStateFull",
	pageStateEmpty:       "pageStateEmpty",
	pageStateDecommitted: "pageStateDecommitted",
}

func (s pageState) String() string {
	return pageStateMapping[s]
}

// partitionPage is the metadata for one partition page. The first partition page of a slot span
// holds the metadata for the whole span; the others only record their distance to it.
type partitionPage struct {
	superPage *superPage
	index     int

	// freelistHead is the address of the first free slot, or 0
	freelistHead uintptr
	nextPage     *partitionPage
	bucket       *Bucket
	state        pageState

	numAllocatedSlots     int
	numUnprovisionedSlots int
	// pageOffset is the number of partition pages between this page and the head of its slot span
	pageOffset int
	// emptyCacheIndex is this span's slot in the empty page ring, or -1
	emptyCacheIndex int
	// rawSize is the exact cookie-adjusted request size of a direct mapping, or 0
	rawSize int
}

func (p *partitionPage) address() uintptr {
	return p.superPage.address() + uintptr(p.index)<<partitionPageShift
}

func (p *partitionPage) pointer() unsafe.Pointer {
	return unsafe.Add(p.superPage.base, p.index<<partitionPageShift)
}

// slotPointer converts an address inside this page's super page back into a pointer
func (p *partitionPage) slotPointer(addr uintptr) unsafe.Pointer {
	return p.superPage.pointerAt(addr)
}

func (p *partitionPage) root() *rootBase {
	return p.superPage.root
}

func (p *partitionPage) isEmpty() bool {
	return p.numAllocatedSlots == 0 && p.freelistHead != 0
}

func (p *partitionPage) isDecommitted() bool {
	return p.numAllocatedSlots == 0 && p.freelistHead == 0 && p.numUnprovisionedSlots == 0
}

// setup prepares a freshly carved span of partition pages to serve bucket
func (p *partitionPage) setup(bucket *Bucket) {
	p.bucket = bucket
	p.emptyCacheIndex = -1
	p.rawSize = 0
	p.reset()

	// Single slot spans leave their trailing pages without metadata, so pointers into them are
	// rejected rather than resolved to the head
	if p.numUnprovisionedSlots == 1 {
		return
	}

	numPartitionPages := bucket.partitionPages()
	for i := 1; i < numPartitionPages; i++ {
		secondary := &p.superPage.pages[p.index+i]
		secondary.pageOffset = i
	}
}

// reset returns a decommitted or brand new span to an entirely unprovisioned active span
func (p *partitionPage) reset() {
	p.numAllocatedSlots = 0
	p.numUnprovisionedSlots = p.bucket.slots()
	p.freelistHead = 0
	p.nextPage = nil
	p.state = pageStateActive

	if p.numUnprovisionedSlots == 0 {
		panic(errors.AssertionFailedf("slot span for bucket %d has no slots", p.bucket.slotSize))
	}
}

// allocAndFillFreelist returns the first unprovisioned slot and threads a freelist through as many
// of the following slots as fit in the system page the returned slot ends in. Slots beyond that
// stay unprovisioned so their pages are not faulted in.
func (p *partitionPage) allocAndFillFreelist() uintptr {
	numSlots := p.numUnprovisionedSlots
	if numSlots == 0 || p.freelistHead != 0 {
		p.root().rt.crashf(ErrCorruption, "slot span for bucket %d has no unprovisioned slots or a nonempty freelist while provisioning", p.bucket.slotSize)
	}

	size := uintptr(p.bucket.slotSize)
	base := p.address()
	returnObject := base + size*uintptr(p.numAllocatedSlots)
	firstFreelistPointer := returnObject + size
	firstFreelistPointerExtent := firstFreelistPointer + uintptr(allocationGranularity)

	// Our goal is to fault as few system pages as possible
	subPageLimit := roundUpToSystemPage(firstFreelistPointer)
	slotsLimit := returnObject + size*uintptr(numSlots)
	freelistLimit := subPageLimit
	if slotsLimit < freelistLimit {
		freelistLimit = slotsLimit
	}

	numNewFreelistEntries := 0
	if firstFreelistPointerExtent <= freelistLimit {
		// One freelist pointer always fits; every further one needs a whole slot
		numNewFreelistEntries = 1 + int((freelistLimit-firstFreelistPointerExtent)/size)
	}

	numSlots -= numNewFreelistEntries + 1
	p.numUnprovisionedSlots = numSlots
	p.numAllocatedSlots++

	if numNewFreelistEntries > 0 {
		entry := firstFreelistPointer
		p.freelistHead = entry
		for i := 1; i < numNewFreelistEntries; i++ {
			next := entry + size
			p.writeFreelistNext(entry, next)
			entry = next
		}
		p.writeFreelistNext(entry, 0)
	} else {
		p.freelistHead = 0
	}

	return returnObject
}

// popFreelist removes and returns the head of the freelist
func (p *partitionPage) popFreelist() uintptr {
	ret := p.freelistHead
	p.freelistHead = p.readFreelistNext(ret)
	p.numAllocatedSlots++
	p.state = pageStateActive
	return ret
}

// pushFreelist adds addr to the head of the freelist. It crashes on the double frees that are cheap
// to detect.
func (p *partitionPage) pushFreelist(addr uintptr) {
	head := p.freelistHead
	if addr == head {
		p.root().rt.crashf(ErrDoubleFree, "slot %#x is already at the head of the freelist", addr)
	}
	if deepDoubleFreeCheck && head != 0 && addr == p.readFreelistNext(head) {
		p.root().rt.crashf(ErrDoubleFree, "slot %#x is already second on the freelist", addr)
	}

	p.writeFreelistNext(addr, head)
	p.freelistHead = addr
}

func (p *partitionPage) spanEnd() uintptr {
	if p.bucket.isDirectMapped() {
		return p.address() + uintptr(p.bucket.slotSize)
	}
	return p.address() + uintptr(p.bucket.bytes())
}

func (p *partitionPage) Validate() error {
	if p.state == pageStateSeed {
		if p.freelistHead != 0 || p.numAllocatedSlots != 0 || p.numUnprovisionedSlots != 0 || p.nextPage != nil {
			return errors.New("the seed page has been modified")
		}
		return nil
	}

	if p.bucket == nil {
		return errors.New("slot span has no bucket")
	}
	if p.pageOffset != 0 {
		return errors.Newf("slot span metadata at partition page %d is not the head of its span", p.index)
	}
	if p.numAllocatedSlots < 0 || p.numUnprovisionedSlots < 0 {
		return errors.Newf("slot span has negative slot counts (%d allocated, %d unprovisioned)", p.numAllocatedSlots, p.numUnprovisionedSlots)
	}

	if !p.bucket.isDirectMapped() {
		totalSlots := p.bucket.slots()
		if p.numAllocatedSlots+p.numUnprovisionedSlots > totalSlots {
			return errors.Newf("slot span has %d allocated and %d unprovisioned slots but only %d slots", p.numAllocatedSlots, p.numUnprovisionedSlots, totalSlots)
		}

		freeCount := 0
		for entry := p.freelistHead; entry != 0; entry = p.readFreelistNext(entry) {
			freeCount++
			if freeCount > totalSlots {
				return errors.New("slot span freelist has a cycle")
			}
		}

		if p.numAllocatedSlots+p.numUnprovisionedSlots+freeCount != totalSlots && p.state != pageStateDecommitted {
			return errors.Newf("slot span has %d allocated, %d unprovisioned and %d free slots but %d total slots", p.numAllocatedSlots, p.numUnprovisionedSlots, freeCount, totalSlots)
		}
	}

	switch p.state {
	case pageStateEmpty:
		if !p.isEmpty() {
			return errors.New("slot span is marked empty but has allocations or no freelist")
		}
	case pageStateDecommitted:
		if !p.isDecommitted() {
			return errors.New("slot span is marked decommitted but still has slots")
		}
	case pageStateFull:
		if p.numAllocatedSlots != p.bucket.slots() {
			return errors.Newf("slot span is marked full but has %d of %d slots allocated", p.numAllocatedSlots, p.bucket.slots())
		}
	}

	if p.emptyCacheIndex < -1 || p.emptyCacheIndex >= maxFreeableSpans {
		return errors.Newf("slot span has an invalid empty cache index %d", p.emptyCacheIndex)
	}

	return nil
}
