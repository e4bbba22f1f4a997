package partition

import (
	"context"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/partalloc/internal/utils"
	"github.com/vkngwrapper/partalloc/memutils"
	"golang.org/x/exp/slog"
)

// rootBase is the state shared by fixed-bucket and generic roots: address space and commit
// accounting, the super page registry, direct mappings, and the empty page ring.
type rootBase struct {
	rt      *Runtime
	logger  *slog.Logger
	name    string
	oomHook func()
	lock    utils.OptionalSpinLock

	initialized  bool
	invertedSelf uintptr

	// buckets is owned by the concrete root and sized when it is created
	buckets []Bucket

	totalSizeOfCommittedPages    int
	totalSizeOfSuperPages        int
	totalSizeOfDirectMappedPages int

	nextSuperPage        uintptr
	nextPartitionPage    uintptr
	nextPartitionPageEnd uintptr
	currentSuperPage     *superPage

	firstExtent   *superPageExtent
	currentExtent *superPageExtent
	directMaps    directMapList

	// superPages maps each super page aligned base address to its metadata. Direct mappings are
	// registered here too.
	superPages *swiss.Map[uintptr, *superPage]

	emptyPageRing      [maxFreeableSpans]*partitionPage
	emptyPageRingIndex int
}

func (r *rootBase) init(rt *Runtime, options CreateOptions, useLock bool) {
	r.rt = rt
	r.logger = rt.logger
	r.name = options.name()
	r.oomHook = options.OOMHook
	r.lock = utils.OptionalSpinLock{UseLock: useLock}
	r.superPages = swiss.NewMap[uintptr, *superPage](16)
	r.invertedSelf = ^uintptr(unsafe.Pointer(r))
	r.initialized = true
}

// Name returns the name the root was created with
func (r *rootBase) Name() string {
	return r.name
}

func cookieSizeAdjustAdd(size int) int {
	if size < 0 {
		return size
	}
	return size + 2*memutils.CookieSize
}

func cookieSizeAdjustSubtract(size int) int {
	return size - 2*memutils.CookieSize
}

func (r *rootBase) increaseCommittedPages(length int) {
	r.totalSizeOfCommittedPages += length
}

func (r *rootBase) decreaseCommittedPages(length int) {
	r.totalSizeOfCommittedPages -= length
}

func (r *rootBase) decommitSystemPages(addr unsafe.Pointer, length int) {
	err := r.rt.provider.DecommitSystemPages(addr, length)
	if err != nil {
		r.rt.crash(errors.Wrapf(err, "could not decommit %d bytes at %#x", length, uintptr(addr)))
	}
	r.decreaseCommittedPages(length)
}

func (r *rootBase) recommitSystemPages(addr unsafe.Pointer, length int) {
	err := r.rt.provider.RecommitSystemPages(addr, length)
	if err != nil {
		r.outOfMemory(errors.Mark(errors.Wrapf(err, "could not recommit %d bytes at %#x", length, uintptr(addr)), ErrOutOfMemory))
	}
	r.increaseCommittedPages(length)
}

func (r *rootBase) setSystemPagesInaccessible(addr unsafe.Pointer, length int) {
	err := r.rt.provider.SetSystemPagesInaccessible(addr, length)
	if err != nil {
		r.rt.crash(errors.Wrapf(err, "could not protect %d bytes at %#x", length, uintptr(addr)))
	}
}

// outOfMemory crashes after giving the OOM hook a chance to run
func (r *rootBase) outOfMemory(err error) {
	if errors.Is(err, ErrPartitionFull) {
		r.rt.crash(err)
	}

	if r.oomHook != nil {
		r.oomHook()
	}

	uncommitted := r.totalSizeOfSuperPages + r.totalSizeOfDirectMappedPages - r.totalSizeOfCommittedPages
	if uncommitted > reasonableSizeOfUnusedPages {
		r.rt.crash(errors.Wrapf(err, "out of memory with %d bytes of uncommitted pages", uncommitted))
	}

	r.rt.crash(err)
}

// bucketAlloc returns a slot from bucket. size includes cookies.
func (r *rootBase) bucketAlloc(flags AllocFlags, size int, bucket *Bucket) (unsafe.Pointer, error) {
	page := bucket.activePagesHead

	var slot uintptr
	if page.freelistHead != 0 {
		slot = page.popFreelist()
	} else {
		var err error
		page, slot, err = r.allocSlowPath(flags, size, bucket)
		if err != nil {
			return nil, err
		}
	}

	ptr := page.slotPointer(slot)

	if memutils.CookieSize > 0 {
		// Cookies bracket the whole slot, so every byte GetSize reports is usable
		noCookieSize := cookieSizeAdjustSubtract(page.bucket.slotSize)

		memutils.WriteCookie(ptr)
		memutils.FillPattern(unsafe.Add(ptr, memutils.CookieSize), noCookieSize, memutils.UninitializedByte)
		memutils.WriteCookie(unsafe.Add(ptr, memutils.CookieSize+noCookieSize))
	}

	return unsafe.Add(ptr, memutils.CookieSize), nil
}

// allocSlowPath runs when the active page of bucket has an empty freelist. It finds or creates a
// slot span with capacity and makes it the active page.
func (r *rootBase) allocSlowPath(flags AllocFlags, size int, bucket *Bucket) (*partitionPage, uintptr, error) {
	returnNull := flags&AllocReturnNull != 0

	var newPage *partitionPage
	var err error

	if bucket.isDirectMapped() {
		if size < 0 || size > GenericMaxDirectMapped {
			err = errors.Wrapf(ErrExcessiveAllocationSize, "requested %d bytes, but the largest allocation is %d bytes", uint(size), GenericMaxDirectMapped)
			if returnNull {
				return nil, 0, err
			}
			r.rt.crash(err)
		}
		newPage, err = r.directMap(size)
	} else if r.setNewActivePage(bucket.activePagesHead) {
		newPage = bucket.activePagesHead
	} else if bucket.freePagesHead != nil {
		newPage = bucket.freePagesHead
		bucket.freePagesHead = newPage.nextPage
		newPage.nextPage = nil

		r.recommitSystemPages(newPage.pointer(), bucket.bytes())
		newPage.reset()
	} else {
		newPage, err = r.allocPartitionPages(bucket.partitionPages())
		if err == nil {
			newPage.setup(bucket)
		}
	}

	if err != nil {
		if returnNull {
			return nil, 0, err
		}
		r.outOfMemory(err)
	}

	bucket = newPage.bucket
	bucket.activePagesHead = newPage

	if newPage.freelistHead != 0 {
		return newPage, newPage.popFreelist(), nil
	}

	return newPage, newPage.allocAndFillFreelist(), nil
}

// setNewActivePage walks the active list starting at page and makes the first span with capacity the
// active page. Decommitted spans it passes move to the free page list, and full spans are tagged
// and unlinked.
func (r *rootBase) setNewActivePage(page *partitionPage) bool {
	if r.rt.isSeedPage(page) {
		return false
	}

	bucket := page.bucket
	var nextPage *partitionPage
	for ; page != nil; page = nextPage {
		nextPage = page.nextPage

		// Empty spans still hold a committed freelist, so they count as having capacity and are
		// reused here before anything is recommitted
		if page.freelistHead != 0 || page.numUnprovisionedSlots != 0 {
			bucket.activePagesHead = page
			return true
		}

		if page.numAllocatedSlots == 0 {
			page.nextPage = bucket.freePagesHead
			bucket.freePagesHead = page
		} else {
			page.state = pageStateFull
			bucket.numFullPages++
			if bucket.numFullPages == 0 {
				r.rt.crashf(ErrBucketFull, "bucket %d overflowed its full slot span count", bucket.slotSize)
			}
			page.nextPage = nil
		}
	}

	bucket.activePagesHead = &r.rt.seedPage
	return false
}

func (r *rootBase) free(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}

	slot := unsafe.Add(ptr, -memutils.CookieSize)
	page := r.pointerToPage(slot)
	r.freeWithPage(slot, page)
}

func (r *rootBase) freeWithPage(slot unsafe.Pointer, page *partitionPage) {
	addr := uintptr(slot)
	if page.numAllocatedSlots == 0 {
		r.rt.crashf(ErrDoubleFree, "slot %#x freed from a slot span with no allocations", addr)
	}
	if addr == page.freelistHead {
		r.rt.crashf(ErrDoubleFree, "slot %#x is already at the head of the freelist", addr)
	}

	if memutils.CookieSize > 0 {
		slotSize := page.bucket.slotSize
		if !memutils.CookieValid(slot) || !memutils.CookieValid(unsafe.Add(slot, slotSize-memutils.CookieSize)) {
			r.rt.crashf(ErrCorruption, "the cookies around slot %#x were overwritten", addr)
		}
		memutils.FillPattern(slot, slotSize, memutils.FreedByte)
	}

	page.pushFreelist(addr)
	page.numAllocatedSlots--

	if page.numAllocatedSlots == 0 || page.state == pageStateFull {
		r.freeSlowPath(page)
	}
}

func (r *rootBase) freeSlowPath(page *partitionPage) {
	bucket := page.bucket

	if page.state == pageStateFull {
		// A full span became partially used. Make it the active page, since it is the span most
		// likely to fill up again.
		if page.nextPage != nil {
			r.rt.crashf(ErrCorruption, "full slot span for bucket %d is still linked", bucket.slotSize)
		}

		page.state = pageStateActive
		if !r.rt.isSeedPage(bucket.activePagesHead) {
			page.nextPage = bucket.activePagesHead
		}
		bucket.activePagesHead = page
		bucket.numFullPages--

		// A span with a single slot is now empty as well
		if page.numAllocatedSlots == 0 {
			r.freeSlowPath(page)
		}
		return
	}

	if bucket.isDirectMapped() {
		r.directUnmap(page)
		return
	}

	page.state = pageStateEmpty

	// Bounce an empty active page behind the next span with capacity, as a force toward
	// defragmentation
	if page == bucket.activePagesHead && page.nextPage != nil {
		if r.setNewActivePage(page.nextPage) {
			currentPage := bucket.activePagesHead
			page.nextPage = currentPage.nextPage
			currentPage.nextPage = page
		} else {
			bucket.activePagesHead = page
			page.nextPage = nil
		}
	}

	r.registerEmptyPage(page)
}

// getSize reports the usable size of the slot holding ptr
func (r *rootBase) getSize(ptr unsafe.Pointer) int {
	page := r.pointerToPage(unsafe.Add(ptr, -memutils.CookieSize))
	return cookieSizeAdjustSubtract(page.bucket.slotSize)
}

func (r *rootBase) purgeMemory(flags PurgeFlags) {
	if flags&PurgeDecommitEmptyPages != 0 {
		r.decommitEmptyPages()
	}

	memutils.DebugValidate(r)
}

func (r *rootBase) shutdownBucket(bucket *Bucket) bool {
	if bucket.isPseudo() {
		return false
	}

	leakedSlots := 0
	for page := bucket.activePagesHead; page != nil; page = page.nextPage {
		leakedSlots += page.numAllocatedSlots
	}

	if bucket.numFullPages == 0 && leakedSlots == 0 {
		return false
	}

	r.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] unfreed slots",
		slog.String("root", r.name),
		slog.Int("slotSize", bucket.slotSize),
		slog.Int("fullSlotSpans", int(bucket.numFullPages)),
		slog.Int("activeSlots", leakedSlots),
	)
	return true
}

// shutdown releases every mapping the root holds. It returns ErrLeakDetected if any allocation was
// still live.
func (r *rootBase) shutdown() error {
	if !r.initialized {
		return errors.Newf("root %s has already been shut down", r.name)
	}
	r.initialized = false

	foundLeak := false
	for i := range r.buckets {
		if r.shutdownBucket(&r.buckets[i]) {
			foundLeak = true
		}
	}

	for !r.directMaps.IsEmpty() {
		foundLeak = true
		extent := r.directMaps.listHead

		r.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] unfreed direct mapping",
			slog.String("root", r.name),
			slog.Int("size", extent.bucket.slotSize),
		)
		r.directUnmap(extent.page)
	}

	r.freeSuperPages()
	r.emptyPageRing = [maxFreeableSpans]*partitionPage{}
	r.buckets = nil

	if foundLeak {
		return errors.Wrapf(ErrLeakDetected, "root %s", r.name)
	}

	return nil
}

func (r *rootBase) Validate() error {
	if r.invertedSelf != ^uintptr(unsafe.Pointer(r)) {
		return errors.New("root failed its self check")
	}

	for i := range r.buckets {
		if err := r.buckets[i].Validate(); err != nil {
			return errors.Wrapf(err, "bucket %d", i)
		}
	}

	if err := r.directMaps.Validate(); err != nil {
		return err
	}

	for index, page := range r.emptyPageRing {
		if page != nil && page.emptyCacheIndex != index {
			return errors.Newf("empty page ring entry %d believes it is at %d", index, page.emptyCacheIndex)
		}
	}

	if r.totalSizeOfCommittedPages < 0 || r.totalSizeOfCommittedPages > r.totalSizeOfSuperPages+r.totalSizeOfDirectMappedPages {
		return errors.Newf("committed byte count %d is outside of the reserved %d bytes", r.totalSizeOfCommittedPages, r.totalSizeOfSuperPages+r.totalSizeOfDirectMappedPages)
	}

	return nil
}
