package partition

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/partalloc/memutils"
	"github.com/vkngwrapper/partalloc/pages"
	"golang.org/x/exp/slog"
)

// directMapExtent tracks a single allocation too large for any bucket. Each one has its own mapping,
// bucket and slot span.
type directMapExtent struct {
	nextExtent *directMapExtent
	prevExtent *directMapExtent

	bucket Bucket
	page   *partitionPage
	// mapSize is the largest size the allocation can grow to in place
	mapSize int
}

func (e *directMapExtent) nextDirectMap() *directMapExtent {
	return e.nextExtent
}

func (e *directMapExtent) prevDirectMap() *directMapExtent {
	return e.prevExtent
}

func (e *directMapExtent) setNext(next *directMapExtent) {
	e.nextExtent = next
}

func (e *directMapExtent) setPrev(prev *directMapExtent) {
	e.prevExtent = prev
}

func directMapSize(size int) int {
	return int(roundUpToSystemPage(uintptr(size)))
}

// directMap creates a mapping for a single allocation of rawSize bytes. The mapping is aligned like a
// super page so the allocation can be found in the super page registry, and it is surrounded by
// inaccessible guard pages.
func (r *rootBase) directMap(rawSize int) (*partitionPage, error) {
	size := directMapSize(rawSize)

	mapSize := size + PartitionPageSize + pages.SystemPageSize
	mapSize = int(memutils.AlignUpPtr(uintptr(mapSize), uintptr(pages.AllocationGranularity)))

	base, err := r.rt.provider.AllocPages(0, mapSize, SuperPageSize, pages.PageAccessible)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "could not direct map %d bytes", size), ErrOutOfMemory)
	}

	slot := unsafe.Add(base, PartitionPageSize)
	r.setSystemPagesInaccessible(base, PartitionPageSize)
	r.setSystemPagesInaccessible(unsafe.Add(slot, size), mapSize-PartitionPageSize-size)

	r.totalSizeOfDirectMappedPages += size
	r.increaseCommittedPages(size)

	sp := newSuperPage(r, base, 2)
	extent := &directMapExtent{
		mapSize: mapSize - PartitionPageSize - pages.SystemPageSize,
	}
	sp.directMap = extent

	extent.bucket.slotSize = size
	extent.bucket.numSystemPagesPerSlotSpan = 0

	page := &sp.pages[1]
	extent.page = page
	page.bucket = &extent.bucket
	page.state = pageStateActive
	page.rawSize = rawSize
	page.freelistHead = uintptr(slot)
	page.writeFreelistNext(page.freelistHead, 0)

	r.superPages.Put(sp.address(), sp)
	r.directMaps.Register(extent)

	r.logger.Debug("partition::directMap",
		slog.String("Root", r.name),
		slog.Int("Size", size),
		slog.Int("MapSize", mapSize))

	return page, nil
}

func (r *rootBase) directUnmap(page *partitionPage) {
	sp := page.superPage
	extent := sp.directMap

	r.directMaps.Unregister(extent)
	r.superPages.Delete(sp.address())

	// Add back the leading partition page and the trailing guard page
	unmapSize := extent.mapSize + PartitionPageSize + pages.SystemPageSize
	unmapSize = int(memutils.AlignUpPtr(uintptr(unmapSize), uintptr(pages.AllocationGranularity)))

	size := page.bucket.slotSize
	r.decreaseCommittedPages(size)
	r.totalSizeOfDirectMappedPages -= size

	err := r.rt.provider.FreePages(sp.base, unmapSize)
	if err != nil {
		r.rt.crash(errors.Wrapf(err, "could not unmap direct mapping %#x", sp.address()))
	}

	r.logger.Debug("partition::directUnmap",
		slog.String("Root", r.name),
		slog.Int("Size", size),
		slog.Int("MapSize", unmapSize))
}

// reallocDirectMappedInPlace resizes a direct mapping without moving it, by changing the
// accessibility of the pages at its tail. It reports false if the new size cannot be served from the
// existing mapping.
func (r *rootBase) reallocDirectMappedInPlace(page *partitionPage, rawSize int) bool {
	rawSize = cookieSizeAdjustAdd(rawSize)

	// The new size may be a bucketed size
	newSize := directMapSize(rawSize)
	if newSize < genericMinDirectMappedDownsize {
		return false
	}

	currentSize := page.bucket.slotSize
	extent := page.superPage.directMap
	ptr := page.pointer()

	if newSize < currentSize {
		// Don't hold on to much more address space than is in use
		if (newSize/pages.SystemPageSize)*5 < (extent.mapSize/pages.SystemPageSize)*4 {
			return false
		}

		decommitSize := currentSize - newSize
		r.decommitSystemPages(unsafe.Add(ptr, newSize), decommitSize)
		r.setSystemPagesInaccessible(unsafe.Add(ptr, newSize), decommitSize)
		r.totalSizeOfDirectMappedPages -= decommitSize
	} else if newSize > currentSize && newSize <= extent.mapSize {
		recommitSize := newSize - currentSize
		err := r.rt.provider.SetSystemPagesAccessible(unsafe.Add(ptr, currentSize), recommitSize)
		if err != nil {
			r.rt.crash(errors.Wrapf(err, "could not make %d bytes of direct mapping %#x accessible", recommitSize, uintptr(ptr)))
		}
		r.recommitSystemPages(unsafe.Add(ptr, currentSize), recommitSize)
		r.totalSizeOfDirectMappedPages += recommitSize

		memutils.FillPattern(unsafe.Add(ptr, currentSize), recommitSize, memutils.UninitializedByte)
	} else if newSize > currentSize {
		return false
	}

	if memutils.CookieSize > 0 {
		memutils.WriteCookie(unsafe.Add(ptr, newSize-memutils.CookieSize))
	}

	page.rawSize = rawSize
	page.bucket.slotSize = newSize
	return true
}
