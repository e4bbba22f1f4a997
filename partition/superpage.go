package partition

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/partalloc/memutils"
	"github.com/vkngwrapper/partalloc/pages"
	"golang.org/x/exp/slog"
)

// superPage is the metadata for one super page reservation, or for one direct mapping. Slot span
// metadata is kept here rather than inside the mapping itself, indexed by partition page.
type superPage struct {
	base      unsafe.Pointer
	root      *rootBase
	extent    *superPageExtent
	directMap *directMapExtent

	pages []partitionPage
}

func newSuperPage(root *rootBase, base unsafe.Pointer, numPages int) *superPage {
	sp := &superPage{
		base:  base,
		root:  root,
		pages: make([]partitionPage, numPages),
	}

	for i := range sp.pages {
		sp.pages[i].superPage = sp
		sp.pages[i].index = i
		sp.pages[i].emptyCacheIndex = -1
	}

	return sp
}

func (s *superPage) address() uintptr {
	return uintptr(s.base)
}

func (s *superPage) pointerAt(addr uintptr) unsafe.Pointer {
	return unsafe.Add(s.base, int(addr-s.address()))
}

func (s *superPage) pageAt(addr uintptr) *partitionPage {
	return &s.pages[(addr-s.address())>>partitionPageShift]
}

// superPageExtent is a run of super pages reserved at consecutive addresses
type superPageExtent struct {
	root          *rootBase
	superPageBase uintptr
	superPagesEnd uintptr
	superPages    []*superPage
	next          *superPageExtent
}

// allocPartitionPages carves numPartitionPages contiguous partition pages out of the current super
// page, reserving a new super page when the current one is exhausted. The pages returned are
// committed and accessible.
func (r *rootBase) allocPartitionPages(numPartitionPages int) (*partitionPage, error) {
	totalSize := uintptr(numPartitionPages * PartitionPageSize)

	if r.currentSuperPage != nil {
		numPartitionPagesLeft := int((r.nextPartitionPageEnd - r.nextPartitionPage) >> partitionPageShift)
		if numPartitionPagesLeft >= numPartitionPages {
			page := r.currentSuperPage.pageAt(r.nextPartitionPage)
			r.nextPartitionPage += totalSize
			r.increaseCommittedPages(int(totalSize))
			return page, nil
		}
	}

	if r.totalSizeOfSuperPages+SuperPageSize > MaxPartitionSize {
		return nil, errors.Wrapf(ErrPartitionFull, "%d bytes of super pages are already reserved", r.totalSizeOfSuperPages)
	}

	// Keep super pages contiguous where possible, to limit page table bloat and address space
	// fragmentation
	requestedAddress := r.nextSuperPage
	base, err := r.rt.provider.AllocPages(requestedAddress, SuperPageSize, SuperPageSize, pages.PageAccessible)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "could not reserve a super page"), ErrOutOfMemory)
	}

	superPageAddr := uintptr(base)
	r.totalSizeOfSuperPages += SuperPageSize
	r.increaseCommittedPages(int(totalSize))

	r.nextSuperPage = superPageAddr + SuperPageSize
	r.nextPartitionPage = superPageAddr + PartitionPageSize + totalSize
	r.nextPartitionPageEnd = r.nextSuperPage - PartitionPageSize

	// The first partition page is a guard page, except for the second system page, which is left
	// accessible as the metadata hole. The last partition page is a guard page too.
	r.setSystemPagesInaccessible(base, pages.SystemPageSize)
	r.setSystemPagesInaccessible(unsafe.Add(base, pages.SystemPageSize*2), PartitionPageSize-pages.SystemPageSize*2)
	r.setSystemPagesInaccessible(unsafe.Add(base, SuperPageSize-PartitionPageSize), PartitionPageSize)

	// The OS did not honor the hint, so it chose the address. Many OSes pick addresses predictably,
	// so go back to randomized hints.
	if requestedAddress != 0 && requestedAddress != superPageAddr {
		r.nextSuperPage = 0
	}

	sp := newSuperPage(r, base, numPartitionPagesPerSuperPage)
	r.superPages.Put(superPageAddr, sp)
	r.currentSuperPage = sp

	isNewExtent := superPageAddr != requestedAddress
	if isNewExtent {
		extent := &superPageExtent{
			root:          r,
			superPageBase: superPageAddr,
			superPagesEnd: superPageAddr + SuperPageSize,
		}
		if r.currentExtent == nil {
			r.firstExtent = extent
		} else {
			r.currentExtent.next = extent
		}
		r.currentExtent = extent
	} else {
		r.currentExtent.superPagesEnd += SuperPageSize
	}
	sp.extent = r.currentExtent
	r.currentExtent.superPages = append(r.currentExtent.superPages, sp)

	r.logger.Debug("partition::allocPartitionPages reserved super page",
		slog.String("Root", r.name),
		slog.Bool("NewExtent", isNewExtent),
		slog.Int("TotalSuperPageBytes", r.totalSizeOfSuperPages))

	return &sp.pages[1], nil
}

// pointerToPage finds the head of the slot span containing the slot starting at ptr. Anything that
// is not the start of a slot in this root crashes.
func (r *rootBase) pointerToPage(ptr unsafe.Pointer) *partitionPage {
	addr := uintptr(ptr)

	sp, ok := r.superPages.Get(memutils.AlignDownPtr(addr, SuperPageSize))
	if !ok {
		r.rt.crashf(ErrInvalidPointer, "%#x is not inside any super page of %s", addr, r.name)
	}

	index := int((addr & superPageOffsetMask) >> partitionPageShift)
	if index == 0 || index >= len(sp.pages) || (sp.directMap == nil && index == numPartitionPagesPerSuperPage-1) {
		r.rt.crashf(ErrInvalidPointer, "%#x is inside a guard page", addr)
	}

	page := &sp.pages[index]
	page = &sp.pages[index-page.pageOffset]
	if page.bucket == nil {
		r.rt.crashf(ErrInvalidPointer, "%#x is not inside a slot span", addr)
	}

	offset := addr - page.address()
	if page.bucket.isDirectMapped() {
		if offset != 0 {
			r.rt.crashf(ErrInvalidPointer, "%#x is not the start of a direct mapping", addr)
		}
	} else if offset%uintptr(page.bucket.slotSize) != 0 || offset >= uintptr(page.bucket.bytes()) {
		r.rt.crashf(ErrInvalidPointer, "%#x is not the start of a %d byte slot", addr, page.bucket.slotSize)
	}

	return page
}

func (r *rootBase) freeSuperPages() {
	for extent := r.firstExtent; extent != nil; extent = extent.next {
		for _, sp := range extent.superPages {
			r.superPages.Delete(sp.address())
			err := r.rt.provider.FreePages(sp.base, SuperPageSize)
			if err != nil {
				r.rt.crash(errors.Wrapf(err, "could not release super page %#x", sp.address()))
			}
		}
	}

	r.firstExtent = nil
	r.currentExtent = nil
	r.currentSuperPage = nil
	r.nextPartitionPage = 0
	r.nextPartitionPageEnd = 0
	r.totalSizeOfSuperPages = 0
}
