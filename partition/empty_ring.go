package partition

import "golang.org/x/exp/slog"

// registerEmptyPage puts a newly emptied span in the ring of spans waiting to be decommitted. The
// span the ring cursor lands on is decommitted to make room, unless it was reused in the meantime.
func (r *rootBase) registerEmptyPage(page *partitionPage) {
	// A span that is already waiting gets another full trip around the ring
	if page.emptyCacheIndex != -1 {
		r.emptyPageRing[page.emptyCacheIndex] = nil
	}

	currentIndex := r.emptyPageRingIndex
	pageToDecommit := r.emptyPageRing[currentIndex]
	if pageToDecommit != nil {
		r.decommitPageIfPossible(pageToDecommit)
	}

	r.emptyPageRing[currentIndex] = page
	page.emptyCacheIndex = currentIndex

	currentIndex++
	if currentIndex == maxFreeableSpans {
		currentIndex = 0
	}
	r.emptyPageRingIndex = currentIndex
}

func (r *rootBase) decommitPageIfPossible(page *partitionPage) {
	page.emptyCacheIndex = -1
	if page.isEmpty() {
		r.decommitPage(page)
	}
}

// decommitPage releases the physical memory of an empty span. The span stays on the active list and
// moves to the free page list the next time a scan passes it.
func (r *rootBase) decommitPage(page *partitionPage) {
	r.decommitSystemPages(page.pointer(), page.bucket.bytes())

	page.freelistHead = 0
	page.numUnprovisionedSlots = 0
	page.state = pageStateDecommitted

	r.logger.Debug("partition::decommitPage",
		slog.String("Root", r.name),
		slog.Int("SlotSize", page.bucket.slotSize),
		slog.Int("Bytes", page.bucket.bytes()))
}

func (r *rootBase) decommitEmptyPages() {
	for i := 0; i < maxFreeableSpans; i++ {
		page := r.emptyPageRing[i]
		if page != nil {
			r.decommitPageIfPossible(page)
		}
		r.emptyPageRing[i] = nil
	}
}
