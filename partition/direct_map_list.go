package partition

import (
	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/partalloc/memutils"
)

// directMapList is the doubly linked list of a root's live direct mappings. It is guarded by the
// root's lock.
type directMapList struct {
	count    int
	listHead *directMapExtent
	listTail *directMapExtent
}

func (l *directMapList) Validate() error {
	declaredCount := l.count
	actualCount := 0

	var prev *directMapExtent
	for extent := l.listHead; extent != nil; extent = extent.nextDirectMap() {
		if extent.prevDirectMap() != prev {
			return errors.Newf("direct mapping %d has a broken back link", actualCount)
		}
		if extent.page == nil || extent.page.bucket != &extent.bucket {
			return errors.Newf("direct mapping %d is not attached to its slot span", actualCount)
		}
		if extent.bucket.slotSize > extent.mapSize {
			return errors.Newf("direct mapping %d is %d bytes but its mapping only has room for %d", actualCount, extent.bucket.slotSize, extent.mapSize)
		}

		prev = extent
		actualCount++
	}

	if declaredCount != actualCount {
		return errors.Newf("the listed number of direct mappings in the list (%d) does not match the actual number of mappings (%d)", declaredCount, actualCount)
	}

	return nil
}

func (l *directMapList) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	for extent := l.listHead; extent != nil; extent = extent.nextDirectMap() {
		size := extent.bucket.slotSize
		stats.SpanCount++
		stats.SpanBytes += size
		stats.AddAllocations(1, size)
	}
}

func (l *directMapList) BuildStatsString(writer *jwriter.Writer) {
	s := writer.Array()
	defer s.End()

	for extent := l.listHead; extent != nil; extent = extent.nextDirectMap() {
		o := s.Object()
		o.Name("Size").Int(extent.bucket.slotSize)
		o.Name("RawSize").Int(extent.page.rawSize - 2*memutils.CookieSize)
		o.Name("MapSize").Int(extent.mapSize)
		o.End()
	}
}

func (l *directMapList) IsEmpty() bool {
	return l.count == 0
}

func (l *directMapList) Register(extent *directMapExtent) {
	if l.count == 0 {
		l.listHead = extent
		l.listTail = extent
		l.count = 1
	} else {
		extent.setPrev(l.listTail)
		l.listTail.setNext(extent)

		l.listTail = extent
		l.count++
	}
}

func (l *directMapList) Unregister(extent *directMapExtent) {
	prev := extent.prevDirectMap()
	next := extent.nextDirectMap()

	if prev != nil {
		prev.setNext(next)
	} else {
		l.listHead = next
	}

	if next != nil {
		next.setPrev(prev)
	} else {
		l.listTail = prev
	}

	extent.setNext(nil)
	extent.setPrev(nil)

	l.count--
}
