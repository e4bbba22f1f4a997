package partition

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/partalloc/memutils"
	"github.com/vkngwrapper/partalloc/pages"
)

// maxReportableDirectMaps caps the number of direct mappings reported individually by a detailed
// stats dump
const maxReportableDirectMaps = 4096

// MemoryStatistics are the totals for a whole root
type MemoryStatistics struct {
	TotalMmappedBytes       int
	TotalCommittedBytes     int
	TotalResidentBytes      int
	TotalActiveBytes        int
	TotalDecommittableBytes int
	TotalDirectMappedBytes  int
}

// BucketMemoryStats describes one bucket, or one direct mapping when IsDirectMap is set
type BucketMemoryStats struct {
	IsDirectMap bool

	BucketSlotSize     int
	AllocatedPageSize  int
	ActiveBytes        int
	ResidentBytes      int
	DecommittableBytes int

	NumFullPages        int
	NumActivePages      int
	NumEmptyPages       int
	NumDecommittedPages int
}

// StatsDumper receives the results of DumpStats. It is called without the root's lock held, so it
// may allocate from the root being dumped.
type StatsDumper interface {
	DumpTotals(partitionName string, stats *MemoryStatistics)
	DumpBucketStats(partitionName string, stats *BucketMemoryStats)
}

func (r *rootBase) dumpPageStats(stats *BucketMemoryStats, page *partitionPage) {
	if page.isDecommitted() {
		stats.NumDecommittedPages++
		return
	}

	numSlots := page.bucket.slots()
	if page.rawSize != 0 {
		stats.ActiveBytes += page.rawSize
	} else {
		stats.ActiveBytes += page.numAllocatedSlots * stats.BucketSlotSize
	}

	pageBytesResident := int(roundUpToSystemPage(uintptr((numSlots - page.numUnprovisionedSlots) * stats.BucketSlotSize)))
	stats.ResidentBytes += pageBytesResident

	switch {
	case page.isEmpty():
		stats.DecommittableBytes += pageBytesResident
		stats.NumEmptyPages++
	case page.numAllocatedSlots == numSlots:
		stats.NumFullPages++
	default:
		stats.NumActivePages++
	}
}

// dumpBucketStats reports false for buckets that have never held a slot span
func (r *rootBase) dumpBucketStats(stats *BucketMemoryStats, bucket *Bucket) bool {
	if r.rt.isSeedPage(bucket.activePagesHead) && bucket.freePagesHead == nil && bucket.numFullPages == 0 {
		return false
	}

	*stats = BucketMemoryStats{}
	stats.NumFullPages = int(bucket.numFullPages)
	stats.BucketSlotSize = bucket.slotSize
	stats.AllocatedPageSize = bucket.bytes()

	bucketUsefulStorage := stats.BucketSlotSize * bucket.slots()
	stats.ActiveBytes = stats.NumFullPages * bucketUsefulStorage
	stats.ResidentBytes = stats.NumFullPages * stats.AllocatedPageSize

	for page := bucket.freePagesHead; page != nil; page = page.nextPage {
		r.dumpPageStats(stats, page)
	}
	for page := bucket.activePagesHead; page != nil; page = page.nextPage {
		if !r.rt.isSeedPage(page) {
			r.dumpPageStats(stats, page)
		}
	}

	return true
}

func (r *rootBase) collectStats(lightDump bool) (MemoryStatistics, []BucketMemoryStats, []int) {
	r.lock.Lock()
	defer r.lock.Unlock()

	var totals MemoryStatistics
	totals.TotalMmappedBytes = r.totalSizeOfSuperPages + r.totalSizeOfDirectMappedPages
	totals.TotalCommittedBytes = r.totalSizeOfCommittedPages
	totals.TotalDirectMappedBytes = r.totalSizeOfDirectMappedPages

	var bucketStats []BucketMemoryStats
	for i := range r.buckets {
		bucket := &r.buckets[i]
		// Pseudo buckets exist only to keep the size lookup fast
		if bucket.isPseudo() {
			continue
		}

		var stats BucketMemoryStats
		if !r.dumpBucketStats(&stats, bucket) {
			continue
		}

		totals.TotalResidentBytes += stats.ResidentBytes
		totals.TotalActiveBytes += stats.ActiveBytes
		totals.TotalDecommittableBytes += stats.DecommittableBytes
		if !lightDump {
			bucketStats = append(bucketStats, stats)
		}
	}

	var directMapLengths []int
	directMappedAllocationsTotalSize := 0
	numDirectMaps := 0
	for extent := r.directMaps.listHead; extent != nil && numDirectMaps < maxReportableDirectMaps; extent = extent.nextDirectMap() {
		slotSize := extent.bucket.slotSize
		directMappedAllocationsTotalSize += slotSize
		numDirectMaps++
		if !lightDump {
			directMapLengths = append(directMapLengths, slotSize)
		}
	}

	totals.TotalResidentBytes += directMappedAllocationsTotalSize
	totals.TotalActiveBytes += directMappedAllocationsTotalSize

	return totals, bucketStats, directMapLengths
}

// DumpStats reports the root's memory usage to dumper. A light dump only reports totals.
func (r *rootBase) DumpStats(lightDump bool, dumper StatsDumper) {
	totals, bucketStats, directMapLengths := r.collectStats(lightDump)

	for i := range bucketStats {
		dumper.DumpBucketStats(r.name, &bucketStats[i])
	}

	for _, size := range directMapLengths {
		stats := BucketMemoryStats{
			IsDirectMap:       true,
			NumFullPages:      1,
			AllocatedPageSize: size,
			BucketSlotSize:    size,
			ActiveBytes:       size,
			ResidentBytes:     size,
		}
		dumper.DumpBucketStats(r.name, &stats)
	}

	dumper.DumpTotals(r.name, &totals)
}

// Statistics returns the root's totals
func (r *rootBase) Statistics() MemoryStatistics {
	totals, _, _ := r.collectStats(true)
	return totals
}

// CalculateStatistics summarizes the root's slot spans and live allocations
func (r *rootBase) CalculateStatistics(stats *memutils.DetailedStatistics) {
	r.lock.Lock()
	defer r.lock.Unlock()

	stats.Clear()

	for i := range r.buckets {
		bucket := &r.buckets[i]
		if bucket.isPseudo() {
			continue
		}

		numSlots := bucket.slots()
		numFullPages := int(bucket.numFullPages)
		stats.SpanCount += numFullPages
		stats.SpanBytes += numFullPages * bucket.bytes()
		stats.AddAllocations(numFullPages*numSlots, bucket.slotSize)

		addPage := func(page *partitionPage) {
			if r.rt.isSeedPage(page) {
				return
			}

			stats.SpanCount++
			stats.SpanBytes += bucket.bytes()
			stats.AddAllocations(page.numAllocatedSlots, bucket.slotSize)
			if !page.isDecommitted() {
				stats.AddFreeSlots(numSlots - page.numAllocatedSlots - page.numUnprovisionedSlots)
			}
		}

		for page := bucket.activePagesHead; page != nil; page = page.nextPage {
			addPage(page)
		}
		for page := bucket.freePagesHead; page != nil; page = page.nextPage {
			addPage(page)
		}
	}

	r.directMaps.AddDetailedStatistics(stats)
}

// BuildStatsString produces a JSON document describing the root. A detailed document includes every
// bucket and direct mapping.
func (r *rootBase) BuildStatsString(detailed bool) string {
	var detailedStats memutils.DetailedStatistics
	r.CalculateStatistics(&detailedStats)
	totals, bucketStats, _ := r.collectStats(!detailed)

	writer := jwriter.NewWriter()
	obj := writer.Object()

	obj.Name("Name").String(r.name)
	obj.Name("SystemPageSize").Int(pages.SystemPageSize)
	obj.Name("PartitionPageSize").Int(PartitionPageSize)
	obj.Name("SuperPageSize").Int(SuperPageSize)

	totalsObj := obj.Name("Totals").Object()
	totalsObj.Name("MmappedBytes").Int(totals.TotalMmappedBytes)
	totalsObj.Name("CommittedBytes").Int(totals.TotalCommittedBytes)
	totalsObj.Name("ResidentBytes").Int(totals.TotalResidentBytes)
	totalsObj.Name("ActiveBytes").Int(totals.TotalActiveBytes)
	totalsObj.Name("DecommittableBytes").Int(totals.TotalDecommittableBytes)
	totalsObj.Name("DirectMappedBytes").Int(totals.TotalDirectMappedBytes)
	totalsObj.End()

	statsObj := obj.Name("Statistics").Object()
	statsObj.Name("SpanCount").Int(detailedStats.SpanCount)
	statsObj.Name("SpanBytes").Int(detailedStats.SpanBytes)
	statsObj.Name("AllocationCount").Int(detailedStats.AllocationCount)
	statsObj.Name("AllocationBytes").Int(detailedStats.AllocationBytes)
	statsObj.Name("FreeSlotCount").Int(detailedStats.FreeSlotCount)
	if detailedStats.AllocationCount > 0 {
		statsObj.Name("AllocationSizeMin").Int(detailedStats.AllocationSizeMin)
		statsObj.Name("AllocationSizeMax").Int(detailedStats.AllocationSizeMax)
	}
	statsObj.End()

	if detailed {
		bucketsArr := obj.Name("Buckets").Array()
		for i := range bucketStats {
			stats := &bucketStats[i]
			bucketObj := bucketsArr.Object()
			bucketObj.Name("SlotSize").Int(stats.BucketSlotSize)
			bucketObj.Name("SlotSpanBytes").Int(stats.AllocatedPageSize)
			bucketObj.Name("ActiveBytes").Int(stats.ActiveBytes)
			bucketObj.Name("ResidentBytes").Int(stats.ResidentBytes)
			bucketObj.Name("DecommittableBytes").Int(stats.DecommittableBytes)
			bucketObj.Name("FullSlotSpans").Int(stats.NumFullPages)
			bucketObj.Name("ActiveSlotSpans").Int(stats.NumActivePages)
			bucketObj.Name("EmptySlotSpans").Int(stats.NumEmptyPages)
			bucketObj.Name("DecommittedSlotSpans").Int(stats.NumDecommittedPages)
			bucketObj.End()
		}
		bucketsArr.End()

		r.lock.Lock()
		r.directMaps.BuildStatsString(obj.Name("DirectMaps"))
		r.lock.Unlock()
	}

	obj.End()

	return string(writer.Bytes())
}
