package partition

import (
	"encoding/json"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/partalloc/memutils"
	"github.com/vkngwrapper/partalloc/pages"
)

type recordingDumper struct {
	totals  []MemoryStatistics
	buckets []BucketMemoryStats
	names   []string
}

func (d *recordingDumper) DumpTotals(partitionName string, stats *MemoryStatistics) {
	d.names = append(d.names, partitionName)
	d.totals = append(d.totals, *stats)
}

func (d *recordingDumper) DumpBucketStats(partitionName string, stats *BucketMemoryStats) {
	d.names = append(d.names, partitionName)
	d.buckets = append(d.buckets, *stats)
}

type statsFixture struct {
	root       *GenericRoot
	smallPtrs  []unsafe.Pointer
	largePtr   unsafe.Pointer
	slotSize   int
	directSize int
	bucket     *Bucket
}

func readyStatsFixture(t *testing.T) *statsFixture {
	root := readyGenericRoot(t, CreateOptions{Name: "stats"})

	fixture := &statsFixture{root: root}
	for i := 0; i < 3; i++ {
		fixture.smallPtrs = append(fixture.smallPtrs, root.Alloc(64))
	}
	fixture.largePtr = root.Alloc(4 << 20)

	fixture.bucket = root.pointerToPage(ptrSlot(fixture.smallPtrs[0])).bucket
	fixture.slotSize = fixture.bucket.slotSize
	fixture.directSize = directMapSize(cookieSizeAdjustAdd(4 << 20))

	return fixture
}

func (f *statsFixture) free() {
	for _, ptr := range f.smallPtrs {
		f.root.Free(ptr)
	}
	f.root.Free(f.largePtr)
}

func TestStatisticsTotals(t *testing.T) {
	fixture := readyStatsFixture(t)
	root := fixture.root

	stats := root.Statistics()
	require.Equal(t, SuperPageSize+fixture.directSize, stats.TotalMmappedBytes)
	require.Equal(t, fixture.bucket.partitionPages()*PartitionPageSize+fixture.directSize, stats.TotalCommittedBytes)
	require.Equal(t, 3*fixture.slotSize+fixture.directSize, stats.TotalActiveBytes)
	require.Equal(t, fixture.directSize, stats.TotalDirectMappedBytes)
	require.GreaterOrEqual(t, stats.TotalResidentBytes, stats.TotalActiveBytes)
	require.LessOrEqual(t, stats.TotalResidentBytes, stats.TotalCommittedBytes)
	require.Zero(t, stats.TotalDecommittableBytes)

	fixture.free()

	stats = root.Statistics()
	require.Zero(t, stats.TotalActiveBytes)
	require.Zero(t, stats.TotalDirectMappedBytes)
	require.Equal(t, SuperPageSize, stats.TotalMmappedBytes)
	require.Greater(t, stats.TotalDecommittableBytes, 0)
	require.Equal(t, stats.TotalResidentBytes, stats.TotalDecommittableBytes)

	root.PurgeMemory(PurgeDecommitEmptyPages)
	stats = root.Statistics()
	require.Zero(t, stats.TotalDecommittableBytes)
	require.Zero(t, stats.TotalResidentBytes)
	require.Less(t, stats.TotalCommittedBytes, fixture.bucket.partitionPages()*PartitionPageSize)

	require.NoError(t, root.Shutdown())
}

func TestDumpStats(t *testing.T) {
	fixture := readyStatsFixture(t)
	root := fixture.root

	light := &recordingDumper{}
	root.DumpStats(true, light)
	require.Len(t, light.totals, 1)
	require.Empty(t, light.buckets)
	require.Equal(t, []string{"stats"}, light.names)

	full := &recordingDumper{}
	root.DumpStats(false, full)
	require.Len(t, full.totals, 1)
	require.Equal(t, light.totals[0], full.totals[0])
	require.Len(t, full.buckets, 2)

	bucketStats := full.buckets[0]
	require.False(t, bucketStats.IsDirectMap)
	require.Equal(t, fixture.slotSize, bucketStats.BucketSlotSize)
	require.Equal(t, fixture.bucket.bytes(), bucketStats.AllocatedPageSize)
	require.Equal(t, 3*fixture.slotSize, bucketStats.ActiveBytes)
	require.Equal(t, 1, bucketStats.NumActivePages)
	require.Zero(t, bucketStats.NumFullPages)

	directStats := full.buckets[1]
	require.True(t, directStats.IsDirectMap)
	require.Equal(t, fixture.directSize, directStats.BucketSlotSize)
	require.Equal(t, 1, directStats.NumFullPages)

	fixture.free()
	require.NoError(t, root.Shutdown())
}

func TestDumpStatsMayAllocate(t *testing.T) {
	root := readyGenericRoot(t, CreateOptions{})
	ptr := root.Alloc(32)

	dumper := &allocatingDumper{root: root}
	root.DumpStats(false, dumper)
	require.Len(t, dumper.ptrs, 2)

	for _, allocated := range dumper.ptrs {
		root.Free(allocated)
	}
	root.Free(ptr)
	require.NoError(t, root.Shutdown())
}

type allocatingDumper struct {
	root *GenericRoot
	ptrs []unsafe.Pointer
}

func (d *allocatingDumper) DumpTotals(partitionName string, stats *MemoryStatistics) {
	d.ptrs = append(d.ptrs, d.root.Alloc(16))
}

func (d *allocatingDumper) DumpBucketStats(partitionName string, stats *BucketMemoryStats) {
	d.ptrs = append(d.ptrs, d.root.Alloc(16))
}

func TestCalculateStatistics(t *testing.T) {
	fixture := readyStatsFixture(t)
	root := fixture.root

	var stats memutils.DetailedStatistics
	root.CalculateStatistics(&stats)
	require.Equal(t, 2, stats.SpanCount)
	require.Equal(t, fixture.bucket.bytes()+fixture.directSize, stats.SpanBytes)
	require.Equal(t, 4, stats.AllocationCount)
	require.Equal(t, 3*fixture.slotSize+fixture.directSize, stats.AllocationBytes)
	require.Equal(t, fixture.slotSize, stats.AllocationSizeMin)
	require.Equal(t, fixture.directSize, stats.AllocationSizeMax)
	require.Greater(t, stats.FreeSlotCount, 0)

	fixture.free()
	require.NoError(t, root.Shutdown())
}

func TestBuildStatsString(t *testing.T) {
	fixture := readyStatsFixture(t)
	root := fixture.root

	var brief map[string]any
	require.NoError(t, json.Unmarshal([]byte(root.BuildStatsString(false)), &brief))
	require.Equal(t, "stats", brief["Name"])
	require.Equal(t, float64(pages.SystemPageSize), brief["SystemPageSize"])
	require.NotContains(t, brief, "Buckets")
	require.NotContains(t, brief, "DirectMaps")

	totals := brief["Totals"].(map[string]any)
	require.Equal(t, float64(3*fixture.slotSize+fixture.directSize), totals["ActiveBytes"])

	statistics := brief["Statistics"].(map[string]any)
	require.Equal(t, float64(4), statistics["AllocationCount"])

	var detailed map[string]any
	require.NoError(t, json.Unmarshal([]byte(root.BuildStatsString(true)), &detailed))

	buckets := detailed["Buckets"].([]any)
	require.Len(t, buckets, 1)
	require.Equal(t, float64(fixture.slotSize), buckets[0].(map[string]any)["SlotSize"])

	directMaps := detailed["DirectMaps"].([]any)
	require.Len(t, directMaps, 1)
	directMap := directMaps[0].(map[string]any)
	require.Equal(t, float64(fixture.directSize), directMap["Size"])
	require.Equal(t, float64(4<<20), directMap["RawSize"])

	fixture.free()
	require.NoError(t, root.Shutdown())
}
