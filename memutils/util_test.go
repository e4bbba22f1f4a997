package memutils_test

import (
	"math"
	"math/bits"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/partalloc/memutils"
)

func TestCheckPow2(t *testing.T) {
	require.NoError(t, memutils.CheckPow2(1, "one"))
	require.NoError(t, memutils.CheckPow2(4096, "page"))
	require.NoError(t, memutils.CheckPow2(uint(1)<<21, "super page"))

	err := memutils.CheckPow2(24, "slot")
	require.ErrorIs(t, err, memutils.PowerOfTwoError)
	require.ErrorContains(t, err, "slot is 24")

	require.Error(t, memutils.CheckPow2(0, "zero"))
}

func TestAlign(t *testing.T) {
	require.Equal(t, 4096, memutils.AlignUp(1, 4096))
	require.Equal(t, 4096, memutils.AlignUp(4096, 4096))
	require.Equal(t, 8192, memutils.AlignUp(4097, 4096))

	require.Equal(t, uintptr(0x400000), memutils.AlignUpPtr(0x200001, 0x200000))
	require.Equal(t, uintptr(0x200000), memutils.AlignDownPtr(0x3fffff, 0x200000))
}

func TestOrder(t *testing.T) {
	require.Equal(t, 0, memutils.Order(0))
	require.Equal(t, 1, memutils.Order(1))
	require.Equal(t, 6, memutils.Order(41))
	require.Equal(t, 13, memutils.Order(4096))
	require.Equal(t, bits.UintSize, memutils.Order(math.MaxUint))
}

func TestDetailedStatistics(t *testing.T) {
	var stats memutils.DetailedStatistics
	stats.Clear()

	require.Equal(t, math.MaxInt, stats.AllocationSizeMin)

	stats.AddAllocations(3, 16)
	stats.AddAllocations(0, 4096)
	stats.AddFreeSlots(5)

	var other memutils.DetailedStatistics
	other.Clear()
	other.SpanCount = 1
	other.SpanBytes = 16384
	other.AddAllocations(1, 64)

	stats.AddDetailedStatistics(&other)

	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			SpanCount:       1,
			AllocationCount: 4,
			SpanBytes:       16384,
			AllocationBytes: 112,
		},
		FreeSlotCount:     5,
		AllocationSizeMin: 16,
		AllocationSizeMax: 64,
	}, stats)
}
