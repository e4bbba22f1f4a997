package memutils

import "math"

// Statistics accumulates the coarse shape of a partition: how many slot spans it holds, how many
// bytes those spans cover, and how many live allocations they carry.
type Statistics struct {
	SpanCount       int
	AllocationCount int
	SpanBytes       int
	AllocationBytes int
}

func (s *Statistics) Clear() {
	s.SpanCount = 0
	s.AllocationCount = 0
	s.SpanBytes = 0
	s.AllocationBytes = 0
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.SpanCount += other.SpanCount
	s.AllocationCount += other.AllocationCount
	s.SpanBytes += other.SpanBytes
	s.AllocationBytes += other.AllocationBytes
}

// DetailedStatistics extends Statistics with slot-size extremes and the number of slots that are
// carved out but not currently handed to a caller.
type DetailedStatistics struct {
	Statistics
	FreeSlotCount     int
	AllocationSizeMin int
	AllocationSizeMax int
}

func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.FreeSlotCount = 0
	s.AllocationSizeMin = math.MaxInt
	s.AllocationSizeMax = 0
}

func (s *DetailedStatistics) AddFreeSlots(count int) {
	s.FreeSlotCount += count
}

// AddAllocations records count live allocations of the given slot size
func (s *DetailedStatistics) AddAllocations(count int, size int) {
	if count <= 0 {
		return
	}

	s.AllocationCount += count
	s.AllocationBytes += count * size

	if size < s.AllocationSizeMin {
		s.AllocationSizeMin = size
	}

	if size > s.AllocationSizeMax {
		s.AllocationSizeMax = size
	}
}

func (s *DetailedStatistics) AddDetailedStatistics(other *DetailedStatistics) {
	s.Statistics.AddStatistics(&other.Statistics)
	s.FreeSlotCount += other.FreeSlotCount

	if other.AllocationSizeMin < s.AllocationSizeMin {
		s.AllocationSizeMin = other.AllocationSizeMin
	}

	if other.AllocationSizeMax > s.AllocationSizeMax {
		s.AllocationSizeMax = other.AllocationSizeMax
	}
}
