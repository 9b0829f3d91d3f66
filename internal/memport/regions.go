package memport

import (
	"sort"
)

// RegionSet is a sorted, merged set of address ranges.
type RegionSet struct {
	ranges []Range
}

// NewRegionSet merges the ranges of regions. Overlapping and adjacent ranges are
// coalesced; empty ranges are ignored.
func NewRegionSet(regions []Region) *RegionSet {
	ranges := make([]Range, 0, len(regions))
	for _, r := range regions {
		ranges = append(ranges, r.Range())
	}
	return NewRangeSet(ranges)
}

// NewRangeSet builds a set from raw ranges.
func NewRangeSet(ranges []Range) *RegionSet {
	sorted := make([]Range, 0, len(ranges))
	for _, r := range ranges {
		if !r.Empty() {
			sorted = append(sorted, r)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	merged := sorted[:0]
	for _, r := range sorted {
		if n := len(merged); n > 0 && r.Start <= merged[n-1].End {
			if r.End > merged[n-1].End {
				merged[n-1].End = r.End
			}
			continue
		}
		merged = append(merged, r)
	}
	return &RegionSet{ranges: merged}
}

// Contains reports whether addr is inside any range.
func (s *RegionSet) Contains(addr uint64) bool {
	i := sort.Search(len(s.ranges), func(i int) bool { return s.ranges[i].End > addr })
	return i < len(s.ranges) && s.ranges[i].Start <= addr
}

// ContainsSpan reports whether [addr, addr+size) lies inside a single range.
func (s *RegionSet) ContainsSpan(addr uint64, size int) bool {
	i := sort.Search(len(s.ranges), func(i int) bool { return s.ranges[i].End > addr })
	if i >= len(s.ranges) || s.ranges[i].Start > addr {
		return false
	}
	end := addr + uint64(size)
	return end >= addr && end <= s.ranges[i].End
}

// Ranges returns the merged ranges in ascending order.
func (s *RegionSet) Ranges() []Range {
	return s.ranges
}

// Bytes returns the total number of bytes covered.
func (s *RegionSet) Bytes() uint64 {
	var total uint64
	for _, r := range s.ranges {
		total += r.Len()
	}
	return total
}
