// Package ptrmap builds, stores and queries pointer maps: reverse indexes from a
// pointee address to every location holding a pointer to it.
//
// A Map is laid out in compressed sparse row form. Pointees are kept sorted and
// unique; the sources of pointee i are sources[starts[i]:starts[i+1]], sorted
// ascending. Range queries over a pointee window are two binary searches.
//
// Maps are immutable once built or loaded and may be shared by concurrent scans.
package ptrmap

import (
	"sort"

	"github.com/coral-mesh/ptrscan/internal/memport"
)

// Map is a read-only reverse pointer index.
type Map struct {
	codec     memport.Codec
	regions   []memport.Region
	regionSet *memport.RegionSet
	modules   []memport.Module

	pointees []uint64
	starts   []uint64
	sources  []uint64
}

// Edge is one pointer found in memory: the word at Source holds Pointee.
type Edge struct {
	Source  uint64
	Pointee uint64
}

// New assembles a Map from edges. Edges are sorted in place.
func New(codec memport.Codec, regions []memport.Region, modules []memport.Module, edges []Edge) *Map {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Pointee != edges[j].Pointee {
			return edges[i].Pointee < edges[j].Pointee
		}
		return edges[i].Source < edges[j].Source
	})

	m := &Map{
		codec:     codec,
		regions:   regions,
		regionSet: memport.NewRegionSet(regions),
		modules:   modules,
		sources:   make([]uint64, 0, len(edges)),
	}
	for i, e := range edges {
		if i > 0 && e == edges[i-1] {
			continue
		}
		if n := len(m.pointees); n == 0 || m.pointees[n-1] != e.Pointee {
			m.pointees = append(m.pointees, e.Pointee)
			m.starts = append(m.starts, uint64(len(m.sources)))
		}
		m.sources = append(m.sources, e.Source)
	}
	m.starts = append(m.starts, uint64(len(m.sources)))
	return m
}

// Codec returns the pointer codec the map was built with.
func (m *Map) Codec() memport.Codec {
	return m.codec
}

// Regions returns the regions recorded at build time.
func (m *Map) Regions() []memport.Region {
	return m.regions
}

// Modules returns the modules recorded at build time.
func (m *Map) Modules() []memport.Module {
	return m.modules
}

// Mapped reports whether addr lies in a recorded region.
func (m *Map) Mapped(addr uint64) bool {
	return m.regionSet.Contains(addr)
}

// Edges returns the number of stored pointers.
func (m *Map) Edges() int {
	return len(m.sources)
}

// Pointees returns the number of distinct pointee addresses.
func (m *Map) Pointees() int {
	return len(m.pointees)
}

// Sources returns the locations pointing exactly at pointee.
func (m *Map) Sources(pointee uint64) []uint64 {
	i := sort.Search(len(m.pointees), func(i int) bool { return m.pointees[i] >= pointee })
	if i == len(m.pointees) || m.pointees[i] != pointee {
		return nil
	}
	return m.sources[m.starts[i]:m.starts[i+1]]
}

// Window calls fn for every pointee in [lo, hi] in ascending order until fn
// returns false.
func (m *Map) Window(lo, hi uint64, fn func(pointee uint64, sources []uint64) bool) {
	if hi < lo {
		return
	}
	i := sort.Search(len(m.pointees), func(i int) bool { return m.pointees[i] >= lo })
	for ; i < len(m.pointees) && m.pointees[i] <= hi; i++ {
		if !fn(m.pointees[i], m.sources[m.starts[i]:m.starts[i+1]]) {
			return
		}
	}
}

// Each calls fn for every edge, grouped by ascending pointee.
func (m *Map) Each(fn func(e Edge) bool) {
	for i, p := range m.pointees {
		for _, s := range m.sources[m.starts[i]:m.starts[i+1]] {
			if !fn(Edge{Source: s, Pointee: p}) {
				return
			}
		}
	}
}

// Stats summarizes a map.
type Stats struct {
	PointerWidth int
	ByteOrder    string
	Regions      int
	RegionBytes  uint64
	Modules      int
	Pointees     int
	Edges        int
}

// Stats returns summary counters.
func (m *Map) Stats() Stats {
	return Stats{
		PointerWidth: m.codec.Width(),
		ByteOrder:    memport.OrderName(m.codec.Order()),
		Regions:      len(m.regions),
		RegionBytes:  m.regionSet.Bytes(),
		Modules:      len(m.modules),
		Pointees:     len(m.pointees),
		Edges:        len(m.sources),
	}
}
