package scan

import (
	"github.com/coral-mesh/ptrscan/internal/ptrmap"
	"github.com/coral-mesh/ptrscan/internal/safe"
)

// hop links a node to a node of the previous layer.
type hop struct {
	prev int32
	off  int64
}

// layer holds the nodes discovered at one depth in insertion order. hops[i]
// lists the ways node i reaches the previous layer.
type layer struct {
	addrs []uint64
	index map[uint64]int32
	hops  [][]hop
}

func newLayer(capacity int) *layer {
	return &layer{
		addrs: make([]uint64, 0, capacity),
		index: make(map[uint64]int32, capacity),
		hops:  make([][]hop, 0, capacity),
	}
}

func (l *layer) add(addr uint64, h hop) {
	i, ok := l.index[addr]
	if !ok {
		i = int32(len(l.addrs))
		l.index[addr] = i
		l.addrs = append(l.addrs, addr)
		l.hops = append(l.hops, nil)
	}
	l.hops[i] = append(l.hops[i], h)
}

func (l *layer) len() int {
	return len(l.addrs)
}

// expand builds the next layer: every location whose pointer lands in the window
// around a node of prev. accept, when non-nil, filters the new locations.
func expand(m *ptrmap.Map, prev *layer, window OffsetRange, accept func(uint64) bool) *layer {
	next := newLayer(prev.len())
	for j, n := range prev.addrs {
		lo := safe.SaturatingSub(n, window.Below)
		hi := safe.SaturatingAdd(n, window.Above)
		m.Window(lo, hi, func(p uint64, sources []uint64) bool {
			off := safe.Delta(n, p)
			for _, src := range sources {
				if accept != nil && !accept(src) {
					continue
				}
				next.add(src, hop{prev: int32(j), off: off})
			}
			return true
		})
	}
	return next
}

// collapse removes loops from a path. nodes[0] is the base, nodes[len-1] the
// target and offs[i] leads from nodes[i] to nodes[i+1]. When a node repeats,
// everything after its first occurrence up to the repeat is dropped. The
// surviving nodes are returned with their offsets.
func collapse(nodes []uint64, offs []int64) ([]uint64, []int64) {
	outN := make([]uint64, 1, len(nodes))
	outN[0] = nodes[0]
	outO := make([]int64, 0, len(offs))
	pos := map[uint64]int{nodes[0]: 0}

	for e, off := range offs {
		next := nodes[e+1]
		if i, seen := pos[next]; seen {
			for _, n := range outN[i+1:] {
				delete(pos, n)
			}
			outN = outN[:i+1]
			outO = outO[:i]
			continue
		}
		outO = append(outO, off)
		outN = append(outN, next)
		pos[next] = len(outN) - 1
	}
	return outN, outO
}
