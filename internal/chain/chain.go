// Package chain defines pointer chains, their textual descriptor form and the
// line-oriented files chains are exchanged through.
//
// A chain names a module, a displacement from the module start, and a list of
// offsets. Resolving it dereferences the base address, adds the first offset,
// dereferences again and so on; the last offset is added after the final
// dereference and the result is not dereferenced.
package chain

import (
	"slices"
)

// Chain is one pointer path from a module-relative base to a target.
type Chain struct {
	Module  string
	Base    uint64
	Offsets []int64
}

// Depth returns the number of dereferences the chain performs.
func (c Chain) Depth() int {
	return len(c.Offsets)
}

// Equal reports whether both chains describe the same path.
func (c Chain) Equal(o Chain) bool {
	return c.Module == o.Module && c.Base == o.Base && slices.Equal(c.Offsets, o.Offsets)
}

// String formats the chain with the default syntax.
func (c Chain) String() string {
	return DefaultSyntax().Format(c)
}

// LastOffset returns the displacement applied after the final dereference.
func (c Chain) LastOffset() (int64, bool) {
	if len(c.Offsets) == 0 {
		return 0, false
	}
	return c.Offsets[len(c.Offsets)-1], true
}

// ResultSet is the outcome of a scan: the parameters that produced it and the
// chains in emission order.
type ResultSet struct {
	Params any
	Chains []Chain
}

// Len returns the number of chains.
func (r *ResultSet) Len() int {
	return len(r.Chains)
}
