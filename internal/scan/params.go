package scan

import (
	"fmt"

	"github.com/coral-mesh/ptrscan/internal/constants"
	perrors "github.com/coral-mesh/ptrscan/internal/errors"
	"github.com/coral-mesh/ptrscan/internal/memport"
)

// OffsetRange is a tolerance window around a node. A pointer whose value lies in
// [node-Below, node+Above] reaches the node with offset node-value.
type OffsetRange struct {
	Below uint64 `yaml:"below"`
	Above uint64 `yaml:"above"`
}

// Offsets returns the smallest and largest offset the window can produce.
func (r OffsetRange) Offsets() (lo, hi int64) {
	return -int64(r.Above), int64(r.Below)
}

// Params controls a chain search. Optional bounds are nil when unset.
type Params struct {
	Target   uint64
	MaxDepth int
	// SearchRange bounds the locations accepted as chain bases.
	SearchRange memport.Range
	Tolerance   OffsetRange
	// LastLevelRange restricts the location read by the final dereference.
	LastLevelRange *memport.Range
	// LastLevelWindow replaces Tolerance for the hop that reaches the target.
	LastLevelWindow *OffsetRange
	MinChainLength  *int
	LastOffset      *int64
	MaxResults      *int
	CollapseCycles  bool
}

// DefaultParams returns parameters searching the whole address space up to the
// default depth with zero tolerance.
func DefaultParams(target uint64) Params {
	return Params{
		Target:         target,
		MaxDepth:       constants.DefaultMaxDepth,
		SearchRange:    memport.Range{Start: 0, End: ^uint64(0)},
		CollapseCycles: true,
	}
}

// lastWindow returns the window used at depth one.
func (p Params) lastWindow() OffsetRange {
	if p.LastLevelWindow != nil {
		return *p.LastLevelWindow
	}
	return p.Tolerance
}

// allowsFinalHop reports whether a pointer stored at src, reaching the target
// with displacement off, satisfies the last level range and window.
func (p Params) allowsFinalHop(src uint64, off int64) bool {
	if p.LastLevelRange != nil && !p.LastLevelRange.Contains(src) {
		return false
	}
	lo, hi := p.lastWindow().Offsets()
	return off >= lo && off <= hi
}

// Validate reports parameter combinations that cannot produce a meaningful scan.
func (p Params) Validate() error {
	if p.MaxDepth <= 0 {
		return fmt.Errorf("max depth must be positive, got %d: %w", p.MaxDepth, perrors.ErrInvalidParameter)
	}
	if p.SearchRange.Empty() {
		return fmt.Errorf("search range %s is empty: %w", p.SearchRange, perrors.ErrInvalidParameter)
	}
	if p.LastLevelRange != nil && p.LastLevelRange.Empty() {
		return fmt.Errorf("last level range %s is empty: %w", *p.LastLevelRange, perrors.ErrInvalidParameter)
	}
	if p.MinChainLength != nil && *p.MinChainLength > p.MaxDepth {
		return fmt.Errorf("min chain length %d exceeds max depth %d: %w", *p.MinChainLength, p.MaxDepth, perrors.ErrInvalidParameter)
	}
	if p.LastOffset != nil {
		lo, hi := p.lastWindow().Offsets()
		if *p.LastOffset < lo || *p.LastOffset > hi {
			return fmt.Errorf("last offset %d outside window [%d, %d]: %w", *p.LastOffset, lo, hi, perrors.ErrInvalidParameter)
		}
	}
	if p.MaxResults != nil && *p.MaxResults <= 0 {
		return fmt.Errorf("max results must be positive, got %d: %w", *p.MaxResults, perrors.ErrInvalidParameter)
	}
	return nil
}
