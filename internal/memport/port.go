package memport

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// Port is the memory access capability of a target process.
type Port interface {
	// Modules lists the loaded modules usable as chain bases.
	Modules(ctx context.Context) ([]Module, error)
	// Regions lists every mapped region of the address space.
	Regions(ctx context.Context) ([]Region, error)
	// Read returns exactly size bytes at addr. Failures wrap errors.ErrRead.
	Read(addr uint64, size int) ([]byte, error)
}

// Range is a half-open address interval [Start, End).
type Range struct {
	Start uint64 `yaml:"start"`
	End   uint64 `yaml:"end"`
}

// Contains reports whether addr lies in the range.
func (r Range) Contains(addr uint64) bool {
	return addr >= r.Start && addr < r.End
}

// Len returns the number of bytes covered.
func (r Range) Len() uint64 {
	if r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

// Empty reports whether the range covers no address.
func (r Range) Empty() bool {
	return r.End <= r.Start
}

func (r Range) String() string {
	return fmt.Sprintf("0x%x-0x%x", r.Start, r.End)
}

// Module is a loaded image mapping usable as a chain base.
type Module struct {
	Start uint64 `yaml:"start"`
	End   uint64 `yaml:"end"`
	Path  string `yaml:"path"`
	// Name is the label used in chain descriptors. Empty means the base name of Path.
	Name string `yaml:"name,omitempty"`
}

// Range returns the address interval of the module.
func (m Module) Range() Range {
	return Range{Start: m.Start, End: m.End}
}

// Label returns the descriptor label of the module.
func (m Module) Label() string {
	if m.Name != "" {
		return m.Name
	}
	return filepath.Base(m.Path)
}

// Region is a mapped memory region.
type Region struct {
	Start uint64 `yaml:"start"`
	End   uint64 `yaml:"end"`
	// Perms uses the procfs notation, e.g. "rw-p".
	Perms string `yaml:"perms"`
	Path  string `yaml:"path,omitempty"`
}

// Range returns the address interval of the region.
func (r Region) Range() Range {
	return Range{Start: r.Start, End: r.End}
}

// Empty reports whether the region has no bytes.
func (r Region) Empty() bool {
	return r.Range().Empty()
}

// Len returns the region size in bytes.
func (r Region) Len() uint64 {
	return r.Range().Len()
}

// Readable reports whether the region carries the read permission.
func (r Region) Readable() bool {
	return len(r.Perms) > 0 && r.Perms[0] == 'r'
}

// Writable reports whether the region carries the write permission.
func (r Region) Writable() bool {
	return len(r.Perms) > 1 && r.Perms[1] == 'w'
}

// Anonymous reports whether the region is not backed by a file. Pseudo paths
// such as [heap] and [stack] count as anonymous.
func (r Region) Anonymous() bool {
	return r.Path == "" || strings.HasPrefix(r.Path, "[")
}

// RegionFilter selects the regions a pointer map is built from.
type RegionFilter func(Region) bool

// ReadWrite keeps readable and writable regions.
func ReadWrite(r Region) bool {
	return r.Readable() && r.Writable()
}

// AllReadable keeps every readable region.
func AllReadable(r Region) bool {
	return r.Readable()
}

// FilterRegions returns the regions accepted by keep, preserving order.
func FilterRegions(regions []Region, keep RegionFilter) []Region {
	if keep == nil {
		return regions
	}
	out := make([]Region, 0, len(regions))
	for _, r := range regions {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}
