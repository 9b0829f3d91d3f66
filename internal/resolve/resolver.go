// Package resolve follows pointer chains through a memory port to the address
// they designate.
package resolve

import (
	"errors"
	"fmt"

	"github.com/coral-mesh/ptrscan/internal/chain"
	perrors "github.com/coral-mesh/ptrscan/internal/errors"
	"github.com/coral-mesh/ptrscan/internal/memport"
)

// PointerCache memoizes pointer reads. Implementations must be safe for
// concurrent use.
type PointerCache interface {
	Get(addr uint64) (uint64, bool)
	Add(addr, value uint64)
}

// Options configures a Resolver.
type Options struct {
	Codec  memport.Codec
	Syntax chain.Syntax
	// Regions, when set, requires every dereferenced location and the final
	// address to be mapped.
	Regions *memport.RegionSet
	Cache   PointerCache
}

// Resolver resolves chains against a port.
type Resolver struct {
	port    memport.Port
	modules *memport.ModuleTable
	opts    Options
}

// Step is one dereference of a chain.
type Step struct {
	// Address is the location read.
	Address uint64
	// Value is the pointer stored at Address.
	Value  uint64
	Offset int64
	// Next is Value+Offset, the location read by the following step.
	Next uint64
}

// New returns a Resolver. A zero codec means 64-bit little endian and a zero
// syntax the default separators.
func New(port memport.Port, modules *memport.ModuleTable, opts Options) *Resolver {
	if opts.Codec.Width() == 0 {
		opts.Codec = memport.CodecFor64()
	}
	if opts.Syntax == (chain.Syntax{}) {
		opts.Syntax = chain.DefaultSyntax()
	}
	return &Resolver{port: port, modules: modules, opts: opts}
}

// Resolve parses desc and resolves it.
func (r *Resolver) Resolve(desc string) (uint64, error) {
	c, err := r.opts.Syntax.Parse(desc)
	if err != nil {
		return 0, err
	}
	return r.ResolveChain(c)
}

// ResolveChain returns the final address of c. The final address itself is not
// dereferenced.
func (r *Resolver) ResolveChain(c chain.Chain) (uint64, error) {
	addr, err := r.base(c)
	if err != nil {
		return 0, err
	}
	for _, off := range c.Offsets {
		p, err := r.pointerAt(addr)
		if err != nil {
			return 0, err
		}
		addr = r.opts.Codec.Add(p, off)
	}
	if err := r.checkMapped(addr); err != nil {
		return 0, err
	}
	return addr, nil
}

// Trace resolves c and returns every dereference performed.
func (r *Resolver) Trace(c chain.Chain) ([]Step, error) {
	addr, err := r.base(c)
	if err != nil {
		return nil, err
	}
	steps := make([]Step, 0, len(c.Offsets))
	for _, off := range c.Offsets {
		p, err := r.pointerAt(addr)
		if err != nil {
			return steps, err
		}
		next := r.opts.Codec.Add(p, off)
		steps = append(steps, Step{Address: addr, Value: p, Offset: off, Next: next})
		addr = next
	}
	return steps, r.checkMapped(addr)
}

func (r *Resolver) base(c chain.Chain) (uint64, error) {
	mod, ok := r.modules.Lookup(c.Module)
	if !ok {
		return 0, fmt.Errorf("module %q: %w", c.Module, perrors.ErrModuleNotFound)
	}
	return (mod.Start + c.Base) & r.opts.Codec.Mask(), nil
}

func (r *Resolver) pointerAt(addr uint64) (uint64, error) {
	if r.opts.Cache != nil {
		if v, ok := r.opts.Cache.Get(addr); ok {
			return v, nil
		}
	}
	width := r.opts.Codec.Width()
	if r.opts.Regions != nil && !r.opts.Regions.ContainsSpan(addr, width) {
		return 0, fmt.Errorf("dereference 0x%x: not mapped: %w", addr, perrors.ErrRead)
	}
	b, err := r.port.Read(addr, width)
	if err != nil {
		if !errors.Is(err, perrors.ErrRead) {
			return 0, fmt.Errorf("dereference 0x%x: %w: %w", addr, err, perrors.ErrRead)
		}
		return 0, fmt.Errorf("dereference 0x%x: %w", addr, err)
	}
	if len(b) < width {
		return 0, fmt.Errorf("dereference 0x%x: short read: %w", addr, perrors.ErrRead)
	}
	v := r.opts.Codec.Decode(b)
	if r.opts.Cache != nil {
		r.opts.Cache.Add(addr, v)
	}
	return v, nil
}

func (r *Resolver) checkMapped(addr uint64) error {
	if r.opts.Regions != nil && !r.opts.Regions.Contains(addr) {
		return fmt.Errorf("final address 0x%x: not mapped: %w", addr, perrors.ErrRead)
	}
	return nil
}
