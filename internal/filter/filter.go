// Package filter narrows chain sets by re-resolving them against current memory.
//
// Filters never touch the pointer map: they are meant to run against a later
// state of the process than the one the map was built from, dropping the chains
// that no longer lead where they should.
package filter

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/coral-mesh/ptrscan/internal/chain"
	"github.com/coral-mesh/ptrscan/internal/constants"
	perrors "github.com/coral-mesh/ptrscan/internal/errors"
	"github.com/coral-mesh/ptrscan/internal/logging"
	"github.com/coral-mesh/ptrscan/internal/memport"
	"github.com/coral-mesh/ptrscan/internal/resolve"
	"github.com/coral-mesh/ptrscan/internal/safe"
)

// batchSize is the number of chains handed to one worker, and read from a file
// at a time by FilterFile.
const batchSize = 1024

// Predicate decides whether a resolved chain is kept.
type Predicate struct {
	Name string
	// Strict resolves with region validation: every dereferenced location and
	// the final address must be mapped.
	Strict bool
	// Keep is called with the final address of a chain that resolved.
	Keep func(port memport.Port, addr uint64) bool
}

// Invalid keeps the chains that still resolve inside mapped memory.
func Invalid() Predicate {
	return Predicate{
		Name:   "invalid",
		Strict: true,
		Keep:   func(memport.Port, uint64) bool { return true },
	}
}

// Value keeps the chains whose final address holds exactly expected.
func Value(expected []byte) Predicate {
	want := append([]byte(nil), expected...)
	return Predicate{
		Name: "value",
		Keep: func(port memport.Port, addr uint64) bool {
			got, err := port.Read(addr, len(want))
			return err == nil && bytes.Equal(got, want)
		},
	}
}

// Address keeps the chains resolving to expected.
func Address(expected uint64) Predicate {
	return Predicate{
		Name: "address",
		Keep: func(_ memport.Port, addr uint64) bool { return addr == expected },
	}
}

// Options configures a Filter.
type Options struct {
	Codec        memport.Codec
	Syntax       chain.Syntax
	Workers      int
	CacheEntries int
	Logger       zerolog.Logger
}

// DefaultOptions returns options for a 64-bit little endian target.
func DefaultOptions() Options {
	return Options{
		Codec:        memport.CodecFor64(),
		Syntax:       chain.DefaultSyntax(),
		Workers:      constants.DefaultFilterWorkers,
		CacheEntries: constants.DefaultReadCacheEntries,
		Logger:       zerolog.Nop(),
	}
}

// Filter applies predicates to chains through a port.
type Filter struct {
	port    memport.Port
	modules *memport.ModuleTable
	opts    Options
}

// New returns a Filter. modules must describe the same process state as port.
func New(port memport.Port, modules *memport.ModuleTable, opts Options) *Filter {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.CacheEntries <= 0 {
		opts.CacheEntries = constants.DefaultReadCacheEntries
	}
	if opts.Syntax == (chain.Syntax{}) {
		opts.Syntax = chain.DefaultSyntax()
	}
	opts.Logger = logging.WithComponent(opts.Logger, "filter")
	return &Filter{port: port, modules: modules, opts: opts}
}

// Invalid drops chains that fail to resolve or leave mapped memory.
func (f *Filter) Invalid(ctx context.Context, chains []chain.Chain) ([]chain.Chain, error) {
	return f.Apply(ctx, chains, Invalid())
}

// ByValue keeps chains whose final address holds expected.
func (f *Filter) ByValue(ctx context.Context, chains []chain.Chain, expected []byte) ([]chain.Chain, error) {
	return f.Apply(ctx, chains, Value(expected))
}

// ByAddress keeps chains resolving to expected.
func (f *Filter) ByAddress(ctx context.Context, chains []chain.Chain, expected uint64) ([]chain.Chain, error) {
	return f.Apply(ctx, chains, Address(expected))
}

// Apply evaluates pred over chains concurrently and returns the kept chains in
// input order. A chain that fails to resolve is dropped.
func (f *Filter) Apply(ctx context.Context, chains []chain.Chain, pred Predicate) ([]chain.Chain, error) {
	r, err := f.resolver(ctx, pred)
	if err != nil {
		return nil, err
	}
	return f.apply(ctx, r, chains, pred)
}

func (f *Filter) resolver(ctx context.Context, pred Predicate) (*resolve.Resolver, error) {
	opts := resolve.Options{
		Codec:  f.opts.Codec,
		Syntax: f.opts.Syntax,
		Cache:  newPointerCache(f.opts.CacheEntries),
	}
	if pred.Strict {
		regions, err := f.port.Regions(ctx)
		if err != nil {
			return nil, fmt.Errorf("list regions: %w", err)
		}
		opts.Regions = memport.NewRegionSet(regions)
	}
	return resolve.New(f.port, f.modules, opts), nil
}

func (f *Filter) apply(ctx context.Context, r *resolve.Resolver, chains []chain.Chain, pred Predicate) ([]chain.Chain, error) {
	keep := make([]bool, len(chains))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.opts.Workers)
	for lo := 0; lo < len(chains); lo += batchSize {
		hi := min(lo+batchSize, len(chains))
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for i := lo; i < hi; i++ {
				addr, err := r.ResolveChain(chains[i])
				keep[i] = err == nil && pred.Keep(f.port, addr)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]chain.Chain, 0, len(chains))
	for i, c := range chains {
		if keep[i] {
			out = append(out, c)
		}
	}
	return out, nil
}

// Result counts the chains read and kept by FilterFile.
type Result struct {
	Read int
	Kept int
}

// FilterFile streams the chains of in through pred and atomically writes the
// kept ones to out. out may name the same file as in.
func (f *Filter) FilterFile(ctx context.Context, fs afero.Fs, in, out string, pred Predicate) (Result, error) {
	var res Result
	r, err := f.resolver(ctx, pred)
	if err != nil {
		return res, err
	}

	src, err := fs.Open(in)
	if err != nil {
		return res, fmt.Errorf("open %s: %w: %w", in, err, perrors.ErrIO)
	}
	defer perrors.DeferClose(f.opts.Logger, src, "failed to close chain file")

	err = safe.WriteFileAtomic(fs, out, 0o644, func(dst io.Writer) error {
		reader := chain.NewReader(src, f.opts.Syntax)
		writer := chain.NewWriter(dst, f.opts.Syntax)
		batch := make([]chain.Chain, 0, batchSize*f.opts.Workers)

		flush := func() error {
			kept, err := f.apply(ctx, r, batch, pred)
			if err != nil {
				return err
			}
			for _, c := range kept {
				if err := writer.Write(c); err != nil {
					return err
				}
			}
			res.Read += len(batch)
			res.Kept += len(kept)
			batch = batch[:0]
			return nil
		}

		for reader.Next() {
			batch = append(batch, reader.Chain())
			if len(batch) == cap(batch) {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		if err := reader.Err(); err != nil {
			return err
		}
		if err := flush(); err != nil {
			return err
		}
		return writer.Flush()
	})
	if err != nil {
		return Result{}, fmt.Errorf("filter %s: %w", in, err)
	}

	f.opts.Logger.Info().
		Str("filter", pred.Name).
		Int("read", res.Read).
		Int("kept", res.Kept).
		Msg("Filtered chain file")
	return res, nil
}
