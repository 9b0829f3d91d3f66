// Package engine bundles the pointer-chain components behind one owned object:
// it keeps the selected modules, the pointer width, the descriptor syntax and
// the current pointer map, and enforces the order in which operations may be
// called.
package engine

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/coral-mesh/ptrscan/internal/chain"
	"github.com/coral-mesh/ptrscan/internal/compare"
	perrors "github.com/coral-mesh/ptrscan/internal/errors"
	"github.com/coral-mesh/ptrscan/internal/filter"
	"github.com/coral-mesh/ptrscan/internal/logging"
	"github.com/coral-mesh/ptrscan/internal/memport"
	"github.com/coral-mesh/ptrscan/internal/ptrmap"
	"github.com/coral-mesh/ptrscan/internal/resolve"
	"github.com/coral-mesh/ptrscan/internal/scan"
	"github.com/coral-mesh/ptrscan/pkg/version"
)

// Options configures an Engine.
type Options struct {
	Fs     afero.Fs
	Build  ptrmap.BuildOptions
	Filter filter.Options
	Syntax chain.Syntax
	Logger zerolog.Logger
}

// DefaultOptions returns options for a 64-bit little endian target on the OS
// filesystem.
func DefaultOptions() Options {
	return Options{
		Fs:     afero.NewOsFs(),
		Build:  ptrmap.DefaultBuildOptions(),
		Filter: filter.DefaultOptions(),
		Syntax: chain.DefaultSyntax(),
		Logger: zerolog.Nop(),
	}
}

// Engine drives scans against one memory port. It is safe for concurrent use;
// operations that replace the map or modules wait for running readers.
type Engine struct {
	port   memport.Port
	opts   Options
	logger zerolog.Logger

	mu      sync.RWMutex
	codec   memport.Codec
	syntax  chain.Syntax
	modules *memport.ModuleTable
	ptrs    *ptrmap.Map
}

// New returns an Engine reading memory through port.
func New(port memport.Port, opts Options) *Engine {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Syntax == (chain.Syntax{}) {
		opts.Syntax = chain.DefaultSyntax()
	}
	codec := opts.Build.Codec
	if codec.Width() == 0 {
		codec = memport.CodecFor64()
	}
	return &Engine{
		port:   port,
		opts:   opts,
		logger: logging.WithComponent(opts.Logger, "engine"),
		codec:  codec,
		syntax: opts.Syntax,
	}
}

// Version returns the library version.
func (e *Engine) Version() string {
	return version.Version
}

// ListModules returns the modules the port currently reports, labeled.
func (e *Engine) ListModules(ctx context.Context) ([]memport.Module, error) {
	modules, err := e.port.Modules(ctx)
	if err != nil {
		return nil, fmt.Errorf("list modules: %w", err)
	}
	return memport.NewModuleTable(modules).Modules(), nil
}

// SetModules selects the modules used as chain bases.
func (e *Engine) SetModules(modules []memport.Module) error {
	if len(modules) == 0 {
		return fmt.Errorf("no modules given: %w", perrors.ErrInvalidParameter)
	}
	for _, m := range modules {
		if m.End <= m.Start {
			return fmt.Errorf("module %s has empty range: %w", m.Label(), perrors.ErrInvalidParameter)
		}
	}
	table := memport.NewModuleTable(modules)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.modules = table
	return nil
}

// Modules returns the selected modules, or nil when none were set.
func (e *Engine) Modules() []memport.Module {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.modules == nil {
		return nil
	}
	return e.modules.Modules()
}

// SetBitness selects the pointer width in bytes, keeping the byte order.
func (e *Engine) SetBitness(width int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	codec, err := memport.NewCodec(width, e.codec.Order())
	if err != nil {
		return err
	}
	e.codec = codec
	return nil
}

// SetByteOrder selects the target byte order, keeping the pointer width.
func (e *Engine) SetByteOrder(order binary.ByteOrder) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	codec, err := memport.NewCodec(e.codec.Width(), order)
	if err != nil {
		return err
	}
	e.codec = codec
	return nil
}

// SetSyntax selects the descriptor separators.
func (e *Engine) SetSyntax(s chain.Syntax) error {
	if err := s.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.syntax = s
	return nil
}

// CreatePointerMap builds a map of the port's memory and keeps it resident.
func (e *Engine) CreatePointerMap(ctx context.Context) (*ptrmap.Map, error) {
	e.mu.RLock()
	modules, codec := e.modules, e.codec
	e.mu.RUnlock()
	if modules == nil {
		return nil, fmt.Errorf("create pointer map before setting modules: %w", perrors.ErrCall)
	}

	opts := e.opts.Build
	opts.Codec = codec
	opts.Logger = e.opts.Logger
	m, err := ptrmap.Build(ctx, e.port, modules.Modules(), opts)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.ptrs = m
	e.mu.Unlock()
	return m, nil
}

// CreatePointerMapFile builds a map, writes it to prefix.idx and prefix.dat, and
// keeps it resident.
func (e *Engine) CreatePointerMapFile(ctx context.Context, prefix string) error {
	m, err := e.CreatePointerMap(ctx)
	if err != nil {
		return err
	}
	index, payload := ptrmap.Paths(prefix)
	return e.store().Save(m, index, payload)
}

// LoadPointerMapFile loads prefix.idx and prefix.dat. The map must match the
// configured pointer width and byte order. The modules recorded in the map
// become the selected modules.
func (e *Engine) LoadPointerMapFile(prefix string) error {
	e.mu.RLock()
	codec := e.codec
	e.mu.RUnlock()

	index, payload := ptrmap.Paths(prefix)
	m, err := e.store().Load(index, payload, ptrmap.LoadOptions{
		PointerWidth: codec.Width(),
		ByteOrder:    codec.Order(),
	})
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.ptrs = m
	e.modules = memport.NewModuleTable(m.Modules())
	return nil
}

// PointerMap returns the resident map, or nil.
func (e *Engine) PointerMap() *ptrmap.Map {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ptrs
}

// ScanPointerChain searches the resident map and writes the chains to path.
func (e *Engine) ScanPointerChain(ctx context.Context, params scan.Params, path string) (int, error) {
	e.mu.RLock()
	m, modules, syntax := e.ptrs, e.modules, e.syntax
	e.mu.RUnlock()
	if m == nil {
		return 0, fmt.Errorf("scan before creating or loading a pointer map: %w", perrors.ErrCall)
	}

	s := &scan.Scanner{
		Fs:      e.opts.Fs,
		Syntax:  syntax,
		Workers: 1,
		Logger:  logging.WithComponent(e.opts.Logger, "scanner"),
	}
	return s.ScanToFile(ctx, m, params, modules, path)
}

// ReadMemoryExact reads exactly n bytes at addr.
func (e *Engine) ReadMemoryExact(addr uint64, n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("negative read size %d: %w", n, perrors.ErrInvalidParameter)
	}
	return e.port.Read(addr, n)
}

// Resolve returns the address a descriptor designates in the port's current
// memory.
func (e *Engine) Resolve(ctx context.Context, desc string) (uint64, error) {
	r, err := e.resolver(ctx)
	if err != nil {
		return 0, err
	}
	return r.Resolve(desc)
}

// Trace resolves a descriptor and returns every dereference.
func (e *Engine) Trace(ctx context.Context, desc string) ([]resolve.Step, error) {
	r, err := e.resolver(ctx)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	syntax := e.syntax
	e.mu.RUnlock()
	c, err := syntax.Parse(desc)
	if err != nil {
		return nil, err
	}
	return r.Trace(c)
}

// FilterFile applies pred to the chains of in and writes the kept ones to out.
func (e *Engine) FilterFile(ctx context.Context, in, out string, pred filter.Predicate) (filter.Result, error) {
	modules, err := e.currentModules(ctx)
	if err != nil {
		return filter.Result{}, err
	}
	e.mu.RLock()
	opts := e.opts.Filter
	opts.Codec, opts.Syntax = e.codec, e.syntax
	e.mu.RUnlock()
	opts.Logger = e.opts.Logger

	return filter.New(e.port, modules, opts).FilterFile(ctx, e.opts.Fs, in, out, pred)
}

// CompareFiles writes the chains of a that also appear in b to out.
func (e *Engine) CompareFiles(ctx context.Context, a, b, out string) (compare.Result, error) {
	e.mu.RLock()
	syntax := e.syntax
	e.mu.RUnlock()
	return compare.IntersectFiles(ctx, e.opts.Fs, a, b, out, syntax, e.opts.Logger)
}

func (e *Engine) store() *ptrmap.Store {
	return &ptrmap.Store{Fs: e.opts.Fs, Logger: e.opts.Logger}
}

func (e *Engine) resolver(ctx context.Context) (*resolve.Resolver, error) {
	modules, err := e.currentModules(ctx)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return resolve.New(e.port, modules, resolve.Options{Codec: e.codec, Syntax: e.syntax}), nil
}

// currentModules returns the selected modules, falling back to the port's
// current list so chains can be checked against a fresh process.
func (e *Engine) currentModules(ctx context.Context) (*memport.ModuleTable, error) {
	e.mu.RLock()
	modules := e.modules
	e.mu.RUnlock()
	if modules != nil {
		return modules, nil
	}
	list, err := e.port.Modules(ctx)
	if err != nil {
		return nil, fmt.Errorf("list modules: %w", err)
	}
	return memport.NewModuleTable(list), nil
}
