package ptrmap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/mem"
	"golang.org/x/sync/errgroup"

	"github.com/coral-mesh/ptrscan/internal/constants"
	perrors "github.com/coral-mesh/ptrscan/internal/errors"
	"github.com/coral-mesh/ptrscan/internal/logging"
	"github.com/coral-mesh/ptrscan/internal/memport"
	"github.com/coral-mesh/ptrscan/internal/safe"
)

// ProgressFunc receives the number of bytes processed so far and the total.
type ProgressFunc func(done, total uint64)

// BuildOptions configures Build.
type BuildOptions struct {
	Codec memport.Codec
	// ChunkSize is the read size per port call, rounded down to the pointer width.
	ChunkSize int
	Workers   int
	// RegionFilter selects the regions scanned and recorded. Nil keeps readable
	// and writable regions.
	RegionFilter memport.RegionFilter
	// MaxEdges caps the number of stored pointers. Zero means unlimited.
	MaxEdges uint64
	// CheckMemory compares the edge table size against available system memory.
	CheckMemory bool
	Progress    ProgressFunc
	Logger      zerolog.Logger
}

// DefaultBuildOptions returns options for a 64-bit little endian target.
func DefaultBuildOptions() BuildOptions {
	return BuildOptions{
		Codec:        memport.CodecFor64(),
		ChunkSize:    constants.DefaultChunkSize,
		Workers:      constants.DefaultBuildWorkers,
		RegionFilter: memport.ReadWrite,
		CheckMemory:  true,
		Logger:       zerolog.Nop(),
	}
}

const edgeSize = uint64(unsafe.Sizeof(Edge{}))

// availableMemory is replaced in tests.
var availableMemory = func(ctx context.Context) (uint64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.Available, nil
}

// Build scans the selected regions of port and records every aligned word whose
// value points into one of those regions. When modules is nil they are listed
// from the port.
func Build(ctx context.Context, port memport.Port, modules []memport.Module, opts BuildOptions) (*Map, error) {
	if opts.Codec.Width() == 0 {
		opts.Codec = memport.CodecFor64()
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.RegionFilter == nil {
		opts.RegionFilter = memport.ReadWrite
	}
	width := opts.Codec.Width()
	chunk := opts.ChunkSize - opts.ChunkSize%width
	if chunk <= 0 {
		chunk = constants.DefaultChunkSize
	}

	if modules == nil {
		var err error
		if modules, err = port.Modules(ctx); err != nil {
			return nil, fmt.Errorf("list modules: %w", err)
		}
	}
	all, err := port.Regions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list regions: %w", err)
	}
	regions := memport.FilterRegions(all, opts.RegionFilter)
	valid := memport.NewRegionSet(regions)
	total := valid.Bytes()

	logger := logging.WithComponent(opts.Logger, "ptrmap-builder")
	logger.Info().
		Int("regions", len(regions)).
		Uint64("bytes", total).
		Int("width", width).
		Msg("Building pointer map")

	b := &builder{
		port:   port,
		codec:  opts.Codec,
		valid:  valid,
		chunk:  chunk,
		max:    opts.MaxEdges,
		total:  total,
		logger: logger,
		report: opts.Progress,
	}
	if opts.CheckMemory {
		// Collected edges plus their CSR copy must fit in available memory.
		avail, err := availableMemory(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to query available memory")
		} else {
			b.budget = avail / (edgeSize * 2)
			b.checkBudget = true
			if worst := total / uint64(width); worst > b.budget {
				logger.Debug().
					Uint64("worst_case_edges", worst).
					Uint64("edge_budget", b.budget).
					Msg("Pointer map may not fit in available memory")
			}
		}
	}

	perRegion := make([][]Edge, len(regions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i, r := range regions {
		g.Go(func() error {
			edges, err := b.scanRegion(gctx, r)
			if err != nil {
				return err
			}
			perRegion[i] = edges
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	count := b.edges.Load()
	edges := make([]Edge, 0, count)
	for i := range perRegion {
		edges = append(edges, perRegion[i]...)
		perRegion[i] = nil
	}
	m := New(opts.Codec, regions, modules, edges)
	logger.Info().
		Int("pointees", m.Pointees()).
		Int("edges", m.Edges()).
		Msg("Pointer map built")
	return m, nil
}

type builder struct {
	port   memport.Port
	codec  memport.Codec
	valid  *memport.RegionSet
	chunk  int
	max    uint64
	total  uint64
	logger zerolog.Logger

	// budget is the edge count available memory holds, checked when checkBudget.
	budget      uint64
	checkBudget bool

	edges atomic.Uint64
	done  atomic.Uint64

	reportMu sync.Mutex
	report   ProgressFunc
}

func (b *builder) scanRegion(ctx context.Context, r memport.Region) ([]Edge, error) {
	width := uint64(b.codec.Width())
	var edges []Edge

	for addr := r.Start; addr < r.End; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		size, _ := safe.Uint64ToInt(min(r.End-addr, uint64(b.chunk)))
		buf, err := b.port.Read(addr, size)
		if err != nil {
			if errors.Is(err, perrors.ErrRead) {
				// Edges from the chunks before the unreadable one are kept.
				b.logger.Debug().Err(err).
					Str("region", r.Range().String()).
					Str("from", fmt.Sprintf("0x%x", addr)).
					Msg("Skipping unreadable rest of region")
				b.progress(r.End - addr)
				return edges, nil
			}
			return nil, fmt.Errorf("read region %s: %w: %w", r.Range(), err, perrors.ErrIO)
		}

		found := uint64(0)
		for off := uint64(0); off+width <= uint64(len(buf)); off += width {
			p := b.codec.Decode(buf[off:])
			if b.valid.Contains(p) {
				edges = append(edges, Edge{Source: addr + off, Pointee: p})
				found++
			}
		}
		if found > 0 {
			n := b.edges.Add(found)
			if b.max > 0 && n > b.max {
				return nil, fmt.Errorf("pointer map exceeds %d edges: %w", b.max, perrors.ErrOutOfMemory)
			}
			if b.checkBudget && n > b.budget {
				return nil, fmt.Errorf("pointer map needs %d bytes, only %d fit in available memory: %w",
					n*edgeSize*2, b.budget*edgeSize*2, perrors.ErrOutOfMemory)
			}
		}

		b.progress(uint64(size))
		addr += uint64(size)
	}
	return edges, nil
}

func (b *builder) progress(n uint64) {
	done := b.done.Add(n)
	if b.report == nil {
		return
	}
	b.reportMu.Lock()
	defer b.reportMu.Unlock()
	b.report(done, b.total)
}
