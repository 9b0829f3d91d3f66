// Package scan searches a pointer map for chains leading from module bases to a
// target address.
//
// The search walks the map backwards in layers. Layer 0 holds the target; layer
// d holds every location that reaches some node of layer d-1 through one
// dereference plus an offset within the tolerance window. Each layer is
// deduplicated by address, and every node remembers all the hops that led to it,
// so distinct paths through a shared node are not lost. Once a layer is built,
// its nodes that lie inside the search range and inside a module are turned into
// chains by enumerating their hop paths down to the target.
package scan

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/zeebo/xxh3"
	"golang.org/x/sync/errgroup"

	"github.com/coral-mesh/ptrscan/internal/chain"
	"github.com/coral-mesh/ptrscan/internal/constants"
	perrors "github.com/coral-mesh/ptrscan/internal/errors"
	"github.com/coral-mesh/ptrscan/internal/logging"
	"github.com/coral-mesh/ptrscan/internal/memport"
	"github.com/coral-mesh/ptrscan/internal/ptrmap"
	"github.com/coral-mesh/ptrscan/internal/safe"
)

// errLimit stops the walk once MaxResults chains were emitted.
var errLimit = errors.New("result limit reached")

// pathCheckInterval is how many enumerated paths pass between context checks.
const pathCheckInterval = 4096

// Scanner runs chain searches. It holds no per-scan state and may be shared.
type Scanner struct {
	Fs      afero.Fs
	Syntax  chain.Syntax
	Workers int
	Logger  zerolog.Logger
}

// NewScanner returns a Scanner writing result files to the OS filesystem.
func NewScanner(logger zerolog.Logger) *Scanner {
	return &Scanner{
		Fs:      afero.NewOsFs(),
		Syntax:  chain.DefaultSyntax(),
		Workers: constants.DefaultScanWorkers,
		Logger:  logging.WithComponent(logger, "scanner"),
	}
}

// Scan collects every chain Walk emits.
func (s *Scanner) Scan(ctx context.Context, m *ptrmap.Map, params Params, modules *memport.ModuleTable) (*chain.ResultSet, error) {
	rs := &chain.ResultSet{Params: params}
	err := s.Walk(ctx, m, params, modules, func(c chain.Chain) error {
		rs.Chains = append(rs.Chains, c)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rs, nil
}

// ScanToFile streams the chains into path. The file is replaced atomically and
// is left untouched when the scan fails or is cancelled.
func (s *Scanner) ScanToFile(ctx context.Context, m *ptrmap.Map, params Params, modules *memport.ModuleTable, path string) (int, error) {
	var count int
	err := safe.WriteFileAtomic(s.Fs, path, 0o644, func(out io.Writer) error {
		w := chain.NewWriter(out, s.Syntax)
		if err := w.Comment("target=0x%x depth=%d", params.Target, params.MaxDepth); err != nil {
			return err
		}
		err := s.Walk(ctx, m, params, modules, w.Write)
		if err != nil {
			return err
		}
		count = w.Count()
		return w.Flush()
	})
	if err != nil {
		if errors.Is(err, perrors.ErrInvalidParameter) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return 0, err
		}
		return 0, fmt.Errorf("write %s: %w: %w", path, err, perrors.ErrIO)
	}
	return count, nil
}

// ScanMany runs several searches over the same map concurrently. Results are
// returned in the order of params.
func (s *Scanner) ScanMany(ctx context.Context, m *ptrmap.Map, params []Params, modules *memport.ModuleTable) ([]*chain.ResultSet, error) {
	out := make([]*chain.ResultSet, len(params))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.Workers, 1))
	for i, p := range params {
		g.Go(func() error {
			rs, err := s.Scan(gctx, m, p, modules)
			if err != nil {
				return fmt.Errorf("scan %d (target 0x%x): %w", i, p.Target, err)
			}
			out[i] = rs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Walk performs the search and calls emit for every accepted chain, shortest
// first. A nil modules table uses the modules recorded in the map. Returning an
// error from emit aborts the walk with that error.
func (s *Scanner) Walk(ctx context.Context, m *ptrmap.Map, params Params, modules *memport.ModuleTable, emit func(chain.Chain) error) error {
	if err := params.Validate(); err != nil {
		return err
	}
	if modules == nil {
		modules = memport.NewModuleTable(m.Modules())
	}

	logger := s.Logger.With().
		Str("scan_id", uuid.NewString()).
		Str("target", fmt.Sprintf("0x%x", params.Target)).
		Logger()
	logger.Info().Int("max_depth", params.MaxDepth).Msg("Starting chain scan")

	w := &walker{
		ctx:     ctx,
		params:  params,
		modules: modules,
		emit:    emit,
		seen:    make(map[xxh3.Uint128]struct{}),
		syntax:  chain.DefaultSyntax(),
	}

	prev := newLayer(1)
	prev.addrs = append(prev.addrs, params.Target)
	prev.hops = append(prev.hops, nil)
	w.layers = []*layer{prev}

	for d := 1; d <= params.MaxDepth; d++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		window, accept := params.Tolerance, (func(uint64) bool)(nil)
		if d == 1 {
			window = params.lastWindow()
			if params.LastLevelRange != nil {
				accept = params.LastLevelRange.Contains
			}
		}
		cur := expand(m, prev, window, accept)
		w.layers = append(w.layers, cur)
		logger.Debug().Int("depth", d).Int("nodes", cur.len()).Msg("Layer expanded")

		if err := w.finalize(d); err != nil {
			if errors.Is(err, errLimit) {
				break
			}
			return err
		}
		if cur.len() == 0 {
			break
		}
		prev = cur
	}

	logger.Info().Int("chains", w.emitted).Msg("Chain scan finished")
	return nil
}

type walker struct {
	ctx     context.Context
	params  Params
	modules *memport.ModuleTable
	emit    func(chain.Chain) error
	syntax  chain.Syntax

	layers  []*layer
	seen    map[xxh3.Uint128]struct{}
	emitted int
	paths   int

	nodes []uint64
	offs  []int64
}

// finalize emits the chains rooted at the base candidates of layer d.
func (w *walker) finalize(d int) error {
	top := w.layers[d]
	for i, addr := range top.addrs {
		if !w.params.SearchRange.Contains(addr) {
			continue
		}
		mod, ok := w.modules.Containing(addr)
		if !ok {
			continue
		}
		w.nodes = append(w.nodes[:0], addr)
		w.offs = w.offs[:0]
		if err := w.descend(mod, d, int32(i)); err != nil {
			return err
		}
	}
	return nil
}

// descend follows every hop of node i in layer d down to the target.
func (w *walker) descend(mod memport.Module, d int, i int32) error {
	if d == 0 {
		return w.accept(mod)
	}
	l, below := w.layers[d], w.layers[d-1]
	for _, h := range l.hops[i] {
		w.nodes = append(w.nodes, below.addrs[h.prev])
		w.offs = append(w.offs, h.off)
		err := w.descend(mod, d-1, h.prev)
		w.nodes = w.nodes[:len(w.nodes)-1]
		w.offs = w.offs[:len(w.offs)-1]
		if err != nil {
			return err
		}
	}
	return nil
}

func (w *walker) accept(mod memport.Module) error {
	w.paths++
	if w.paths%pathCheckInterval == 0 {
		if err := w.ctx.Err(); err != nil {
			return err
		}
	}

	offs := w.offs
	if w.params.CollapseCycles {
		var nodes []uint64
		nodes, offs = collapse(w.nodes, w.offs)
		if len(offs) == 0 {
			return nil
		}
		// A shortened path ends with a hop found at a deeper layer, which
		// never went through the last level constraints.
		if len(offs) < len(w.offs) && !w.params.allowsFinalHop(nodes[len(nodes)-2], offs[len(offs)-1]) {
			return nil
		}
	}
	if len(offs) == 0 {
		return nil
	}
	if w.params.MinChainLength != nil && len(offs) < *w.params.MinChainLength {
		return nil
	}
	if w.params.LastOffset != nil && offs[len(offs)-1] != *w.params.LastOffset {
		return nil
	}

	c := chain.Chain{
		Module:  mod.Name,
		Base:    w.nodes[0] - mod.Start,
		Offsets: append([]int64(nil), offs...),
	}
	key := xxh3.HashString128(w.syntax.Format(c))
	if _, dup := w.seen[key]; dup {
		return nil
	}
	w.seen[key] = struct{}{}

	if err := w.emit(c); err != nil {
		return err
	}
	w.emitted++
	if w.params.MaxResults != nil && w.emitted >= *w.params.MaxResults {
		return errLimit
	}
	return nil
}
