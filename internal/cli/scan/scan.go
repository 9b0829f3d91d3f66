// Package scan implements the scan command, which searches a pointer map for
// chains that reach a target address.
package scan

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/coral-mesh/ptrscan/internal/chain"
	"github.com/coral-mesh/ptrscan/internal/cli/helpers"
	perrors "github.com/coral-mesh/ptrscan/internal/errors"
	pscan "github.com/coral-mesh/ptrscan/internal/scan"
)

type scanFlags struct {
	output      string
	depth       int
	below       uint64
	above       uint64
	searchRange string
	lastRange   string
	lastBelow   int64
	lastAbove   int64
	minLength   int
	lastOffset  string
	maxResults  int
	noCollapse  bool
}

// NewScanCmd creates the scan command.
func NewScanCmd(g *helpers.Globals) *cobra.Command {
	var f scanFlags

	cmd := &cobra.Command{
		Use:   "scan <map-prefix> <address>",
		Short: "Find pointer chains that reach an address",
		Long: `Search a saved pointer map for chains that start in a module and, after
a series of dereferences and offsets, land on address.

Each hop accepts pointers that land up to --below bytes before or
--above bytes after the next node. The hop that reaches the address can
use its own window (--last-below/--last-above) and its pointer can be
restricted to a memory range (--last-range).

Chains are written one per line as module+0xBASE.0xO1.0xO2, the format
'ptrscan filter', 'ptrscan compare' and 'ptrscan resolve' read.

Examples:
  ptrscan scan ./game-1 0x55d0c8a01f40 -o chains.txt
  ptrscan scan ./game-1 0x55d0c8a01f40 --depth 4 --above 0x800 --last-offset 0x10 -o chains.txt`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := helpers.ParseAddress(args[1])
			if err != nil {
				return err
			}
			if f.output == "" {
				return fmt.Errorf("--output is required: %w", perrors.ErrInvalidParameter)
			}

			s, err := g.Load()
			if err != nil {
				return err
			}
			params, err := f.params(cmd.Flags(), s.Config.ScanParams(addr))
			if err != nil {
				return err
			}

			eng, err := s.Engine(nil)
			if err != nil {
				return err
			}
			if err := eng.LoadPointerMapFile(args[0]); err != nil {
				return err
			}

			start := time.Now()
			n, err := eng.ScanPointerChain(cmd.Context(), params, f.output)
			if err != nil {
				return err
			}
			s.HandBack(f.output)
			helpers.Success("Found %d chains to %#x in %s, written to %s",
				n, addr, time.Since(start).Round(time.Millisecond), f.output)
			return nil
		},
	}

	f.AddFlags(cmd.Flags())
	return cmd
}

// AddFlags registers the search flags on flags.
func (f *scanFlags) AddFlags(flags *pflag.FlagSet) {
	flags.StringVarP(&f.output, "output", "o", "", "Chain file to write")
	flags.IntVarP(&f.depth, "depth", "d", 0, "Maximum number of dereferences (config scan.max_depth)")
	flags.Uint64Var(&f.below, "below", 0, "Accept pointers up to this many bytes below a node")
	flags.Uint64Var(&f.above, "above", 0, "Accept pointers up to this many bytes above a node")
	flags.StringVar(&f.searchRange, "search-range", "", "Only start chains in START-END")
	flags.StringVar(&f.lastRange, "last-range", "", "Only accept final pointers stored in START-END")
	flags.Int64Var(&f.lastBelow, "last-below", -1, "Window below the address for the final hop")
	flags.Int64Var(&f.lastAbove, "last-above", -1, "Window above the address for the final hop")
	flags.IntVar(&f.minLength, "min-length", 0, "Drop chains with fewer dereferences")
	flags.StringVar(&f.lastOffset, "last-offset", "", "Keep only chains whose final offset equals this (hex, may be negative)")
	flags.IntVar(&f.maxResults, "max-results", 0, "Stop after this many chains")
	flags.BoolVar(&f.noCollapse, "no-collapse", false, "Keep chains that revisit a node")
}

// params overlays the flags the user set on the config defaults.
func (f *scanFlags) params(flags *pflag.FlagSet, p pscan.Params) (pscan.Params, error) {
	changed := flags.Changed

	if changed("depth") {
		p.MaxDepth = f.depth
	}
	if changed("below") {
		p.Tolerance.Below = f.below
	}
	if changed("above") {
		p.Tolerance.Above = f.above
	}
	if f.searchRange != "" {
		r, err := helpers.ParseRange(f.searchRange)
		if err != nil {
			return p, err
		}
		p.SearchRange = r
	}
	if f.lastRange != "" {
		r, err := helpers.ParseRange(f.lastRange)
		if err != nil {
			return p, err
		}
		p.LastLevelRange = &r
	}
	if f.lastBelow >= 0 || f.lastAbove >= 0 {
		w := p.Tolerance
		if f.lastBelow >= 0 {
			w.Below = uint64(f.lastBelow)
		}
		if f.lastAbove >= 0 {
			w.Above = uint64(f.lastAbove)
		}
		p.LastLevelWindow = &w
	}
	if changed("min-length") {
		p.MinChainLength = &f.minLength
	}
	if f.lastOffset != "" {
		off, err := chain.ParseOffset(f.lastOffset)
		if err != nil {
			return p, err
		}
		p.LastOffset = &off
	}
	if changed("max-results") {
		p.MaxResults = &f.maxResults
	}
	if f.noCollapse {
		p.CollapseCycles = false
	}

	return p, p.Validate()
}
