// Package pointermap implements the map command group: building a pointer map
// of the target and inspecting saved maps.
package pointermap

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/ptrscan/internal/cli/helpers"
	"github.com/coral-mesh/ptrscan/internal/cli/target"
	perrors "github.com/coral-mesh/ptrscan/internal/errors"
	"github.com/coral-mesh/ptrscan/internal/memport"
	"github.com/coral-mesh/ptrscan/internal/ptrmap"
)

// NewMapCmd creates the map command group.
func NewMapCmd(g *helpers.Globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "map",
		Short: "Build and inspect pointer maps",
		Long: `A pointer map records every aligned word of the target's writable
memory that points back into writable memory. It is the input of
'ptrscan scan' and is saved as PREFIX.idx plus PREFIX.dat.`,
	}

	cmd.AddCommand(newBuildCmd(g))
	cmd.AddCommand(newInfoCmd(g))
	return cmd
}

func newBuildCmd(g *helpers.Globals) *cobra.Command {
	var (
		modules  []string
		noBar    bool
		maxEdges uint64
	)

	cmd := &cobra.Command{
		Use:   "build <prefix>",
		Short: "Build a pointer map of the target and save it",
		Long: `Scan the target's memory and save the pointer map to PREFIX.idx and
PREFIX.dat. Every module is a candidate chain base unless --module
narrows the set; the labels are those printed by 'ptrscan modules'.

Examples:
  sudo ptrscan map build --name game ./game-1
  ptrscan map build --snapshot ./snap-1 --module game --module libengine.so ./snap-1/map`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := args[0]
			s, err := g.Open(cmd.Context())
			if err != nil {
				return err
			}
			if maxEdges > 0 {
				s.Config.Build.MaxEdges = maxEdges
			}

			var bar *helpers.Progress
			var progress ptrmap.ProgressFunc
			if !noBar && helpers.Interactive() {
				bar = helpers.NewProgress("scanning")
				progress = bar.Func()
			}
			eng, err := s.Engine(progress)
			if err != nil {
				return err
			}

			all, err := eng.ListModules(cmd.Context())
			if err != nil {
				return err
			}
			selected, err := selectModules(all, modules)
			if err != nil {
				return err
			}
			if err := eng.SetModules(selected); err != nil {
				return err
			}

			helpers.Info("Building pointer map with %d base modules", len(selected))
			start := time.Now()
			err = eng.CreatePointerMapFile(cmd.Context(), prefix)
			if bar != nil {
				bar.Finish()
			}
			if err != nil {
				return err
			}

			index, payload := ptrmap.Paths(prefix)
			s.HandBack(index, payload)
			st := eng.PointerMap().Stats()
			helpers.Success("Mapped %d pointers to %d targets over %d regions in %s",
				st.Edges, st.Pointees, st.Regions, time.Since(start).Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&modules, "module", "m", nil, "Module label to use as a chain base (repeatable, prefix match)")
	cmd.Flags().BoolVar(&noBar, "no-progress", false, "Disable the progress bar (off when stderr is not a terminal)")
	cmd.Flags().Uint64Var(&maxEdges, "max-edges", 0, "Abort when the map exceeds this many pointers")
	return cmd
}

// selectModules keeps the modules whose label equals or starts with one of
// wanted. An empty wanted keeps everything.
func selectModules(all []memport.Module, wanted []string) ([]memport.Module, error) {
	if len(wanted) == 0 {
		return all, nil
	}
	table := memport.NewModuleTable(all)
	seen := make(map[string]bool)
	var out []memport.Module
	for _, w := range wanted {
		matches := table.WithPrefix(w)
		if len(matches) == 0 {
			return nil, fmt.Errorf("no module matches %q: %w", w, perrors.ErrModuleNotFound)
		}
		for _, m := range matches {
			if !seen[m.Label()] {
				seen[m.Label()] = true
				out = append(out, m)
			}
		}
	}
	return out, nil
}

// Summary describes a saved map.
type Summary struct {
	Prefix       string `header:"Prefix" json:"prefix" yaml:"prefix"`
	PointerWidth int    `header:"Pointer width" json:"pointer_width" yaml:"pointer_width"`
	ByteOrder    string `header:"Byte order" json:"byte_order" yaml:"byte_order"`
	Regions      int    `header:"Regions" json:"regions" yaml:"regions"`
	RegionBytes  uint64 `header:"Region bytes" json:"region_bytes" yaml:"region_bytes"`
	Modules      int    `header:"Modules" json:"modules" yaml:"modules"`
	Pointees     int    `header:"Pointees" json:"pointees" yaml:"pointees"`
	Edges        int    `header:"Pointers" json:"pointers" yaml:"pointers"`
}

func newInfoCmd(g *helpers.Globals) *cobra.Command {
	var (
		format      string
		showModules bool
	)

	cmd := &cobra.Command{
		Use:   "info <prefix>",
		Short: "Summarize a saved pointer map",
		Long: `Load PREFIX.idx and PREFIX.dat, verify their checksums and structure,
and print summary counters. No target is needed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := helpers.ValidateFormat(format, helpers.AllFormats); err != nil {
				return err
			}
			s, err := g.Load()
			if err != nil {
				return err
			}

			index, payload := ptrmap.Paths(args[0])
			m, err := s.Store().Load(index, payload, ptrmap.LoadOptions{
				PointerWidth: s.Codec.Width(),
				ByteOrder:    s.Codec.Order(),
			})
			if err != nil {
				return err
			}

			f, err := helpers.NewFormatter(helpers.OutputFormat(format))
			if err != nil {
				return err
			}
			if showModules {
				return f.Format(target.ModuleRows(m.Modules()), cmd.OutOrStdout())
			}
			st := m.Stats()
			return f.Format(Summary{
				Prefix:       args[0],
				PointerWidth: st.PointerWidth,
				ByteOrder:    st.ByteOrder,
				Regions:      st.Regions,
				RegionBytes:  st.RegionBytes,
				Modules:      st.Modules,
				Pointees:     st.Pointees,
				Edges:        st.Edges,
			}, cmd.OutOrStdout())
		},
	}

	helpers.AddFormatFlag(cmd, &format, helpers.FormatTable, helpers.AllFormats)
	cmd.Flags().BoolVar(&showModules, "modules", false, "List the modules recorded in the map")
	return cmd
}
