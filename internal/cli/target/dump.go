package target

import (
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/coral-mesh/ptrscan/internal/cli/helpers"
	"github.com/coral-mesh/ptrscan/internal/memport"
)

// NewDumpCmd creates the dump command.
func NewDumpCmd(g *helpers.Globals) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "dump <dir>",
		Short: "Capture the target's memory into a snapshot directory",
		Long: `Copy the modules and regions of a live process into dir. Any later
command accepts --snapshot dir in place of --pid to work on the frozen
copy, which makes map builds and filters reproducible.

Examples:
  sudo ptrscan dump --name game ./snap-1
  ptrscan map build --snapshot ./snap-1 ./snap-1/map`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]
			s, err := g.Open(cmd.Context())
			if err != nil {
				return err
			}

			opts := memport.CaptureOptions{Filter: memport.ReadWrite, Logger: s.Logger}
			if all {
				opts.Filter = memport.AllReadable
			}
			snap, err := memport.Capture(cmd.Context(), s.Port, opts)
			if err != nil {
				return err
			}
			snap.Meta = memport.SnapshotMeta{
				Pid:          s.Pid,
				PointerWidth: s.Codec.Width(),
				ByteOrder:    memport.OrderName(s.Codec.Order()),
				CapturedAt:   time.Now().UTC(),
			}

			if err := memport.SaveSnapshot(s.Fs, dir, snap); err != nil {
				return err
			}
			written, _ := afero.Glob(s.Fs, filepath.Join(dir, "*"))
			s.HandBack(append([]string{dir}, written...)...)

			modules, _ := snap.Modules(cmd.Context())
			regions, _ := snap.Regions(cmd.Context())
			helpers.Success("Captured %d modules and %d regions into %s", len(modules), len(regions), dir)
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Capture read-only regions too")
	return cmd
}
