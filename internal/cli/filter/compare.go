package filter

import (
	"github.com/spf13/cobra"

	"github.com/coral-mesh/ptrscan/internal/cli/helpers"
	"github.com/coral-mesh/ptrscan/internal/engine"
)

// NewCompareCmd creates the compare command.
func NewCompareCmd(g *helpers.Globals) *cobra.Command {
	return &cobra.Command{
		Use:   "compare <a> <b> <out>",
		Short: "Keep the chains found by two scans",
		Long: `Write the chains of a that also appear in b to out, in a's order.
Scanning the same value across two runs of a program and comparing the
results is the quickest way to find chains that survive a restart.

Examples:
  ptrscan compare run1.txt run2.txt stable.txt`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := g.Load()
			if err != nil {
				return err
			}
			opts, err := s.Config.EngineOptions(s.Fs, s.Logger)
			if err != nil {
				return err
			}

			res, err := engine.New(nil, opts).CompareFiles(cmd.Context(), args[0], args[1], args[2])
			if err != nil {
				return err
			}
			s.HandBack(args[2])
			helpers.Success("Kept %d of %d chains in %s", res.Kept, res.Read, args[2])
			return nil
		},
	}
}
