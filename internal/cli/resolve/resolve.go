// Package resolve implements the resolve command.
package resolve

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/ptrscan/internal/chain"
	"github.com/coral-mesh/ptrscan/internal/cli/helpers"
)

// StepRow is one dereference of a traced chain.
type StepRow struct {
	Address string `header:"Address" json:"address" yaml:"address"`
	Value   string `header:"Value" json:"value" yaml:"value"`
	Offset  string `header:"Offset" json:"offset" yaml:"offset"`
	Next    string `header:"Next" json:"next" yaml:"next"`
}

// NewResolveCmd creates the resolve command.
func NewResolveCmd(g *helpers.Globals) *cobra.Command {
	var (
		trace  bool
		format string
	)

	cmd := &cobra.Command{
		Use:   "resolve <chain>...",
		Short: "Follow chains through the target's memory",
		Long: `Print the address each chain designates in the target right now.
With --trace, print every dereference of a single chain.

Examples:
  ptrscan resolve --name game 'libengine.so+0x1a2b0.0x18.0x40'
  ptrscan resolve --name game --trace 'game+0x3f00.0x8'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if trace && len(args) != 1 {
				return fmt.Errorf("--trace takes a single chain")
			}
			if err := helpers.ValidateFormat(format, helpers.AllFormats); err != nil {
				return err
			}
			s, err := g.Open(cmd.Context())
			if err != nil {
				return err
			}
			eng, err := s.Engine(nil)
			if err != nil {
				return err
			}

			if trace {
				steps, err := eng.Trace(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				rows := make([]StepRow, 0, len(steps))
				for _, st := range steps {
					rows = append(rows, StepRow{
						Address: fmt.Sprintf("%#x", st.Address),
						Value:   fmt.Sprintf("%#x", st.Value),
						Offset:  chain.FormatOffset(st.Offset),
						Next:    fmt.Sprintf("%#x", st.Next),
					})
				}
				f, err := helpers.NewFormatter(helpers.OutputFormat(format))
				if err != nil {
					return err
				}
				return f.Format(rows, cmd.OutOrStdout())
			}

			failed := 0
			for _, desc := range args {
				addr, err := eng.Resolve(cmd.Context(), desc)
				if err != nil {
					failed++
					helpers.Warn("%s: %v", desc, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%#x\n", desc, addr)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d chains did not resolve", failed, len(args))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&trace, "trace", false, "Print every dereference")
	helpers.AddFormatFlag(cmd, &format, helpers.FormatTable, helpers.AllFormats)
	return cmd
}
