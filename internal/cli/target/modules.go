// Package target implements the commands that inspect a target directly:
// listing modules, reading memory and capturing snapshots.
package target

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/ptrscan/internal/cli/helpers"
	"github.com/coral-mesh/ptrscan/internal/memport"
)

// ModuleRow is one line of the modules listing.
type ModuleRow struct {
	Label string `header:"Module" json:"label" yaml:"label"`
	Start string `header:"Start" json:"start" yaml:"start"`
	End   string `header:"End" json:"end" yaml:"end"`
	Size  uint64 `header:"Size" json:"size" yaml:"size"`
	Path  string `header:"Path" json:"path" yaml:"path"`
}

// ModuleRows converts modules to listing rows.
func ModuleRows(modules []memport.Module) []ModuleRow {
	rows := make([]ModuleRow, 0, len(modules))
	for _, m := range modules {
		rows = append(rows, ModuleRow{
			Label: m.Label(),
			Start: fmt.Sprintf("%#x", m.Start),
			End:   fmt.Sprintf("%#x", m.End),
			Size:  m.Range().Len(),
			Path:  m.Path,
		})
	}
	return rows
}

// NewModulesCmd creates the modules command.
func NewModulesCmd(g *helpers.Globals) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "modules",
		Short: "List the modules chains can start from",
		Long: `List the writable, file-backed mappings of the target.

Labels are unique: when a file is mapped more than once, the second
mapping is reported as name[1], the third as name[2], and so on. Chain
descriptors use these labels.

Examples:
  ptrscan modules --pid 4242
  ptrscan modules --name game -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
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
			modules, err := eng.ListModules(cmd.Context())
			if err != nil {
				return err
			}

			f, err := helpers.NewFormatter(helpers.OutputFormat(format))
			if err != nil {
				return err
			}
			return f.Format(ModuleRows(modules), cmd.OutOrStdout())
		},
	}

	helpers.AddFormatFlag(cmd, &format, helpers.FormatTable, helpers.AllFormats)
	return cmd
}
