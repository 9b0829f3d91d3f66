// Package filter implements the commands that narrow chain files: re-checking
// chains against a fresh process and intersecting the results of two scans.
package filter

import (
	"github.com/spf13/cobra"

	"github.com/coral-mesh/ptrscan/internal/cli/helpers"
	pfilter "github.com/coral-mesh/ptrscan/internal/filter"
)

// NewFilterCmd creates the filter command group.
func NewFilterCmd(g *helpers.Globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "filter",
		Short: "Keep the chains that still hold in the target",
		Long: `Resolve every chain of a file against the target's current memory and
write the ones that pass to another file. The output may replace the
input. Module bases are looked up again, so a restarted process with
different load addresses can be used.`,
	}

	cmd.AddCommand(newPredicateCmd(g, "invalid <in> <out>",
		"Drop chains that no longer resolve to mapped memory",
		cobra.ExactArgs(2),
		func(s *helpers.Session, args []string) (pfilter.Predicate, error) {
			return pfilter.Invalid(), nil
		}))

	var kind string
	valueCmd := newPredicateCmd(g, "value <in> <out> <value>",
		"Keep chains whose destination holds value",
		cobra.ExactArgs(3),
		func(s *helpers.Session, args []string) (pfilter.Predicate, error) {
			b, err := helpers.ParseValue(kind, args[2], s.Codec)
			if err != nil {
				return pfilter.Predicate{}, err
			}
			return pfilter.Value(b), nil
		})
	valueCmd.Flags().StringVarP(&kind, "type", "t", "u32", "Value type (bytes, u8, u16, u32, u64, i32, i64, f32, f64)")
	_ = valueCmd.RegisterFlagCompletionFunc("type", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return helpers.ValueKinds, cobra.ShellCompDirectiveNoFileComp
	})
	cmd.AddCommand(valueCmd)

	cmd.AddCommand(newPredicateCmd(g, "address <in> <out> <address>",
		"Keep chains that resolve to address",
		cobra.ExactArgs(3),
		func(s *helpers.Session, args []string) (pfilter.Predicate, error) {
			addr, err := helpers.ParseAddress(args[2])
			if err != nil {
				return pfilter.Predicate{}, err
			}
			return pfilter.Address(addr), nil
		}))

	return cmd
}

type predicateFunc func(s *helpers.Session, args []string) (pfilter.Predicate, error)

func newPredicateCmd(g *helpers.Globals, use, short string, args cobra.PositionalArgs, build predicateFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := g.Open(cmd.Context())
			if err != nil {
				return err
			}
			pred, err := build(s, args)
			if err != nil {
				return err
			}
			eng, err := s.Engine(nil)
			if err != nil {
				return err
			}

			res, err := eng.FilterFile(cmd.Context(), args[0], args[1], pred)
			if err != nil {
				return err
			}
			s.HandBack(args[1])
			helpers.Success("%s: kept %d of %d chains in %s", pred.Name, res.Kept, res.Read, args[1])
			return nil
		},
	}
}
