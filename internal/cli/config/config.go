// Package config implements the config command group.
package config

import (
	"github.com/spf13/cobra"

	"github.com/coral-mesh/ptrscan/internal/cli/helpers"
	pconfig "github.com/coral-mesh/ptrscan/internal/config"
)

// NewConfigCmd creates the config command group.
func NewConfigCmd(g *helpers.Globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or initialize the configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long: `Print the configuration after the config file, PTRSCAN_* environment
variables and --log-level have been applied.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := g.Load()
			if err != nil {
				return err
			}
			return (&helpers.YAMLFormatter{}).Format(s.Config, cmd.OutOrStdout())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default configuration to ~/.ptrscan/config.yaml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := pconfig.NewLoader(g.Filesystem())
			if err := loader.Save(pconfig.DefaultConfig()); err != nil {
				return err
			}
			helpers.Success("Wrote %s", loader.ConfigPath())
			return nil
		},
	})

	return cmd
}
