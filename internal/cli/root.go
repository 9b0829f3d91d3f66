package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/profile"
	"github.com/spf13/cobra"

	"github.com/coral-mesh/ptrscan/internal/cli/config"
	"github.com/coral-mesh/ptrscan/internal/cli/filter"
	"github.com/coral-mesh/ptrscan/internal/cli/helpers"
	"github.com/coral-mesh/ptrscan/internal/cli/pointermap"
	"github.com/coral-mesh/ptrscan/internal/cli/resolve"
	"github.com/coral-mesh/ptrscan/internal/cli/scan"
	"github.com/coral-mesh/ptrscan/internal/cli/target"
	"github.com/coral-mesh/ptrscan/pkg/version"
)

// NewRootCmd builds the command tree around g.
func NewRootCmd(g *helpers.Globals) *cobra.Command {
	var (
		profileMode string
		profileDir  string
		profiler    interface{ Stop() }
	)

	rootCmd := &cobra.Command{
		Use:   "ptrscan",
		Short: "ptrscan - find stable pointer chains in a running process",
		Long: `Locate a value in another process's memory through a chain of pointers
that starts at a fixed offset inside a loaded module, so the value can
be found again after the program restarts.

Typical workflow:
  1. ptrscan map build --name game run1        Record every pointer
  2. ptrscan scan run1 0xADDR -o run1.txt      Find chains to the value
  3. restart the program, locate the value again
  4. ptrscan filter address --name game run1.txt stable.txt 0xNEWADDR
  5. ptrscan resolve --name game 'game+0x3f00.0x8'`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			opts := []func(*profile.Profile){profile.ProfilePath(profileDir), profile.NoShutdownHook, profile.Quiet}
			switch profileMode {
			case "":
				return nil
			case "cpu":
				opts = append(opts, profile.CPUProfile)
			case "mem":
				opts = append(opts, profile.MemProfile)
			case "trace":
				opts = append(opts, profile.TraceProfile)
			default:
				return fmt.Errorf("unknown profile mode %q (cpu, mem, trace)", profileMode)
			}
			profiler = profile.Start(opts...)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if profiler != nil {
				profiler.Stop()
			}
		},
	}

	g.AddTargetFlags(rootCmd)
	rootCmd.PersistentFlags().StringVar(&profileMode, "profile", "", "Profile ptrscan itself (cpu, mem, trace)")
	rootCmd.PersistentFlags().StringVar(&profileDir, "profile-dir", ".", "Directory for profile output")

	rootCmd.AddCommand(target.NewModulesCmd(g))
	rootCmd.AddCommand(target.NewReadCmd(g))
	rootCmd.AddCommand(target.NewDumpCmd(g))
	rootCmd.AddCommand(pointermap.NewMapCmd(g))
	rootCmd.AddCommand(scan.NewScanCmd(g))
	rootCmd.AddCommand(filter.NewFilterCmd(g))
	rootCmd.AddCommand(filter.NewCompareCmd(g))
	rootCmd.AddCommand(resolve.NewResolveCmd(g))
	rootCmd.AddCommand(config.NewConfigCmd(g))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("ptrscan version %s\n", version.Version)
			cmd.Printf("Git commit: %s\n", version.GitCommit)
			cmd.Printf("Build date: %s\n", version.BuildDate)
			cmd.Printf("Go version: %s\n", version.GoVersion)
		},
	}
}

// Execute runs the root command. Interrupts cancel the running operation, which
// leaves no partial output files behind.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd(&helpers.Globals{}).ExecuteContext(ctx)
}
