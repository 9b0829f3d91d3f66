package target

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/ptrscan/internal/cli/helpers"
	perrors "github.com/coral-mesh/ptrscan/internal/errors"
)

// NewReadCmd creates the read command.
func NewReadCmd(g *helpers.Globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read <address> [size]",
		Short: "Dump target memory",
		Long: `Read exactly size bytes (default one pointer) at address and print a
hex dump. The read fails if any byte is unmapped.

Examples:
  ptrscan read --pid 4242 0x7ffd12340000 64`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := helpers.ParseAddress(args[0])
			if err != nil {
				return err
			}
			s, err := g.Open(cmd.Context())
			if err != nil {
				return err
			}

			size := s.Codec.Width()
			if len(args) == 2 {
				size, err = strconv.Atoi(args[1])
				if err != nil || size <= 0 {
					return fmt.Errorf("invalid size %q: %w", args[1], perrors.ErrInvalidParameter)
				}
			}

			eng, err := s.Engine(nil)
			if err != nil {
				return err
			}
			data, err := eng.ReadMemoryExact(addr, size)
			if err != nil {
				return err
			}

			dumper := hex.Dumper(cmd.OutOrStdout())
			if _, err := dumper.Write(data); err != nil {
				return err
			}
			if err := dumper.Close(); err != nil {
				return err
			}
			if size == s.Codec.Width() {
				fmt.Fprintf(cmd.OutOrStdout(), "pointer: %#x\n", s.Codec.Decode(data))
			}
			return nil
		},
	}
	return cmd
}
