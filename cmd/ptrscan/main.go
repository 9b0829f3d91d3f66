package main

import (
	"fmt"
	"os"

	"github.com/coral-mesh/ptrscan/internal/cli"
	perrors "github.com/coral-mesh/ptrscan/internal/errors"
)

func main() {
	if err := cli.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps error kinds to the negated status codes so scripts can tell a
// missing module from a corrupt map.
func exitCode(err error) int {
	if status := perrors.Status(err); status != perrors.StatusUnknown {
		return -status
	}
	return 1
}
