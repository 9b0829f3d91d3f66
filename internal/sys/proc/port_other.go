//go:build !linux

package proc

import (
	"context"
	"fmt"

	perrors "github.com/coral-mesh/ptrscan/internal/errors"
	"github.com/coral-mesh/ptrscan/internal/memport"
)

// Port is unavailable outside Linux; snapshots still work everywhere.
type Port struct{}

var _ memport.Port = (*Port)(nil)

// Open always fails with errors.ErrUnsupported.
func Open(pid int) (*Port, error) {
	return nil, fmt.Errorf("live process access: %w", perrors.ErrUnsupported)
}

// Pid returns 0.
func (p *Port) Pid() int {
	return 0
}

// Modules implements memport.Port.
func (p *Port) Modules(context.Context) ([]memport.Module, error) {
	return nil, perrors.ErrUnsupported
}

// Regions implements memport.Port.
func (p *Port) Regions(context.Context) ([]memport.Region, error) {
	return nil, perrors.ErrUnsupported
}

// Read implements memport.Port.
func (p *Port) Read(uint64, int) ([]byte, error) {
	return nil, perrors.ErrUnsupported
}
