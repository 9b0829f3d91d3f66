//go:build linux

package proc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"

	perrors "github.com/coral-mesh/ptrscan/internal/errors"
	"github.com/coral-mesh/ptrscan/internal/memport"
)

// Port reads the memory of a live process with process_vm_readv.
type Port struct {
	pid int
}

var _ memport.Port = (*Port)(nil)

// Open returns a port for pid after checking that its maps are readable.
func Open(pid int) (*Port, error) {
	if pid <= 0 {
		return nil, fmt.Errorf("invalid pid %d: %w", pid, perrors.ErrInvalidParameter)
	}
	p := &Port{pid: pid}
	if _, err := p.mappings(); err != nil {
		return nil, err
	}
	return p, nil
}

// Pid returns the target process id.
func (p *Port) Pid() int {
	return p.pid
}

func (p *Port) mappings() ([]Mapping, error) {
	//nolint:gosec // G304: Path is from /proc filesystem for process information.
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", p.pid))
	if err != nil {
		return nil, fmt.Errorf("open maps of pid %d: %w: %w", p.pid, err, perrors.ErrIO)
	}
	defer f.Close() // nolint:errcheck
	return ParseMaps(f)
}

// Modules implements memport.Port.
func (p *Port) Modules(ctx context.Context) ([]memport.Module, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mappings, err := p.mappings()
	if err != nil {
		return nil, err
	}
	return ImageModules(mappings, p.isELF), nil
}

// Regions implements memport.Port.
func (p *Port) Regions(ctx context.Context) ([]memport.Region, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mappings, err := p.mappings()
	if err != nil {
		return nil, err
	}
	return Regions(mappings), nil
}

// isELF inspects the image through the target's root so containerized
// processes resolve their own files.
func (p *Port) isELF(path string) bool {
	//nolint:gosec // G304: Path is from /proc filesystem for process information.
	f, err := os.Open(fmt.Sprintf("/proc/%d/root%s", p.pid, path))
	if err != nil {
		return false
	}
	defer f.Close() // nolint:errcheck

	header := make([]byte, len(elfMagic))
	if _, err := io.ReadFull(f, header); err != nil {
		return false
	}
	return IsELFHeader(header)
}

// Read implements memport.Port.
func (p *Port) Read(addr uint64, size int) ([]byte, error) {
	if size <= 0 {
		return []byte{}, nil
	}
	buf := make([]byte, size)
	local := []unix.Iovec{{Base: &buf[0]}}
	local[0].SetLen(size)
	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: size}}

	n, err := unix.ProcessVMReadv(p.pid, local, remote, 0)
	if err != nil {
		return nil, fmt.Errorf("read 0x%x (%d bytes): %w: %w", addr, size, err, readErrorKind(err))
	}
	if n != size {
		return nil, fmt.Errorf("read 0x%x: short read %d of %d bytes: %w", addr, n, size, perrors.ErrRead)
	}
	return buf, nil
}

// readErrorKind maps a process_vm_readv failure to an error kind. An exited
// process or missing ptrace rights fail every later read too, so they are I/O
// errors; EFAULT and EIO only concern the requested range.
func readErrorKind(err error) error {
	if errors.Is(err, unix.ESRCH) || errors.Is(err, unix.EPERM) {
		return perrors.ErrIO
	}
	return perrors.ErrRead
}
