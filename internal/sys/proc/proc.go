// Package proc implements the memory access port for live Linux processes, and
// the process discovery helpers used to pick a target: by name, by listening
// port or by pid.
package proc

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/process"

	perrors "github.com/coral-mesh/ptrscan/internal/errors"
)

// FindPidsByName returns the ids of the processes whose name or executable base
// name equals name, lowest first.
func FindPidsByName(ctx context.Context, name string) ([]int, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w: %w", err, perrors.ErrIO)
	}

	var pids []int
	for _, p := range procs {
		if n, err := p.NameWithContext(ctx); err == nil && n == name {
			pids = append(pids, int(p.Pid))
			continue
		}
		if exe, err := p.ExeWithContext(ctx); err == nil && filepath.Base(exe) == name {
			pids = append(pids, int(p.Pid))
		}
	}
	if len(pids) == 0 {
		return nil, fmt.Errorf("no process named %q: %w", name, perrors.ErrInvalidParameter)
	}
	sort.Ints(pids)
	return pids, nil
}

// FindPidByPort returns the process listening on a TCP port. Game and emulator
// servers are often easier to find by port than by name.
func FindPidByPort(ctx context.Context, port int) (int, error) {
	if port <= 0 || port > 0xffff {
		return 0, fmt.Errorf("invalid port %d: %w", port, perrors.ErrInvalidParameter)
	}

	conns, err := net.ConnectionsWithContext(ctx, "tcp")
	if err != nil {
		return 0, fmt.Errorf("list sockets: %w: %w", err, perrors.ErrIO)
	}
	return listenerPid(conns, port)
}

// listenerPid picks the owner of the listening socket on port. The kernel
// hides the owner of sockets belonging to other users, which shows up as pid 0.
func listenerPid(conns []net.ConnectionStat, port int) (int, error) {
	hidden := false
	for _, c := range conns {
		if c.Status != "LISTEN" || int(c.Laddr.Port) != port {
			continue
		}
		if c.Pid > 0 {
			return int(c.Pid), nil
		}
		hidden = true
	}
	if hidden {
		return 0, fmt.Errorf("port %d is owned by a process we cannot see, try sudo: %w", port, perrors.ErrInvalidParameter)
	}
	return 0, fmt.Errorf("no process listens on port %d: %w", port, perrors.ErrInvalidParameter)
}

// ExePath returns the executable of pid.
func ExePath(ctx context.Context, pid int) (string, error) {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return "", fmt.Errorf("process %d: %w", pid, err)
	}
	return p.ExeWithContext(ctx)
}
