// Package privilege handles the elevated privileges needed to read another
// process's memory and hands files written under sudo back to the invoking user.
package privilege

import (
	"fmt"
	"os"
	"os/user"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// PtraceScopePath is the Yama LSM setting consulted by process_vm_readv.
const PtraceScopePath = "/proc/sys/kernel/yama/ptrace_scope"

// Yama ptrace_scope values.
const (
	ScopeClassic    = 0
	ScopeRestricted = 1
	ScopeAdminOnly  = 2
	ScopeDisabled   = 3
	// ScopeUnknown is reported when Yama is absent or unreadable.
	ScopeUnknown = -1
)

// UserContext is the identity of the user who started ptrscan, looking through
// sudo when present.
type UserContext struct {
	Username string
	UID      int
	GID      int
	HomeDir  string
}

// DetectOriginalUser returns the sudo caller when SUDO_USER is set, otherwise
// the current user.
func DetectOriginalUser() (*UserContext, error) {
	return detectOriginalUser(os.LookupEnv)
}

func detectOriginalUser(lookup func(string) (string, bool)) (*UserContext, error) {
	sudoUser, _ := lookup("SUDO_USER")
	if sudoUser == "" {
		return currentUser()
	}

	uidStr, _ := lookup("SUDO_UID")
	gidStr, _ := lookup("SUDO_GID")
	if uidStr == "" || gidStr == "" {
		return nil, fmt.Errorf("SUDO_USER set but SUDO_UID or SUDO_GID missing")
	}

	uid, err := strconv.Atoi(uidStr)
	if err != nil {
		return nil, fmt.Errorf("invalid SUDO_UID: %w", err)
	}
	gid, err := strconv.Atoi(gidStr)
	if err != nil {
		return nil, fmt.Errorf("invalid SUDO_GID: %w", err)
	}

	u, err := user.Lookup(sudoUser)
	if err != nil {
		return nil, fmt.Errorf("failed to lookup user %s: %w", sudoUser, err)
	}

	return &UserContext{Username: sudoUser, UID: uid, GID: gid, HomeDir: u.HomeDir}, nil
}

func currentUser() (*UserContext, error) {
	u, err := user.Current()
	if err != nil {
		return nil, fmt.Errorf("failed to get current user: %w", err)
	}
	return &UserContext{
		Username: u.Username,
		UID:      os.Getuid(),
		GID:      os.Getgid(),
		HomeDir:  u.HomeDir,
	}, nil
}

// IsRoot checks if the current process is running with euid 0.
func IsRoot() bool {
	return os.Geteuid() == 0
}

// IsRunningUnderSudo checks for the SUDO_USER environment variable.
func IsRunningUnderSudo() bool {
	return os.Getenv("SUDO_USER") != ""
}

// FixOwnership chowns paths to the sudo caller. It is a no-op unless running as
// root under sudo, so maps and chain files stay editable by the user.
func FixOwnership(paths ...string) error {
	if !IsRoot() || !IsRunningUnderSudo() {
		return nil
	}

	u, err := DetectOriginalUser()
	if err != nil {
		return fmt.Errorf("failed to detect original user: %w", err)
	}

	for _, p := range paths {
		if err := os.Chown(p, u.UID, u.GID); err != nil {
			return fmt.Errorf("failed to chown %s to %d:%d: %w", p, u.UID, u.GID, err)
		}
	}
	return nil
}

// PtraceScope reads the Yama ptrace_scope setting from fs.
func PtraceScope(fs afero.Fs) int {
	data, err := afero.ReadFile(fs, PtraceScopePath)
	if err != nil {
		return ScopeUnknown
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || v < ScopeClassic || v > ScopeDisabled {
		return ScopeUnknown
	}
	return v
}

// ReadAdvice explains why reading another process may fail under scope, or
// returns "" when nothing stands in the way. privileged is the result of
// CanTrace.
func ReadAdvice(scope int, privileged bool) string {
	switch {
	case scope == ScopeDisabled:
		return "ptrace is disabled system-wide (kernel.yama.ptrace_scope=3); reboot with a lower scope"
	case privileged:
		return ""
	case scope == ScopeRestricted:
		return "kernel.yama.ptrace_scope=1 only allows reading descendants; run with sudo or grant CAP_SYS_PTRACE"
	case scope == ScopeAdminOnly:
		return "kernel.yama.ptrace_scope=2 requires CAP_SYS_PTRACE; run with sudo"
	}
	return ""
}
