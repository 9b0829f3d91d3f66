package privilege

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// Linux capability bit positions (from include/uapi/linux/capability.h).
const (
	CapDacOverride = 1
	CapSysPtrace   = 19
)

// StatusPath is the status file of the calling process.
const StatusPath = "/proc/self/status"

// EffectiveCapabilities returns the CapEff bitmask of the process whose status
// file is at path.
func EffectiveCapabilities(fs afero.Fs, path string) (uint64, error) {
	return readCapabilityBitmask(fs, path, "CapEff")
}

// HasCapability reports whether bit capBit is set in bitmask.
func HasCapability(bitmask uint64, capBit int) bool {
	return bitmask&(1<<uint(capBit)) != 0
}

// CanTrace reports whether the calling process may read other users' memory:
// it is root or holds CAP_SYS_PTRACE.
func CanTrace(fs afero.Fs) bool {
	if IsRoot() {
		return true
	}
	caps, err := EffectiveCapabilities(fs, StatusPath)
	return err == nil && HasCapability(caps, CapSysPtrace)
}

func readCapabilityBitmask(fs afero.Fs, path, capName string) (uint64, error) {
	file, err := fs.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close() // nolint:errcheck

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, capName+":") {
			continue
		}

		// "CapEff:\t00000000a80435fb"
		parts := strings.Fields(line)
		if len(parts) < 2 {
			return 0, fmt.Errorf("invalid %s format: %s", capName, line)
		}
		bitmask, err := strconv.ParseUint(parts[1], 16, 64)
		if err != nil {
			return 0, fmt.Errorf("failed to parse %s bitmask: %w", capName, err)
		}
		return bitmask, nil
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", path, err)
	}

	return 0, fmt.Errorf("%s not found in %s", capName, path)
}
