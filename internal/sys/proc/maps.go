package proc

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	perrors "github.com/coral-mesh/ptrscan/internal/errors"
	"github.com/coral-mesh/ptrscan/internal/memport"
)

// Mapping is one line of /proc/<pid>/maps.
type Mapping struct {
	memport.Region
	Offset uint64
	Dev    string
	Inode  uint64
}

// ParseMaps parses the procfs maps format. Malformed lines are skipped.
func ParseMaps(r io.Reader) ([]Mapping, error) {
	var out []Mapping
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		m, ok := parseMapsLine(scanner.Text())
		if ok {
			out = append(out, m)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read maps: %w: %w", err, perrors.ErrIO)
	}
	return out, nil
}

// parseMapsLine parses e.g.
// "5555565d0000-5555565d1000 rw-p 00002000 08:01 1234   /usr/bin/game".
func parseMapsLine(line string) (Mapping, bool) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return Mapping{}, false
	}

	addrRange := strings.Split(fields[0], "-")
	if len(addrRange) != 2 {
		return Mapping{}, false
	}
	start, err := strconv.ParseUint(addrRange[0], 16, 64)
	if err != nil {
		return Mapping{}, false
	}
	end, err := strconv.ParseUint(addrRange[1], 16, 64)
	if err != nil || end < start {
		return Mapping{}, false
	}
	offset, err := strconv.ParseUint(fields[2], 16, 64)
	if err != nil {
		return Mapping{}, false
	}
	inode, err := strconv.ParseUint(fields[4], 10, 64)
	if err != nil {
		return Mapping{}, false
	}

	var path string
	if len(fields) > 5 {
		path = strings.Join(fields[5:], " ")
	}

	return Mapping{
		Region: memport.Region{Start: start, End: end, Perms: fields[1], Path: path},
		Offset: offset,
		Dev:    fields[3],
		Inode:  inode,
	}, true
}

var elfMagic = []byte{0x7f, 'E', 'L', 'F'}

// IsELFHeader reports whether header starts with the ELF magic.
func IsELFHeader(header []byte) bool {
	return bytes.HasPrefix(header, elfMagic)
}

// ImageModules selects the mappings usable as chain bases: readable, writable,
// file backed mappings of ELF images. Memfd and device mappings are excluded.
// isELF is consulted once per distinct path.
func ImageModules(mappings []Mapping, isELF func(path string) bool) []memport.Module {
	checked := make(map[string]bool)
	var out []memport.Module
	for _, m := range mappings {
		if !m.Readable() || !m.Writable() || m.Inode == 0 || m.Anonymous() {
			continue
		}
		if strings.HasPrefix(m.Path, "/memfd:") || strings.HasPrefix(m.Path, "/dev/") {
			continue
		}
		elf, ok := checked[m.Path]
		if !ok {
			elf = isELF(m.Path)
			checked[m.Path] = elf
		}
		if elf {
			out = append(out, memport.Module{Start: m.Start, End: m.End, Path: m.Path})
		}
	}
	return out
}

// Regions returns the regions of mappings.
func Regions(mappings []Mapping) []memport.Region {
	out := make([]memport.Region, len(mappings))
	for i, m := range mappings {
		out[i] = m.Region
	}
	return out
}
