package proc

import (
	"os"
	"runtime"
	"strings"
	"testing"

	"github.com/shirou/gopsutil/v4/net"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/coral-mesh/ptrscan/internal/errors"
	"github.com/coral-mesh/ptrscan/internal/memport"
	"github.com/coral-mesh/ptrscan/internal/testutil"
)

const sampleMaps = `555555554000-555555556000 r--p 00000000 08:01 1311 /usr/bin/game
555555556000-555555558000 rw-p 00002000 08:01 1311 /usr/bin/game
555555558000-555555559000 rw-p 00004000 08:01 1311 /usr/bin/game
5555565d0000-5555565f1000 rw-p 00000000 00:00 0                          [heap]
7ffff7d80000-7ffff7d82000 rw-p 001d0000 08:01 2222 /usr/lib/libc.so.6
7ffff7d90000-7ffff7d91000 rw-s 00000000 00:01 3333 /memfd:shm (deleted)
7ffff7da0000-7ffff7da1000 rw-p 00000000 08:01 4444 /usr/share/fonts/My Font.ttf
7ffff7db0000-7ffff7db1000 rw-p 00000000 00:00 0
not a mapping line
7ffffffde000-7ffffffff000 rw-p 00000000 00:00 0                          [stack]
`

func TestParseMaps(t *testing.T) {
	mappings, err := ParseMaps(strings.NewReader(sampleMaps))
	require.NoError(t, err)
	require.Len(t, mappings, 9)

	assert.Equal(t, Mapping{
		Region: memport.Region{Start: 0x555555556000, End: 0x555555558000, Perms: "rw-p", Path: "/usr/bin/game"},
		Offset: 0x2000,
		Dev:    "08:01",
		Inode:  1311,
	}, mappings[1])
	assert.Equal(t, "/usr/share/fonts/My Font.ttf", mappings[6].Path)
	assert.Equal(t, "", mappings[7].Path)
	assert.Len(t, Regions(mappings), 9)
}

func TestImageModules(t *testing.T) {
	mappings, err := ParseMaps(strings.NewReader(sampleMaps))
	require.NoError(t, err)

	calls := map[string]int{}
	isELF := func(path string) bool {
		calls[path]++
		return !strings.HasSuffix(path, ".ttf")
	}

	modules := ImageModules(mappings, isELF)
	table := memport.NewModuleTable(modules)

	var labels []string
	for _, m := range table.Modules() {
		labels = append(labels, m.Name)
	}
	assert.Equal(t, []string{"game", "game[1]", "libc.so.6"}, labels)
	assert.Equal(t, 1, calls["/usr/bin/game"])
	assert.NotContains(t, calls, "[heap]")
	assert.NotContains(t, calls, "/memfd:shm (deleted)")
}

func TestIsELFHeader(t *testing.T) {
	assert.True(t, IsELFHeader([]byte{0x7f, 'E', 'L', 'F', 2, 1}))
	assert.False(t, IsELFHeader([]byte("#!/bin/sh")))
	assert.False(t, IsELFHeader(nil))
}

func TestExePathOfSelf(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("requires procfs")
	}
	exe, err := ExePath(testutil.NewTestContext(t), os.Getpid())
	require.NoError(t, err)
	assert.NotEmpty(t, exe)
}

func TestListenerPid(t *testing.T) {
	listen := func(port uint32, pid int32) net.ConnectionStat {
		return net.ConnectionStat{Status: "LISTEN", Laddr: net.Addr{IP: "0.0.0.0", Port: port}, Pid: pid}
	}
	established := net.ConnectionStat{Status: "ESTABLISHED", Laddr: net.Addr{Port: 7777}, Pid: 10}

	tests := []struct {
		name    string
		conns   []net.ConnectionStat
		want    int
		wantErr bool
	}{
		{name: "found", conns: []net.ConnectionStat{established, listen(8080, 3), listen(7777, 42)}, want: 42},
		{name: "skips hidden duplicate", conns: []net.ConnectionStat{listen(7777, 0), listen(7777, 42)}, want: 42},
		{name: "hidden owner", conns: []net.ConnectionStat{listen(7777, 0)}, wantErr: true},
		{name: "only established", conns: []net.ConnectionStat{established}, wantErr: true},
		{name: "none", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pid, err := listenerPid(tt.conns, 7777)
			if tt.wantErr {
				assert.ErrorIs(t, err, perrors.ErrInvalidParameter)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, pid)
		})
	}
}

func TestFindPidByPortRejectsInvalidPort(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	_, err := FindPidByPort(ctx, 0)
	assert.ErrorIs(t, err, perrors.ErrInvalidParameter)
	_, err = FindPidByPort(ctx, 70000)
	assert.ErrorIs(t, err, perrors.ErrInvalidParameter)
}

func TestFindPidsByNameUnknown(t *testing.T) {
	_, err := FindPidsByName(testutil.NewTestContext(t), "no-such-process-ptrscan-test")
	assert.Error(t, err)
}
