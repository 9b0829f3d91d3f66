package memport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModuleTableLabels(t *testing.T) {
	table := NewModuleTable([]Module{
		{Start: 0x9000, End: 0xa000, Path: "/usr/lib/libc.so.6"},
		{Start: 0x1000, End: 0x2000, Path: "/opt/game/bin/game"},
		{Start: 0x7000, End: 0x8000, Path: "/usr/lib/libc.so.6"},
	})

	labels := make([]string, 0, table.Len())
	for _, m := range table.Modules() {
		labels = append(labels, m.Name)
	}
	assert.Equal(t, []string{"game", "libc.so.6", "libc.so.6[1]"}, labels)

	m, ok := table.Lookup("libc.so.6[1]")
	require.True(t, ok)
	assert.Equal(t, uint64(0x9000), m.Start)

	_, ok = table.Lookup("libm.so.6")
	assert.False(t, ok)
}

func TestModuleTableContaining(t *testing.T) {
	table := NewModuleTable([]Module{
		{Start: 0x1000, End: 0x2000, Path: "/bin/a"},
		{Start: 0x4000, End: 0x5000, Path: "/bin/b"},
	})

	m, ok := table.Containing(0x4abc)
	require.True(t, ok)
	assert.Equal(t, "b", m.Name)

	_, ok = table.Containing(0x3000)
	assert.False(t, ok)
	assert.Equal(t, Range{0x1000, 0x5000}, table.Span())
}

func TestModuleTableWithPrefix(t *testing.T) {
	table := NewModuleTable([]Module{
		{Start: 0x1000, End: 0x2000, Path: "/lib/libc.so.6"},
		{Start: 0x3000, End: 0x4000, Path: "/lib/libm.so.6"},
		{Start: 0x5000, End: 0x6000, Path: "/bin/game"},
	})

	got := table.WithPrefix("lib")
	require.Len(t, got, 2)
	assert.Equal(t, "libc.so.6", got[0].Name)
	assert.Equal(t, "libm.so.6", got[1].Name)
}
