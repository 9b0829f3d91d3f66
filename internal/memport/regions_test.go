package memport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegionSetMerges(t *testing.T) {
	set := NewRegionSet([]Region{
		{Start: 0x3000, End: 0x4000},
		{Start: 0x1000, End: 0x2000},
		{Start: 0x2000, End: 0x2800},
		{Start: 0x5000, End: 0x5000},
		{Start: 0x3800, End: 0x3900},
	})

	assert.Equal(t, []Range{{0x1000, 0x2800}, {0x3000, 0x4000}}, set.Ranges())
	assert.Equal(t, uint64(0x2800), set.Bytes())
}

func TestRegionSetContains(t *testing.T) {
	set := NewRangeSet([]Range{{0x1000, 0x2000}, {0x3000, 0x4000}})

	tests := []struct {
		addr uint64
		want bool
	}{
		{0x0fff, false},
		{0x1000, true},
		{0x1fff, true},
		{0x2000, false},
		{0x3500, true},
		{0x4000, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, set.Contains(tt.addr), "addr 0x%x", tt.addr)
	}

	assert.True(t, set.ContainsSpan(0x1ff8, 8))
	assert.False(t, set.ContainsSpan(0x1ffc, 8))
	assert.False(t, set.ContainsSpan(0x2800, 1))
}

func TestRegionPerms(t *testing.T) {
	rw := Region{Perms: "rw-p"}
	ro := Region{Perms: "r--p", Path: "/usr/lib/libc.so.6"}
	heap := Region{Perms: "rw-p", Path: "[heap]"}

	assert.True(t, ReadWrite(rw))
	assert.False(t, ReadWrite(ro))
	assert.True(t, AllReadable(ro))
	assert.True(t, heap.Anonymous())
	assert.False(t, ro.Anonymous())
	assert.Len(t, FilterRegions([]Region{rw, ro, heap}, ReadWrite), 2)
}
