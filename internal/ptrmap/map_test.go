package ptrmap

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/coral-mesh/ptrscan/internal/memport"
)

func testMap() *Map {
	regions := []memport.Region{{Start: 0x1000, End: 0x2000, Perms: "rw-p"}}
	return New(memport.CodecFor64(), regions, nil, []Edge{
		{Source: 0x1100, Pointee: 0x1800},
		{Source: 0x1010, Pointee: 0x1800},
		{Source: 0x1020, Pointee: 0x1200},
		{Source: 0x1010, Pointee: 0x1800},
		{Source: 0x1030, Pointee: 0x1808},
	})
}

func TestNewGroupsByPointee(t *testing.T) {
	m := testMap()

	assert.Equal(t, 3, m.Pointees())
	assert.Equal(t, 4, m.Edges())
	assert.Equal(t, []uint64{0x1010, 0x1100}, m.Sources(0x1800))
	assert.Equal(t, []uint64{0x1020}, m.Sources(0x1200))
	assert.Nil(t, m.Sources(0x1804))
}

func TestWindow(t *testing.T) {
	m := testMap()

	var got []uint64
	m.Window(0x1800, 0x1808, func(p uint64, _ []uint64) bool {
		got = append(got, p)
		return true
	})
	assert.Equal(t, []uint64{0x1800, 0x1808}, got)

	got = nil
	m.Window(0x1000, 0x2000, func(p uint64, _ []uint64) bool {
		got = append(got, p)
		return len(got) < 2
	})
	assert.Equal(t, []uint64{0x1200, 0x1800}, got)

	called := false
	m.Window(0x1808, 0x1800, func(uint64, []uint64) bool { called = true; return true })
	assert.False(t, called)
}

func TestEachAndStats(t *testing.T) {
	m := testMap()

	var edges []Edge
	m.Each(func(e Edge) bool {
		edges = append(edges, e)
		return true
	})
	assert.Equal(t, []Edge{
		{Source: 0x1020, Pointee: 0x1200},
		{Source: 0x1010, Pointee: 0x1800},
		{Source: 0x1100, Pointee: 0x1800},
		{Source: 0x1030, Pointee: 0x1808},
	}, edges)

	st := m.Stats()
	assert.Equal(t, 8, st.PointerWidth)
	assert.Equal(t, "little", st.ByteOrder)
	assert.Equal(t, uint64(0x1000), st.RegionBytes)
	assert.True(t, m.Mapped(0x1fff))
	assert.False(t, m.Mapped(0x2000))
}

func TestEmptyMap(t *testing.T) {
	m := New(memport.CodecFor32(), nil, nil, nil)
	assert.Equal(t, 0, m.Edges())
	assert.Nil(t, m.Sources(0))
}
