package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/ptrscan/internal/chain"
	perrors "github.com/coral-mesh/ptrscan/internal/errors"
	"github.com/coral-mesh/ptrscan/internal/memport"
	"github.com/coral-mesh/ptrscan/internal/testutil"
)

func newTestResolver(t *testing.T, opts Options) (*Resolver, *memport.Snapshot) {
	snap := testutil.NewImage(t, memport.CodecFor64()).
		Module("/bin/game", 0x1000, 0x100).
		Heap(0x5000, 0x100).
		Pointer(0x1020, 0x5000).
		Pointer(0x5010, 0x5080).
		Pointer(0x1030, 0x9000).
		Snapshot()
	modules, err := snap.Modules(testutil.NewTestContext(t))
	require.NoError(t, err)
	return New(snap, memport.NewModuleTable(modules), opts), snap
}

type mapCache struct {
	values map[uint64]uint64
	hits   int
}

func (c *mapCache) Get(addr uint64) (uint64, bool) {
	v, ok := c.values[addr]
	if ok {
		c.hits++
	}
	return v, ok
}

func (c *mapCache) Add(addr, value uint64) {
	c.values[addr] = value
}

func TestResolve(t *testing.T) {
	r, _ := newTestResolver(t, Options{})

	tests := []struct {
		desc string
		want uint64
	}{
		{"game+0x20.0x0", 0x5000},
		{"game+0x20.0x10.0x8", 0x5088},
		{"game+0x20.-0x8", 0x4ff8},
		{"GAME+0x20.0x0", 0},
		{"game+0x40", 0x1040},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			got, err := r.Resolve(tt.desc)
			if tt.want == 0 {
				assert.ErrorIs(t, err, perrors.ErrModuleNotFound)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveErrors(t *testing.T) {
	r, _ := newTestResolver(t, Options{})

	_, err := r.Resolve("game0x20")
	assert.ErrorIs(t, err, perrors.ErrParse)

	_, err = r.Resolve("libc.so.6+0x20.0x0")
	assert.ErrorIs(t, err, perrors.ErrModuleNotFound)

	_, err = r.Resolve("game+0x30.0x0.0x0")
	assert.ErrorIs(t, err, perrors.ErrRead)
}

func TestResolveWithRegionValidation(t *testing.T) {
	r, snap := newTestResolver(t, Options{})
	regions, err := snap.Regions(testutil.NewTestContext(t))
	require.NoError(t, err)
	strict := New(snap, r.modules, Options{Regions: memport.NewRegionSet(regions)})

	got, err := r.Resolve("game+0x30.0x0")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x9000), got)

	_, err = strict.Resolve("game+0x30.0x0")
	assert.ErrorIs(t, err, perrors.ErrRead)

	got, err = strict.Resolve("game+0x20.0x10")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x5010), got)
}

func TestTrace(t *testing.T) {
	r, _ := newTestResolver(t, Options{})

	steps, err := r.Trace(chain.Chain{Module: "game", Base: 0x20, Offsets: []int64{0x10, 0x8}})
	require.NoError(t, err)
	assert.Equal(t, []Step{
		{Address: 0x1020, Value: 0x5000, Offset: 0x10, Next: 0x5010},
		{Address: 0x5010, Value: 0x5080, Offset: 0x8, Next: 0x5088},
	}, steps)
}

func TestResolveUsesCache(t *testing.T) {
	cache := &mapCache{values: map[uint64]uint64{}}
	r, _ := newTestResolver(t, Options{Cache: cache})

	for range 3 {
		got, err := r.Resolve("game+0x20.0x10.0x0")
		require.NoError(t, err)
		assert.Equal(t, uint64(0x5080), got)
	}
	assert.Equal(t, 4, cache.hits)
}

func TestResolve32Bit(t *testing.T) {
	codec := memport.CodecFor32()
	snap := testutil.NewImage(t, codec).
		Module("/bin/game", 0x1000, 0x40).
		Pointer(0x1004, 0x1010).
		Snapshot()
	modules, _ := snap.Modules(testutil.NewTestContext(t))
	r := New(snap, memport.NewModuleTable(modules), Options{Codec: codec})

	got, err := r.Resolve("game+0x4.0x8")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1018), got)
}
