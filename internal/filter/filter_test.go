package filter

import (
	"context"
	"fmt"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/ptrscan/internal/chain"
	perrors "github.com/coral-mesh/ptrscan/internal/errors"
	"github.com/coral-mesh/ptrscan/internal/memport"
	"github.com/coral-mesh/ptrscan/internal/testutil"
)

func testSnapshot(t *testing.T) *memport.Snapshot {
	return testutil.NewImage(t, memport.CodecFor64()).
		Module("/bin/game", 0x1000, 0x100).
		Heap(0x5000, 0x100).
		Pointer(0x1010, 0x5000).
		Pointer(0x1018, 0x5040).
		Pointer(0x1020, 0x9000).
		Bytes(0x5008, []byte{0x2a}).
		Bytes(0x5048, []byte{0x07}).
		Snapshot()
}

func newTestFilter(t *testing.T, port memport.Port) *Filter {
	modules, err := port.Modules(testutil.NewTestContext(t))
	require.NoError(t, err)
	opts := DefaultOptions()
	opts.Workers = 3
	opts.Logger = testutil.NewTestLogger(t)
	return New(port, memport.NewModuleTable(modules), opts)
}

func parse(t *testing.T, descs ...string) []chain.Chain {
	out := make([]chain.Chain, 0, len(descs))
	for _, d := range descs {
		c, err := chain.DefaultSyntax().Parse(d)
		require.NoError(t, err)
		out = append(out, c)
	}
	return out
}

func strs(chains []chain.Chain) []string {
	out := make([]string, 0, len(chains))
	for _, c := range chains {
		out = append(out, c.String())
	}
	return out
}

type failingPort struct {
	memport.Port
	fail uint64
}

func (p *failingPort) Read(addr uint64, size int) ([]byte, error) {
	if addr == p.fail {
		return nil, fmt.Errorf("read 0x%x: %w", addr, perrors.ErrRead)
	}
	return p.Port.Read(addr, size)
}

func TestByValue(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	chains := parse(t, "game+0x10.0x8")

	t.Run("matching byte kept", func(t *testing.T) {
		got, err := newTestFilter(t, testSnapshot(t)).ByValue(ctx, chains, []byte{0x2a})
		require.NoError(t, err)
		assert.Equal(t, []string{"game+0x10.0x8"}, strs(got))
	})

	t.Run("other byte dropped", func(t *testing.T) {
		got, err := newTestFilter(t, testSnapshot(t)).ByValue(ctx, chains, []byte{0x2b})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("read failure dropped", func(t *testing.T) {
		port := &failingPort{Port: testSnapshot(t), fail: 0x5008}
		got, err := newTestFilter(t, port).ByValue(ctx, chains, []byte{0x2a})
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestByAddress(t *testing.T) {
	f := newTestFilter(t, testSnapshot(t))
	chains := parse(t, "game+0x10.0x8", "game+0x18.0x8", "game+0x18.-0x38", "nope+0x0.0x0")

	got, err := f.ByAddress(testutil.NewTestContext(t), chains, 0x5008)
	require.NoError(t, err)
	assert.Equal(t, []string{"game+0x10.0x8", "game+0x18.-0x38"}, strs(got))
}

func TestInvalid(t *testing.T) {
	f := newTestFilter(t, testSnapshot(t))
	chains := parse(t,
		"game+0x10.0x8",
		"game+0x20.0x0",
		"game+0x18.0x8.0x0",
		"game+0x10.0x200",
		"libc.so.6+0x0.0x0",
		"game+0x18.0x0",
	)

	got, err := f.Invalid(testutil.NewTestContext(t), chains)
	require.NoError(t, err)
	assert.Equal(t, []string{"game+0x10.0x8", "game+0x18.0x0"}, strs(got))
}

func TestFiltersAreIdempotent(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	f := newTestFilter(t, testSnapshot(t))
	chains := parse(t, "game+0x10.0x8", "game+0x20.0x0", "game+0x18.0x8", "game+0x10.0x0")

	for _, pred := range []Predicate{Invalid(), Value([]byte{0x2a}), Address(0x5048)} {
		t.Run(pred.Name, func(t *testing.T) {
			once, err := f.Apply(ctx, chains, pred)
			require.NoError(t, err)
			twice, err := f.Apply(ctx, once, pred)
			require.NoError(t, err)
			assert.Equal(t, strs(once), strs(twice))
		})
	}
}

func TestApplyPreservesOrder(t *testing.T) {
	f := newTestFilter(t, testSnapshot(t))

	var chains []chain.Chain
	var want []string
	for i := range 5000 {
		c := chain.Chain{Module: "game", Base: 0x10, Offsets: []int64{int64(i % 0x100)}}
		if i%3 == 0 {
			c.Base = 0x20
		} else {
			want = append(want, c.String())
		}
		chains = append(chains, c)
	}

	got, err := f.Invalid(testutil.NewTestContext(t), chains)
	require.NoError(t, err)
	assert.Equal(t, want, strs(got))
}

func TestApplyCancelled(t *testing.T) {
	f := newTestFilter(t, testSnapshot(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Apply(ctx, parse(t, "game+0x10.0x8"), Address(0))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFilterFile(t *testing.T) {
	ctx := testutil.NewTestContext(t)
	fs := afero.NewMemMapFs()
	f := newTestFilter(t, testSnapshot(t))
	require.NoError(t, chain.WriteFile(fs, "/in.txt", chain.DefaultSyntax(),
		parse(t, "game+0x10.0x8", "game+0x18.0x8", "game+0x20.0x0"), "scan results"))

	res, err := f.FilterFile(ctx, fs, "/in.txt", "/out.txt", Value([]byte{0x2a}))
	require.NoError(t, err)
	assert.Equal(t, Result{Read: 3, Kept: 1}, res)

	got, err := chain.ReadFile(fs, "/out.txt", chain.DefaultSyntax())
	require.NoError(t, err)
	assert.Equal(t, []string{"game+0x10.0x8"}, strs(got))

	res, err = f.FilterFile(ctx, fs, "/out.txt", "/out.txt", Invalid())
	require.NoError(t, err)
	assert.Equal(t, Result{Read: 1, Kept: 1}, res)
}

func TestFilterFileParseError(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/in.txt", []byte("game+0x10.0x8\n???\n"), 0o644))
	f := newTestFilter(t, testSnapshot(t))

	_, err := f.FilterFile(testutil.NewTestContext(t), fs, "/in.txt", "/out.txt", Invalid())
	assert.ErrorIs(t, err, perrors.ErrParse)

	exists, _ := afero.Exists(fs, "/out.txt")
	assert.False(t, exists)
}
