package cli

import (
	"bytes"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/ptrscan/internal/chain"
	"github.com/coral-mesh/ptrscan/internal/cli/helpers"
	perrors "github.com/coral-mesh/ptrscan/internal/errors"
	"github.com/coral-mesh/ptrscan/internal/memport"
	"github.com/coral-mesh/ptrscan/internal/testutil"
)

const (
	moduleBase = 0x400000
	heapBase   = 0x10000
	health     = 0x10800
)

// newWorkspace saves a two-level image to /snap: game+0x100 points to the heap
// object whose field at +0x10 points to health.
func newWorkspace(t *testing.T) afero.Fs {
	t.Helper()
	img := testutil.NewImage(t, memport.CodecFor64()).
		Module("/bin/game", moduleBase, 0x1000).
		Heap(heapBase, 0x1000).
		Pointer(moduleBase+0x100, heapBase).
		Pointer(heapBase+0x10, health).
		Bytes(health, []byte{0x39, 0x05, 0x00, 0x00})

	fs := afero.NewMemMapFs()
	require.NoError(t, memport.SaveSnapshot(fs, "/snap", img.Snapshot()))
	return fs
}

func run(t *testing.T, fs afero.Fs, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd(&helpers.Globals{Fs: fs})
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.ExecuteContext(testutil.NewTestContext(t))
	return out.String(), err
}

func TestWorkflow(t *testing.T) {
	t.Setenv("PTRSCAN_LOG_LEVEL", "error")
	fs := newWorkspace(t)
	const want = "game+0x100.0x10.0x0"

	_, err := run(t, fs, "--snapshot", "/snap", "map", "build", "/maps/run1", "--no-progress")
	require.NoError(t, err)

	out, err := run(t, fs, "map", "info", "/maps/run1", "-o", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"pointers": 2`)

	_, err = run(t, fs, "scan", "/maps/run1", "0x10800", "--below", "0x100", "-o", "/out/run1.txt")
	require.NoError(t, err)

	chains, err := chain.ReadFile(fs, "/out/run1.txt", chain.DefaultSyntax())
	require.NoError(t, err)
	require.Len(t, chains, 1)
	assert.Equal(t, want, chains[0].String())

	out, err = run(t, fs, "--snapshot", "/snap", "resolve", want)
	require.NoError(t, err)
	assert.Contains(t, out, "0x10800")

	out, err = run(t, fs, "--snapshot", "/snap", "resolve", "--trace", want, "-o", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "0x400100")

	_, err = run(t, fs, "--snapshot", "/snap", "filter", "value", "/out/run1.txt", "/out/value.txt", "1337", "-t", "u32")
	require.NoError(t, err)
	kept, err := chain.ReadFile(fs, "/out/value.txt", chain.DefaultSyntax())
	require.NoError(t, err)
	assert.Len(t, kept, 1)

	_, err = run(t, fs, "--snapshot", "/snap", "filter", "address", "/out/run1.txt", "/out/moved.txt", "0x10900")
	require.NoError(t, err)
	moved, err := chain.ReadFile(fs, "/out/moved.txt", chain.DefaultSyntax())
	require.NoError(t, err)
	assert.Empty(t, moved)

	_, err = run(t, fs, "compare", "/out/run1.txt", "/out/value.txt", "/out/stable.txt")
	require.NoError(t, err)
	stable, err := chain.ReadFile(fs, "/out/stable.txt", chain.DefaultSyntax())
	require.NoError(t, err)
	assert.Len(t, stable, 1)
}

func TestModulesAndRead(t *testing.T) {
	t.Setenv("PTRSCAN_LOG_LEVEL", "error")
	fs := newWorkspace(t)

	out, err := run(t, fs, "--snapshot", "/snap", "modules")
	require.NoError(t, err)
	assert.Contains(t, out, "game")
	assert.Contains(t, out, "0x400000")

	out, err = run(t, fs, "--snapshot", "/snap", "read", "0x400100")
	require.NoError(t, err)
	assert.Contains(t, out, "pointer: 0x10000")
}

func TestDumpFromSnapshot(t *testing.T) {
	t.Setenv("PTRSCAN_LOG_LEVEL", "error")
	fs := newWorkspace(t)

	_, err := run(t, fs, "--snapshot", "/snap", "dump", "/copy")
	require.NoError(t, err)

	snap, err := memport.LoadSnapshot(fs, "/copy")
	require.NoError(t, err)
	assert.Equal(t, 8, snap.Meta.PointerWidth)
	data, err := snap.Read(health, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x39, 0x05}, data)
}

func TestCommandErrors(t *testing.T) {
	t.Setenv("PTRSCAN_LOG_LEVEL", "error")
	fs := newWorkspace(t)

	_, err := run(t, fs, "modules")
	assert.ErrorIs(t, err, perrors.ErrInvalidParameter)

	_, err = run(t, fs, "scan", "/maps/none", "0x10800", "-o", "/out/x.txt")
	assert.Error(t, err)

	_, err = run(t, fs, "scan", "/maps/none", "0x10800")
	assert.ErrorIs(t, err, perrors.ErrInvalidParameter)

	_, err = run(t, fs, "--snapshot", "/snap", "resolve", "nothere+0x10.0x0")
	assert.Error(t, err)

	_, err = run(t, fs, "--profile", "bogus", "version")
	assert.Error(t, err)
}

func TestConfigShow(t *testing.T) {
	t.Setenv("PTRSCAN_MAX_DEPTH", "3")
	out, err := run(t, afero.NewMemMapFs(), "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "max_depth: 3")
}
