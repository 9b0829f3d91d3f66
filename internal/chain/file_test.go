package chain

import (
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/coral-mesh/ptrscan/internal/errors"
)

func TestReaderSkipsCommentsAndBlanks(t *testing.T) {
	input := "# scan results\n\ngame+0x10.0x0\n   \n# more\nlib+0x20.0x8.-0x4\n"

	chains, err := ReadAll(strings.NewReader(input), DefaultSyntax())
	require.NoError(t, err)
	require.Len(t, chains, 2)
	assert.Equal(t, "game+0x10.0x0", chains[0].String())
	assert.Equal(t, "lib+0x20.0x8.-0x4", chains[1].String())
}

func TestReaderReportsLine(t *testing.T) {
	_, err := ReadAll(strings.NewReader("a+0x1.0x0\nbroken\n"), DefaultSyntax())
	require.Error(t, err)
	assert.ErrorIs(t, err, perrors.ErrParse)
	assert.Contains(t, err.Error(), "line 2")
}

func TestWriteReadFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	chains := []Chain{
		{Module: "game", Base: 0x10, Offsets: []int64{0x0}},
		{Module: "libc.so.6", Base: 0x2a0, Offsets: []int64{0x18, -0x8}},
	}

	require.NoError(t, WriteFile(fs, "/out/chains.txt", DefaultSyntax(), chains, "target=0x4000"))

	raw, err := afero.ReadFile(fs, "/out/chains.txt")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "# target=0x4000\n"))

	got, err := ReadFile(fs, "/out/chains.txt", DefaultSyntax())
	require.NoError(t, err)
	require.Len(t, got, 2)
	for i := range chains {
		assert.True(t, chains[i].Equal(got[i]))
	}
}

func TestReadFileMissing(t *testing.T) {
	_, err := ReadFile(afero.NewMemMapFs(), "/nope", DefaultSyntax())
	assert.ErrorIs(t, err, perrors.ErrIO)
}
