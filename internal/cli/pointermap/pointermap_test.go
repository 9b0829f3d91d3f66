package pointermap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/coral-mesh/ptrscan/internal/errors"
	"github.com/coral-mesh/ptrscan/internal/memport"
)

func TestSelectModules(t *testing.T) {
	all := []memport.Module{
		{Start: 0x400000, End: 0x401000, Path: "/bin/game"},
		{Start: 0x7f0000, End: 0x7f1000, Path: "/lib/libc.so.6"},
		{Start: 0x7f2000, End: 0x7f3000, Path: "/lib/libengine.so"},
	}

	got, err := selectModules(all, nil)
	require.NoError(t, err)
	assert.Equal(t, all, got)

	got, err = selectModules(all, []string{"lib", "libc"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "libc.so.6", got[0].Label())
	assert.Equal(t, "libengine.so", got[1].Label())

	_, err = selectModules(all, []string{"steam"})
	assert.ErrorIs(t, err, perrors.ErrModuleNotFound)
}
