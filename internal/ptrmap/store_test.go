package ptrmap

import (
	"encoding/binary"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/coral-mesh/ptrscan/internal/errors"
	"github.com/coral-mesh/ptrscan/internal/memport"
	"github.com/coral-mesh/ptrscan/internal/testutil"
)

func newTestStore(t *testing.T) *Store {
	return &Store{Fs: afero.NewMemMapFs(), Logger: testutil.NewTestLogger(t)}
}

func builtMap(t *testing.T) *Map {
	m, err := Build(testutil.NewTestContext(t), testImage(t).Snapshot(), nil, testOptions(t))
	require.NoError(t, err)
	return m
}

func TestStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)
	m := builtMap(t)
	idx, dat := Paths("/maps/game")

	require.NoError(t, store.Save(m, idx, dat))

	loaded, err := store.Load(idx, dat, LoadOptions{PointerWidth: 8, ByteOrder: binary.LittleEndian})
	require.NoError(t, err)

	assert.Equal(t, m.Stats(), loaded.Stats())
	assert.Equal(t, m.Regions(), loaded.Regions())
	assert.Equal(t, m.Modules(), loaded.Modules())
	assert.Equal(t, m.pointees, loaded.pointees)
	assert.Equal(t, m.starts, loaded.starts)
	assert.Equal(t, m.sources, loaded.sources)
}

func TestStoreBigEndian32(t *testing.T) {
	store := newTestStore(t)
	codec, err := memport.NewCodec(4, binary.BigEndian)
	require.NoError(t, err)
	regions := []memport.Region{{Start: 0x1000, End: 0x2000, Perms: "rw-p", Path: "/bin/game"}}
	modules := []memport.Module{{Start: 0x1000, End: 0x2000, Path: "/bin/game", Name: "game"}}
	m := New(codec, regions, modules, []Edge{{Source: 0x1004, Pointee: 0x1800}})

	require.NoError(t, store.Save(m, "/m.idx", "/m.dat"))
	loaded, err := store.Load("/m.idx", "/m.dat", LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, 4, loaded.Codec().Width())
	assert.Equal(t, binary.BigEndian, loaded.Codec().Order())
	assert.Equal(t, []uint64{0x1004}, loaded.Sources(0x1800))

	_, err = store.Load("/m.idx", "/m.dat", LoadOptions{PointerWidth: 8})
	assert.ErrorIs(t, err, perrors.ErrFormat)
	_, err = store.Load("/m.idx", "/m.dat", LoadOptions{ByteOrder: binary.LittleEndian})
	assert.ErrorIs(t, err, perrors.ErrFormat)
}

func TestLoadBytesRejectsCorruption(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Save(builtMap(t), "/m.idx", "/m.dat"))
	index, err := afero.ReadFile(store.Fs, "/m.idx")
	require.NoError(t, err)
	payload, err := afero.ReadFile(store.Fs, "/m.dat")
	require.NoError(t, err)

	mutate := func(b []byte, fn func([]byte) []byte) []byte {
		c := append([]byte(nil), b...)
		return fn(c)
	}

	tests := []struct {
		name    string
		index   []byte
		payload []byte
	}{
		{"bad index magic", mutate(index, func(b []byte) []byte { b[0] = 'X'; return b }), payload},
		{"bad payload magic", index, mutate(payload, func(b []byte) []byte { b[3] = 'X'; return b })},
		{"unknown version", mutate(index, func(b []byte) []byte { b[10] = 9; return b }), payload},
		{"bad width", mutate(index, func(b []byte) []byte { b[9] = 3; return b }), payload},
		{"bad order tag", mutate(index, func(b []byte) []byte { b[8] = 7; return b }), payload},
		{"index bit flip", mutate(index, func(b []byte) []byte { b[headerSize+2] ^= 1; return b }), payload},
		{"truncated index", index[:len(index)-5], payload},
		{"truncated payload", index, payload[:len(payload)-8]},
		{"payload bit flip", index, mutate(payload, func(b []byte) []byte { b[len(b)-1] ^= 0x80; return b })},
		{"empty", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadBytes(tt.index, tt.payload, LoadOptions{})
			assert.ErrorIs(t, err, perrors.ErrFormat)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := newTestStore(t).Load("/none.idx", "/none.dat", LoadOptions{})
	assert.ErrorIs(t, err, perrors.ErrIO)
}
