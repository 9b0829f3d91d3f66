package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/ptrscan/internal/memport"
)

// Image builds a memport.Snapshot for tests. Every helper fails the test on
// error and returns the image for chaining.
type Image struct {
	t     *testing.T
	codec memport.Codec
	snap  *memport.Snapshot
}

// NewImage returns an empty image using codec to encode pointers.
func NewImage(t *testing.T, codec memport.Codec) *Image {
	t.Helper()
	return &Image{t: t, codec: codec, snap: memport.NewSnapshot(nil)}
}

// Module maps a zeroed, writable file-backed region and registers it as a module.
func (i *Image) Module(path string, start, size uint64) *Image {
	i.t.Helper()
	i.Region(start, size, "rw-p", path)
	i.snap.AddModule(memport.Module{Start: start, End: start + size, Path: path})
	return i
}

// Heap maps a zeroed anonymous writable region.
func (i *Image) Heap(start, size uint64) *Image {
	i.t.Helper()
	return i.Region(start, size, "rw-p", "[heap]")
}

// Region maps a zeroed region with the given permissions.
func (i *Image) Region(start, size uint64, perms, path string) *Image {
	i.t.Helper()
	r := memport.Region{Start: start, End: start + size, Perms: perms, Path: path}
	require.NoError(i.t, i.snap.AddRegion(r, make([]byte, size)))
	return i
}

// Pointer stores value as a pointer at addr.
func (i *Image) Pointer(addr, value uint64) *Image {
	i.t.Helper()
	return i.Bytes(addr, i.codec.Encode(value))
}

// Bytes stores raw bytes at addr.
func (i *Image) Bytes(addr uint64, b []byte) *Image {
	i.t.Helper()
	require.NoError(i.t, i.snap.Write(addr, b))
	return i
}

// Snapshot returns the built snapshot.
func (i *Image) Snapshot() *memport.Snapshot {
	return i.snap
}

// Codec returns the pointer codec of the image.
func (i *Image) Codec() memport.Codec {
	return i.codec
}
