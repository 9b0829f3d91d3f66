package memport

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/coral-mesh/ptrscan/internal/errors"
)

func TestNewCodec(t *testing.T) {
	_, err := NewCodec(2, binary.LittleEndian)
	assert.ErrorIs(t, err, perrors.ErrInvalidParameter)

	_, err = NewCodec(8, nil)
	assert.ErrorIs(t, err, perrors.ErrInvalidParameter)

	c, err := NewCodec(4, binary.BigEndian)
	require.NoError(t, err)
	assert.Equal(t, 4, c.Width())
	assert.Equal(t, binary.BigEndian, c.Order())
}

func TestCodecDecodeEncode(t *testing.T) {
	tests := []struct {
		name  string
		codec Codec
		raw   []byte
		want  uint64
	}{
		{"64 little", CodecFor64(), []byte{0x00, 0x20, 0, 0, 0, 0, 0, 0}, 0x2000},
		{"32 little", CodecFor32(), []byte{0x78, 0x56, 0x34, 0x12}, 0x12345678},
		{"32 big", Codec{width: 4, order: binary.BigEndian}, []byte{0x12, 0x34, 0x56, 0x78}, 0x12345678},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.codec.Decode(tt.raw))
			assert.Equal(t, tt.raw, tt.codec.Encode(tt.want))
		})
	}
}

func TestCodecAddWraps(t *testing.T) {
	c32 := CodecFor32()
	assert.Equal(t, uint64(0x4), c32.Add(0xfffffff8, 0xc))
	assert.Equal(t, uint64(0xfffffff8), c32.Add(0x8, -0x10))

	c64 := CodecFor64()
	assert.Equal(t, uint64(0x1ff0), c64.Add(0x2000, -0x10))
	assert.Equal(t, uint64(0x3), c64.Add(^uint64(0), 4))
}

func TestParseByteOrder(t *testing.T) {
	o, err := ParseByteOrder("")
	require.NoError(t, err)
	assert.Equal(t, binary.LittleEndian, o)

	o, err = ParseByteOrder("BE")
	require.NoError(t, err)
	assert.Equal(t, binary.BigEndian, o)
	assert.Equal(t, "big", OrderName(o))

	_, err = ParseByteOrder("middle")
	assert.ErrorIs(t, err, perrors.ErrInvalidParameter)
}
