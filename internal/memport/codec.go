package memport

import (
	"encoding/binary"
	"fmt"
	"strings"

	perrors "github.com/coral-mesh/ptrscan/internal/errors"
)

// Codec interprets raw memory as pointers of a fixed width and byte order.
type Codec struct {
	width int
	order binary.ByteOrder
}

// CodecFor64 returns the codec for 64-bit little endian targets.
func CodecFor64() Codec {
	return Codec{width: 8, order: binary.LittleEndian}
}

// CodecFor32 returns the codec for 32-bit little endian targets.
func CodecFor32() Codec {
	return Codec{width: 4, order: binary.LittleEndian}
}

// NewCodec returns a codec for the given pointer width in bytes (4 or 8).
func NewCodec(width int, order binary.ByteOrder) (Codec, error) {
	if order == nil {
		return Codec{}, fmt.Errorf("byte order cannot be nil: %w", perrors.ErrInvalidParameter)
	}
	if width != 4 && width != 8 {
		return Codec{}, fmt.Errorf("unsupported pointer width %d: %w", width, perrors.ErrInvalidParameter)
	}
	return Codec{width: width, order: order}, nil
}

// Width returns the pointer width in bytes.
func (c Codec) Width() int {
	return c.width
}

// Order returns the byte order.
func (c Codec) Order() binary.ByteOrder {
	return c.order
}

// Mask returns the largest address representable at this width.
func (c Codec) Mask() uint64 {
	if c.width == 4 {
		return 0xffffffff
	}
	return ^uint64(0)
}

// Decode reads one pointer from the beginning of b.
func (c Codec) Decode(b []byte) uint64 {
	if c.width == 4 {
		return uint64(c.order.Uint32(b))
	}
	return c.order.Uint64(b)
}

// Encode writes v as one pointer.
func (c Codec) Encode(v uint64) []byte {
	out := make([]byte, c.width)
	if c.width == 4 {
		c.order.PutUint32(out, uint32(v))
	} else {
		c.order.PutUint64(out, v)
	}
	return out
}

// Add applies a signed displacement, wrapping at the pointer width.
func (c Codec) Add(addr uint64, off int64) uint64 {
	return (addr + uint64(off)) & c.Mask()
}

// OrderName returns "little" or "big".
func OrderName(order binary.ByteOrder) string {
	if order == binary.BigEndian {
		return "big"
	}
	return "little"
}

// ParseByteOrder accepts "little"/"le" and "big"/"be". Empty means little endian.
func ParseByteOrder(name string) (binary.ByteOrder, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "little", "le", "little-endian":
		return binary.LittleEndian, nil
	case "big", "be", "big-endian":
		return binary.BigEndian, nil
	default:
		return nil, fmt.Errorf("unknown byte order %q: %w", name, perrors.ErrInvalidParameter)
	}
}
