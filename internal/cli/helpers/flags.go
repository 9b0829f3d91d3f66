package helpers

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	perrors "github.com/coral-mesh/ptrscan/internal/errors"
	"github.com/coral-mesh/ptrscan/internal/memport"
)

// AddFormatFlag adds a standard --format/-o flag to a command.
func AddFormatFlag(cmd *cobra.Command, formatVar *string, defaultFormat OutputFormat, supportedFormats []OutputFormat) {
	formatNames := make([]string, len(supportedFormats))
	for i, f := range supportedFormats {
		formatNames[i] = string(f)
	}

	description := fmt.Sprintf("Output format (%s)", strings.Join(formatNames, ", "))
	cmd.Flags().StringVarP(formatVar, "format", "o", string(defaultFormat), description)

	_ = cmd.RegisterFlagCompletionFunc("format", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return formatNames, cobra.ShellCompDirectiveNoFileComp
	})
}

// ValidateFormat checks if the format is in the supported list.
func ValidateFormat(format string, supported []OutputFormat) error {
	for _, s := range supported {
		if format == string(s) {
			return nil
		}
	}

	supportedNames := make([]string, len(supported))
	for i, s := range supported {
		supportedNames[i] = string(s)
	}

	return fmt.Errorf("unsupported format %q, must be one of: %s",
		format, strings.Join(supportedNames, ", "))
}

// ParseAddress parses a hex address with an optional 0x prefix.
func ParseAddress(s string) (uint64, error) {
	digits := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	if digits == "" {
		return 0, fmt.Errorf("empty address: %w", perrors.ErrInvalidParameter)
	}
	v, err := strconv.ParseUint(digits, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, perrors.ErrInvalidParameter)
	}
	return v, nil
}

// ParseRange parses "START-END" into a half-open range.
func ParseRange(s string) (memport.Range, error) {
	lo, hi, ok := strings.Cut(s, "-")
	if !ok {
		return memport.Range{}, fmt.Errorf("range %q must be START-END: %w", s, perrors.ErrInvalidParameter)
	}
	start, err := ParseAddress(lo)
	if err != nil {
		return memport.Range{}, err
	}
	end, err := ParseAddress(hi)
	if err != nil {
		return memport.Range{}, err
	}
	r := memport.Range{Start: start, End: end}
	if r.Empty() {
		return memport.Range{}, fmt.Errorf("range %s is empty: %w", r, perrors.ErrInvalidParameter)
	}
	return r, nil
}

// ParseBytes parses a hex byte string such as "deadbeef" or "de ad be ef".
func ParseBytes(s string) ([]byte, error) {
	clean := strings.NewReplacer(" ", "", "0x", "", ":", "").Replace(s)
	b, err := hex.DecodeString(clean)
	if err != nil || len(b) == 0 {
		return nil, fmt.Errorf("invalid byte string %q: %w", s, perrors.ErrInvalidParameter)
	}
	return b, nil
}

// ParseValue encodes a number as it would appear in target memory. kind is one
// of u8, u16, u32, u64, i32, i64, f32, f64 or bytes.
func ParseValue(kind, s string, codec memport.Codec) ([]byte, error) {
	order := codec.Order()
	invalid := func() error {
		return fmt.Errorf("invalid %s %q: %w", kind, s, perrors.ErrInvalidParameter)
	}

	switch kind {
	case "bytes":
		return ParseBytes(s)
	case "u8":
		v, err := strconv.ParseUint(s, 0, 8)
		if err != nil {
			return nil, invalid()
		}
		return []byte{byte(v)}, nil
	case "u16":
		v, err := strconv.ParseUint(s, 0, 16)
		if err != nil {
			return nil, invalid()
		}
		return put16(order, uint16(v)), nil
	case "u32", "i32":
		var v uint64
		if kind == "u32" {
			u, err := strconv.ParseUint(s, 0, 32)
			if err != nil {
				return nil, invalid()
			}
			v = u
		} else {
			i, err := strconv.ParseInt(s, 0, 32)
			if err != nil {
				return nil, invalid()
			}
			v = uint64(uint32(int32(i)))
		}
		return put32(order, uint32(v)), nil
	case "u64", "i64":
		var v uint64
		if kind == "u64" {
			u, err := strconv.ParseUint(s, 0, 64)
			if err != nil {
				return nil, invalid()
			}
			v = u
		} else {
			i, err := strconv.ParseInt(s, 0, 64)
			if err != nil {
				return nil, invalid()
			}
			v = uint64(i)
		}
		return put64(order, v), nil
	case "f32":
		f, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return nil, invalid()
		}
		return put32(order, math.Float32bits(float32(f))), nil
	case "f64":
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, invalid()
		}
		return put64(order, math.Float64bits(f)), nil
	}
	return nil, fmt.Errorf("unknown value type %q: %w", kind, perrors.ErrInvalidParameter)
}

// ValueKinds lists the types ParseValue accepts.
var ValueKinds = []string{"bytes", "u8", "u16", "u32", "u64", "i32", "i64", "f32", "f64"}

func put16(order binary.ByteOrder, v uint16) []byte {
	b := make([]byte, 2)
	order.PutUint16(b, v)
	return b
}

func put32(order binary.ByteOrder, v uint32) []byte {
	b := make([]byte, 4)
	order.PutUint32(b, v)
	return b
}

func put64(order binary.ByteOrder, v uint64) []byte {
	b := make([]byte, 8)
	order.PutUint64(b, v)
	return b
}
