package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/coral-mesh/ptrscan/internal/errors"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		name  string
		chain Chain
		want  string
	}{
		{"depth one", Chain{Module: "lib", Base: 0x500, Offsets: []int64{0}}, "lib+0x500.0x0"},
		{"negative", Chain{Module: "game", Base: 0x1f0, Offsets: []int64{0x18, -0x8}}, "game+0x1f0.0x18.-0x8"},
		{"dotted module", Chain{Module: "libc.so.6", Base: 0x10, Offsets: []int64{0x20}}, "libc.so.6+0x10.0x20"},
		{"no offsets", Chain{Module: "a", Base: 0}, "a+0x0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DefaultSyntax().Format(tt.chain)
			assert.Equal(t, tt.want, got)

			back, err := DefaultSyntax().Parse(got)
			require.NoError(t, err)
			assert.True(t, tt.chain.Equal(back), "round trip of %s", got)
		})
	}
}

func TestParseLenient(t *testing.T) {
	c, err := DefaultSyntax().Parse("  libc.so.6+1F0.0X18.-8 ")
	require.NoError(t, err)
	assert.Equal(t, "libc.so.6", c.Module)
	assert.Equal(t, uint64(0x1f0), c.Base)
	assert.Equal(t, []int64{0x18, -0x8}, c.Offsets)

	c, err = DefaultSyntax().Parse("a+b+0x10.0x4")
	require.NoError(t, err)
	assert.Equal(t, "a+b", c.Module)
}

func TestParseErrors(t *testing.T) {
	for _, desc := range []string{
		"",
		"nomodule",
		"+0x10.0x4",
		"lib+",
		"lib+0x10.",
		"lib+0xzz",
		"lib+0x10.0x",
		"lib+0x10.-0x8000000000000001",
		"lib+0x10.0x8000000000000000",
	} {
		_, err := DefaultSyntax().Parse(desc)
		assert.ErrorIs(t, err, perrors.ErrParse, "descriptor %q", desc)
	}
}

func TestCustomSyntax(t *testing.T) {
	s := Syntax{ModuleSeparator: "@", LevelSeparator: "->"}
	require.NoError(t, s.Validate())

	c := Chain{Module: "game", Base: 0x40, Offsets: []int64{-0x10, 0x8}}
	desc := s.Format(c)
	assert.Equal(t, "game@0x40->-0x10->0x8", desc)

	back, err := s.Parse(desc)
	require.NoError(t, err)
	assert.True(t, c.Equal(back))
}

func TestSyntaxValidate(t *testing.T) {
	assert.NoError(t, DefaultSyntax().Validate())
	assert.ErrorIs(t, Syntax{ModuleSeparator: "+", LevelSeparator: "+"}.Validate(), perrors.ErrInvalidParameter)
	assert.ErrorIs(t, Syntax{ModuleSeparator: "", LevelSeparator: "."}.Validate(), perrors.ErrInvalidParameter)
	assert.ErrorIs(t, Syntax{ModuleSeparator: "+", LevelSeparator: "x"}.Validate(), perrors.ErrInvalidParameter)
}

func TestFormatOffset(t *testing.T) {
	assert.Equal(t, "-0x8000000000000000", FormatOffset(-1<<63))
	off, err := ParseOffset("-0x8000000000000000")
	require.NoError(t, err)
	assert.Equal(t, int64(-1<<63), off)
}
