package chain

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/coral-mesh/ptrscan/internal/constants"
	perrors "github.com/coral-mesh/ptrscan/internal/errors"
)

// Syntax holds the separators of the descriptor form
// "module+0xBASE.0xO1.0xO2".
type Syntax struct {
	ModuleSeparator string `yaml:"module_separator" env:"PTRSCAN_MODULE_SEPARATOR"`
	LevelSeparator  string `yaml:"level_separator" env:"PTRSCAN_LEVEL_SEPARATOR"`
}

// DefaultSyntax uses "+" after the module and "." between levels.
func DefaultSyntax() Syntax {
	return Syntax{
		ModuleSeparator: constants.DefaultModuleSeparator,
		LevelSeparator:  constants.DefaultLevelSeparator,
	}
}

// Validate checks that both separators are set, distinct and cannot be confused
// with hex digits or the offset sign.
func (s Syntax) Validate() error {
	if s.ModuleSeparator == "" || s.LevelSeparator == "" {
		return fmt.Errorf("separators cannot be empty: %w", perrors.ErrInvalidParameter)
	}
	if s.ModuleSeparator == s.LevelSeparator {
		return fmt.Errorf("module and level separators must differ: %w", perrors.ErrInvalidParameter)
	}
	for _, sep := range []string{s.ModuleSeparator, s.LevelSeparator} {
		if sep == "-" || strings.ContainsAny(sep, "0123456789abcdefABCDEFxX# \t") {
			return fmt.Errorf("separator %q clashes with descriptor characters: %w", sep, perrors.ErrInvalidParameter)
		}
	}
	return nil
}

// Format renders c as a descriptor.
func (s Syntax) Format(c Chain) string {
	var b strings.Builder
	b.Grow(len(c.Module) + 20*(len(c.Offsets)+1))
	b.WriteString(c.Module)
	b.WriteString(s.ModuleSeparator)
	b.WriteString("0x")
	b.WriteString(strconv.FormatUint(c.Base, 16))
	for _, off := range c.Offsets {
		b.WriteString(s.LevelSeparator)
		b.WriteString(FormatOffset(off))
	}
	return b.String()
}

// Parse reads a descriptor. The module separator is matched at its last
// occurrence so module names may contain it. Hex digits are case-insensitive and
// the 0x prefix is optional.
func (s Syntax) Parse(desc string) (Chain, error) {
	desc = strings.TrimSpace(desc)
	i := strings.LastIndex(desc, s.ModuleSeparator)
	if i <= 0 {
		return Chain{}, fmt.Errorf("descriptor %q: missing module: %w", desc, perrors.ErrParse)
	}

	levels := strings.Split(desc[i+len(s.ModuleSeparator):], s.LevelSeparator)
	base, err := parseHex(levels[0])
	if err != nil {
		return Chain{}, fmt.Errorf("descriptor %q: base: %w", desc, err)
	}

	c := Chain{Module: desc[:i], Base: base}
	if len(levels) > 1 {
		c.Offsets = make([]int64, 0, len(levels)-1)
	}
	for _, lvl := range levels[1:] {
		off, err := ParseOffset(lvl)
		if err != nil {
			return Chain{}, fmt.Errorf("descriptor %q: %w", desc, err)
		}
		c.Offsets = append(c.Offsets, off)
	}
	return c, nil
}

// FormatOffset renders a signed offset as 0x10 or -0x8.
func FormatOffset(off int64) string {
	if off < 0 {
		return "-0x" + strconv.FormatUint(uint64(-off), 16)
	}
	return "0x" + strconv.FormatUint(uint64(off), 16)
}

// ParseOffset reads a signed hex offset.
func ParseOffset(s string) (int64, error) {
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	mag, err := parseHex(s)
	if err != nil {
		return 0, err
	}
	if neg {
		if mag > 1<<63 {
			return 0, fmt.Errorf("offset -%s out of range: %w", s, perrors.ErrParse)
		}
		return int64(-mag), nil
	}
	if mag > 1<<63-1 {
		return 0, fmt.Errorf("offset %s out of range: %w", s, perrors.ErrParse)
	}
	return int64(mag), nil
}

func parseHex(s string) (uint64, error) {
	digits := s
	if len(digits) > 1 && digits[0] == '0' && (digits[1] == 'x' || digits[1] == 'X') {
		digits = digits[2:]
	}
	if digits == "" {
		return 0, fmt.Errorf("empty number %q: %w", s, perrors.ErrParse)
	}
	v, err := strconv.ParseUint(digits, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid hex %q: %w", s, perrors.ErrParse)
	}
	return v, nil
}
