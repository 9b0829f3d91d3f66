// Package errors defines the error kinds ptrscan reports and their status codes.
package errors

import (
	stderrors "errors"
)

// Error kinds. Callers wrap them with fmt.Errorf("...: %w", Err...) and test with errors.Is.
var (
	// ErrIO reports a file or memory I/O failure.
	ErrIO = stderrors.New("io error")
	// ErrFormat reports a corrupt or version-mismatched map or chain file.
	ErrFormat = stderrors.New("format error")
	// ErrInvalidParameter reports malformed scan or engine parameters.
	ErrInvalidParameter = stderrors.New("invalid parameter")
	// ErrModuleNotFound reports a chain whose base module is not loaded.
	ErrModuleNotFound = stderrors.New("module not found")
	// ErrParse reports a malformed chain descriptor.
	ErrParse = stderrors.New("parse error")
	// ErrRead reports a failed dereference or region read.
	ErrRead = stderrors.New("read error")
	// ErrOutOfMemory reports a working set larger than the allowed budget.
	ErrOutOfMemory = stderrors.New("out of memory")
	// ErrCall reports engine methods called out of order (e.g. scan before a map exists).
	ErrCall = stderrors.New("call error")
	// ErrUnsupported reports a capability missing on the current platform.
	ErrUnsupported = stderrors.New("unsupported")
)

// Status codes returned to hosts that speak integers rather than Go errors.
// Zero is success; every failure is negative.
const (
	StatusOK               = 0
	StatusCallError        = -1
	StatusIOError          = -2
	StatusFormatError      = -3
	StatusInvalidParameter = -4
	StatusModuleNotFound   = -5
	StatusParseError       = -6
	StatusReadError        = -7
	StatusOutOfMemory      = -8
	StatusUnsupported      = -9
	StatusUnknown          = -100
)

var statusByKind = []struct {
	kind   error
	status int
}{
	{ErrCall, StatusCallError},
	{ErrInvalidParameter, StatusInvalidParameter},
	{ErrFormat, StatusFormatError},
	{ErrParse, StatusParseError},
	{ErrModuleNotFound, StatusModuleNotFound},
	{ErrRead, StatusReadError},
	{ErrOutOfMemory, StatusOutOfMemory},
	{ErrUnsupported, StatusUnsupported},
	{ErrIO, StatusIOError},
}

// Status maps err to a negative status code, or StatusOK for nil.
// The first matching kind in declaration order wins, so an ErrRead wrapped
// inside an ErrIO still reports StatusReadError.
func Status(err error) int {
	if err == nil {
		return StatusOK
	}
	for _, k := range statusByKind {
		if stderrors.Is(err, k.kind) {
			return k.status
		}
	}
	return StatusUnknown
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}
