package errors

import (
	"bytes"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestDeferClose(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	DeferClose(logger, nil, "nil closer")
	assert.Zero(t, buf.Len())

	calls := 0
	DeferClose(logger, closerFunc(func() error { calls++; return nil }), "clean close")
	assert.Equal(t, 1, calls)
	assert.Zero(t, buf.Len())

	DeferClose(logger, closerFunc(func() error { return errors.New("disk gone") }), "close chain file")
	assert.Contains(t, buf.String(), "close chain file")
	assert.Contains(t, buf.String(), "disk gone")
}
