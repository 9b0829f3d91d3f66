package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNew_LevelFiltering(t *testing.T) {
	tests := []struct {
		level   string
		logged  []string
		dropped []string
	}{
		{level: "trace", logged: []string{"trace message", "debug message", "info message"}},
		{level: "debug", logged: []string{"debug message", "info message"}, dropped: []string{"trace message"}},
		{level: "info", logged: []string{"info message"}, dropped: []string{"trace message", "debug message"}},
		{level: "error", dropped: []string{"trace message", "debug message", "info message"}},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := New(Config{Level: tt.level, Pretty: false, Output: &buf})

			logger.Trace().Msg("trace message")
			logger.Debug().Msg("debug message")
			logger.Info().Msg("info message")

			output := buf.String()
			for _, msg := range tt.logged {
				if !strings.Contains(output, msg) {
					t.Errorf("expected %q to be logged at %s level", msg, tt.level)
				}
			}
			for _, msg := range tt.dropped {
				if strings.Contains(output, msg) {
					t.Errorf("expected %q to NOT be logged at %s level", msg, tt.level)
				}
			}
		})
	}
}

func TestParseLevel_UnknownDefaultsToInfo(t *testing.T) {
	if got := ParseLevel("verbose"); got != zerolog.InfoLevel {
		t.Errorf("ParseLevel(verbose) = %v, want info", got)
	}
}

func TestNewWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithComponent(Config{Level: "info", Output: &buf}, "builder")
	logger.Info().Msg("hello")

	if !strings.Contains(buf.String(), `"component":"builder"`) {
		t.Errorf("expected component field in %q", buf.String())
	}
}

func TestNew_PrettyToBufferHasNoColor(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "info", Pretty: true, Output: &buf})
	logger.Info().Msg("hello")

	if strings.Contains(buf.String(), "\x1b[") {
		t.Errorf("expected no color escapes when not writing to a terminal, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "hello") {
		t.Errorf("expected message in %q", buf.String())
	}
}
