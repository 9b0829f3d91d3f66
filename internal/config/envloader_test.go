package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookup(vars map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func TestLoadFromLookup_Config(t *testing.T) {
	cfg := DefaultConfig()
	err := LoadFromLookup(cfg, lookup(map[string]string{
		"PTRSCAN_LOG_LEVEL":        "debug",
		"PTRSCAN_POINTER_WIDTH":    "4",
		"PTRSCAN_BYTE_ORDER":       "big",
		"PTRSCAN_MODULE_SEPARATOR": "!",
		"PTRSCAN_MAX_EDGES":        "0x1000",
		"PTRSCAN_CHECK_MEMORY":     "false",
		"PTRSCAN_MAX_DEPTH":        "7",
		"PTRSCAN_BELOW":            "256",
		"PTRSCAN_FILTER_WORKERS":   "",
	}))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 4, cfg.Target.PointerWidth)
	assert.Equal(t, "big", cfg.Target.ByteOrder)
	assert.Equal(t, "!", cfg.Syntax.ModuleSeparator)
	assert.Equal(t, ".", cfg.Syntax.LevelSeparator)
	assert.Equal(t, uint64(0x1000), cfg.Build.MaxEdges)
	assert.False(t, cfg.Build.CheckMemory)
	assert.Equal(t, 7, cfg.Scan.MaxDepth)
	assert.Equal(t, uint64(256), cfg.Scan.Below)
	// Empty values leave the default in place.
	assert.Equal(t, DefaultConfig().Filter.Workers, cfg.Filter.Workers)
}

func TestLoadFromLookup_InvalidValues(t *testing.T) {
	tests := map[string]string{
		"PTRSCAN_POINTER_WIDTH": "eight",
		"PTRSCAN_MAX_EDGES":     "-1",
		"PTRSCAN_LOG_PRETTY":    "sometimes",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			err := LoadFromLookup(DefaultConfig(), lookup(map[string]string{key: value}))
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestLoadFromLookup_Duration(t *testing.T) {
	var cfg struct {
		Timeout time.Duration `env:"TIMEOUT"`
		Nested  struct {
			Name string `env:"NAME"`
		}
		skipped string `env:"SKIPPED"`
	}
	require.NoError(t, LoadFromLookup(&cfg, lookup(map[string]string{
		"TIMEOUT": "1m30s",
		"NAME":    "heap",
		"SKIPPED": "x",
	})))
	assert.Equal(t, 90*time.Second, cfg.Timeout)
	assert.Equal(t, "heap", cfg.Nested.Name)
	assert.Empty(t, cfg.skipped)
}

func TestLoadFromLookup_NilAndNonStruct(t *testing.T) {
	var nilCfg *Config
	assert.NoError(t, LoadFromLookup(nilCfg, lookup(nil)))
	n := 3
	assert.NoError(t, LoadFromLookup(&n, lookup(nil)))
}
