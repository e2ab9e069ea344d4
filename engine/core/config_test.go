package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigOverridesDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
[log]
level = "warn"

[raytracing]
max_recursion_depth = 4
allow_update = false
`))
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.True(t, cfg.Log.ReportCaller, "unset keys keep their default")
	assert.EqualValues(t, 4, cfg.RayTracing.MaxRecursionDepth)
	assert.False(t, cfg.RayTracing.AllowUpdate)
	assert.EqualValues(t, 1, cfg.RayTracing.DescriptorMaxSets)
	assert.True(t, cfg.RayTracing.ZeroShaderBindingTable)
}

func TestParseConfigRejectsInvalidValues(t *testing.T) {
	_, err := ParseConfig([]byte("[raytracing]\nmax_recursion_depth = 0\n"))
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = ParseConfig([]byte("[raytracing]\ndescriptor_max_sets = 0\n"))
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = ParseConfig([]byte("[raytracing\n"))
	require.Error(t, err)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestConfigWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rtx.toml")
	require.NoError(t, os.WriteFile(path, []byte("[raytracing]\nmax_recursion_depth = 2\n"), 0o644))

	changes := make(chan *Config, 16)
	cw, err := NewConfigWatcher(path, func(cfg *Config) {
		select {
		case changes <- cfg:
		default:
		}
	})
	require.NoError(t, err)
	defer cw.Close()

	require.NoError(t, os.WriteFile(path, []byte("[raytracing]\nmax_recursion_depth = 7\n"), 0o644))

	// A truncating write can surface as more than one event; wait for the final content.
	timeout := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-changes:
			if cfg.RayTracing.MaxRecursionDepth == 7 {
				return
			}
		case <-timeout:
			t.Fatal("config change was not observed")
		}
	}
}

func TestConfigWatcherCloseTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rtx.toml")
	cw, err := NewConfigWatcher(path, func(*Config) {})
	require.NoError(t, err)
	require.NoError(t, cw.Close())
	require.Error(t, cw.Close())
}
