package raytracing

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rt/engine/core"
)

func newBuiltSceneAndPass(t *testing.T, dev *fakeDevice) (*Scene, *Pass) {
	t.Helper()
	cfg := core.DefaultConfig().RayTracing
	s, err := NewScene(testMeshes(), testInstances(), WithConfig(cfg))
	require.NoError(t, err)
	require.NoError(t, s.Build(dev))

	res := testPassResources()
	res.TopLevel = s.TopLevel()
	p, err := NewPass(dev, cfg, testPassShaders(), res)
	require.NoError(t, err)
	return s, p
}

func TestApplyConfigRebindsTopLevel(t *testing.T) {
	dev := newFakeDevice()
	s, p := newBuiltSceneAndPass(t, dev)
	require.Len(t, dev.updates, 1)

	cfg := core.DefaultConfig()
	require.NoError(t, ApplyConfig(dev, cfg, s, p))
	assert.Len(t, dev.updates, 1, "unchanged options keep the descriptor set")

	cfg.RayTracing.AllowUpdate = false
	require.NoError(t, ApplyConfig(dev, cfg, s, p))
	require.Len(t, dev.updates, 2)
	require.Len(t, dev.updates[1], 1)
	assert.Equal(t, BindingTopLevel, dev.updates[1][0].Binding)
	assert.Equal(t, []AccelerationStructure{s.TopLevel()}, dev.updates[1][0].AccelerationStructures)

	cfg.RayTracing.AllowUpdate = true
	require.NoError(t, ApplyConfig(dev, cfg, s, nil))
	assert.Len(t, dev.updates, 2)
}

func TestConfigReloaderPollsLatest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rtx.toml")
	require.NoError(t, os.WriteFile(path, []byte("[raytracing]\nallow_update = true\n"), 0o644))

	dev := newFakeDevice()
	s, p := newBuiltSceneAndPass(t, dev)
	r, err := WatchConfig(path)
	require.NoError(t, err)
	defer r.Close()

	applied, err := r.Poll(dev, s, p)
	require.NoError(t, err)
	assert.False(t, applied, "nothing written yet")

	require.NoError(t, os.WriteFile(path, []byte("[raytracing]\nallow_update = false\n"), 0o644))
	assert.Eventually(t, func() bool {
		_, err := r.Poll(dev, s, p)
		return err == nil && !s.allowUpdate
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, []AccelerationStructure{s.TopLevel()}, dev.updates[len(dev.updates)-1][0].AccelerationStructures)
}

func TestWatchConfigMissingDirectory(t *testing.T) {
	_, err := WatchConfig(filepath.Join(t.TempDir(), "missing", "rtx.toml"))
	assert.Error(t, err)
}
