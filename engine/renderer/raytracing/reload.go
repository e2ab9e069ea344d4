package raytracing

import (
	"sync"

	"github.com/spaghettifunk/anima-rt/engine/core"
)

// ConfigReloader watches a config file and hands the latest version to the
// render loop, which applies it between frames with Poll. Reloads arriving
// between two polls collapse into the newest one.
type ConfigReloader struct {
	watcher *core.ConfigWatcher

	mutex   sync.Mutex
	pending *core.Config
}

func WatchConfig(path string) (*ConfigReloader, error) {
	r := &ConfigReloader{}
	watcher, err := core.NewConfigWatcher(path, r.store)
	if err != nil {
		return nil, err
	}
	r.watcher = watcher
	return r, nil
}

func (r *ConfigReloader) store(cfg *core.Config) {
	r.mutex.Lock()
	r.pending = cfg
	r.mutex.Unlock()
}

func (r *ConfigReloader) take() *core.Config {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	cfg := r.pending
	r.pending = nil
	return cfg
}

// Poll applies a pending reload, if any: logging settings go to the process
// logger, scene options to scene, and a rebuilt top level is rebound in pass.
// pass may be nil. It reports whether a reload was applied.
func (r *ConfigReloader) Poll(dev Device, scene *Scene, pass *Pass) (bool, error) {
	cfg := r.take()
	if cfg == nil {
		return false, nil
	}
	return true, ApplyConfig(dev, cfg, scene, pass)
}

// ApplyConfig pushes cfg into the logger, scene and pass.
func ApplyConfig(dev Device, cfg *core.Config, scene *Scene, pass *Pass) error {
	cfg.Apply()
	rebuilt, err := scene.Reconfigure(dev, cfg.RayTracing)
	if err != nil {
		return err
	}
	if rebuilt && pass != nil {
		return pass.SetTopLevel(dev, scene.TopLevel())
	}
	return nil
}

func (r *ConfigReloader) Close() error {
	return r.watcher.Close()
}
