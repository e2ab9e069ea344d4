package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pelletier/go-toml/v2"
)

type LogConfig struct {
	Level        string `toml:"level"`
	ReportCaller bool   `toml:"report_caller"`
}

type RayTracingConfig struct {
	// Upper bound for recursive TraceRay calls, passed to pipeline creation.
	MaxRecursionDepth uint32 `toml:"max_recursion_depth"`
	// Create structures refittable so transform changes avoid a full rebuild.
	AllowUpdate bool `toml:"allow_update"`
	// Number of descriptor sets the pool can hand out.
	DescriptorMaxSets uint32 `toml:"descriptor_max_sets"`
	// Clear the mapped shader binding table before packing entries.
	ZeroShaderBindingTable bool `toml:"zero_shader_binding_table"`
}

type Config struct {
	Log        LogConfig        `toml:"log"`
	RayTracing RayTracingConfig `toml:"raytracing"`
}

func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:        "info",
			ReportCaller: true,
		},
		RayTracing: RayTracingConfig{
			MaxRecursionDepth:      2,
			AllowUpdate:            true,
			DescriptorMaxSets:      1,
			ZeroShaderBindingTable: true,
		},
	}
}

// ParseConfig decodes a TOML document on top of the defaults.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return ParseConfig(data)
}

func (c *Config) Validate() error {
	if c.RayTracing.MaxRecursionDepth < 1 {
		return fmt.Errorf("%w: max_recursion_depth must be at least 1", ErrInvalidArgument)
	}
	if c.RayTracing.DescriptorMaxSets < 1 {
		return fmt.Errorf("%w: descriptor_max_sets must be at least 1", ErrInvalidArgument)
	}
	return nil
}

// Apply pushes the logging section into the process logger.
func (c *Config) Apply() {
	SetLogLevel(c.Log.Level)
	SetLogReportCaller(c.Log.ReportCaller)
}

// ConfigWatcher reloads a config file whenever it is written and hands the
// new configuration to a callback. Invalid documents are logged and skipped.
type ConfigWatcher struct {
	path     string
	onChange func(*Config)

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup

	mutex    sync.Mutex
	isClosed bool
}

func NewConfigWatcher(path string, onChange func(*Config)) (*ConfigWatcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("%w: config watcher needs a callback", ErrInvalidArgument)
	}
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory: editors replace files on save, which drops a
	// watch placed on the file itself.
	if err := fsWatch.Add(filepath.Dir(path)); err != nil {
		_ = fsWatch.Close()
		return nil, err
	}
	cw := &ConfigWatcher{
		path:     filepath.Clean(path),
		onChange: onChange,
		watcher:  fsWatch,
		done:     make(chan struct{}),
	}
	cw.wg.Add(1)
	go cw.start()
	return cw, nil
}

func (cw *ConfigWatcher) start() {
	defer cw.wg.Done()
	for {
		select {
		case <-cw.done:
			return
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != cw.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			cfg, err := LoadConfig(cw.path)
			if err != nil {
				LogWarn("config reload skipped: %s", err)
				continue
			}
			LogInfo("config reloaded from %s", cw.path)
			cw.onChange(cfg)
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			LogError("config watcher: %s", err)
		}
	}
}

func (cw *ConfigWatcher) Close() error {
	cw.mutex.Lock()
	defer cw.mutex.Unlock()
	if cw.isClosed {
		return errors.New("config watcher already closed")
	}
	cw.isClosed = true
	close(cw.done)
	err := cw.watcher.Close()
	cw.wg.Wait()
	return err
}
