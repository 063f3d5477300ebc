package main

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/kungfusheep/loom"
)

// Config is the optional yaml file for loom run: loop settings, component
// template files and the initial global state.
type Config struct {
	// FPS caps the tick rate. Zero keeps the default.
	FPS int `yaml:"fps"`

	// Watch toggles template hot reload. Defaults to on.
	Watch *bool `yaml:"watch"`

	// Components maps component names to template files, registered as
	// template-only prototypes.
	Components map[string]string `yaml:"components"`

	// State seeds the global store before the first frame.
	State map[string]any `yaml:"state"`

	dir string // resolves relative component paths
}

func loadConfig(path string) (*Config, error) {
	if path == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.dir = filepath.Dir(path)
	return &cfg, nil
}

func (c *Config) registerComponents(reg *loom.Registry) error {
	for name, p := range c.Components {
		if !filepath.IsAbs(p) {
			p = filepath.Join(c.dir, p)
		}
		if err := reg.RegisterDefaultFile(name, p); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) seedState(st *loom.State) {
	for key, value := range c.State {
		st.Set(loom.Path(key), value)
	}
}

func (c *Config) watch(noWatchFlag bool) bool {
	if noWatchFlag {
		return false
	}
	if c.Watch != nil {
		return *c.Watch
	}
	return true
}
