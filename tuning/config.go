// Package tuning handles pyadapt.toml dispatcher configuration and the
// optional specialization trace sink.
package tuning

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/donBarbos/cpython/vm"
)

// Config represents a pyadapt.toml configuration.
type Config struct {
	Dispatch Dispatch                `toml:"dispatch"`
	Families map[string]FamilyTuning `toml:"families"`
	Trace    Trace                   `toml:"trace"`

	// Dir is the directory containing the pyadapt.toml file (set at load time).
	Dir string `toml:"-"`
}

// Dispatch contains global dispatcher switches.
type Dispatch struct {
	Disabled bool `toml:"disabled"`
}

// FamilyTuning overrides one family's counters. Zero values keep the
// built-in default.
type FamilyTuning struct {
	Warmup     uint16 `toml:"warmup"`
	MissBudget uint16 `toml:"miss-budget"`
}

// Trace configures the specialization event sink.
type Trace struct {
	Database string `toml:"database"`
	Interval string `toml:"interval"`
}

// Default returns the configuration used when no pyadapt.toml exists.
func Default() *Config {
	return &Config{
		Families: map[string]FamilyTuning{},
		Trace:    Trace{Interval: "5s"},
	}
}

// Load parses a pyadapt.toml file from the given directory.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, "pyadapt.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var c Config
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	if c.Trace.Interval == "" {
		c.Trace.Interval = "5s"
	}
	return &c, nil
}

// FindAndLoad walks up from startDir to find a pyadapt.toml file, then
// loads and returns the config. Returns the default if none is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "pyadapt.toml")); err == nil {
			return Load(dir)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return Default(), nil
		}
		dir = parent
	}
}

// Apply transfers the per-family overrides onto a registry. It must run
// before the registry is finalized.
func (c *Config) Apply(reg *vm.Registry) error {
	for name, ft := range c.Families {
		if err := reg.Tune(name, ft.Warmup, ft.MissBudget); err != nil {
			return fmt.Errorf("tuning: family %q: %w", name, err)
		}
	}
	return nil
}
