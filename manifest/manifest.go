// Package manifest handles mica.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Manifest represents a mica.toml project configuration.
type Manifest struct {
	Project Project `toml:"project"`
	Runtime Runtime `toml:"runtime"`
	Cache   Cache   `toml:"cache"`

	// Dir is the directory containing the mica.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
	Entry   string `toml:"entry"`
}

// Runtime configures execution limits.
type Runtime struct {
	MaxRecursionDepth int `toml:"max-recursion-depth"`
	DefaultRegisters  int `toml:"default-registers"`
}

// Cache configures inline-cache behavior and the code store location.
type Cache struct {
	TrustThreshold int    `toml:"trust-threshold"`
	StorePath      string `toml:"store-path"`
}

// Load parses a mica.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "mica.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	m.applyDefaults()
	return &m, nil
}

// FindAndLoad walks up from startDir to find a mica.toml file, then loads
// and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, "mica.toml")
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Default returns a manifest with default settings and no project section,
// used when no mica.toml is found.
func Default() *Manifest {
	m := &Manifest{}
	m.applyDefaults()
	return m
}

func (m *Manifest) applyDefaults() {
	if m.Runtime.MaxRecursionDepth <= 0 {
		m.Runtime.MaxRecursionDepth = 1000
	}
	if m.Runtime.DefaultRegisters <= 0 {
		m.Runtime.DefaultRegisters = 64
	}
	if m.Cache.TrustThreshold <= 0 {
		m.Cache.TrustThreshold = 8
	}
}

// StorePath returns the absolute path to the code store database, or ""
// when no store is configured.
func (m *Manifest) StorePath() string {
	if m.Cache.StorePath == "" {
		return ""
	}
	if filepath.IsAbs(m.Cache.StorePath) || m.Dir == "" {
		return m.Cache.StorePath
	}
	return filepath.Join(m.Dir, m.Cache.StorePath)
}

// EntryPath returns the absolute path to the configured entry file, or ""
// when none is set.
func (m *Manifest) EntryPath() string {
	if m.Project.Entry == "" {
		return ""
	}
	if filepath.IsAbs(m.Project.Entry) || m.Dir == "" {
		return m.Project.Entry
	}
	return filepath.Join(m.Dir, m.Project.Entry)
}
