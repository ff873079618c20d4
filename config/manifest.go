// Package config handles malang.toml project configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Manifest represents a malang.toml project configuration.
type Manifest struct {
	Project Project `toml:"project"`
	Source  Source  `toml:"source"`
	GC      GC      `toml:"gc"`
	Image   Image   `toml:"image"`

	// Dir is the directory containing the malang.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Source configures source file locations.
type Source struct {
	Dirs  []string `toml:"dirs"`
	Entry string   `toml:"entry"`
}

// GC overrides the trigger policy's defaults (§4.2) without recompiling
// the program embedding this runtime.
type GC struct {
	InitialThreshold int64   `toml:"initial-threshold"`
	MinThreshold     int64   `toml:"min-threshold"`
	GrowthFactor     float64 `toml:"growth-factor"`
}

// Image configures persisted bytecode output.
type Image struct {
	Output        string `toml:"output"`
	IncludeSource bool   `toml:"include-source"`
}

// Load parses a malang.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "malang.toml")
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

	if len(m.Source.Dirs) == 0 {
		m.Source.Dirs = []string{"src"}
	}
	if m.Source.Entry == "" {
		m.Source.Entry = "main.mal"
	}

	return &m, nil
}

// FindAndLoad walks up from startDir to find a malang.toml file, then
// loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, "malang.toml")
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// SourceDirPaths returns absolute paths for the configured source directories.
func (m *Manifest) SourceDirPaths() []string {
	var paths []string
	for _, d := range m.Source.Dirs {
		paths = append(paths, filepath.Join(m.Dir, d))
	}
	return paths
}

// EntryPath returns the absolute path of the configured entry source file.
func (m *Manifest) EntryPath() string {
	return filepath.Join(m.Dir, m.Source.Entry)
}

// HasGCTuning reports whether the manifest overrides any GC trigger
// default, so a caller can skip heap.Heap.SetThresholds entirely when the
// manifest leaves the section empty.
func (m *Manifest) HasGCTuning() bool {
	return m.GC.InitialThreshold != 0 || m.GC.MinThreshold != 0 || m.GC.GrowthFactor != 0
}
