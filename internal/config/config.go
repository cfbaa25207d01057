// Package config loads the YAML configuration shared by the pmemkv
// command-line tools: which engine to open, where its pool lives, and
// how large to create it.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/bpowers/pmemkv"
)

// File is the on-disk (YAML) representation of an engine's open-time
// configuration.
//
//	engine: tree3
//	path: /mnt/pmem/pool
//	size: 1073741824
type File struct {
	Engine string `yaml:"engine"`
	Path   string `yaml:"path"`
	Size   int64  `yaml:"size"`
}

// Load reads and parses the YAML configuration file at path.
func Load(path string) (File, error) {
	var f File
	data, err := os.ReadFile(path)
	if err != nil {
		return f, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if f.Engine == "" {
		return f, fmt.Errorf("config: %s: missing engine", path)
	}
	if f.Path == "" {
		return f, fmt.Errorf("config: %s: missing path", path)
	}
	if f.Size <= 0 {
		return f, fmt.Errorf("config: %s: size must be positive", path)
	}
	return f, nil
}

// EngineConfig converts the parsed file into a pmemkv.Config (path and
// size). The engines' Open functions take path and size as separate
// arguments, not a pmemkv.Config.
func (f File) EngineConfig() pmemkv.Config {
	return pmemkv.Config{Path: f.Path, Size: f.Size}
}
