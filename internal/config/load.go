package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultRaw is the study used when no configuration file is given.
func DefaultRaw() map[string]any {
	return map[string]any{
		"cores":      []any{"rocket", "vexriscv", "cva6"},
		"pdks":       []any{"sky130", "generic"},
		"benchmarks": []any{"fft", "matrix_mult", "crypto"},
		"output_dir": DefaultOutputDir,
	}
}

// LoadRaw reads a YAML (.yaml, .yml) or JSON (.json) study file into a raw
// mapping. An empty path returns DefaultRaw.
func LoadRaw(path string) (map[string]any, error) {
	if path == "" {
		return DefaultRaw(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Field: "file", Msg: err.Error()}
	}

	raw := map[string]any{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, configErrorf("file", "parsing %s: %v", path, err)
		}
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			return nil, configErrorf("file", "parsing %s: %v", path, err)
		}
	default:
		return nil, configErrorf("file", "unsupported config file format: %s", path)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// Load reads and resolves a study file.
func Load(path string) (*StudyConfig, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Resolve(raw)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", displayPath(path), err)
	}
	return cfg, nil
}

func displayPath(p string) string {
	if p == "" {
		return "default study"
	}
	return p
}
