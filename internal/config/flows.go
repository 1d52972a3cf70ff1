package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"weft/internal/resolve"
	filesink "weft/sink/file"
	"weft/sink/stdout"
)

type sinkConfigs struct {
	Stdout stdout.Config   `yaml:"stdout"`
	File   filesink.Config `yaml:"file"`
}

// Flow is one parsed flow definition file.
type Flow struct {
	SchemaVersion string `yaml:"schema_version"`
	Name          string `yaml:"name"`

	Source struct {
		Driver string `yaml:"driver"`
		Config string `yaml:"config"`
	} `yaml:"source"`

	// Ordered list of transform steps applied between source and sinks.
	Transforms []resolve.Step `yaml:"transforms"`

	Sinks       []string    `yaml:"sinks"`
	SinkConfigs sinkConfigs `yaml:"sink_configs"`
}

// SinkConfig returns the typed config block for a named sink.
func (f *Flow) SinkConfig(name string) (any, error) {
	switch name {
	case "stdout":
		return f.SinkConfigs.Stdout, nil
	case "file":
		return f.SinkConfigs.File, nil
	default:
		return nil, fmt.Errorf("no config block for sink %q", name)
	}
}

// LoadFlow parses one flow YAML, validates schema_version, and resolves the
// source config path relative to the flow file.
func LoadFlow(path string) (Flow, error) {
	var f Flow
	raw, err := os.ReadFile(path)
	if err != nil {
		return f, err
	}
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return f, fmt.Errorf("%s: %w", path, err)
	}
	if f.SchemaVersion == "" {
		f.SchemaVersion = SupportedSchema
	}
	if f.SchemaVersion != SupportedSchema {
		return f, fmt.Errorf("%s: flow schema_version %q not supported (want %q)",
			path, f.SchemaVersion, SupportedSchema)
	}
	if f.Name == "" {
		base := filepath.Base(path)
		f.Name = base[:len(base)-len(filepath.Ext(base))]
	}
	if len(f.Transforms) == 0 {
		return f, fmt.Errorf("%s: flow %q has no transforms", path, f.Name)
	}
	if f.Source.Config != "" && !filepath.IsAbs(f.Source.Config) {
		f.Source.Config = filepath.Join(filepath.Dir(path), f.Source.Config)
	}
	return f, nil
}

// LoadFlows parses every *.yaml / *.yml under dir, sorted by file name, and
// rejects duplicate flow names.
func LoadFlows(dir string) ([]Flow, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("flows dir %s: %w", dir, err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".yaml", ".yml":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	if len(paths) == 0 {
		return nil, fmt.Errorf("flows dir %s: no flow files", dir)
	}

	flows := make([]Flow, 0, len(paths))
	seen := map[string]string{}
	for _, p := range paths {
		f, err := LoadFlow(p)
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[f.Name]; dup {
			return nil, fmt.Errorf("%s: flow name %q already defined in %s", p, f.Name, prev)
		}
		seen[f.Name] = p
		flows = append(flows, f)
	}
	return flows, nil
}
