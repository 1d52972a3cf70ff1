// Package config loads the engine configuration: the runtime file
// (weft.yaml) and the per-flow definition files under the flows directory.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"weft/internal/resolve"
)

const SupportedSchema = "v1"

// ExecutionPath selects how records are executed.
type ExecutionPath string

const (
	ExecInterpret ExecutionPath = "interpret" // IR interpreter
	ExecCompiled  ExecutionPath = "compiled"  // sandboxed modules
	ExecVerify    ExecutionPath = "verify"    // both, compared per record
)

type SandboxCfg struct {
	CallTimeout     time.Duration `koanf:"call_timeout"`
	RegistryMaxSize int           `koanf:"registry_max_size"`
	CallStackSize   int           `koanf:"call_stack_size"`
}

type RuntimeCfg struct {
	Execution   ExecutionPath `koanf:"execution"`
	MetricsPort int           `koanf:"metrics_port"`
	CachePath   string        `koanf:"cache_path"` // empty = in-memory module cache
	Sandbox     SandboxCfg    `koanf:"sandbox"`
}

type Runtime struct {
	SchemaVersion string     `koanf:"schema_version"`
	Runtime       RuntimeCfg `koanf:"runtime"`
	FlowsDir      string     `koanf:"flows_dir"`

	// Vars are static template variables; Macros are named step lists
	// expandable via {use: name}.
	Vars   map[string]any              `koanf:"vars"`
	Macros map[string][]map[string]any `koanf:"macros"`
}

// Library converts the macro section into the resolver's form.
func (r *Runtime) Library() resolve.Library {
	lib := make(resolve.Library, len(r.Macros))
	for name, steps := range r.Macros {
		out := make([]resolve.Step, len(steps))
		for i, s := range steps {
			out[i] = resolve.Step(s)
		}
		lib[name] = out
	}
	return lib
}

// LoadRuntime merges weft.yaml (if present) with env-vars
// (prefix `WEFT__`, delimiter `__`) and validates schema_version.
func LoadRuntime(path string) (Runtime, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return Runtime{}, err
		}
	}
	_ = k.Load(env.Provider("WEFT__", "__", nil), nil)

	var cfg Runtime
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, err
	}
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = SupportedSchema
	}
	if cfg.SchemaVersion != SupportedSchema {
		return cfg, fmt.Errorf("runtime schema_version %q not supported (want %q)",
			cfg.SchemaVersion, SupportedSchema)
	}
	applyRuntimeDefaults(&cfg)
	return cfg, nil
}

func applyRuntimeDefaults(c *Runtime) {
	switch c.Runtime.Execution {
	case ExecInterpret, ExecCompiled, ExecVerify:
	default:
		c.Runtime.Execution = ExecInterpret
	}
	if c.Runtime.MetricsPort == 0 {
		c.Runtime.MetricsPort = 9100
	}
	if c.Runtime.Sandbox.CallTimeout == 0 {
		c.Runtime.Sandbox.CallTimeout = time.Second
	}
	if c.FlowsDir == "" {
		c.FlowsDir = "flows"
	}
}
