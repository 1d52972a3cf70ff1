package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"weft/internal/config"
	"weft/internal/diag"
	"weft/internal/interp"
	"weft/internal/ir"
	"weft/internal/logging"
	"weft/internal/pipeline"
	"weft/internal/resolve"
	"weft/internal/sandbox"
	"weft/internal/telemetry"
)

type Config struct {
	ConfigPath  string // weft.yaml; empty = defaults + env
	MetricsPort int    // overrides the runtime config when non-zero
}

func Bootstrap(ctx context.Context, cfg Config) (*Engine, error) {
	rt, err := config.LoadRuntime(cfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("runtime config: %w", err)
	}

	flowsDir := rt.FlowsDir
	if cfg.ConfigPath != "" && !filepath.IsAbs(flowsDir) {
		flowsDir = filepath.Join(filepath.Dir(cfg.ConfigPath), flowsDir)
	}
	flows, err := config.LoadFlows(flowsDir)
	if err != nil {
		return nil, err
	}

	// 1. module cache + compiler
	store := sandbox.NewMemStore()
	if rt.Runtime.CachePath != "" {
		store, err = sandbox.OpenSQLiteStore(rt.Runtime.CachePath)
		if err != nil {
			return nil, err
		}
	}
	compiler := sandbox.NewCompiler(store)

	// 2. one runner per flow
	e := &Engine{store: store}
	for _, flow := range flows {
		exec, err := BuildExecutor(rt, compiler, flow)
		if err != nil {
			e.Close()
			return nil, err
		}
		runner, err := pipeline.Assemble(flow, exec)
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("flow %q: %w", flow.Name, err)
		}
		e.runners = append(e.runners, runner)
	}

	// 3. metrics
	port := rt.Runtime.MetricsPort
	if cfg.MetricsPort != 0 {
		port = cfg.MetricsPort
	}
	telemetry.Expose(port)

	return e, nil
}

// BuildExecutor resolves, builds and (per the configured path) compiles one
// flow. A flow the code generator cannot lower falls back to the
// interpreter instead of failing the engine.
func BuildExecutor(rt config.Runtime, compiler *sandbox.Compiler, flow config.Flow) (pipeline.Executor, error) {
	steps, err := resolve.Expand(flow.Name, flow.Transforms, rt.Library(), resolve.Context(rt.Vars))
	if err != nil {
		return nil, err
	}
	flowIR, err := ir.Build(flow.Name, steps)
	if err != nil {
		return nil, err
	}

	ref, err := interp.New(flowIR)
	if err != nil {
		return nil, err
	}
	if rt.Runtime.Execution == config.ExecInterpret {
		return ref, nil
	}

	mod, err := compiler.Compile(flowIR)
	if err != nil {
		var ce *diag.CompileError
		if errors.As(err, &ce) && ce.Position >= 0 {
			logging.L().Warn("flow not compilable, using interpreter",
				"flow", flow.Name, "reason", ce.Message)
			return ref, nil
		}
		return nil, err
	}
	host := sandbox.NewHost(mod, sandbox.Limits{
		CallTimeout:     rt.Runtime.Sandbox.CallTimeout,
		RegistryMaxSize: rt.Runtime.Sandbox.RegistryMaxSize,
		CallStackSize:   rt.Runtime.Sandbox.CallStackSize,
	})
	logging.L().Info("flow compiled", "flow", flow.Name, "hash", flowIR.Hash(),
		"module_bytes", len(mod.Source))

	if rt.Runtime.Execution == config.ExecVerify {
		return &pipeline.Verifier{Flow: flow.Name, Compiled: host, Reference: ref}, nil
	}
	return host, nil
}
