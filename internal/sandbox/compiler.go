package sandbox

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
	"golang.org/x/sync/singleflight"

	"weft/internal/codegen"
	"weft/internal/diag"
	"weft/internal/ir"
	"weft/internal/telemetry"
)

// Version identifies the generator+toolchain pair. A cached module whose
// version tag differs is stale and gets rebuilt.
var Version = codegen.Version + "+" + lua.LuaVersion

// CompiledModule is a portable sandbox module: the generated chunk bytes
// plus the FlowIR hash and version tag it was built from. The compiled
// function prototype is process-local and re-derived when a module is
// loaded from cache. Immutable once built; safe to share.
type CompiledModule struct {
	Flow    string
	Hash    string
	Version string
	Source  []byte

	proto *lua.FunctionProto
}

// Compiler turns FlowIRs into CompiledModules through the content-addressed
// store. Concurrent requests for the same key are collapsed to a single
// build; waiters share the resulting module or the failure.
type Compiler struct {
	store Store
	group singleflight.Group

	builds atomic.Int64 // toolchain invocations, observable in tests
}

func NewCompiler(store Store) *Compiler {
	return &Compiler{store: store}
}

// Compile returns the module for a flow, consulting the cache first.
func (c *Compiler) Compile(flow *ir.FlowIR) (*CompiledModule, error) {
	key := flow.Hash() + "\x00" + Version
	v, err, _ := c.group.Do(key, func() (any, error) {
		return c.compileLocked(flow)
	})
	if err != nil {
		return nil, err
	}
	return v.(*CompiledModule), nil
}

func (c *Compiler) compileLocked(flow *ir.FlowIR) (*CompiledModule, error) {
	if cached, ok, err := c.store.Get(flow.Hash(), Version); err != nil {
		return nil, fmt.Errorf("flow %q: module cache: %w", flow.Name, err)
	} else if ok {
		telemetry.ModuleCacheHits.WithLabelValues("hit").Inc()
		return loadModule(flow.Name, flow.Hash(), cached)
	}
	telemetry.ModuleCacheHits.WithLabelValues("miss").Inc()

	start := time.Now()
	src, err := codegen.Generate(flow)
	if err != nil {
		return nil, err
	}
	c.builds.Add(1)
	mod, err := loadModule(flow.Name, flow.Hash(), []byte(src))
	if err != nil {
		return nil, err
	}
	if err := c.store.Put(flow.Hash(), Version, mod.Source); err != nil {
		return nil, fmt.Errorf("flow %q: module cache: %w", flow.Name, err)
	}
	telemetry.CompileDuration.Observe(time.Since(start).Seconds())
	return mod, nil
}

// loadModule compiles chunk bytes into an executable prototype. A failure
// here is a code generator defect, not user misconfiguration.
func loadModule(flow, hash string, source []byte) (*CompiledModule, error) {
	chunk, err := parse.Parse(strings.NewReader(string(source)), flow)
	if err != nil {
		return nil, &diag.CompileError{Flow: flow, Position: -1,
			Message: "generated source failed to parse (code generator defect)",
			Output:  err.Error()}
	}
	proto, err := lua.Compile(chunk, flow)
	if err != nil {
		return nil, &diag.CompileError{Flow: flow, Position: -1,
			Message: "generated source failed to compile (code generator defect)",
			Output:  err.Error()}
	}
	return &CompiledModule{
		Flow:    flow,
		Hash:    hash,
		Version: Version,
		Source:  source,
		proto:   proto,
	}, nil
}
