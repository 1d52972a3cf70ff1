package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"weft/internal/diag"
	"weft/internal/record"
	"weft/internal/resolve"
	"weft/internal/telemetry"
)

// Limits bounds a sandboxed call. Zero fields take the defaults.
type Limits struct {
	CallTimeout     time.Duration
	RegistryMaxSize int
	CallStackSize   int
}

// DefaultLimits returns the standard per-call budget.
func DefaultLimits() Limits {
	return Limits{
		CallTimeout:     time.Second,
		RegistryMaxSize: 1 << 20,
		CallStackSize:   128,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.CallTimeout <= 0 {
		l.CallTimeout = d.CallTimeout
	}
	if l.RegistryMaxSize <= 0 {
		l.RegistryMaxSize = d.RegistryMaxSize
	}
	if l.CallStackSize <= 0 {
		l.CallStackSize = d.CallStackSize
	}
	return l
}

// stateEnv is one isolated runtime with the module's transform defined. The
// NULL sentinel is a per-state userdata; record nulls cross the boundary as
// this value because Lua tables cannot hold nil.
type stateEnv struct {
	L    *lua.LState
	null *lua.LUserData
}

// Host executes a compiled module against records. States are pooled and
// reused across calls; a state that faulted or overran its budget is
// discarded, never returned to the pool.
type Host struct {
	module *CompiledModule
	limits Limits

	mu   sync.Mutex
	pool []*stateEnv
}

// NewHost wraps a compiled module for execution under the given limits.
func NewHost(module *CompiledModule, limits Limits) *Host {
	return &Host{module: module, limits: limits.withDefaults()}
}

// Module returns the module this host executes.
func (h *Host) Module() *CompiledModule { return h.module }

// Execute runs one record through the module. The input record is not
// mutated. Faults and timeouts surface as *diag.ExecFailure; the failed
// runtime is reclaimed and the next call gets a fresh one.
func (h *Host) Execute(ctx context.Context, rec *record.Record, ec resolve.ExecContext) (*record.Record, error) {
	env, err := h.acquire()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, h.limits.CallTimeout)
	defer cancel()
	env.L.SetContext(callCtx)

	keys, vals, err := encodeRecord(env, rec)
	if err != nil {
		h.reclaim(env)
		return nil, err
	}
	callMeta := env.L.NewTable()
	callMeta.RawSetString("now", lua.LString(ec.Now))
	callMeta.RawSetString("id", lua.LString(ec.ID))

	err = env.L.CallByParam(lua.P{
		Fn:      env.L.GetGlobal("transform"),
		NRet:    2,
		Protect: true,
	}, keys, vals, callMeta)
	if err != nil {
		h.reclaim(env)
		return nil, &diag.ExecFailure{
			Flow:     h.module.Flow,
			Position: -1,
			Message:  err.Error(),
			Timeout:  errors.Is(callCtx.Err(), context.DeadlineExceeded),
		}
	}

	outVals := env.L.Get(-1)
	outKeys := env.L.Get(-2)
	env.L.Pop(2)

	out, err := decodeRecord(h.module.Flow, env, outKeys, outVals)
	if err != nil {
		h.reclaim(env)
		return nil, err
	}

	env.L.RemoveContext()
	h.release(env)
	telemetry.ExecuteDuration.WithLabelValues("compiled").Observe(time.Since(start).Seconds())
	return out, nil
}

// Close discards every pooled runtime.
func (h *Host) Close() {
	h.mu.Lock()
	pool := h.pool
	h.pool = nil
	h.mu.Unlock()
	for _, env := range pool {
		env.L.Close()
	}
}

func (h *Host) acquire() (*stateEnv, error) {
	h.mu.Lock()
	if n := len(h.pool); n > 0 {
		env := h.pool[n-1]
		h.pool = h.pool[:n-1]
		h.mu.Unlock()
		return env, nil
	}
	h.mu.Unlock()
	return h.newState()
}

func (h *Host) release(env *stateEnv) {
	h.mu.Lock()
	h.pool = append(h.pool, env)
	h.mu.Unlock()
}

func (h *Host) reclaim(env *stateEnv) {
	env.L.Close()
	telemetry.SandboxReclaims.Inc()
}

// newState builds a closed runtime: no standard libraries are opened, so
// the module sees only the language itself plus the NULL sentinel.
func (h *Host) newState() (*stateEnv, error) {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:    true,
		RegistrySize:    1024,
		RegistryMaxSize: h.limits.RegistryMaxSize,
		CallStackSize:   h.limits.CallStackSize,
	})
	null := L.NewUserData()
	L.SetGlobal("NULL", null)

	L.Push(L.NewFunctionFromProto(h.module.proto))
	if err := L.PCall(0, 0, nil); err != nil {
		L.Close()
		return nil, &diag.ExecFailure{Flow: h.module.Flow, Position: -1,
			Message: fmt.Sprintf("module load: %v", err)}
	}
	if L.GetGlobal("transform").Type() != lua.LTFunction {
		L.Close()
		return nil, &diag.ExecFailure{Flow: h.module.Flow, Position: -1,
			Message: "module defines no transform entry point"}
	}
	return &stateEnv{L: L, null: null}, nil
}

// encodeRecord lays the record out as parallel keys/vals array tables.
// vals[i] holds the value for keys[i]; nulls become the NULL sentinel and
// containers cross as opaque boxes holding their canonical JSON.
func encodeRecord(env *stateEnv, rec *record.Record) (*lua.LTable, *lua.LTable, error) {
	keys := env.L.NewTable()
	vals := env.L.NewTable()
	for i, k := range rec.Keys() {
		v, _ := rec.Get(k)
		lv, err := encodeValue(env, v)
		if err != nil {
			return nil, nil, err
		}
		keys.RawSetInt(i+1, lua.LString(k))
		vals.RawSetInt(i+1, lv)
	}
	return keys, vals, nil
}

func encodeValue(env *stateEnv, v any) (lua.LValue, error) {
	switch t := v.(type) {
	case nil:
		return env.null, nil
	case bool:
		return lua.LBool(t), nil
	case float64:
		return lua.LNumber(t), nil
	case string:
		return lua.LString(t), nil
	case *record.Record, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return nil, fmt.Errorf("encode container: %w", err)
		}
		box := env.L.NewTable()
		box.RawSetString("j", lua.LString(b))
		return box, nil
	default:
		return nil, fmt.Errorf("encode: unsupported value type %T", v)
	}
}

func decodeRecord(flow string, env *stateEnv, lkeys, lvals lua.LValue) (*record.Record, error) {
	kt, ok := lkeys.(*lua.LTable)
	if !ok {
		return nil, malformed(flow, "keys result is not a table")
	}
	vt, ok := lvals.(*lua.LTable)
	if !ok {
		return nil, malformed(flow, "vals result is not a table")
	}
	out := record.New()
	for i := 1; i <= kt.Len(); i++ {
		name, ok := kt.RawGetInt(i).(lua.LString)
		if !ok {
			return nil, malformed(flow, fmt.Sprintf("key %d is not a string", i))
		}
		v, err := decodeValue(flow, env, vt.RawGetInt(i))
		if err != nil {
			return nil, err
		}
		out.Set(string(name), v)
	}
	return out, nil
}

func decodeValue(flow string, env *stateEnv, lv lua.LValue) (any, error) {
	switch t := lv.(type) {
	case *lua.LUserData:
		if t == env.null {
			return nil, nil
		}
		return nil, malformed(flow, "unknown userdata in result")
	case lua.LBool:
		return bool(t), nil
	case lua.LNumber:
		return float64(t), nil
	case lua.LString:
		return string(t), nil
	case *lua.LTable:
		boxed, ok := t.RawGetString("j").(lua.LString)
		if !ok {
			return nil, malformed(flow, "unboxed table in result")
		}
		v, err := record.ParseValue([]byte(boxed))
		if err != nil {
			return nil, malformed(flow, fmt.Sprintf("boxed container: %v", err))
		}
		return v, nil
	case *lua.LNilType:
		return nil, malformed(flow, "bare nil in result values")
	default:
		return nil, malformed(flow, fmt.Sprintf("unsupported result type %s", lv.Type()))
	}
}

func malformed(flow, msg string) error {
	return &diag.ExecFailure{Flow: flow, Position: -1,
		Message: "malformed module output: " + msg}
}
