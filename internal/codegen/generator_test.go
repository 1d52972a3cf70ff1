package codegen

import (
	"errors"
	"strings"
	"testing"

	"weft/internal/diag"
	"weft/internal/ir"
	"weft/internal/resolve"
)

func build(t *testing.T, steps []resolve.Step) *ir.FlowIR {
	t.Helper()
	f, err := ir.Build("test_flow", steps)
	if err != nil {
		t.Fatalf("ir.Build: %v", err)
	}
	return f
}

func TestGenerateMap(t *testing.T) {
	f := build(t, []resolve.Step{
		{"map": map[string]any{"full_name": "name"}},
	})
	src, err := Generate(f)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	for _, want := range []string{
		`function transform(keys, vals, ctx)`,
		`get(keys, vals, "name")`,
		`set(nk, nv, "full_name", v)`,
		`if v == nil then v = NULL end`,
	} {
		if !strings.Contains(src, want) {
			t.Fatalf("generated source missing %q:\n%s", want, src)
		}
	}
}

func TestGenerateDropAndAddFields(t *testing.T) {
	f := build(t, []resolve.Step{
		{"drop": []any{"secret_key"}},
		{"add_fields": map[string]any{"processed": true, "score": 1.5, "note": "a\"b"}},
	})
	src, err := Generate(f)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	for _, want := range []string{
		`del(keys, vals, "secret_key")`,
		`set(keys, vals, "processed", true)`,
		`set(keys, vals, "score", 1.5)`,
		`set(keys, vals, "note", "a\"b")`,
	} {
		if !strings.Contains(src, want) {
			t.Fatalf("generated source missing %q:\n%s", want, src)
		}
	}
}

func TestGenerateCoalesceChain(t *testing.T) {
	f := build(t, []resolve.Step{
		{"coalesce": map[string]any{"email": []any{"primary", "backup"}}},
	})
	src, err := Generate(f)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.Contains(src, `get(keys, vals, "primary")`) {
		t.Fatalf("first candidate missing:\n%s", src)
	}
	if !strings.Contains(src, "if v == nil or v == NULL then") {
		t.Fatalf("null fallthrough missing:\n%s", src)
	}
}

func TestGenerateDynamicLiteral(t *testing.T) {
	f := build(t, []resolve.Step{
		{"add_fields": map[string]any{
			"trace": resolve.Dynamic{Source: "prod-{{ uuid() }}"},
			"at":    resolve.Dynamic{Source: "{{ now() }}"},
		}},
	})
	src, err := Generate(f)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.Contains(src, `"prod-" .. ctx.id`) {
		t.Fatalf("interpolated dynamic missing:\n%s", src)
	}
	if !strings.Contains(src, `set(keys, vals, "at", ctx.now)`) {
		t.Fatalf("bare dynamic missing:\n%s", src)
	}
}

func TestGenerateBoxesContainers(t *testing.T) {
	f := build(t, []resolve.Step{
		{"add_fields": map[string]any{"meta": map[string]any{"b": 1, "a": 2}}},
	})
	src, err := Generate(f)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	// nested literal maps are key-sorted at build time
	if !strings.Contains(src, `{ j = "{\"a\":2,\"b\":1}" }`) {
		t.Fatalf("boxed container missing or not canonical:\n%s", src)
	}
}

func TestGenerateRejectsUnsupportedKind(t *testing.T) {
	f := build(t, []resolve.Step{
		{"drop": []any{"x"}},
		{"filter": map[string]any{"when": "a > 1"}},
	})
	_, err := Generate(f)
	var ce *diag.CompileError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CompileError, got %v", err)
	}
	if ce.Position != 1 {
		t.Fatalf("expected position 1, got %d", ce.Position)
	}
	if !strings.Contains(ce.Message, "not supported by code generator") {
		t.Fatalf("unexpected message: %q", ce.Message)
	}
}
