package resolve

import (
	"errors"
	"strings"
	"testing"

	"weft/internal/diag"
)

func TestExpandMacroSubstitution(t *testing.T) {
	lib := Library{
		"strip_internal": {
			{"drop": []any{"internal_id", "debug_info"}},
		},
	}
	steps := []Step{
		{"map": map[string]any{"id": "source_id"}},
		{"use": "strip_internal"},
	}
	out, err := Expand("orders", steps, lib, nil)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(out))
	}
	if _, ok := out[1]["drop"]; !ok {
		t.Fatalf("macro not substituted: %v", out[1])
	}
}

func TestExpandNestedMacros(t *testing.T) {
	lib := Library{
		"outer": {
			{"use": "inner"},
			{"add_fields": map[string]any{"stage": "outer"}},
		},
		"inner": {
			{"drop": []any{"tmp"}},
		},
	}
	out, err := Expand("f", []Step{{"use": "outer"}}, lib, nil)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(out))
	}
	if _, ok := out[0]["drop"]; !ok {
		t.Fatalf("nested macro not expanded first: %v", out[0])
	}
}

func TestExpandMacroCycleIsFatal(t *testing.T) {
	lib := Library{
		"a": {{"use": "b"}},
		"b": {{"use": "a"}},
	}
	_, err := Expand("f", []Step{{"use": "a"}}, lib, nil)
	var cfg *diag.ConfigError
	if !errors.As(err, &cfg) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if !strings.Contains(cfg.Message, "a -> b -> a") {
		t.Fatalf("cycle chain missing from message: %q", cfg.Message)
	}
}

func TestExpandSelfCycle(t *testing.T) {
	lib := Library{"x": {{"use": "x"}}}
	_, err := Expand("f", []Step{{"use": "x"}}, lib, nil)
	var cfg *diag.ConfigError
	if !errors.As(err, &cfg) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if !strings.Contains(cfg.Message, "x -> x") {
		t.Fatalf("cycle chain missing: %q", cfg.Message)
	}
}

func TestExpandUnresolvedMacro(t *testing.T) {
	_, err := Expand("f", []Step{{"use": "ghost"}}, nil, nil)
	var cfg *diag.ConfigError
	if !errors.As(err, &cfg) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if !strings.Contains(cfg.Message, "ghost") {
		t.Fatalf("macro name missing: %q", cfg.Message)
	}
}

func TestStaticExpressionResolvesAtLoadTime(t *testing.T) {
	steps := []Step{
		{"add_fields": map[string]any{
			"env":    "{{ environment }}",
			"region": "eu-{{ zone }}",
		}},
	}
	vars := Context{"environment": "prod", "zone": "west-1"}
	out, err := Expand("f", steps, nil, vars)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	fields := out[0]["add_fields"].(map[string]any)
	if fields["env"] != "prod" {
		t.Fatalf("env = %v", fields["env"])
	}
	if fields["region"] != "eu-west-1" {
		t.Fatalf("region = %v", fields["region"])
	}
}

func TestStaticExpressionKeepsType(t *testing.T) {
	steps := []Step{
		{"add_fields": map[string]any{"replicas": "{{ count }}"}},
	}
	out, err := Expand("f", steps, nil, Context{"count": 3})
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	fields := out[0]["add_fields"].(map[string]any)
	if fields["replicas"] != 3 {
		t.Fatalf("sole static expression lost its type: %v", fields["replicas"])
	}
}

func TestDynamicExpressionForwardedUnevaluated(t *testing.T) {
	steps := []Step{
		{"add_fields": map[string]any{
			"created_at": "{{ now() }}",
			"trace":      "{{ environment }}-{{ uuid() }}",
		}},
	}
	out, err := Expand("f", steps, nil, Context{"environment": "prod"})
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	fields := out[0]["add_fields"].(map[string]any)

	d, ok := fields["created_at"].(Dynamic)
	if !ok {
		t.Fatalf("expected Dynamic tag, got %T", fields["created_at"])
	}
	if d.Source != "{{ now() }}" {
		t.Fatalf("dynamic source altered: %q", d.Source)
	}

	mixed, ok := fields["trace"].(Dynamic)
	if !ok {
		t.Fatalf("expected Dynamic tag for mixed expression, got %T", fields["trace"])
	}
	if mixed.Source != "prod-{{ uuid() }}" {
		t.Fatalf("static half not resolved in mixed expression: %q", mixed.Source)
	}
}

func TestUndefinedVariableIsFatal(t *testing.T) {
	steps := []Step{{"add_fields": map[string]any{"x": "{{ nope }}"}}}
	_, err := Expand("f", steps, nil, Context{})
	var cfg *diag.ConfigError
	if !errors.As(err, &cfg) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestTemplateBodiesLeftForExecutor(t *testing.T) {
	steps := []Step{
		{"template": map[string]any{"greeting": "Hello {{ first_name }}"}},
	}
	out, err := Expand("f", steps, nil, Context{})
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	body := out[0]["template"].(map[string]any)["greeting"]
	if body != "Hello {{ first_name }}" {
		t.Fatalf("template body rewritten: %v", body)
	}
}

func TestExecContextEval(t *testing.T) {
	ctx := ExecContext{Now: "2026-01-02T03:04:05Z", ID: "abc-123"}
	got := ctx.Eval("at {{ now() }} id {{ uuid() }}")
	if got != "at 2026-01-02T03:04:05Z id abc-123" {
		t.Fatalf("eval: %q", got)
	}
}
