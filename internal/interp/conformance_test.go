package interp

import (
	"context"
	"testing"

	"weft/internal/ir"
	"weft/internal/record"
	"weft/internal/resolve"
	"weft/internal/sandbox"
)

// The interpreter is the reference semantics. For every transform kind the
// code generator supports, running the same record with the same execution
// context through both paths must yield byte-identical JSON.
func TestCompiledPathMatchesInterpreter(t *testing.T) {
	cases := []struct {
		name   string
		steps  []resolve.Step
		inputs []string
	}{
		{
			name: "map projection",
			steps: []resolve.Step{
				{"map": map[string]any{"full_name": "name", "email_addr": "email", "ghost": "absent"}},
			},
			inputs: []string{
				`{"name":"Alice Johnson","email":"alice@example.com","age":30}`,
				`{"email":"only@example.com"}`,
				`{}`,
			},
		},
		{
			name: "drop and add",
			steps: []resolve.Step{
				{"drop": []any{"secret", "nonexistent"}},
				{"add_fields": map[string]any{"flag": true, "score": 1.5, "note": "a\"b\nc"}},
			},
			inputs: []string{
				`{"secret":"k","keep":1}`,
				`{"flag":"overwritten"}`,
			},
		},
		{
			name: "coalesce chains",
			steps: []resolve.Step{
				{"coalesce": map[string]any{
					"email":  []any{"primary", "backup", "fallback"},
					"region": []any{"geo"},
				}},
			},
			inputs: []string{
				`{"primary":null,"backup":"b@x","geo":"eu"}`,
				`{"primary":"p@x"}`,
				`{"fallback":null}`,
			},
		},
		{
			name: "dynamic literals",
			steps: []resolve.Step{
				{"add_fields": map[string]any{
					"at":    resolve.Dynamic{Source: "{{ now() }}"},
					"trace": resolve.Dynamic{Source: "req-{{ uuid() }}-{{ now() }}"},
				}},
			},
			inputs: []string{`{"a":1}`},
		},
		{
			name: "container passthrough",
			steps: []resolve.Step{
				{"map": map[string]any{"meta": "meta", "tags": "tags"}},
				{"add_fields": map[string]any{"cfg": map[string]any{"b": []any{1, nil}, "a": "x"}}},
			},
			inputs: []string{
				`{"meta":{"z":1,"a":{"deep":[true,"s"]}},"tags":[null,2.5,"t"]}`,
			},
		},
		{
			name: "full pipeline",
			steps: []resolve.Step{
				{"map": map[string]any{"name": "name", "primary": "primary", "backup": "backup"}},
				{"coalesce": map[string]any{"email": []any{"primary", "backup"}}},
				{"drop": []any{"primary", "backup"}},
				{"add_fields": map[string]any{"version": 2}},
			},
			inputs: []string{
				`{"name":"n","primary":null,"backup":"b@x","junk":true}`,
				`{"name":"m","primary":"p@x"}`,
			},
		},
	}

	ec := resolve.ExecContext{Now: "2026-02-03T04:05:06.789Z", ID: "11111111-2222-3333-4444-555555555555"}
	compiler := sandbox.NewCompiler(sandbox.NewMemStore())

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			flow, err := ir.Build("conformance", tc.steps)
			if err != nil {
				t.Fatalf("ir.Build: %v", err)
			}
			in, err := New(flow)
			if err != nil {
				t.Fatalf("interp.New: %v", err)
			}
			mod, err := compiler.Compile(flow)
			if err != nil {
				t.Fatalf("compile: %v", err)
			}
			host := sandbox.NewHost(mod, sandbox.Limits{})
			defer host.Close()

			for _, input := range tc.inputs {
				rec, err := record.Parse([]byte(input))
				if err != nil {
					t.Fatalf("parse %q: %v", input, err)
				}
				want, err := in.Execute(context.Background(), rec, ec)
				if err != nil {
					t.Fatalf("interpret %q: %v", input, err)
				}
				got, err := host.Execute(context.Background(), rec, ec)
				if err != nil {
					t.Fatalf("sandbox %q: %v", input, err)
				}
				if !record.Equal(want, got) {
					wb, _ := want.MarshalJSON()
					gb, _ := got.MarshalJSON()
					t.Fatalf("paths diverged for %s:\ninterpreted %s\ncompiled    %s", input, wb, gb)
				}
			}
		})
	}
}
