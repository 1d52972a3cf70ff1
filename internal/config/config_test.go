package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func write(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadRuntime_DefaultsAndMacros(t *testing.T) {
	dir := t.TempDir()
	path := write(t, dir, "weft.yaml", `schema_version: v1
runtime:
  execution: compiled
  cache_path: /tmp/modules.db
vars:
  env: prod
macros:
  strip_pii:
    - drop: [ssn, dob]
`)
	cfg, err := LoadRuntime(path)
	if err != nil {
		t.Fatalf("LoadRuntime: %v", err)
	}
	if cfg.Runtime.Execution != ExecCompiled {
		t.Fatalf("execution: %q", cfg.Runtime.Execution)
	}
	if cfg.Runtime.MetricsPort != 9100 {
		t.Fatalf("metrics_port default: %d", cfg.Runtime.MetricsPort)
	}
	if cfg.Runtime.Sandbox.CallTimeout != time.Second {
		t.Fatalf("call_timeout default: %v", cfg.Runtime.Sandbox.CallTimeout)
	}
	if cfg.FlowsDir != "flows" {
		t.Fatalf("flows_dir default: %q", cfg.FlowsDir)
	}
	if cfg.Vars["env"] != "prod" {
		t.Fatalf("vars: %v", cfg.Vars)
	}
	lib := cfg.Library()
	if len(lib["strip_pii"]) != 1 {
		t.Fatalf("macro library: %v", lib)
	}
}

func TestLoadRuntime_InvalidSchema(t *testing.T) {
	dir := t.TempDir()
	path := write(t, dir, "weft.yaml", "schema_version: v999\n")
	if _, err := LoadRuntime(path); err == nil {
		t.Fatal("expected error for invalid schema_version")
	}
}

func TestLoadRuntime_UnknownExecutionFallsBack(t *testing.T) {
	dir := t.TempDir()
	path := write(t, dir, "weft.yaml", `schema_version: v1
runtime:
  execution: warp_speed
`)
	cfg, err := LoadRuntime(path)
	if err != nil {
		t.Fatalf("LoadRuntime: %v", err)
	}
	if cfg.Runtime.Execution != ExecInterpret {
		t.Fatalf("execution fallback: %q", cfg.Runtime.Execution)
	}
}

func TestLoadFlow_ResolvesRelativeSourceConfigAndSchema(t *testing.T) {
	dir := t.TempDir()
	path := write(t, dir, "users.yaml", `schema_version: v1
name: users
source:
  driver: jsonl
  config: users_source.yml
sinks: [stdout]
transforms:
  - map:
      full_name: name
`)
	write(t, dir, "users_source.yml", "schema_version: v1\npath: users.jsonl\n")

	f, err := LoadFlow(path)
	if err != nil {
		t.Fatalf("LoadFlow: %v", err)
	}
	if f.Name != "users" {
		t.Fatalf("name: %q", f.Name)
	}
	if !filepath.IsAbs(f.Source.Config) {
		t.Fatalf("want absolute source config path, got %q", f.Source.Config)
	}
	if len(f.Transforms) != 1 {
		t.Fatalf("transforms: %d", len(f.Transforms))
	}
	m, ok := f.Transforms[0]["map"].(map[string]any)
	if !ok || m["full_name"] != "name" {
		t.Fatalf("step decode: %#v", f.Transforms[0])
	}
}

func TestLoadFlow_NameDefaultsToFileName(t *testing.T) {
	dir := t.TempDir()
	path := write(t, dir, "orders.yaml", `transforms:
  - drop: [internal_id]
`)
	f, err := LoadFlow(path)
	if err != nil {
		t.Fatalf("LoadFlow: %v", err)
	}
	if f.Name != "orders" {
		t.Fatalf("name: %q", f.Name)
	}
}

func TestLoadFlows_OrderedAndDuplicatesRejected(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "b.yaml", "name: bravo\ntransforms:\n  - drop: [x]\n")
	write(t, dir, "a.yaml", "name: alpha\ntransforms:\n  - drop: [x]\n")

	flows, err := LoadFlows(dir)
	if err != nil {
		t.Fatalf("LoadFlows: %v", err)
	}
	if len(flows) != 2 || flows[0].Name != "alpha" || flows[1].Name != "bravo" {
		t.Fatalf("unexpected order: %v", []string{flows[0].Name, flows[1].Name})
	}

	write(t, dir, "c.yaml", "name: alpha\ntransforms:\n  - drop: [x]\n")
	if _, err := LoadFlows(dir); err == nil {
		t.Fatal("expected duplicate name error")
	}
}

func TestLoadFlow_NoTransforms(t *testing.T) {
	dir := t.TempDir()
	path := write(t, dir, "empty.yaml", "name: empty\nsinks: [stdout]\n")
	if _, err := LoadFlow(path); err == nil {
		t.Fatal("expected error for flow without transforms")
	}
}
