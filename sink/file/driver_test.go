package file

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"weft/internal/frame"
	"weft/internal/record"
)

func newDriver(t *testing.T, cfg Config) (*driver, string) {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "out.jsonl")
	}
	d := &driver{}
	if err := d.Configure(cfg); err != nil {
		t.Fatalf("configure: %v", err)
	}
	return d, cfg.Path
}

func pushLine(t *testing.T, d *driver, line int64) {
	t.Helper()
	r := record.New()
	r.Set("v", float64(line))
	if err := d.Push(&frame.Frame{Record: r, Token: frame.Token{Line: line}}); err != nil {
		t.Fatalf("push: %v", err)
	}
}

func TestFileSinkFlushesAtConfiguredCount(t *testing.T) {
	d, _ := newDriver(t, Config{FlushLen: 3})
	var acked []frame.Token
	d.BindAck(func(tok frame.Token) { acked = append(acked, tok) })

	pushLine(t, d, 1)
	pushLine(t, d, 2)
	if len(acked) != 0 {
		t.Fatalf("acked before reaching flush count: %d", len(acked))
	}
	pushLine(t, d, 3)
	if len(acked) != 3 {
		t.Fatalf("expected 3 acks at flush count, got %d", len(acked))
	}
	if acked[0].Line != 1 || acked[2].Line != 3 {
		t.Fatalf("ack order wrong: %v", acked)
	}
}

func TestFileSinkZeroFlushLenAcksEveryRecord(t *testing.T) {
	d, path := newDriver(t, Config{})
	var acked []frame.Token
	d.BindAck(func(tok frame.Token) { acked = append(acked, tok) })

	pushLine(t, d, 1)
	pushLine(t, d, 2)
	if len(acked) != 2 {
		t.Fatalf("expected per-record acks, got %d", len(acked))
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 2 || lines[0] != `{"v":1}` {
		t.Fatalf("unexpected output: %q", raw)
	}
}

func TestFileSinkCloseFlushesPending(t *testing.T) {
	d, path := newDriver(t, Config{FlushLen: 100})
	var acked []frame.Token
	d.BindAck(func(tok frame.Token) { acked = append(acked, tok) })

	pushLine(t, d, 1)
	if len(acked) != 0 {
		t.Fatalf("premature ack")
	}
	if err := d.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(acked) != 1 {
		t.Fatalf("close must ack pending, got %d", len(acked))
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if strings.TrimSpace(string(raw)) != `{"v":1}` {
		t.Fatalf("unexpected output: %q", raw)
	}
}
