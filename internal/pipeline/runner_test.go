package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"weft/internal/diag"
	"weft/internal/frame"
	"weft/internal/interp"
	"weft/internal/record"
	"weft/internal/resolve"
	"weft/sink"
)

type fakeExecutor struct {
	calls int32
	mode  string
}

func (f *fakeExecutor) Execute(ctx context.Context, rec *record.Record, ec resolve.ExecContext) (*record.Record, error) {
	c := atomic.AddInt32(&f.calls, 1)
	switch f.mode {
	case "drop":
		return nil, interp.ErrDropped
	case "fail":
		return nil, &diag.ExecFailure{Flow: "t", Position: 0, Message: "boom"}
	case "diverge":
		return nil, &diag.Mismatch{Flow: "t", Interpreted: "{}", Compiled: `{"x":1}`}
	case "failThenOK":
		if c == 1 {
			return nil, &diag.ExecFailure{Flow: "t", Position: 0, Message: "boom"}
		}
		return rec.Clone(), nil
	default:
		out := rec.Clone()
		out.Set("seen", true)
		return out, nil
	}
}

type captureSink struct {
	pushed []*frame.Frame
	ackFn  sink.EmitFn
}

func (c *captureSink) Configure(any) error { return nil }
func (c *captureSink) Push(f *frame.Frame) error {
	c.pushed = append(c.pushed, f)
	if c.ackFn != nil {
		c.ackFn(f.Token)
	}
	return nil
}
func (c *captureSink) Close() error           { return nil }
func (c *captureSink) BindAck(fn sink.EmitFn) { c.ackFn = fn }

func makeFrame(line int64) *frame.Frame {
	r := record.New()
	r.Set("v", float64(line))
	return &frame.Frame{Record: r, Token: frame.Token{Source: "in.jsonl", Line: line}}
}

func TestRunner_ExecutorOK_ForwardsAndSinkAcks(t *testing.T) {
	r := NewRunner("t", &fakeExecutor{})
	var acked []frame.Token
	r.SubscribeAck(func(tok frame.Token) { acked = append(acked, tok) })
	cs := &captureSink{}
	cs.BindAck(r.Ack)
	r.AddSink(cs)

	if err := r.pushFrame(context.Background(), makeFrame(42)); err != nil {
		t.Fatalf("pushFrame: %v", err)
	}
	if len(cs.pushed) != 1 {
		t.Fatalf("expected 1 pushed frame, got %d", len(cs.pushed))
	}
	if v, _ := cs.pushed[0].Record.Get("seen"); v != true {
		t.Fatalf("executor output not forwarded")
	}
	if len(acked) != 1 || acked[0].Line != 42 {
		t.Fatalf("expected ack for line 42, got %v", acked)
	}
}

func TestRunner_Drop_AcksNoPush(t *testing.T) {
	r := NewRunner("t", &fakeExecutor{mode: "drop"})
	var acked []frame.Token
	r.SubscribeAck(func(tok frame.Token) { acked = append(acked, tok) })
	cs := &captureSink{}
	cs.BindAck(r.Ack)
	r.AddSink(cs)

	if err := r.pushFrame(context.Background(), makeFrame(1)); err != nil {
		t.Fatalf("pushFrame: %v", err)
	}
	if len(cs.pushed) != 0 {
		t.Fatalf("expected 0 pushed frames on drop, got %d", len(cs.pushed))
	}
	if len(acked) != 1 {
		t.Fatalf("dropped record must still ack, got %d acks", len(acked))
	}
}

func TestRunner_FailureAcksAndContinues(t *testing.T) {
	fake := &fakeExecutor{mode: "failThenOK"}
	r := NewRunner("t", fake)
	var acked []frame.Token
	r.SubscribeAck(func(tok frame.Token) { acked = append(acked, tok) })
	cs := &captureSink{}
	cs.BindAck(r.Ack)
	r.AddSink(cs)

	if err := r.pushFrame(context.Background(), makeFrame(1)); err != nil {
		t.Fatalf("pushFrame after failure must not error: %v", err)
	}
	if err := r.pushFrame(context.Background(), makeFrame(2)); err != nil {
		t.Fatalf("pushFrame: %v", err)
	}
	if len(cs.pushed) != 1 {
		t.Fatalf("expected 1 pushed frame after recovery, got %d", len(cs.pushed))
	}
	if len(acked) != 2 {
		t.Fatalf("both records must ack, got %d", len(acked))
	}
}

func TestRunner_MultiSinkFanout(t *testing.T) {
	r := NewRunner("t", &fakeExecutor{})
	s1, s2 := &captureSink{}, &captureSink{}
	s2.BindAck(r.Ack)
	r.AddSink(s1)
	r.AddSink(s2)

	if err := r.pushFrame(context.Background(), makeFrame(1)); err != nil {
		t.Fatalf("pushFrame: %v", err)
	}
	if len(s1.pushed) != 1 || len(s2.pushed) != 1 {
		t.Fatalf("expected frame in both sinks, got %d and %d", len(s1.pushed), len(s2.pushed))
	}
}

func TestRunner_MismatchStopsFlowUnacked(t *testing.T) {
	r := NewRunner("t", &fakeExecutor{mode: "diverge"})
	var acked []frame.Token
	r.SubscribeAck(func(tok frame.Token) { acked = append(acked, tok) })
	cs := &captureSink{}
	cs.BindAck(r.Ack)
	r.AddSink(cs)

	err := r.pushFrame(context.Background(), makeFrame(7))
	var mm *diag.Mismatch
	if !errors.As(err, &mm) {
		t.Fatalf("expected Mismatch to propagate, got %v", err)
	}
	if len(cs.pushed) != 0 {
		t.Fatalf("diverging record must not reach sinks, got %d", len(cs.pushed))
	}
	if len(acked) != 0 {
		t.Fatalf("diverging record must not ack, got %d acks", len(acked))
	}
}

func TestVerifier_DivergenceIsMismatch(t *testing.T) {
	ok := &fakeExecutor{}        // sets seen=true
	plain := &verbatimExecutor{} // echoes input
	v := &Verifier{Flow: "t", Compiled: ok, Reference: plain}

	rec := record.New()
	rec.Set("v", 1.0)
	_, err := v.Execute(context.Background(), rec, resolve.ExecContext{})
	var mm *diag.Mismatch
	if !errors.As(err, &mm) {
		t.Fatalf("expected Mismatch, got %v", err)
	}
}

func TestVerifier_AgreementPasses(t *testing.T) {
	v := &Verifier{Flow: "t", Compiled: &verbatimExecutor{}, Reference: &verbatimExecutor{}}
	rec := record.New()
	rec.Set("v", 1.0)
	out, err := v.Execute(context.Background(), rec, resolve.ExecContext{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !record.Equal(out, rec) {
		t.Fatalf("unexpected output")
	}
}

type verbatimExecutor struct{}

func (verbatimExecutor) Execute(ctx context.Context, rec *record.Record, ec resolve.ExecContext) (*record.Record, error) {
	return rec.Clone(), nil
}
