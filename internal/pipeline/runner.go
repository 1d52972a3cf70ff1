// Package pipeline routes frames from a source through an executor into
// sinks, with acknowledgements flowing back to the source.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"weft/internal/diag"
	"weft/internal/frame"
	"weft/internal/interp"
	"weft/internal/logging"
	"weft/internal/record"
	"weft/internal/resolve"
	"weft/internal/telemetry"
	"weft/sink"
	srcfile "weft/source/file"
)

// Executor runs one record through a flow's transforms. Both the
// interpreter and the sandbox host satisfy it.
type Executor interface {
	Execute(context.Context, *record.Record, resolve.ExecContext) (*record.Record, error)
}

type Runner struct {
	flow   string
	exec   Executor
	source srcfile.Adapter
	sinks  []sink.Adapter

	mu   sync.Mutex
	subs []func(frame.Token)

	done chan error
}

func NewRunner(flow string, exec Executor) *Runner {
	return &Runner{flow: flow, exec: exec, done: make(chan error, 1)}
}

func (r *Runner) AddSink(s sink.Adapter)      { r.sinks = append(r.sinks, s) }
func (r *Runner) SetSource(s srcfile.Adapter) { r.source = s }

func (r *Runner) SubscribeAck(fn func(frame.Token)) {
	r.mu.Lock()
	r.subs = append(r.subs, fn)
	r.mu.Unlock()
}

func (r *Runner) Ack(tok frame.Token) {
	r.mu.Lock()
	handlers := append([]func(frame.Token){}, r.subs...)
	r.mu.Unlock()

	for _, fn := range handlers {
		fn(tok)
	}
}

/*──────── frame routing ───────*/

// pushFrame executes one frame and routes the result. Dropped and failed
// records are acked directly so the stream keeps moving; sink errors and
// path divergence stop the flow.
func (r *Runner) pushFrame(ctx context.Context, f *frame.Frame) error {
	ec := resolve.ExecContext{
		Now: time.Now().UTC().Format(time.RFC3339Nano),
		ID:  uuid.NewString(),
	}

	out, err := r.exec.Execute(ctx, f.Record, ec)
	var mm *diag.Mismatch
	switch {
	case errors.Is(err, interp.ErrDropped):
		telemetry.RecordsProcessed.WithLabelValues(r.flow, "dropped").Inc()
		r.Ack(f.Token)
		return nil
	case errors.As(err, &mm):
		// Divergence between execution paths is an engine defect, not a
		// per-record failure. The token stays unacked.
		logging.L().Error("execution paths diverged", "flow", r.flow, "line", f.Token.Line, "err", err)
		return err
	case err != nil:
		logging.L().Error("record failed", "flow", r.flow, "line", f.Token.Line, "err", err)
		telemetry.RecordsProcessed.WithLabelValues(r.flow, "failed").Inc()
		r.Ack(f.Token)
		return nil
	}

	for _, s := range r.sinks {
		if err := s.Push(&frame.Frame{Record: out, Token: f.Token}); err != nil {
			return err
		}
	}
	telemetry.RecordsProcessed.WithLabelValues(r.flow, "ok").Inc()
	return nil
}

func (r *Runner) Start(ctx context.Context) error {
	if r.source == nil {
		return errors.New("runner: no source configured")
	}
	go func() {
		r.done <- r.source.Run(ctx, func(f *frame.Frame) error {
			return r.pushFrame(ctx, f)
		})
	}()
	return nil
}

// Wait blocks until the source is exhausted or fails.
func (r *Runner) Wait() error { return <-r.done }

func (r *Runner) Close() error {
	var first error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	if r.source != nil {
		if err := r.source.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
