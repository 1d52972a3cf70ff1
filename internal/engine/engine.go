package engine

import (
	"context"
	"errors"

	"weft/internal/pipeline"
	"weft/internal/sandbox"
)

type Engine struct {
	runners []*pipeline.Runner
	store   sandbox.Store
}

// Run starts every flow and blocks until all sources are exhausted or the
// context is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	for _, r := range e.runners {
		if err := r.Start(ctx); err != nil {
			e.Close()
			return err
		}
	}

	var first error
	for _, r := range e.runners {
		err := r.Wait()
		if err != nil && !errors.Is(err, context.Canceled) && first == nil {
			first = err
		}
	}
	if err := e.Close(); err != nil && first == nil {
		first = err
	}
	return first
}

func (e *Engine) Close() error {
	var first error
	for _, r := range e.runners {
		if err := r.Close(); err != nil && first == nil {
			first = err
		}
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil && first == nil {
			first = err
		}
		e.store = nil
	}
	return first
}
