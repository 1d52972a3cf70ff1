package pipeline

import (
	"context"
	"errors"

	"weft/internal/diag"
	"weft/internal/interp"
	"weft/internal/record"
	"weft/internal/resolve"
)

// Verifier runs every record through both execution paths and fails loudly
// when they disagree. The compiled result is what flows on.
type Verifier struct {
	Flow      string
	Compiled  Executor
	Reference Executor
}

func (v *Verifier) Execute(ctx context.Context, rec *record.Record, ec resolve.ExecContext) (*record.Record, error) {
	want, refErr := v.Reference.Execute(ctx, rec, ec)
	got, err := v.Compiled.Execute(ctx, rec, ec)

	if errors.Is(refErr, interp.ErrDropped) {
		// The compiled path cannot express filters; the reference decides.
		return nil, refErr
	}
	if err != nil {
		return nil, err
	}
	if refErr != nil {
		return nil, refErr
	}
	if !record.Equal(want, got) {
		wb, _ := want.MarshalJSON()
		gb, _ := got.MarshalJSON()
		return nil, &diag.Mismatch{Flow: v.Flow, Interpreted: string(wb), Compiled: string(gb)}
	}
	return got, nil
}
