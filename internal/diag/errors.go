// Package diag defines the error taxonomy shared by the compiler and both
// execution paths. Callers classify with errors.As; the engine only logs
// structured diagnostics and never formats human-facing text.
package diag

import "fmt"

// Stage identifies where in the pipeline a diagnostic originated.
type Stage string

const (
	StageResolve Stage = "resolve"
	StageBuild   Stage = "build"
	StageCodegen Stage = "codegen"
	StageCompile Stage = "compile"
	StageExecute Stage = "execute"
)

// ConfigError is a fatal user-configuration defect: unknown transform kind,
// malformed operands, macro cycle, unresolved macro. Never retried.
type ConfigError struct {
	Flow     string
	Position int // transform-list index, -1 when not tied to a node
	Message  string
}

func (e *ConfigError) Error() string {
	if e.Position >= 0 {
		return fmt.Sprintf("flow %q: transform[%d]: %s", e.Flow, e.Position, e.Message)
	}
	return fmt.Sprintf("flow %q: %s", e.Flow, e.Message)
}

// CompileError signals a code generator or toolchain defect. Fatal for the
// flow until the source changes; reported distinctly from user misconfig.
type CompileError struct {
	Flow     string
	Position int
	Message  string
	Output   string // toolchain stderr-equivalent, if any
}

func (e *CompileError) Error() string {
	if e.Position >= 0 {
		return fmt.Sprintf("flow %q: transform[%d]: %s", e.Flow, e.Position, e.Message)
	}
	return fmt.Sprintf("flow %q: %s", e.Flow, e.Message)
}

// ExecFailure is a retryable per-record failure: sandbox timeout, memory
// ceiling breach, or a module-reported runtime fault. The stream continues.
type ExecFailure struct {
	Flow     string
	Position int
	Message  string
	Timeout  bool
}

func (e *ExecFailure) Error() string {
	if e.Position >= 0 {
		return fmt.Sprintf("flow %q: transform[%d]: %s", e.Flow, e.Position, e.Message)
	}
	return fmt.Sprintf("flow %q: %s", e.Flow, e.Message)
}

// Mismatch trips when the compiled path and the interpreter disagree on the
// same IR and input. Internal invariant violation; must never be swallowed.
type Mismatch struct {
	Flow        string
	Interpreted string
	Compiled    string
}

func (e *Mismatch) Error() string {
	return fmt.Sprintf("flow %q: compiled and interpreted outputs diverge: %q vs %q",
		e.Flow, e.Compiled, e.Interpreted)
}

// Diagnostic is the structured record surfaced to the logging collaborator.
type Diagnostic struct {
	Stage    Stage
	Kind     string // transform kind, when known
	Position int
	Message  string
}
