// Package executor runs code buffers in languages the browser preview cannot
// run itself. The service ships a placeholder that returns indicative output
// after a simulated delay; a real compile-and-run backend plugs in through
// the Executor interface.
package executor

import (
	"context"
	"errors"
)

// ErrEmptyCode is returned when there is nothing to execute.
var ErrEmptyCode = errors.New("no code to execute")

// Request is one execution.
type Request struct {
	Code     string
	Language string
}

// Severity of a diagnostic.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Diagnostic is a compiler or syntax message. Line and Column are 1-based.
type Diagnostic struct {
	Line     int
	Column   int
	Severity string
	Message  string
}

// Result is what an execution produced.
type Result struct {
	Language    string
	Output      string
	Diagnostics []Diagnostic
	DurationMs  int64
	// Simulated is set when Output was not produced by running the code.
	Simulated bool
}

// HasErrors reports whether any diagnostic is an error.
func (r Result) HasErrors() bool {
	for _, d := range r.Diagnostics {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Executor runs code. Implementations must return promptly once ctx ends.
type Executor interface {
	Execute(ctx context.Context, req Request) (Result, error)
}

// Func adapts a function to the Executor interface.
type Func func(ctx context.Context, req Request) (Result, error)

// Execute calls f.
func (f Func) Execute(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}
