package tools

import "fmt"

// ErrorKind classifies a failed tool call.
type ErrorKind string

// Error kinds. The first four are validation failures detected before
// any ledger call.
const (
	KindInvalidAmount ErrorKind = "invalid_amount"
	KindInvalidDate   ErrorKind = "invalid_date"
	KindInvalidLimit  ErrorKind = "invalid_limit"
	KindUnknownTool   ErrorKind = "unknown_tool"
	KindExecution     ErrorKind = "execution_error"
)

// Validation reports whether k is detected before execution.
func (k ErrorKind) Validation() bool {
	return k != KindExecution
}

// Error is a tool failure. Err holds the internal cause and is only
// logged; callers show the user the message for Kind.
type Error struct {
	Kind ErrorKind
	Tool string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tool %q: %s: %v", e.Tool, e.Kind, e.Err)
	}
	return fmt.Sprintf("tool %q: %s", e.Tool, e.Kind)
}

// Unwrap returns the internal cause.
func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, tool string, format string, args ...any) *Error {
	return &Error{Kind: kind, Tool: tool, Err: fmt.Errorf(format, args...)}
}
