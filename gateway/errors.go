package gateway

import (
	"errors"
	"fmt"

	"github.com/connectedhealth/careengine/store"
)

// Kind classifies a tool failure.
type Kind string

const (
	KindValidation Kind = "validation"
	KindDependency Kind = "dependency"
	KindNotFound   Kind = "not_found"
	KindUnexpected Kind = "unexpected"
)

// unexpectedMessage is all a caller learns about an uncategorized failure.
const unexpectedMessage = "internal error"

// ToolError is the structured error returned to tool callers.
type ToolError struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	err     error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ToolError) Unwrap() error {
	return e.err
}

// ValidationError reports malformed tool input.
func ValidationError(format string, args ...any) *ToolError {
	return &ToolError{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// classify maps an execution error onto the taxonomy.
func classify(err error) *ToolError {
	var te *ToolError
	switch {
	case errors.As(err, &te):
		return te
	case errors.Is(err, store.ErrNotFound):
		return &ToolError{Kind: KindNotFound, Message: err.Error(), err: err}
	case errors.Is(err, store.ErrUnavailable):
		return &ToolError{Kind: KindDependency, Message: "storage unavailable", err: err}
	default:
		return &ToolError{Kind: KindUnexpected, Message: unexpectedMessage, err: err}
	}
}

// detail is the message written to the invocation record. Unexpected errors
// keep their cause there since records are server-side only.
func (e *ToolError) detail() string {
	if e.err != nil && e.Kind != KindNotFound {
		return fmt.Sprintf("%s: %v", e.Kind, e.err)
	}
	return e.Error()
}
