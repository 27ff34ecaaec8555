package plan

import (
	"errors"
	"fmt"
)

// Sentinel causes carried by ValidationError. Compare with errors.Is.
var (
	ErrNotFound      = errors.New("operation not found")
	ErrUnknownKind   = errors.New("unknown operation kind")
	ErrDuplicateKind = errors.New("duplicate operation kind")
	ErrInvalidValue  = errors.New("invalid parameter value")
)

// ValidationError reports a plan mutation or decode that violates the plan's
// invariants. It is a caller bug, not a recoverable runtime condition, and
// must not be swallowed.
type ValidationError struct {
	Kind  Kind
	Param string
	Err   error
}

func (e *ValidationError) Error() string {
	switch {
	case e.Param != "":
		return fmt.Sprintf("plan: %s.%s: %v", e.Kind, e.Param, e.Err)
	case e.Kind != "":
		return fmt.Sprintf("plan: %s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("plan: %v", e.Err)
	}
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
