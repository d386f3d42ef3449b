package tools

import (
	"errors"
	"fmt"
)

// Tool registry errors.
var (
	// ErrToolNotFound is returned when a tool is not registered.
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolIDEmpty is returned when a definition has no id.
	ErrToolIDEmpty = errors.New("tool id cannot be empty")

	// ErrToolExecutorNil is returned when a tool has no executor.
	ErrToolExecutorNil = errors.New("tool executor cannot be nil")

	// ErrToolAlreadyRegistered is returned when registering a duplicate.
	ErrToolAlreadyRegistered = errors.New("tool already registered")

	// ErrInvalidRiskLevel is returned for a definition without a known tier.
	ErrInvalidRiskLevel = errors.New("invalid risk level")

	// ErrMissingRequiredArg is returned when a required argument is missing.
	ErrMissingRequiredArg = errors.New("missing required argument")

	// ErrInvalidArgType is returned when an argument has the wrong type.
	ErrInvalidArgType = errors.New("invalid argument type")
)

// ValidationError explains why a call was rejected. It unwraps to
// ErrToolNotFound, ErrMissingRequiredArg or ErrInvalidArgType.
type ValidationError struct {
	ToolID string
	Param  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Param == "" {
		return fmt.Sprintf("%s: %s", e.ToolID, e.Reason)
	}
	return fmt.Sprintf("%s: parameter %q: %s", e.ToolID, e.Param, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }
