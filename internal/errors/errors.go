package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for the dispatch failure taxonomy.
var (
	ErrDuplicateMethod    = errors.New("duplicate method")
	ErrUnknownMethod      = errors.New("unknown method")
	ErrArityMismatch      = errors.New("arity mismatch")
	ErrHandler            = errors.New("handler failed")
	ErrAuxiliaryExecution = errors.New("auxiliary execution failed")
	ErrInvalidDescriptor  = errors.New("invalid descriptor")
	ErrIncompatibleFanout = errors.New("incompatible fanout signatures")
)

// ValidationError represents a descriptor or configuration validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// Unwrap lets errors.Is match ErrInvalidDescriptor.
func (e ValidationError) Unwrap() error {
	return ErrInvalidDescriptor
}

// DuplicateMethodError is returned at registry build time when a second
// primary service claims a qualified key while fanout is disabled.
type DuplicateMethodError struct {
	Key      string
	Existing string
	Incoming string
}

func (e *DuplicateMethodError) Error() string {
	return fmt.Sprintf("duplicate method %s: already provided by %s, also declared by %s", e.Key, e.Existing, e.Incoming)
}

func (e *DuplicateMethodError) Unwrap() error { return ErrDuplicateMethod }

// UnknownMethodError is a resolution failure: no primary candidate serves the key.
type UnknownMethodError struct {
	Key string
}

func (e *UnknownMethodError) Error() string {
	return "unknown method " + e.Key
}

func (e *UnknownMethodError) Unwrap() error { return ErrUnknownMethod }

// Arity directions.
const (
	DirectionInput  = "input"
	DirectionOutput = "output"
)

// ArityMismatchError reports a value count that does not match the descriptor.
type ArityMismatchError struct {
	Method    string
	Direction string
	Want      int
	Got       int
}

func (e *ArityMismatchError) Error() string {
	return fmt.Sprintf("%s arity mismatch for %s: want %d values, got %d", e.Direction, e.Method, e.Want, e.Got)
}

func (e *ArityMismatchError) Unwrap() error { return ErrArityMismatch }

// HandlerError wraps an application error raised by a primary or inline
// auxiliary handler. Both ErrHandler and the cause match errors.Is.
type HandlerError struct {
	Key       string
	Service   string
	Auxiliary bool
	Cause     error
}

func (e *HandlerError) Error() string {
	role := "primary"
	if e.Auxiliary {
		role = "inline auxiliary"
	}
	return fmt.Sprintf("%s handler %s for %s: %v", role, e.Service, e.Key, e.Cause)
}

func (e *HandlerError) Unwrap() []error { return []error{ErrHandler, e.Cause} }

// AuxiliaryExecutionError describes a failed detached auxiliary handler.
// It is only ever reported out of band, never returned to the caller.
type AuxiliaryExecutionError struct {
	Key     string
	Service string
	CallID  string
	Panic   any
	Cause   error
}

func (e *AuxiliaryExecutionError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("detached auxiliary %s for %s panicked: %v", e.Service, e.Key, e.Panic)
	}
	return fmt.Sprintf("detached auxiliary %s for %s: %v", e.Service, e.Key, e.Cause)
}

func (e *AuxiliaryExecutionError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrAuxiliaryExecution}
	}
	return []error{ErrAuxiliaryExecution, e.Cause}
}

// PanicError carries a recovered panic value as an error.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}
