package errors

import (
	"context"
	"errors"
)

// ErrorSeverity indicates how bad a failure is for the process serving it.
type ErrorSeverity int

const (
	SeverityInfo    ErrorSeverity = iota // Expected, nothing to fix
	SeverityWarning                      // Degraded, the call itself succeeded
	SeverityError                        // The call failed
	SeverityFatal                        // The process is misconfigured
)

// String returns a human-readable representation of the severity
func (s ErrorSeverity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Kind groups failures by where they originate.
type Kind string

const (
	KindConfiguration Kind = "configuration"
	KindResolution    Kind = "resolution"
	KindCodec         Kind = "codec"
	KindApplication   Kind = "application"
	KindAuxiliary     Kind = "auxiliary"
	KindCancelled     Kind = "cancelled"
	KindUnknown       Kind = "unknown"
)

// Classification is the transport-facing summary of a dispatch failure.
type Classification struct {
	Err       error
	Kind      Kind
	Severity  ErrorSeverity
	Title     string
	Retryable bool // hint for the transport; the core never retries
}

// Classify maps an error onto the failure taxonomy.
func Classify(err error) *Classification {
	if err == nil {
		return nil
	}

	// Configuration defects found while building the registry
	var dupErr *DuplicateMethodError
	if errors.As(err, &dupErr) {
		return &Classification{Err: err, Kind: KindConfiguration, Severity: SeverityFatal, Title: "Duplicate Method"}
	}
	if errors.Is(err, ErrIncompatibleFanout) {
		return &Classification{Err: err, Kind: KindConfiguration, Severity: SeverityFatal, Title: "Incompatible Fanout"}
	}
	var validationErr ValidationError
	if errors.As(err, &validationErr) {
		return &Classification{Err: err, Kind: KindConfiguration, Severity: SeverityFatal, Title: "Invalid Descriptor"}
	}

	// Per-call structural failures
	var unknownErr *UnknownMethodError
	if errors.As(err, &unknownErr) {
		return &Classification{Err: err, Kind: KindResolution, Severity: SeverityError, Title: "Unknown Method"}
	}
	var arityErr *ArityMismatchError
	if errors.As(err, &arityErr) {
		return &Classification{Err: err, Kind: KindCodec, Severity: SeverityError, Title: "Arity Mismatch"}
	}

	// Detached auxiliary failures never reach a caller, but observers classify them too
	var auxErr *AuxiliaryExecutionError
	if errors.As(err, &auxErr) {
		return &Classification{Err: err, Kind: KindAuxiliary, Severity: SeverityWarning, Title: "Auxiliary Failed"}
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &Classification{Err: err, Kind: KindCancelled, Severity: SeverityError, Title: "Deadline Exceeded", Retryable: true}
	case errors.Is(err, context.Canceled):
		return &Classification{Err: err, Kind: KindCancelled, Severity: SeverityInfo, Title: "Call Cancelled"}
	}

	var handlerErr *HandlerError
	if errors.As(err, &handlerErr) {
		return &Classification{Err: err, Kind: KindApplication, Severity: SeverityError, Title: "Handler Failed"}
	}

	return &Classification{Err: err, Kind: KindUnknown, Severity: SeverityError, Title: "Unexpected Error"}
}
