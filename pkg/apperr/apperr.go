// Package apperr implements the tagged-union error taxonomy of the edge
// compute core: every public operation in registry, runtime, executor,
// balancer and scheduler returns either a typed value or an *Error of one
// of the Kinds below, never a bare string.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is one variant of the exhaustive error taxonomy. Kept as a string
// enum (rather than int) so log output and API responses are self
// describing without a lookup table.
type Kind string

const (
	KindConfig             Kind = "config"
	KindTaskScheduling     Kind = "task_scheduling"
	KindContainer          Kind = "container"
	KindIO                 Kind = "io"
	KindSerialization      Kind = "serialization"
	KindHTTP               Kind = "http"
	KindTimeout            Kind = "timeout"
	KindAlgorithmExecution Kind = "algorithm_execution"
	KindResourceExhausted  Kind = "resource_exhausted"
	KindValidation         Kind = "validation"
	KindNetwork            Kind = "network"
	KindAuthentication     Kind = "authentication"
	KindAuthorization      Kind = "authorization"
	KindDatabase           Kind = "database"
	KindExternalService    Kind = "external_service"
	KindUnknown            Kind = "unknown"
)

// Severity ranks how urgently an error needs operator attention.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// defaultSeverity mirrors original_source's get_error_severity table: most
// kinds carry a fixed severity, independent of the specific instance.
var defaultSeverity = map[Kind]Severity{
	KindConfig:             SeverityHigh,
	KindTaskScheduling:     SeverityMedium,
	KindContainer:          SeverityHigh,
	KindIO:                 SeverityMedium,
	KindSerialization:      SeverityMedium,
	KindHTTP:               SeverityLow,
	KindTimeout:            SeverityMedium,
	KindAlgorithmExecution: SeverityMedium,
	KindResourceExhausted:  SeverityHigh,
	KindValidation:         SeverityLow,
	KindNetwork:            SeverityMedium,
	KindAuthentication:     SeverityHigh,
	KindAuthorization:      SeverityHigh,
	KindDatabase:           SeverityCritical,
	KindExternalService:    SeverityMedium,
	KindUnknown:            SeverityMedium,
}

// Error is the concrete type every core operation returns on failure. It
// carries only the context relevant to its Kind, not a free-form message
// bag, so callers can match on Kind exhaustively instead of parsing text.
type Error struct {
	Kind     Kind
	Message  string
	Severity Severity
	Context  map[string]any
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is supports errors.Is(err, apperr.New(KindX, "")) style kind checks by
// comparing only the Kind field.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// New builds an Error of the given Kind with its default severity.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Severity: defaultSeverity[kind]}
}

// Wrap builds an Error that chains an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Severity: defaultSeverity[kind], Cause: cause}
}

// WithContext attaches a context bag entry and returns the receiver for
// chaining: apperr.New(KindContainer, "create failed").WithContext("id", id).
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any, 1)
	}
	e.Context[key] = value
	return e
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error, otherwise
// KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// SeverityOf extracts the Severity of err if it is (or wraps) an *Error,
// otherwise SeverityMedium.
func SeverityOf(err error) Severity {
	var e *Error
	if errors.As(err, &e) {
		return e.Severity
	}
	return SeverityMedium
}
