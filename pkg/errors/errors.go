// Package errors provides the desk's kind-tagged error type and its RFC 7807 rendering.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"
)

// Standard error functions
var (
	Is     = errors.Is
	As     = errors.As
	Join   = errors.Join
	Unwrap = errors.Unwrap
)

// Error kinds. Kinds are stable identifiers that callers match on with Is.
const (
	KindNoMarketData           = "NoMarketData"
	KindMarketDataUnavailable  = "MarketDataUnavailable"
	KindInvalidStateTransition = "InvalidStateTransition"
	KindUnsupportedRail        = "UnsupportedRail"
	KindInsufficientBalance    = "InsufficientBalance"
	KindInsufficientCredit     = "InsufficientCredit"
	KindAddressNotWhitelisted  = "AddressNotWhitelisted"
	KindComplianceRejected     = "ComplianceRejected"
	KindRailRejected           = "RailRejected"
	KindConcurrentModification = "ConcurrentModification"
	KindNotFound               = "NotFound"
	KindInvalid                = "Invalid"
	KindConflict               = "Conflict"
)

// Compliance rejection reasons.
const (
	ReasonLimitExceeded = "limit_exceeded"
	ReasonKYCRequired   = "kyc_required"
	ReasonSanctionsHit  = "sanctions_hit"
)

// FieldError represents a validation error for a specific field
type FieldError struct {
	Kind    string `json:"kind"`
	Field   string `json:"field"`
	Message string `json:"message,omitempty"`
}

func (f *FieldError) Error() string {
	return fmt.Sprintf("%s (%s): %s", f.Field, f.Kind, f.Message)
}

func NewFieldError(kind, field, reason string) FieldError {
	return FieldError{Kind: kind, Field: field, Message: reason}
}

var (
	NoMarketData           = NewWithKind(KindNoMarketData)
	MarketDataUnavailable  = NewWithKind(KindMarketDataUnavailable)
	InvalidStateTransition = NewWithKind(KindInvalidStateTransition)
	UnsupportedRail        = NewWithKind(KindUnsupportedRail)
	InsufficientBalance    = NewWithKind(KindInsufficientBalance)
	InsufficientCredit     = NewWithKind(KindInsufficientCredit)
	AddressNotWhitelisted  = NewWithKind(KindAddressNotWhitelisted)
	ComplianceRejected     = NewWithKind(KindComplianceRejected)
	RailRejected           = NewWithKind(KindRailRejected)
	ConcurrentModification = NewWithKind(KindConcurrentModification)
	NotFound               = NewWithKind(KindNotFound)
	Invalid                = NewWithKind(KindInvalid)
	Conflict               = NewWithKind(KindConflict)
)

// Error is a custom error type for passing more information
type Error struct {
	// Kind is the returned error type
	Kind string `json:"kind"`
	// Message is the human readable string that indicate the error
	Message string `json:"message"`
	// Reason refines ComplianceRejected errors.
	Reason string `json:"reason,omitempty"`
	// Details carries machine readable context such as the breached limit.
	Details map[string]string `json:"details,omitempty"`
	// Fields used when there's validation error for a field.
	Fields []FieldError `json:"fields,omitempty"`

	trace []byte
	cause error
}

var _ error = (*Error)(nil)

func New(message string) *Error {
	return &Error{Kind: "Unknown", Message: message}
}

func NewWithKind(kind string) *Error {
	return &Error{Kind: kind}
}

func Wrap(err error) *Error {
	return &Error{Kind: "Unknown", cause: err}
}

// Error implements error
func (e *Error) Error() string {
	str := fmt.Sprintf("[%s] ", e.Kind)
	if e.Message != "" {
		str += e.Message
	}
	if e.Reason != "" {
		str += fmt.Sprintf(" reason=%s", e.Reason)
	}
	if e.cause != nil {
		str += fmt.Sprintf(" (%s)", e.cause)
	}
	if len(e.trace) > 0 {
		str = str + fmt.Sprintf("\n\nTrace: %s", string(e.trace))
	}
	return str
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Wrap returns a copy of the error with the cause set
func (e *Error) Wrap(cause error) *Error {
	err := *e
	err.cause = cause
	return &err
}

// Explain makes a copy of the error with given message
func (e *Error) Explain(message string, args ...any) *Error {
	err := *e
	err.Message = fmt.Sprintf(message, args...)
	return &err
}

// WithReason returns a copy of the error with the reason set.
func (e *Error) WithReason(reason string) *Error {
	err := *e
	err.Reason = reason
	return &err
}

// WithDetail returns a copy of the error with one more detail entry.
func (e *Error) WithDetail(key, value string) *Error {
	err := *e
	err.Details = make(map[string]string, len(e.Details)+1)
	for k, v := range e.Details {
		err.Details[k] = v
	}
	err.Details[key] = value
	return &err
}

// Trace sets the error stack trace
func (e *Error) Trace() *Error {
	stack := make([]byte, 2048)
	n := runtime.Stack(stack, false)
	e.trace = stack[:n]
	return e
}

// WithField returns a copy of error with one more field error.
func (e *Error) WithField(kind, field, message string) *Error {
	newError := *e
	newError.Fields = append(append([]FieldError(nil), e.Fields...), NewFieldError(kind, field, message))
	return &newError
}

// Is implements the needed interface for errors.Is
// It checks kind for equality
func (e *Error) Is(target error) bool {
	if e == nil {
		return target == nil
	}
	if other, ok := target.(*Error); ok {
		return other.Kind == e.Kind
	}
	if e.cause != nil {
		return Is(e.cause, target)
	}
	return false
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) string {
	var e *Error
	if As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retryable reports whether a caller may retry the failed operation with backoff.
// Business decisions (pricing, compliance, state) are terminal.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindConcurrentModification, KindRailRejected, KindMarketDataUnavailable:
		return true
	}
	return false
}

// HTTPStatus maps an error onto the status code the API answers with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalid:
		return http.StatusBadRequest
	case KindConflict, KindConcurrentModification, KindInvalidStateTransition:
		return http.StatusConflict
	case KindNoMarketData, KindMarketDataUnavailable:
		return http.StatusServiceUnavailable
	case KindUnsupportedRail:
		return http.StatusBadRequest
	case KindInsufficientBalance, KindInsufficientCredit:
		return http.StatusUnprocessableEntity
	case KindAddressNotWhitelisted, KindComplianceRejected:
		return http.StatusForbidden
	case KindRailRejected:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
