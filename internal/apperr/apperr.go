// Package apperr defines the failure kinds business operations report to callers.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is a comparable error category. Errors of a kind unwrap to it, so callers use errors.Is.
type Kind string

func (k Kind) Error() string { return string(k) }

const (
	DuplicateSerial     Kind = "duplicate_serial"
	CountMismatch       Kind = "count_mismatch"
	NotOwned            Kind = "not_owned"
	InsufficientStock   Kind = "insufficient_stock"
	InsufficientBalance Kind = "insufficient_balance"
	ExceedsPending      Kind = "exceeds_pending"
	AlreadyProcessed    Kind = "already_processed"
	OtpMissing          Kind = "otp_missing"
	OtpMismatch         Kind = "otp_mismatch"
	Unauthorized        Kind = "unauthorized"
	NotFound            Kind = "not_found"
	InvalidAmount       Kind = "invalid_amount"
	SerialNotAvailable  Kind = "serial_not_available"
	InvalidInput        Kind = "invalid_input"
	InvalidState        Kind = "invalid_state"
)

// Error carries the kind plus the member that caused it (a serial, product, user or work order).
type Error struct {
	Kind    Kind
	Subject string
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Subject != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Subject)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Kind }

func New(kind Kind, subject string, format string, args ...any) *Error {
	return &Error{Kind: kind, Subject: subject, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err, or "" when err carries none.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	var kind Kind
	if errors.As(err, &kind) {
		return kind
	}
	return ""
}

// SubjectOf returns the offending member recorded on err, if any.
func SubjectOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Subject
	}
	return ""
}

// IsClientError reports whether err is caused by the request rather than the system.
func IsClientError(err error) bool {
	return KindOf(err) != ""
}
