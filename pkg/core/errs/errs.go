// Package errs implements the error-kind taxonomy every component
// branches on (scheduler retry decisions, API responses, audit records),
// kept separate from pkg/shared/errors' message-shaping helpers (this
// package does not use them).
package errs

import (
	"errors"
	"fmt"

	"github.com/Samueladewole/velocityai-sub003/pkg/domain"
)

// KindError pairs a domain.ErrorKind with a human-readable cause so
// callers get both the classification and the message in one type.
type KindError struct {
	Kind      domain.ErrorKind
	Operation string
	Cause     error
}

func (e *KindError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Operation, e.Cause.Error())
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Operation)
}

func (e *KindError) Unwrap() error {
	return e.Cause
}

func New(kind domain.ErrorKind, operation string, cause error) error {
	return &KindError{Kind: kind, Operation: operation, Cause: cause}
}

func NotFound(operation string, cause error) error {
	return New(domain.KindNotFound, operation, cause)
}

func AccessDenied(operation string, cause error) error {
	return New(domain.KindAccessDenied, operation, cause)
}

func IntegrityError(operation string, cause error) error {
	return New(domain.KindIntegrityError, operation, cause)
}

func EncryptionError(operation string, cause error) error {
	return New(domain.KindEncryptionError, operation, cause)
}

func Backpressure(operation string, cause error) error {
	return New(domain.KindBackpressure, operation, cause)
}

func Timeout(operation string, cause error) error {
	return New(domain.KindTimeout, operation, cause)
}

func Transient(operation string, cause error) error {
	return New(domain.KindTransient, operation, cause)
}

func Permanent(operation string, cause error) error {
	return New(domain.KindPermanent, operation, cause)
}

func ValidationFailed(operation string, cause error) error {
	return New(domain.KindValidationFailed, operation, cause)
}

func AlreadyRunning(operation string, cause error) error {
	return New(domain.KindAlreadyRunning, operation, cause)
}

// KindOf extracts the classified Kind from err, walking the Unwrap chain.
// Unclassified errors return KindNone.
func KindOf(err error) domain.ErrorKind {
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return domain.KindNone
}

// IsRetryable reports whether the scheduler should retry a task that
// failed with err: only Transient and Timeout are retried, and only when
// retries remain (the caller still checks retries_remaining separately).
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case domain.KindTransient, domain.KindTimeout:
		return true
	default:
		return false
	}
}
