package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind is the stable, client-facing error class.
type Kind string

const (
	KindValidation            Kind = "VALIDATION"
	KindInsufficientFunds     Kind = "INSUFFICIENT_FUNDS"
	KindNotAuthorized         Kind = "NOT_AUTHORIZED"
	KindConflict              Kind = "CONFLICT"
	KindDependencyUnavailable Kind = "DEPENDENCY_UNAVAILABLE"
	KindNotFound              Kind = "NOT_FOUND"
	KindInternal              Kind = "INTERNAL"
)

// Kind sentinels. Domain packages wrap these with their own sentinels so that
// errors.Is works against both.
var (
	ErrValidation            = errors.New("validation failed")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrNotAuthorized         = errors.New("not authorized")
	ErrConflict              = errors.New("conflict")
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	ErrNotFound              = errors.New("not found")
)

var kindSentinels = []struct {
	kind Kind
	err  error
}{
	{KindValidation, ErrValidation},
	{KindInsufficientFunds, ErrInsufficientFunds},
	{KindNotAuthorized, ErrNotAuthorized},
	{KindConflict, ErrConflict},
	{KindDependencyUnavailable, ErrDependencyUnavailable},
	{KindNotFound, ErrNotFound},
}

// OperationError tags a failure with the operation that produced it.
type OperationError struct {
	Op  string
	Err error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }

// Wrap annotates err with op. It returns nil for a nil err.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Op: op, Err: err}
}

// New builds a domain sentinel that unwraps to the kind sentinel.
func New(kind error, msg string) error {
	return fmt.Errorf("%s: %w", msg, kind)
}

// KindOf classifies err. Unknown errors are KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, ks := range kindSentinels {
		if errors.Is(err, ks.err) {
			return ks.kind
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindDependencyUnavailable
	}
	return KindInternal
}

// IsRetryable reports whether the caller may retry the same request.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindDependencyUnavailable, KindInternal:
		return !errors.Is(err, context.Canceled)
	default:
		return false
	}
}

// HTTPStatus maps a kind to the status code used by the HTTP API.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindInsufficientFunds:
		// 402 Payment Required is semantically appropriate.
		return http.StatusPaymentRequired
	case KindNotAuthorized:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindDependencyUnavailable:
		return http.StatusServiceUnavailable
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the innermost operation-free text suitable for clients.
// Internal errors are collapsed to a generic message.
func Message(err error) string {
	if err == nil {
		return ""
	}
	if KindOf(err) == KindInternal {
		return "internal error"
	}
	var op *OperationError
	for errors.As(err, &op) {
		err = op.Err
	}
	return err.Error()
}
