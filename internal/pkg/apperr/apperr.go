// Package apperr defines the error kinds returned by ingestion and claim
// operations. Callers branch on Kind instead of matching message strings.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation     Kind = "validation"
	KindNotFound       Kind = "not_found"
	KindForbidden      Kind = "forbidden"
	KindGone           Kind = "gone"
	KindConflict       Kind = "conflict"
	KindPartialFailure Kind = "partial_failure"
	KindUnauthorized   Kind = "unauthorized"
	KindInternal       Kind = "internal"
)

// Error carries a kind plus the id of any record that was already written
// before the failure.
type Error struct {
	Kind      Kind
	Message   string
	ReceiptID string
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...interface{}) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Partial reports a multi-record write that stopped after the receipt row
// was created.
func Partial(receiptID, message string, cause error) *Error {
	return &Error{Kind: KindPartialFailure, Message: message, ReceiptID: receiptID, Cause: cause}
}

// KindOf returns the kind of err. Errors without a kind are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// MessageOf returns the caller-facing message of err.
func MessageOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// ReceiptIDOf returns the receipt id attached to a partial failure.
func ReceiptIDOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.ReceiptID
	}
	return ""
}

// HTTPStatus maps a kind to the response status used by the API.
func HTTPStatus(kind Kind) int {
	switch kind {
	case "":
		return http.StatusOK
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindGone:
		return http.StatusGone
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
