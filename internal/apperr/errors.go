// Package apperr is the error taxonomy shared by every pipeline component.
// Errors returned across package boundaries wrap one of the sentinel kinds
// so callers classify them with errors.Is.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel kinds.
var (
	ErrUpstream         = errors.New("upstream service error")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrValidationFailed = errors.New("validation failed")
	ErrPartialBatch     = errors.New("partial batch failure")
)

// Error attaches the failing operation and its subject (question id,
// category id, language) to a kind.
type Error struct {
	Kind    error
	Op      string
	Subject string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Subject != "" {
		b.WriteString(" [")
		b.WriteString(e.Subject)
		b.WriteString("]")
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Upstream wraps a completion or translation backend failure. An error that
// is already an upstream error is returned unchanged.
func Upstream(op, subject string, err error) error {
	if errors.Is(err, ErrUpstream) {
		return err
	}
	return &Error{Kind: ErrUpstream, Op: op, Subject: subject, Err: err}
}

// Collaborator classifies a store failure. Errors that already carry a kind
// are returned unchanged; anything else is reported as upstream.
func Collaborator(op, subject string, err error) error {
	if classified(err) {
		return err
	}
	return &Error{Kind: ErrUpstream, Op: op, Subject: subject, Err: err}
}

func classified(err error) bool {
	for _, kind := range []error{ErrUpstream, ErrNotFound, ErrConflict, ErrValidationFailed, ErrPartialBatch} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

func NotFound(op, subject string) error {
	return &Error{Kind: ErrNotFound, Op: op, Subject: subject}
}

func Conflict(op, subject, msg string) error {
	return &Error{Kind: ErrConflict, Op: op, Subject: subject, Err: errors.New(msg)}
}

// ValidationError lists every problem found in a structured payload.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return e.Problems[0]
	}
	return fmt.Sprintf("%d problems: %s", len(e.Problems), strings.Join(e.Problems, "; "))
}

func Validation(op, subject string, problems ...string) error {
	return &Error{Kind: ErrValidationFailed, Op: op, Subject: subject, Err: &ValidationError{Problems: problems}}
}

// Problems returns the problem list of a validation error, if any.
func Problems(err error) []string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Problems
	}
	return nil
}

// PartialBatchFailure is returned next to a complete per-item result list
// when some items of a batch failed.
type PartialBatchFailure struct {
	Op     string
	Total  int
	Failed int
}

func (e *PartialBatchFailure) Error() string {
	return fmt.Sprintf("%s: %d of %d items failed", e.Op, e.Failed, e.Total)
}

func (e *PartialBatchFailure) Unwrap() error { return ErrPartialBatch }

// Batch returns a PartialBatchFailure when failed > 0, nil otherwise.
func Batch(op string, total, failed int) error {
	if failed == 0 {
		return nil
	}
	return &PartialBatchFailure{Op: op, Total: total, Failed: failed}
}

// Retryable reports whether repeating the call may succeed.
func Retryable(err error) bool {
	return errors.Is(err, ErrUpstream) || errors.Is(err, ErrValidationFailed)
}

// HTTPStatus maps an error kind onto a response status.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrValidationFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrUpstream):
		return http.StatusBadGateway
	case errors.Is(err, ErrPartialBatch):
		return http.StatusMultiStatus
	default:
		return http.StatusInternalServerError
	}
}

// Message returns a response-safe message: the full text for classified
// errors, a generic one for anything else.
func Message(err error) string {
	if HTTPStatus(err) == http.StatusInternalServerError {
		return "internal server error"
	}
	return err.Error()
}
