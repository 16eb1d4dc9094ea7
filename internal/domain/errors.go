// Package domain provides shared domain-level sentinel errors.
package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates an invalid state transition.
var ErrConflict = errors.New("conflict")

// ErrValidation indicates malformed input. No external call has been made.
var ErrValidation = errors.New("validation failed")

// ErrUpstream indicates an external collaborator answered with a non-success status.
var ErrUpstream = errors.New("upstream failure")

// ErrUnavailable indicates an external collaborator could not be reached,
// timed out, or is shielded by an open circuit breaker.
var ErrUnavailable = errors.New("upstream unavailable")

// ErrAddressSpaceExhausted indicates the VPN subnet has no free host address left.
var ErrAddressSpaceExhausted = errors.New("address space exhausted")

// ErrStorageCorrupt indicates a persisted document could not be decoded.
var ErrStorageCorrupt = errors.New("storage corrupt")

// maxBodySnippet caps how much of an upstream response body is kept in errors.
const maxBodySnippet = 300

// UpstreamError describes a failed call to an external collaborator.
// Status is 0 when no HTTP response was received.
type UpstreamError struct {
	Service string
	Op      string
	Status  int
	Body    string
	Err     error
}

// NewUpstreamError builds an UpstreamError from a response, truncating the body.
func NewUpstreamError(service, op string, status int, body []byte) *UpstreamError {
	b := string(body)
	if len(b) > maxBodySnippet {
		b = b[:maxBodySnippet]
	}
	return &UpstreamError{Service: service, Op: op, Status: status, Body: b}
}

func (e *UpstreamError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s %s: %v", e.Service, e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Service, e.Op, e.Status, e.Body)
}

// Unwrap exposes the sentinel (ErrUpstream or ErrUnavailable) and the transport cause.
func (e *UpstreamError) Unwrap() []error {
	if e.Status == 0 {
		return []error{ErrUnavailable, e.Err}
	}
	return []error{ErrUpstream}
}

// kindError carries a human-readable message classified by a sentinel.
// Its Error() is the message alone so it can be shown to API callers verbatim.
type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }

// Validationf returns an error classified as ErrValidation with a formatted message.
func Validationf(format string, args ...any) error {
	return &kindError{kind: ErrValidation, msg: fmt.Sprintf(format, args...)}
}

// Conflictf returns an error classified as ErrConflict with a formatted message.
func Conflictf(format string, args ...any) error {
	return &kindError{kind: ErrConflict, msg: fmt.Sprintf(format, args...)}
}

// NotFoundf returns an error classified as ErrNotFound with a formatted message.
func NotFoundf(format string, args ...any) error {
	return &kindError{kind: ErrNotFound, msg: fmt.Sprintf(format, args...)}
}
