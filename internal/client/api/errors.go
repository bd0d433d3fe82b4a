package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spec-kit/canvas-sync/internal/api/dto"
	"github.com/spec-kit/canvas-sync/pkg/errorutil"
)

// TransportError reports that the server could not be reached or did not
// produce a readable response.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether retrying later may succeed. Cancellation by the
// caller is not transient.
func (e *TransportError) IsTransient() bool {
	return !errors.Is(e.Err, context.Canceled)
}

// ConflictError is returned when a save is refused because the server holds
// a newer version. Document is the authoritative copy.
type ConflictError struct {
	Document dto.Document
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("document %s changed on the server (updatedAt %d)", e.Document.ID, e.Document.UpdatedAt)
}

// IsUnauthorized reports an explicit 401 from the server.
func IsUnauthorized(err error) bool {
	return errorutil.HasStatus(err, http.StatusUnauthorized)
}

// IsNotFound reports a 404 from the server.
func IsNotFound(err error) bool {
	return errorutil.HasStatus(err, http.StatusNotFound)
}

// IsValidation reports a 400 from the server.
func IsValidation(err error) bool {
	return errorutil.HasStatus(err, http.StatusBadRequest)
}

// IsServerFault reports a 5xx response.
func IsServerFault(err error) bool {
	var domainErr *errorutil.DomainError
	return errors.As(err, &domainErr) && domainErr.HTTPStatus >= http.StatusInternalServerError
}

// IsTransport reports a connectivity failure.
func IsTransport(err error) bool {
	var transportErr *TransportError
	return errors.As(err, &transportErr)
}

// IsConflict reports a refused stale save and returns the server copy.
func IsConflict(err error) (*ConflictError, bool) {
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return conflict, true
	}
	return nil, false
}

func statusCode(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return errorutil.CodeUnauthorized
	case status == http.StatusNotFound:
		return errorutil.CodeNotFound
	case status == http.StatusConflict:
		return errorutil.CodeConflict
	case status == http.StatusTooManyRequests:
		return errorutil.CodeRateLimited
	case status == http.StatusServiceUnavailable:
		return errorutil.CodeUnavailable
	case status >= http.StatusInternalServerError:
		return errorutil.CodeInternal
	default:
		return errorutil.CodeValidation
	}
}
