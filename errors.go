package main

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

/* ─── Error taxonomy ─────────────────────────────────────────────────── */

// The four error kinds below map 1:1 onto HTTP statuses at the boundary
// (400, 404, 412, 503). Handlers must never collapse one kind into another:
// a 404 tells the client to refetch current metrics and retry, a 400 tells
// it to fix the request shape — categorically different recovery paths.

// validationError reports malformed or out-of-range input. Fields holds one
// message per violated field, not just the first.
type validationError struct {
	Fields []string
}

func (e *validationError) Error() string {
	return "invalid input: " + strings.Join(e.Fields, "; ")
}

// notFoundError reports that no stored record matches the request
// (e.g. no metrics for a given version+timestamp, or nothing computed today).
type notFoundError struct {
	Msg string
}

func (e *notFoundError) Error() string { return e.Msg }

// preconditionFailedError reports that plan generation was attempted without
// a valid acknowledgment of the current metrics version.
type preconditionFailedError struct {
	Msg string
}

func (e *preconditionFailedError) Error() string { return e.Msg }

// transientStorageError wraps a persistence failure. Retryable by the caller;
// never retried inside the engine.
type transientStorageError struct {
	Op  string
	Err error
}

func (e *transientStorageError) Error() string {
	return fmt.Sprintf("storage unavailable during %s: %v", e.Op, e.Err)
}

func (e *transientStorageError) Unwrap() error { return e.Err }

// errDuplicateKey is the internal signal for a storage uniqueness-constraint
// violation. It never crosses the engine boundary: MetricsComputer and the
// acknowledgment gate resolve it by returning the winning row.
var errDuplicateKey = errors.New("duplicate key")

func storageErr(op string, err error) error {
	return &transientStorageError{Op: op, Err: err}
}

/* ─── HTTP mapping ───────────────────────────────────────────────────── */

// writeEngineError renders an engine error with its canonical status code.
// Validation failures include the per-field messages so clients can surface
// every problem at once.
func writeEngineError(c *gin.Context, err error) {
	var ve *validationError
	var nf *notFoundError
	var pf *preconditionFailedError
	var ts *transientStorageError

	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input", "fields": ve.Fields})
	case errors.As(err, &nf):
		apiError(c, http.StatusNotFound, nf.Msg)
	case errors.As(err, &pf):
		apiError(c, http.StatusPreconditionFailed, pf.Msg)
	case errors.As(err, &ts):
		apiError(c, http.StatusServiceUnavailable, "storage temporarily unavailable")
	default:
		apiError(c, http.StatusInternalServerError, "internal error")
	}
}
