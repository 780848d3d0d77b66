// Package rubinerrors defines the error kinds shared across the
// pipeline and their mapping to HTTP status codes.
package rubinerrors

import (
	"errors"
	"net/http"
)

// Sentinel error kinds, matched with errors.Is against wrapped causes.
var (
	// ErrNotFound means the object key is absent from the bucket.
	ErrNotFound = errors.New("rubintv: not found")

	// ErrStorage means a transport or auth failure talking to the
	// object store. Callers should retry on the next poll iteration.
	ErrStorage = errors.New("rubintv: storage error")

	// ErrParse means a key or JSON payload was malformed. The offending
	// record is skipped; the caller's batch continues.
	ErrParse = errors.New("rubintv: parse error")

	// ErrValidation means a client subscription request was malformed.
	ErrValidation = errors.New("rubintv: validation error")

	// ErrBusy means the historical cache has not completed its initial
	// build yet.
	ErrBusy = errors.New("rubintv: historical cache busy")

	// ErrFatal means a startup misconfiguration; it aborts the process.
	ErrFatal = errors.New("rubintv: fatal configuration error")
)

// StatusFor maps an error kind to the HTTP status code the handlers in
// internal/httpapi should return.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrParse):
		return http.StatusNotFound
	case errors.Is(err, ErrBusy):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrStorage):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Wrap attaches a message to a sentinel kind while preserving errors.Is
// matching against it.
func Wrap(kind error, msg string) error {
	return &wrapped{kind: kind, msg: msg}
}

type wrapped struct {
	kind error
	msg  string
}

func (w *wrapped) Error() string { return w.msg + ": " + w.kind.Error() }
func (w *wrapped) Unwrap() error { return w.kind }
