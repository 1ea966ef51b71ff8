// Package apperrors defines the error taxonomy shared by the REST gateway
// and the realtime handshake. Handlers wrap these sentinels with context and
// map them to HTTP status codes in one place.
package apperrors

import (
	"errors"
	"net/http"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrUnavailable     = errors.New("store unavailable")
)

// Status maps an error chain to the HTTP status code the gateway responds
// with. Unknown errors are treated as internal.
func Status(err error) int {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
