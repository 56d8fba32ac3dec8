package apiclient

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is an error response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.StatusCode)
}

// IsConflict reports whether err is a 409, returned while a backup runs or
// when the server refuses a request its configuration does not allow.
func IsConflict(err error) bool {
	return hasStatus(err, http.StatusConflict)
}

// IsUnavailable reports whether err is a 503 from a closed or recovering
// cache.
func IsUnavailable(err error) bool {
	return hasStatus(err, http.StatusServiceUnavailable)
}

func hasStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}
