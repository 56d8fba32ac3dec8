package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/marmos91/flashcache/pkg/flashcache"
)

// decodeJSONBody decodes a JSON request body into v. On failure it writes a
// 400 response and returns false.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		BadRequest(w, "Invalid request body")
		return false
	}
	return true
}

// writeCacheError maps cache errors to HTTP statuses.
func writeCacheError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, flashcache.ErrClosed):
		ServiceUnavailable(w, "Cache is closed")
	case errors.Is(err, flashcache.ErrInvalidConfig):
		Conflict(w, err.Error())
	default:
		InternalError(w, err.Error())
	}
}
