package handlers

import (
	"encoding/json"
	"net/http"
	"time"
)

// Response is the envelope of every API response. Status is "healthy",
// "unhealthy", "ok" or "error".
type Response struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, resp Response) {
	resp.Timestamp = time.Now().UTC()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}

func writeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, Response{Status: "ok", Data: data})
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, Response{Status: "error", Error: msg})
}

func BadRequest(w http.ResponseWriter, msg string)         { writeError(w, http.StatusBadRequest, msg) }
func NotFound(w http.ResponseWriter, msg string)           { writeError(w, http.StatusNotFound, msg) }
func Conflict(w http.ResponseWriter, msg string)           { writeError(w, http.StatusConflict, msg) }
func ServiceUnavailable(w http.ResponseWriter, msg string) { writeError(w, http.StatusServiceUnavailable, msg) }
func InternalError(w http.ResponseWriter, msg string)      { writeError(w, http.StatusInternalServerError, msg) }
