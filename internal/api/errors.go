package api

import (
	"encoding/json"
	"net/http"
)

// Error is the body of every non-2xx control-plane response.
type Error struct {
	Error string `json:"error"`
}

// Status is the body of a successful mutation.
type Status struct {
	Status string `json:"status"`
}

// Error messages returned to callers.
const (
	msgNotFound         = "controller not found"
	msgMethodNotAllowed = "method not allowed"
	msgRouteNotFound    = "not found"
	msgInternal         = "internal server error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, Error{Error: message})
}

// writeOK writes the mutation success body.
func writeOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, Status{Status: "ok"})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, message)
}

// writeNotFound writes the 404 unknown-controller response.
func writeNotFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, msgNotFound)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter) {
	writeError(w, http.StatusInternalServerError, msgInternal)
}
