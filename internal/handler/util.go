package handler

import (
	"encoding/json"
	"net/http"
)

// errorResponse is the error body every endpoint returns.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes v as the JSON response body with the given status. Encode
// errors are ignored; the status line is already on the wire by then.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
