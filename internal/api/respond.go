package api

import (
	"encoding/json"
	"net/http"
)

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// respondInternal is the only body internal faults ever produce; detail
// stays in the server log.
func respondInternal(w http.ResponseWriter) {
	respondError(w, http.StatusInternalServerError, "Internal server error")
}
