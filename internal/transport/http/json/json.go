// Package json holds the response encoding helper shared by all handlers.
package json

import (
	"encoding/json"
	"net/http"
)

// WriteJSON encodes the response with the given status. Encoding failures are
// best-effort; the status has already been written.
func WriteJSON(w http.ResponseWriter, status int, response any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}
