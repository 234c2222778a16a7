// Package respond writes the JSON bodies shared by all HTTP handlers.
package respond

import (
	"encoding/json"
	"log"
	"net/http"
)

// APIError is the error body returned on every failure. Code is one of the
// stable error codes; Message is safe to show to end users.
type APIError struct {
	Code    string `json:"error_code"`
	Message string `json:"error_message"`
}

// JSON writes v as the response body with the given status.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("respond: encode response: %v", err)
	}
}

// Error writes a structured error response.
func Error(w http.ResponseWriter, status int, code, message string) {
	JSON(w, status, APIError{Code: code, Message: message})
}
