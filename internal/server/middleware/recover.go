package middleware

import (
	"log"
	"net/http"

	"tripdeck/backend/internal/server/respond"
)

// Recover converts a handler panic into a 500 response so one bad request
// cannot take the server down.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("server: panic handling %s %s: %v", r.Method, r.URL.Path, rec)
				respond.Error(w, http.StatusInternalServerError, "SERVER_ERROR", "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
