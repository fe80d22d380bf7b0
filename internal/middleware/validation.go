package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// MaxBodyBytes caps JSON request bodies.
const MaxBodyBytes = 64 << 10

// ValidateID rejects requests whose URL parameter param is not a UUID.
func ValidateID(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, err := uuid.Parse(chi.URLParam(r, param)); err != nil {
				http.Error(w, `{"error":"invalid `+param+` format"}`, http.StatusBadRequest)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// LimitBody caps request bodies at MaxBodyBytes.
func LimitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}
