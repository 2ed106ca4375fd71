package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/freetalk/messaging/internal/apperr"
)

// ValidateID reports whether id is a well-formed record identifier.
func ValidateID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return apperr.Validation("invalid id format")
	}
	return nil
}

// ValidateIDs rejects requests whose named route parameters are not record identifiers.
func ValidateIDs(params ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, p := range params {
				v := chi.URLParam(r, p)
				if v == "" {
					continue
				}
				if err := ValidateID(v); err != nil {
					writeError(w, apperr.Validation("invalid "+p+" format"))
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
