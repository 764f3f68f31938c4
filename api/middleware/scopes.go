package middleware

import (
	"net/http"

	"github.com/angelmondragon/attribution-backend/api/responses"
	pkgerrors "github.com/angelmondragon/attribution-backend/pkg/errors"
	"github.com/angelmondragon/attribution-backend/pkg/logger"
)

// RequireScope rejects tokens that were not granted scope. It must run after Auth.
func RequireScope(scope string, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, granted := range ScopesFromContext(r.Context()) {
				if granted == scope {
					next.ServeHTTP(w, r)
					return
				}
			}
			err := pkgerrors.New(pkgerrors.CodeForbidden, "scope required").
				WithDetails(map[string]any{"scope": scope})
			responses.WriteError(r.Context(), logg, w, err)
		})
	}
}
