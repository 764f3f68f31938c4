package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/angelmondragon/attribution-backend/api/responses"
	pkgAuth "github.com/angelmondragon/attribution-backend/pkg/auth"
	"github.com/angelmondragon/attribution-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/attribution-backend/pkg/errors"
	"github.com/angelmondragon/attribution-backend/pkg/logger"
)

// Auth validates a dashboard bearer token and seeds the request context with
// the store id and scopes it grants.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r.Header.Get("Authorization"))
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgAuth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			ctx := WithStoreID(r.Context(), claims.StoreID)
			ctx = WithScopes(ctx, claims.Scopes)
			ctx = context.WithValue(ctx, ctxSubject, claims.Subject)
			if logg != nil {
				ctx = logg.WithStoreID(ctx, claims.StoreID.String())
				if claims.Subject != "" {
					ctx = logg.WithField(ctx, "subject", claims.Subject)
				}
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(header string) string {
	token := strings.TrimSpace(header)
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	return token
}
