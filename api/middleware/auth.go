package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/angelmondragon/warehouse-allocator/api/responses"
	"github.com/angelmondragon/warehouse-allocator/pkg/db/models"
	pkgerrors "github.com/angelmondragon/warehouse-allocator/pkg/errors"
	"github.com/angelmondragon/warehouse-allocator/pkg/logger"
)

const apiKeyHeader = "X-API-Key"

// Authenticator resolves an API key to its client.
type Authenticator interface {
	Authenticate(ctx context.Context, apiKey string) (*models.Client, error)
}

// APIKey authenticates the X-API-Key header and seeds the request context
// with the client.
func APIKey(auth Authenticator, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get(apiKeyHeader))
			if raw == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			client, err := auth.Authenticate(r.Context(), raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}

			ctx := WithClient(r.Context(), client.ID, client.IsAdmin)
			if logg != nil {
				ctx = logg.WithClientID(ctx, client.ID.String())
				if client.IsAdmin {
					ctx = logg.WithField(ctx, "actor_role", "admin")
				}
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin rejects clients without the admin flag.
func RequireAdmin(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !IsAdminFromContext(r.Context()) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "admin access required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
