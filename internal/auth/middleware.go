package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/odyssey-erp/odyssey-authz/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

// PrincipalLoader resolves a user id into an RBAC principal.
type PrincipalLoader interface {
	LoadPrincipal(ctx context.Context, id int64) (*rbac.Principal, error)
}

type claimsContextKey struct{}

// ClaimsFromContext returns the verified token claims of the request, if any.
func ClaimsFromContext(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsContextKey{}).(*Claims)
	return c
}

// Middleware resolves the bearer token into a principal. Requests without a
// token continue anonymously; an invalid token is rejected with 401.
func Middleware(service *Service, principals PrincipalLoader, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			claims, err := service.Parse(ctx, raw)
			if err != nil {
				if !errors.Is(err, ErrInvalidToken) {
					logger.Error("auth token lookup", slog.Any("error", err))
					httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
					return
				}
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			id, err := claims.UserID()
			if err != nil {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			principal, err := principals.LoadPrincipal(ctx, id)
			if err != nil {
				if errors.Is(err, shared.ErrNotFound) {
					httpx.RespondError(w, httpx.ErrUnauthorized)
					return
				}
				logger.Error("auth load principal", slog.Int64("user_id", id), slog.Any("error", err))
				httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
				return
			}
			ctx = context.WithValue(ctx, claimsContextKey{}, claims)
			ctx = rbac.ContextWithPrincipal(ctx, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", true
	}
	return strings.TrimSpace(token), true
}
