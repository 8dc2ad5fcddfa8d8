package rbac

import (
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/odyssey-authz/internal/platform/httpx"
)

// Middleware wires engine decisions into HTTP handlers.
type Middleware struct {
	Engine *Engine
	Logger *slog.Logger
}

// GuardResolver picks the guard a request is authorized in.
type GuardResolver func(r *http.Request) (Guard, error)

// Require allows the request through only when the principal in context may
// perform verb on resource. Target-dependent checks are left to handlers.
func (m Middleware) Require(resource, verb string) func(http.Handler) http.Handler {
	return m.RequireIn(nil, resource, verb)
}

// RequireIn is Require evaluated in the guard chosen by resolve; a nil
// resolver uses the engine's guard. Resolver errors are answered with 400.
func (m Middleware) RequireIn(resolve GuardResolver, resource, verb string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			engine := m.Engine
			if resolve != nil {
				g, err := resolve(r)
				if err != nil {
					RespondError(w, m.Logger, err)
					return
				}
				engine = engine.ForGuard(g)
			}
			d, err := engine.Authorize(r.Context(), PrincipalFromContext(r.Context()), resource, verb, nil)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error("rbac require", slog.String("resource", resource), slog.String("verb", verb), slog.Any("error", err))
				}
				httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
				return
			}
			if !d.Allowed {
				RespondDenied(w, d)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RespondDenied writes 401 for unauthenticated decisions and 403 otherwise.
func RespondDenied(w http.ResponseWriter, d Decision) {
	if d.Kind == DenyUnauthenticated {
		w.Header().Set("WWW-Authenticate", `Bearer realm="odyssey"`)
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	httpx.Problem(w, http.StatusForbidden, "Forbidden", d.Reason)
}
