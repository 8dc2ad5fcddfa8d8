package app

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	audithttp "github.com/odyssey-erp/odyssey-authz/internal/audit/http"
	"github.com/odyssey-erp/odyssey-authz/internal/auth"
	"github.com/odyssey-erp/odyssey-authz/internal/observability"
	"github.com/odyssey-erp/odyssey-authz/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
	"github.com/odyssey-erp/odyssey-authz/internal/users"
	"github.com/odyssey-erp/odyssey-authz/jobs"
)

// HealthChecker reports whether a dependency is reachable.
type HealthChecker func(r *http.Request) error

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger       *slog.Logger
	Config       *Config
	Authenticate func(http.Handler) http.Handler
	AuthHandler  *auth.Handler
	RBACHandler  *rbac.Handler
	UsersHandler *users.Handler
	AuditHandler *audithttp.Handler
	JobHandler   *jobs.Handler
	Metrics      *observability.Metrics
	Checks       map[string]HealthChecker
}

// NewRouter constructs the chi.Router with Odyssey defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:       params.Logger,
		Config:       params.Config,
		Metrics:      params.Metrics,
		Authenticate: params.Authenticate,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]string{"status": "ok"}
		code := http.StatusOK
		for name, check := range params.Checks {
			if err := check(r); err != nil {
				params.Logger.Warn("health check failed", slog.String("check", name), slog.Any("error", err))
				status[name] = "down"
				status["status"] = "degraded"
				code = http.StatusServiceUnavailable
				continue
			}
			status[name] = "ok"
		}
		httpx.JSON(w, code, status)
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		if params.AuthHandler != nil {
			// Token issuance gets a tighter per-IP budget.
			r.With(httprate.LimitByIP(10, time.Minute)).Route("/auth", params.AuthHandler.MountRoutes)
		}
		if params.RBACHandler != nil {
			params.RBACHandler.MountRoutes(r)
		}
		if params.UsersHandler != nil {
			r.Route("/users", params.UsersHandler.MountRoutes)
		}
		if params.AuditHandler != nil {
			r.Route("/audits", params.AuditHandler.MountRoutes)
		}
		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	return r
}
