package rbac

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/odyssey-erp/odyssey-authz/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

// PrincipalLookup loads a principal with its status and roles.
type PrincipalLookup interface {
	LoadPrincipal(ctx context.Context, id int64) (*Principal, error)
}

// Handler exposes the decision endpoint and role management over JSON.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	engine   *Engine
	lookup   PrincipalLookup
	rbac     Middleware
	validate *validator.Validate
	title    cases.Caser
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, service *Service, engine *Engine, lookup PrincipalLookup) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		engine:   engine,
		lookup:   lookup,
		rbac:     Middleware{Engine: engine, Logger: logger},
		validate: NewValidator(),
		title:    cases.Title(language.English),
	}
}

// MountRoutes registers the /v1 authorization routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/authorize", h.authorize)
	// Role management is authorized in the guard it operates on.
	r.Route("/roles", func(r chi.Router) {
		r.With(h.rbac.RequireIn(h.guardParam, shared.ResourceRoles, shared.VerbIndex)).Get("/", h.listRoles)
		r.With(h.rbac.RequireIn(h.guardParam, shared.ResourceRoles, shared.VerbStore)).Post("/", h.createRole)
		r.With(h.rbac.RequireIn(h.guardParam, shared.ResourceRoles, shared.VerbDestroy)).Delete("/{role}", h.deleteRole)
		r.With(h.rbac.RequireIn(h.guardParam, shared.ResourceRoles, shared.VerbShow)).Get("/{role}/permissions", h.rolePermissions)
		r.With(h.rbac.RequireIn(h.guardParam, shared.ResourcePermissions, shared.VerbUpdate)).Put("/{role}/permissions", h.syncRolePermissions)
	})
}

type authorizeRequest struct {
	Guard        string `json:"guard"`
	Resource     string `json:"resource" validate:"required"`
	Verb         string `json:"verb" validate:"required"`
	TargetUserID int64  `json:"target_user_id" validate:"gte=0"`
	Content      *struct {
		ID        int64 `json:"id"`
		Published bool  `json:"published"`
	} `json:"content"`
}

type authorizeResponse struct {
	Allowed bool   `json:"allowed"`
	Outcome string `json:"outcome"`
	Reason  string `json:"reason,omitempty"`
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) {
	var req authorizeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	engine, err := h.engineFor(req.Guard)
	if err != nil {
		h.respondError(w, err)
		return
	}

	var target Target
	switch {
	case req.TargetUserID > 0:
		tp, err := h.lookup.LoadPrincipal(r.Context(), req.TargetUserID)
		if err != nil {
			h.respondError(w, err)
			return
		}
		target = tp
	case req.Content != nil:
		target = Content{ID: req.Content.ID, Published: req.Content.Published}
	}

	d, err := engine.Authorize(r.Context(), PrincipalFromContext(r.Context()), req.Resource, req.Verb, target)
	if err != nil {
		h.respondError(w, err)
		return
	}
	outcome := "allow"
	switch d.Kind {
	case DenyUnauthenticated:
		outcome = "unauthenticated"
	case DenyForbidden:
		outcome = "forbidden"
	}
	httpx.JSON(w, http.StatusOK, authorizeResponse{Allowed: d.Allowed, Outcome: outcome, Reason: d.Reason})
}

type roleView struct {
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name"`
	Guard       string   `json:"guard"`
	Description string   `json:"description,omitempty"`
	Permissions []string `json:"permissions"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	guard, err := h.guardParam(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	store := h.service.Store()
	roles := store.Roles(guard)
	out := make([]roleView, 0, len(roles))
	for _, role := range roles {
		out = append(out, h.view(role, store.PermissionsForRole(role.Name, guard)))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"guard": guard, "roles": out})
}

type createRoleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description" validate:"max=255"`
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	guard, err := h.guardParam(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	var req createRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	role, err := h.service.CreateRole(r.Context(), actorID(r), guard, req.Name, req.Description)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, h.view(role, []string{}))
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	guard, err := h.guardParam(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if err := h.service.DeleteRole(r.Context(), actorID(r), guard, chi.URLParam(r, "role")); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) rolePermissions(w http.ResponseWriter, r *http.Request) {
	guard, err := h.guardParam(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	role, ok := h.service.Store().Role(chi.URLParam(r, "role"), guard)
	if !ok {
		h.respondError(w, ErrRoleNotFound)
		return
	}
	httpx.JSON(w, http.StatusOK, h.view(role, h.service.Store().PermissionsForRole(role.Name, guard)))
}

type syncPermissionsRequest struct {
	Permissions []string `json:"permissions" validate:"dive,permission"`
}

func (h *Handler) syncRolePermissions(w http.ResponseWriter, r *http.Request) {
	guard, err := h.guardParam(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	var req syncPermissionsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	name := chi.URLParam(r, "role")
	applied, err := h.service.SyncRolePermissions(r.Context(), actorID(r), guard, name, req.Permissions)
	if err != nil {
		h.respondError(w, err)
		return
	}
	role, _ := h.service.Store().Role(name, guard)
	httpx.JSON(w, http.StatusOK, h.view(role, applied))
}

func (h *Handler) view(role Role, perms []string) roleView {
	if perms == nil {
		perms = []string{}
	}
	return roleView{
		Name:        role.Name,
		DisplayName: h.title.String(strings.ReplaceAll(role.Name, "_", " ")),
		Guard:       string(role.Guard),
		Description: role.Description,
		Permissions: perms,
	}
}

func (h *Handler) guardParam(r *http.Request) (Guard, error) {
	g := Guard(strings.TrimSpace(r.URL.Query().Get("guard")))
	if g == "" {
		return h.engine.Guard(), nil
	}
	return g, h.service.Store().CheckGuard(g)
}

func (h *Handler) engineFor(guard string) (*Engine, error) {
	if guard == "" {
		return h.engine, nil
	}
	g := Guard(guard)
	if err := h.service.Store().CheckGuard(g); err != nil {
		return nil, err
	}
	return h.engine.ForGuard(g), nil
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	RespondError(w, h.logger, err)
}

// RespondError maps deny decisions and RBAC errors to problem responses and
// falls back to httpx.RespondError.
func RespondError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var denied *DeniedError
	switch {
	case errors.As(err, &denied):
		RespondDenied(w, denied.Decision)
	case errors.Is(err, ErrUnknownGuard), errors.Is(err, ErrUnknownAction), errors.Is(err, ErrInvalidDefinition):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
	case errors.Is(err, ErrRoleNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		if logger != nil && !errors.Is(err, shared.ErrNotFound) && !errors.Is(err, shared.ErrDuplicate) && !errors.Is(err, httpx.ErrValidation) {
			logger.Error("request failed", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
	}
}

func actorID(r *http.Request) int64 {
	if p := PrincipalFromContext(r.Context()); p != nil {
		return p.ID
	}
	return 0
}
