package users

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-authz/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
)

// Handler manages user management endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: rbac.NewValidator()}
}

// MountRoutes registers user routes. Authorization happens in the service
// because removal depends on the target user.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listUsers)
	r.Get("/{id}", h.showUser)
	r.Put("/{id}/roles", h.assignRoles)
	r.Delete("/{id}", h.removeUser)
	r.Post("/{id}/restore", h.restoreUser)
}

type userView struct {
	User
	Roles []rbac.RoleRef `json:"roles,omitempty"`
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{
		Status:         rbac.Status(q.Get("status")),
		IncludeDeleted: q.Get("include_deleted") == "true",
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))

	users, err := h.service.List(r.Context(), rbac.PrincipalFromContext(r.Context()), filter)
	if err != nil {
		rbac.RespondError(w, h.logger, err)
		return
	}
	if users == nil {
		users = []User{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"users": users})
}

func (h *Handler) showUser(w http.ResponseWriter, r *http.Request) {
	id, ok := h.userID(w, r)
	if !ok {
		return
	}
	user, roles, err := h.service.Get(r.Context(), rbac.PrincipalFromContext(r.Context()), id)
	if err != nil {
		rbac.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, userView{User: user, Roles: roles})
}

type assignRolesRequest struct {
	Guard string   `json:"guard"`
	Roles []string `json:"roles" validate:"dive,required,rolename"`
}

func (h *Handler) assignRoles(w http.ResponseWriter, r *http.Request) {
	id, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req assignRolesRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.AssignRoles(r.Context(), rbac.PrincipalFromContext(r.Context()), id, rbac.Guard(req.Guard), req.Roles); err != nil {
		rbac.RespondError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removeUser(w http.ResponseWriter, r *http.Request) {
	id, ok := h.userID(w, r)
	if !ok {
		return
	}
	if err := h.service.Remove(r.Context(), rbac.PrincipalFromContext(r.Context()), id); err != nil {
		rbac.RespondError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) restoreUser(w http.ResponseWriter, r *http.Request) {
	id, ok := h.userID(w, r)
	if !ok {
		return
	}
	if err := h.service.Restore(r.Context(), rbac.PrincipalFromContext(r.Context()), id); err != nil {
		rbac.RespondError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid user id")
		return 0, false
	}
	return id, true
}
