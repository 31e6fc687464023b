package rbac

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/gatehouse-app/gatehouse/internal/identity"
	"github.com/gatehouse-app/gatehouse/internal/platform/httpx"
)

// Handler exposes the admin permission-editing surface.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	resolver  *Resolver
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, resolver *Resolver) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		resolver:  resolver,
		validator: validator.New(),
	}
}

// MountRoutes registers permission routes. All of them require an
// administrator identity.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(RequireAdministrator)
	r.Get("/catalog", h.listCatalog)
	r.Get("/roles", h.listRoles)
	r.Get("/users/{userID}", h.getGrant)
	r.Put("/users/{userID}", h.putGrant)
	r.Post("/users/{userID}/apply-template", h.applyTemplate)
}

// RequireAdministrator rejects callers whose identity is not privileged.
func RequireAdministrator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := identity.FromContext(r.Context())
		if !id.Privileged() {
			httpx.RespondError(w, httpx.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type permissionView struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category"`
}

func (h *Handler) listCatalog(w http.ResponseWriter, r *http.Request) {
	perms, err := h.resolver.Catalog(r.Context())
	if err != nil {
		h.logger.Error("list permission catalog", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]permissionView, 0, len(perms))
	for _, p := range perms {
		out = append(out, permissionView{Code: p.Code, Name: p.Name, Description: p.Description, Category: p.Category})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": out})
}

type roleView struct {
	Role  string   `json:"role"`
	Label string   `json:"label"`
	Codes []string `json:"codes"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	templates := KnownRoles()
	out := make([]roleView, 0, len(templates))
	for _, tpl := range templates {
		out = append(out, roleView{Role: tpl.Role, Label: tpl.Label, Codes: tpl.Codes})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": out})
}

type grantView struct {
	UserID int64    `json:"user_id"`
	Role   string   `json:"role"`
	Codes  []string `json:"codes"`
}

func (h *Handler) getGrant(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathUserID(w, r)
	if !ok {
		return
	}
	grant, err := h.service.Grant(r.Context(), userID)
	if err != nil {
		h.logger.Error("fetch grant", slog.Int64("user_id", userID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, grantView{UserID: userID, Role: grant.Role, Codes: grant.PermissionCodes})
}

type grantForm struct {
	Role  string   `json:"role" validate:"required"`
	Codes []string `json:"codes" validate:"required"`
}

func (h *Handler) putGrant(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathUserID(w, r)
	if !ok {
		return
	}
	var form grantForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if !IsKnownRole(form.Role) {
		httpx.Problem(w, http.StatusBadRequest, "Unknown Role", "no template exists for role "+form.Role)
		return
	}
	if err := h.service.UpdateUserPermissions(r.Context(), userID, form.Role, form.Codes); err != nil {
		h.logger.Error("update grant", slog.Int64("user_id", userID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type applyTemplateForm struct {
	Role string `json:"role" validate:"required"`
}

func (h *Handler) applyTemplate(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathUserID(w, r)
	if !ok {
		return
	}
	var form applyTemplateForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if !IsKnownRole(form.Role) {
		httpx.Problem(w, http.StatusBadRequest, "Unknown Role", "no template exists for role "+form.Role)
		return
	}
	if err := h.service.ApplyTemplate(r.Context(), userID, form.Role); err != nil {
		h.logger.Error("apply template", slog.Int64("user_id", userID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *Handler) pathUserID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "userID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid User", "user id must be a positive integer")
		return 0, false
	}
	return id, true
}
