package visibility

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/gatehouse-app/gatehouse/internal/directory"
	"github.com/gatehouse-app/gatehouse/internal/identity"
	"github.com/gatehouse-app/gatehouse/internal/platform/httpx"
)

// Handler exposes the admin page-visibility surface.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers page visibility routes. All of them require an
// administrator identity.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(requireAdministrator)
	r.Get("/", h.listPages)
	r.Put("/{pageID}/visibility", h.setVisibility)
}

func requireAdministrator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := identity.FromContext(r.Context())
		if !id.Privileged() {
			httpx.RespondError(w, httpx.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type pageView struct {
	ID        int64     `json:"id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	Visible   bool      `json:"is_visible"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (h *Handler) listPages(w http.ResponseWriter, r *http.Request) {
	pages := h.service.Pages()
	out := make([]pageView, 0, len(pages))
	for _, p := range pages {
		out = append(out, pageView{ID: p.ID, Slug: p.Slug, Name: p.Name, Visible: p.Visible, UpdatedAt: p.UpdatedAt})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"pages": out})
}

type visibilityForm struct {
	Visible *bool `json:"is_visible" validate:"required"`
}

func (h *Handler) setVisibility(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "pageID")
	pageID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || pageID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Page", "page id must be a positive integer")
		return
	}
	var form visibilityForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.SetVisibility(r.Context(), pageID, *form.Visible); err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			httpx.RespondError(w, httpx.ErrNotFound)
			return
		}
		h.logger.Error("set page visibility", slog.Int64("page_id", pageID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
