package auth

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/gatehouse-app/gatehouse/internal/platform/httpx"
	"github.com/gatehouse-app/gatehouse/internal/rbac"
	"github.com/gatehouse-app/gatehouse/internal/shared"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	resolver       *rbac.Resolver
	sessionManager *shared.SessionManager
	validator      *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, resolver *rbac.Resolver, sessions *shared.SessionManager) *Handler {
	return &Handler{
		logger:         logger,
		service:        service,
		resolver:       resolver,
		sessionManager: sessions,
		validator:      validator.New(),
	}
}

// MountRoutes registers auth routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
	r.Get("/me", h.handleMe)
}

type loginForm struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var form loginForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	user, err := h.service.Authenticate(r.Context(), form.Email, form.Password)
	if err != nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}

	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		h.logger.Error("session missing during login")
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}

	id := h.service.ClassifyIdentity(user)
	sess.SetIdentity(id)

	if err := h.service.RegisterSession(r.Context(), sess.ID, user.ID, time.Now().Add(h.sessionManager.TTL()), r.RemoteAddr, r.UserAgent()); err != nil {
		h.logger.Warn("register session", slog.Any("error", err))
	}

	// Warm the effective permission set so the first guarded request does
	// not pay the resolution latency.
	if _, err := h.resolver.Resolve(r.Context(), user.ID); err != nil {
		h.logger.Warn("warm permission set", slog.Int64("user_id", user.ID), slog.Any("error", err))
	}

	returnTo := sess.Get(shared.ReturnToKey)
	if returnTo != "" {
		sess.Delete(shared.ReturnToKey)
	}

	h.logger.Info("login",
		slog.Int64("user_id", user.ID),
		slog.String("identity", id.Kind.String()))

	httpx.JSON(w, http.StatusOK, map[string]any{
		"user_id":   user.ID,
		"identity":  id.Kind.String(),
		"return_to": returnTo,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil {
		if err := h.service.RemoveSession(r.Context(), sess.ID); err != nil {
			h.logger.Warn("remove session", slog.Any("error", err))
		}
		if id := sess.Identity(); id.Authenticated() {
			h.resolver.Invalidate(id.UserID)
		}
		h.sessionManager.Destroy(sess)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleMe reports the caller's identity and effective permissions so the
// surrounding UI can gate its own affordances.
func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	id := sess.Identity()
	if !id.Authenticated() {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}

	set, ok := h.resolver.Cached(id.UserID)
	if !ok {
		var err error
		set, err = h.resolver.Resolve(r.Context(), id.UserID)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
	}

	httpx.JSON(w, http.StatusOK, map[string]any{
		"user_id":     id.UserID,
		"identity":    id.Kind.String(),
		"role":        set.Role,
		"permissions": set.Codes(),
		"degraded":    set.Degraded,
		"admin_area":  id.Privileged() || set.Can(rbac.PermAdminArea),
	})
}
