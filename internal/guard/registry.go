package guard

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/gatehouse-app/gatehouse/internal/observability"
	"github.com/gatehouse-app/gatehouse/internal/platform/httpx"
	"github.com/gatehouse-app/gatehouse/internal/rbac"
	"github.com/gatehouse-app/gatehouse/internal/visibility"
)

// Registry hands out one Guard per page key, all sharing the same resolver,
// visibility store and gating defaults.
type Registry struct {
	base       Config
	resolver   *rbac.Resolver
	visibility *visibility.Store
	logger     *slog.Logger
	metrics    *observability.Metrics

	mu     sync.Mutex
	guards map[string]*Guard
}

// NewRegistry constructs a Registry. base.PageKey is ignored; each page key
// gets its own copy of the configuration.
func NewRegistry(base Config, resolver *rbac.Resolver, vis *visibility.Store, logger *slog.Logger, metrics *observability.Metrics) *Registry {
	return &Registry{
		base:       base,
		resolver:   resolver,
		visibility: vis,
		logger:     logger,
		metrics:    metrics,
		guards:     make(map[string]*Guard),
	}
}

// For returns the guard for a page key, creating it on first use.
func (reg *Registry) For(pageKey string) *Guard {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if g, ok := reg.guards[pageKey]; ok {
		return g
	}
	cfg := reg.base
	cfg.PageKey = pageKey
	g := New(cfg, reg.resolver, reg.visibility, reg.logger, reg.metrics)
	reg.guards[pageKey] = g
	return g
}

// PageMiddleware guards the wrapped routes using the "pageKey" URL
// parameter to select the guard.
func (reg *Registry) PageMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pageKey := chi.URLParam(r, "pageKey")
		if pageKey == "" {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Page", "page key required")
			return
		}
		reg.For(pageKey).Middleware(next).ServeHTTP(w, r)
	})
}

// DecideHandler answers the raw guard decision for the "pageKey" URL
// parameter without following redirects.
func (reg *Registry) DecideHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pageKey := chi.URLParam(r, "pageKey")
		if pageKey == "" {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Page", "page key required")
			return
		}
		reg.For(pageKey).DecideHandler()(w, r)
	}
}
