package rbac_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/gatehouse-app/gatehouse/internal/identity"
	"github.com/gatehouse-app/gatehouse/internal/rbac"
	_ "github.com/gatehouse-app/gatehouse/testing"
)

func newPermissionsRouter(t *testing.T, store *stubStore) chi.Router {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	resolver := rbac.NewResolver(store, logger)
	service := rbac.NewService(store, resolver, nil, logger)
	handler := rbac.NewHandler(logger, service, resolver)

	router := chi.NewRouter()
	router.Route("/admin/permissions", handler.MountRoutes)
	return router
}

func doJSON(router http.Handler, method, path, body string, id identity.Identity) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req = req.WithContext(identity.ContextWith(context.Background(), id))
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	return res
}

func TestPermissionRoutesRequireAdministrator(t *testing.T) {
	router := newPermissionsRouter(t, &stubStore{})

	ordinary := identity.Identity{Kind: identity.User, UserID: 5}
	res := doJSON(router, http.MethodGet, "/admin/permissions/roles", "", ordinary)
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for ordinary user, got %d", res.Code)
	}

	res = doJSON(router, http.MethodGet, "/admin/permissions/roles", "", identity.Identity{})
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for anonymous caller, got %d", res.Code)
	}
}

func TestListRoles(t *testing.T) {
	router := newPermissionsRouter(t, &stubStore{})
	admin := identity.Identity{Kind: identity.Administrator, UserID: 1}

	res := doJSON(router, http.MethodGet, "/admin/permissions/roles", "", admin)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), `"role":"administrator"`) {
		t.Fatalf("expected administrator template in body: %s", res.Body.String())
	}
}

func TestPutGrantRejectsUnknownRole(t *testing.T) {
	router := newPermissionsRouter(t, &stubStore{})
	admin := identity.Identity{Kind: identity.Administrator, UserID: 1}

	res := doJSON(router, http.MethodPut, "/admin/permissions/users/8",
		`{"role":"superuser","codes":["users.view"]}`, admin)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown role, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), "Unknown Role") {
		t.Fatalf("expected problem title in body: %s", res.Body.String())
	}
}

func TestPutGrantReplacesWholesale(t *testing.T) {
	store := &stubStore{}
	router := newPermissionsRouter(t, store)
	admin := identity.Identity{Kind: identity.Administrator, UserID: 1}

	res := doJSON(router, http.MethodPut, "/admin/permissions/users/8",
		`{"role":"support","codes":["users.view"]}`, admin)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}

	res = doJSON(router, http.MethodGet, "/admin/permissions/users/8", "", admin)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 reading grant, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), `"role":"support"`) {
		t.Fatalf("grant not stored: %s", res.Body.String())
	}
}

func TestPutGrantInvalidUserID(t *testing.T) {
	router := newPermissionsRouter(t, &stubStore{})
	admin := identity.Identity{Kind: identity.Administrator, UserID: 1}

	res := doJSON(router, http.MethodPut, "/admin/permissions/users/abc",
		`{"role":"support","codes":["users.view"]}`, admin)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-numeric user id, got %d", res.Code)
	}
}

func TestApplyTemplate(t *testing.T) {
	store := &stubStore{}
	router := newPermissionsRouter(t, store)
	admin := identity.Identity{Kind: identity.Administrator, UserID: 1}

	res := doJSON(router, http.MethodPost, "/admin/permissions/users/4/apply-template",
		`{"role":"viewer"}`, admin)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}

	res = doJSON(router, http.MethodGet, "/admin/permissions/users/4", "", admin)
	if !strings.Contains(res.Body.String(), `"pages.view"`) {
		t.Fatalf("template codes not applied: %s", res.Body.String())
	}
}
