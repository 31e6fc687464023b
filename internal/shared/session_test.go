package shared_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/gatehouse-app/gatehouse/internal/identity"
	"github.com/gatehouse-app/gatehouse/internal/shared"
	_ "github.com/gatehouse-app/gatehouse/testing"
)

func newManager(t *testing.T) (*shared.SessionManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return shared.NewSessionManager(client, "test_session", "secret", time.Hour, false), mr
}

func TestSessionIdentityRoundTrip(t *testing.T) {
	manager, _ := newManager(t)
	ctx := context.Background()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := manager.Load(ctx, req)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if sess.Identity().Authenticated() {
		t.Fatalf("fresh session must be anonymous")
	}

	sess.SetIdentity(identity.Identity{Kind: identity.Administrator, UserID: 7})
	res := httptest.NewRecorder()
	if err := manager.Commit(ctx, res, req, sess); err != nil {
		t.Fatalf("commit: %v", err)
	}

	next := httptest.NewRequest(http.MethodGet, "/", nil)
	next.AddCookie(&http.Cookie{Name: manager.CookieName(), Value: sess.ID})
	loaded, err := manager.Load(ctx, next)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}

	id := loaded.Identity()
	if id.Kind != identity.Administrator || id.UserID != 7 {
		t.Fatalf("identity lost across requests: %+v", id)
	}
}

func TestCorruptSessionDegradesToAnonymous(t *testing.T) {
	manager, mr := newManager(t)
	ctx := context.Background()

	if err := mr.Set("session:broken-id", "{not json"); err != nil {
		t.Fatalf("seed corrupt payload: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: manager.CookieName(), Value: "broken-id"})
	sess, err := manager.Load(ctx, req)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if sess.Identity().Authenticated() {
		t.Fatalf("corrupt payload must never authenticate")
	}
}

func TestDestroyClearsSession(t *testing.T) {
	manager, mr := newManager(t)
	ctx := context.Background()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := manager.Load(ctx, req)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	sess.SetIdentity(identity.Identity{Kind: identity.User, UserID: 3})
	res := httptest.NewRecorder()
	if err := manager.Commit(ctx, res, req, sess); err != nil {
		t.Fatalf("commit: %v", err)
	}

	manager.Destroy(sess)
	res = httptest.NewRecorder()
	if err := manager.Commit(ctx, res, req, sess); err != nil {
		t.Fatalf("commit destroy: %v", err)
	}

	if mr.Exists("session:" + sess.ID) {
		t.Fatalf("destroyed session still stored")
	}
	cookies := res.Result().Cookies()
	if len(cookies) == 0 || cookies[0].MaxAge != -1 {
		t.Fatalf("expected expired cookie after destroy")
	}
}

func TestReturnToValueSurvivesCommit(t *testing.T) {
	manager, _ := newManager(t)
	ctx := context.Background()

	req := httptest.NewRequest(http.MethodGet, "/app/reports", nil)
	sess, err := manager.Load(ctx, req)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	sess.Set(shared.ReturnToKey, "/app/reports")
	res := httptest.NewRecorder()
	if err := manager.Commit(ctx, res, req, sess); err != nil {
		t.Fatalf("commit: %v", err)
	}

	next := httptest.NewRequest(http.MethodGet, "/auth/login", nil)
	next.AddCookie(&http.Cookie{Name: manager.CookieName(), Value: sess.ID})
	loaded, err := manager.Load(ctx, next)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := loaded.Get(shared.ReturnToKey); got != "/app/reports" {
		t.Fatalf("expected stored return path, got %q", got)
	}
}
