package rbac_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gatehouse-app/gatehouse/internal/directory"
	"github.com/gatehouse-app/gatehouse/internal/rbac"
	_ "github.com/gatehouse-app/gatehouse/testing"
)

// stubStore is an in-memory directory.Store for resolver tests.
type stubStore struct {
	mu      sync.Mutex
	grants  map[int64]directory.HybridGrant
	catalog []directory.Permission
	err     error
	// release, when set, blocks FetchHybridPermissions until closed.
	release chan struct{}
}

func (s *stubStore) FetchHybridPermissions(ctx context.Context, userID int64) (directory.HybridGrant, error) {
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return directory.HybridGrant{}, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return directory.HybridGrant{}, s.err
	}
	grant, ok := s.grants[userID]
	if !ok {
		return directory.HybridGrant{}, directory.ErrNotFound
	}
	return grant, nil
}

func (s *stubStore) FetchPermissionCatalog(ctx context.Context) ([]directory.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.catalog, nil
}

func (s *stubStore) FetchPages(ctx context.Context) ([]directory.Page, error) {
	return nil, nil
}

func (s *stubStore) UpdatePageVisibility(ctx context.Context, pageID int64, visible bool) error {
	return nil
}

func (s *stubStore) UpdateUserPermissions(ctx context.Context, userID int64, role string, codes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grants == nil {
		s.grants = make(map[int64]directory.HybridGrant)
	}
	s.grants[userID] = directory.HybridGrant{UserID: userID, Role: role, PermissionCodes: codes, UpdatedAt: time.Now()}
	return nil
}

func (s *stubStore) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func TestResolveMissingGrantIsEmpty(t *testing.T) {
	store := &stubStore{}
	resolver := rbac.NewResolver(store, nil)

	set, err := resolver.Resolve(context.Background(), 42)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !set.Empty() {
		t.Fatalf("expected empty set for user without grant")
	}
	for _, code := range []string{"admin.area", "users.view", "pages.view", "tools.view"} {
		if resolver.Can(42, code) {
			t.Fatalf("empty set must deny %s", code)
		}
	}
}

func TestResolveUsesExplicitCodesNotRoleTemplate(t *testing.T) {
	// The grant names the administrator role but its explicit code list
	// omits tools.view. The override must win over the template.
	store := &stubStore{grants: map[int64]directory.HybridGrant{
		7: {UserID: 7, Role: "administrator", PermissionCodes: []string{rbac.PermAdminArea, "users.view"}},
	}}
	resolver := rbac.NewResolver(store, nil)

	set, err := resolver.Resolve(context.Background(), 7)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !set.Can(rbac.PermAdminArea) {
		t.Fatalf("explicit grant of %s not honored", rbac.PermAdminArea)
	}
	if set.Can("tools.view") {
		t.Fatalf("template code granted despite being removed from the explicit list")
	}
	if !resolver.CanAccessAdminArea(7) {
		t.Fatalf("cached admin area check should pass after resolve")
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	store := &stubStore{grants: map[int64]directory.HybridGrant{
		3: {UserID: 3, Role: "viewer", PermissionCodes: []string{"pages.view"}},
	}}
	resolver := rbac.NewResolver(store, nil)

	first, err := resolver.Resolve(context.Background(), 3)
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	second, err := resolver.Resolve(context.Background(), 3)
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if len(first.Codes()) != len(second.Codes()) {
		t.Fatalf("repeated resolve changed the set: %v vs %v", first.Codes(), second.Codes())
	}
}

func TestResolveRetainsStaleSetOnFailure(t *testing.T) {
	store := &stubStore{grants: map[int64]directory.HybridGrant{
		5: {UserID: 5, Role: "support", PermissionCodes: []string{"users.view"}},
	}}
	resolver := rbac.NewResolver(store, nil)

	if _, err := resolver.Resolve(context.Background(), 5); err != nil {
		t.Fatalf("warm resolve: %v", err)
	}

	store.fail(errors.New("directory down"))
	resolver.Invalidate(5)

	set, err := resolver.Resolve(context.Background(), 5)
	if err != nil {
		t.Fatalf("degraded resolve: %v", err)
	}
	if !set.Degraded {
		t.Fatalf("expected degraded marker on retained set")
	}
	if !set.Can("users.view") {
		t.Fatalf("stale set lost its codes")
	}
}

func TestResolveFailsClosedWithNoKnownGood(t *testing.T) {
	store := &stubStore{err: errors.New("directory down")}
	resolver := rbac.NewResolver(store, nil)

	set, err := resolver.Resolve(context.Background(), 9)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !set.Degraded || !set.Empty() {
		t.Fatalf("expected empty degraded set, got degraded=%v empty=%v", set.Degraded, set.Empty())
	}
	if resolver.Can(9, "users.view") {
		t.Fatalf("fail-closed set must deny everything")
	}
}

func TestResolveAbortIsNotFailure(t *testing.T) {
	release := make(chan struct{})
	store := &stubStore{release: release}
	resolver := rbac.NewResolver(store, nil)
	t.Cleanup(func() { close(release) })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := resolver.Resolve(ctx, 11)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, ok := resolver.Cached(11); ok {
		t.Fatalf("aborted resolve must not commit a set")
	}
}

func TestInvalidateSupersedesInFlightFetch(t *testing.T) {
	release := make(chan struct{})
	store := &stubStore{
		grants: map[int64]directory.HybridGrant{
			13: {UserID: 13, Role: "viewer", PermissionCodes: []string{"pages.view"}},
		},
		release: release,
	}
	resolver := rbac.NewResolver(store, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = resolver.Resolve(context.Background(), 13)
	}()

	// Invalidate while the fetch is still blocked, then let it finish.
	// The superseded result must not be committed.
	time.Sleep(20 * time.Millisecond)
	resolver.Invalidate(13)
	close(release)
	<-done

	if _, ok := resolver.Cached(13); ok {
		t.Fatalf("superseded fetch committed its result")
	}
}

// parkingStore snapshots the grant when a fetch starts and then parks the
// first call, modelling a slow directory response that was read before a
// concurrent revocation landed.
type parkingStore struct {
	mu     sync.Mutex
	grants map[int64]directory.HybridGrant
	parked chan struct{}
	calls  int
}

func (s *parkingStore) FetchHybridPermissions(ctx context.Context, userID int64) (directory.HybridGrant, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	grant, ok := s.grants[userID]
	s.mu.Unlock()
	if call == 1 {
		<-s.parked
	}
	if !ok {
		return directory.HybridGrant{}, directory.ErrNotFound
	}
	return grant, nil
}

func (s *parkingStore) FetchPermissionCatalog(ctx context.Context) ([]directory.Permission, error) {
	return nil, nil
}

func (s *parkingStore) FetchPages(ctx context.Context) ([]directory.Page, error) {
	return nil, nil
}

func (s *parkingStore) UpdatePageVisibility(ctx context.Context, pageID int64, visible bool) error {
	return nil
}

func (s *parkingStore) UpdateUserPermissions(ctx context.Context, userID int64, role string, codes []string) error {
	return nil
}

func (s *parkingStore) setGrant(userID int64, role string, codes []string) {
	s.mu.Lock()
	s.grants[userID] = directory.HybridGrant{UserID: userID, Role: role, PermissionCodes: codes, UpdatedAt: time.Now()}
	s.mu.Unlock()
}

func TestResolveAfterInvalidateFetchesFreshGrant(t *testing.T) {
	parked := make(chan struct{})
	store := &parkingStore{
		grants: map[int64]directory.HybridGrant{
			17: {UserID: 17, Role: "support", PermissionCodes: []string{"users.view", "users.edit"}},
		},
		parked: parked,
	}
	resolver := rbac.NewResolver(store, nil)

	// First resolve parks inside the directory holding the old grant.
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = resolver.Resolve(context.Background(), 17)
	}()
	time.Sleep(20 * time.Millisecond)

	// users.edit is revoked while the first fetch is still parked.
	store.setGrant(17, "support", []string{"users.view"})
	resolver.Invalidate(17)

	// A resolve issued after the invalidation must start a fresh fetch, not
	// join the parked one and re-commit the revoked code.
	set, err := resolver.Resolve(context.Background(), 17)
	if err != nil {
		t.Fatalf("post-invalidation resolve: %v", err)
	}
	if set.Can("users.edit") {
		t.Fatalf("revoked code served by a resolve issued after invalidation")
	}
	if !set.Can("users.view") {
		t.Fatalf("fresh grant lost its remaining code")
	}

	close(parked)
	<-done

	// The parked fetch finishing late must not clobber the fresh set.
	if resolver.Can(17, "users.edit") {
		t.Fatalf("superseded fetch re-committed the revoked code")
	}
	if !resolver.Can(17, "users.view") {
		t.Fatalf("late fetch evicted the fresh set")
	}
}

func TestJoinerUnaffectedByFirstCallerCancel(t *testing.T) {
	release := make(chan struct{})
	store := &stubStore{
		grants: map[int64]directory.HybridGrant{
			21: {UserID: 21, Role: "viewer", PermissionCodes: []string{"pages.view"}},
		},
		release: release,
	}
	resolver := rbac.NewResolver(store, nil)

	firstCtx, cancel := context.WithCancel(context.Background())
	firstDone := make(chan error, 1)
	go func() {
		_, err := resolver.Resolve(firstCtx, 21)
		firstDone <- err
	}()
	time.Sleep(20 * time.Millisecond)

	type outcome struct {
		set *rbac.EffectiveSet
		err error
	}
	joined := make(chan outcome, 1)
	go func() {
		set, err := resolver.Resolve(context.Background(), 21)
		joined <- outcome{set: set, err: err}
	}()
	time.Sleep(20 * time.Millisecond)

	// The first caller backs out; its cancellation must not count as a
	// fetch failure for the caller still waiting.
	cancel()
	if err := <-firstDone; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller: expected context.Canceled, got %v", err)
	}
	close(release)

	got := <-joined
	if got.err != nil {
		t.Fatalf("joined resolve: %v", got.err)
	}
	if got.set.Degraded {
		t.Fatalf("joiner marked degraded by another caller's cancellation")
	}
	if !got.set.Can("pages.view") {
		t.Fatalf("joiner lost the fetched grant")
	}
}

func TestInvalidateDropsCachedSet(t *testing.T) {
	store := &stubStore{grants: map[int64]directory.HybridGrant{
		2: {UserID: 2, Role: "support", PermissionCodes: []string{"users.view"}},
	}}
	resolver := rbac.NewResolver(store, nil)

	if _, err := resolver.Resolve(context.Background(), 2); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !resolver.Can(2, "users.view") {
		t.Fatalf("expected cached grant")
	}

	resolver.Invalidate(2)
	if resolver.Can(2, "users.view") {
		t.Fatalf("invalidated user still answers from cache")
	}
}

func TestCatalogPreservesCategories(t *testing.T) {
	store := &stubStore{catalog: []directory.Permission{
		{ID: 1, Code: "pages.edit", Name: "Manage pages", Category: "pages"},
		{ID: 2, Code: "users.view", Name: "View users", Category: "users"},
	}}
	resolver := rbac.NewResolver(store, nil)

	perms, err := resolver.Catalog(context.Background())
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	if len(perms) != 2 {
		t.Fatalf("expected 2 catalog entries, got %d", len(perms))
	}
	if perms[0].Category != "pages" || perms[1].Category != "users" {
		t.Fatalf("catalog categories lost: %+v", perms)
	}
}

func TestResolveAnonymousUser(t *testing.T) {
	resolver := rbac.NewResolver(&stubStore{}, nil)
	set, err := resolver.Resolve(context.Background(), 0)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !set.Empty() {
		t.Fatalf("user id zero must resolve to an empty set")
	}
}
