package rbac

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/gatehouse-app/gatehouse/internal/directory"
)

const resolverCacheSize = 1024

// Resolver computes and caches effective permission sets. One instance is
// shared by every guard in the process; readers only ever observe a full
// replace of a user's set, never a partial patch.
type Resolver struct {
	store  directory.Store
	logger *slog.Logger

	mu    sync.Mutex
	cache *lru.Cache[int64, *EffectiveSet]
	// gen tracks the most recently initiated fetch per user. A fetch only
	// commits its result while it is still the latest; superseded results
	// are discarded silently.
	gen map[int64]uint64

	group singleflight.Group

	catalogMu sync.RWMutex
	catalog   []directory.Permission
}

// NewResolver constructs a Resolver backed by the directory store.
func NewResolver(store directory.Store, logger *slog.Logger) *Resolver {
	cache, _ := lru.New[int64, *EffectiveSet](resolverCacheSize)
	return &Resolver{
		store:  store,
		logger: logger,
		cache:  cache,
		gen:    make(map[int64]uint64),
	}
}

// Resolve fetches the hybrid grant for a user and commits the effective set.
// The effective set is exactly the explicit code list from the grant; the
// role label is carried for display only.
//
// Failure behavior: an aborted fetch (context cancellation) returns the error
// untouched and changes nothing. A transient failure retains a previously
// resolved non-empty set, marked degraded; with nothing to fall back on the
// user resolves to an empty, fail-closed set. A missing grant is an empty
// set, not an error.
func (r *Resolver) Resolve(ctx context.Context, userID int64) (*EffectiveSet, error) {
	if userID == 0 {
		return NewEffectiveSet(0, "", nil, time.Now()), nil
	}

	r.mu.Lock()
	r.gen[userID]++
	myGen := r.gen[userID]
	r.mu.Unlock()

	// The flight runs on a detached context: one caller backing out must not
	// surface its cancellation to joiners as a fetch failure. Each caller
	// observes its own context in the select below.
	ch := r.group.DoChan(strconv.FormatInt(userID, 10), func() (any, error) {
		grant, err := r.store.FetchHybridPermissions(context.WithoutCancel(ctx), userID)
		if err != nil {
			return nil, err
		}
		return grant, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		// Navigation away, not a failure; do not degrade the set.
		return nil, ctx.Err()
	case res = <-ch:
	}

	if res.Err != nil {
		if errors.Is(res.Err, directory.ErrNotFound) {
			set := NewEffectiveSet(userID, "", nil, time.Now())
			r.commit(userID, myGen, set)
			return set, nil
		}
		return r.degrade(userID, myGen, res.Err), nil
	}

	grant := res.Val.(directory.HybridGrant)
	set := NewEffectiveSet(userID, grant.Role, grant.PermissionCodes, time.Now())
	r.commit(userID, myGen, set)
	return set, nil
}

// Can reports whether the user's cached effective set contains the code.
// It is synchronous and never touches the network; an unresolved user
// answers false for every code.
func (r *Resolver) Can(userID int64, code string) bool {
	if userID == 0 || code == "" {
		return false
	}
	set, ok := r.peek(userID)
	if !ok {
		return false
	}
	return set.Can(code)
}

// CanAccessAdminArea reports whether the user's effective set grants entry
// to the administrative area.
func (r *Resolver) CanAccessAdminArea(userID int64) bool {
	return r.Can(userID, PermAdminArea)
}

// Cached returns the committed set for a user without fetching.
func (r *Resolver) Cached(userID int64) (*EffectiveSet, bool) {
	return r.peek(userID)
}

// Invalidate drops the cached set for a user and supersedes any in-flight
// fetch, forcing the next Resolve to go back to the directory.
func (r *Resolver) Invalidate(userID int64) {
	r.mu.Lock()
	r.gen[userID]++
	r.cache.Remove(userID)
	r.mu.Unlock()
	// Drop any in-flight fetch as well, so a Resolve issued after this point
	// starts a fresh fetch instead of joining one that predates the
	// invalidation and would re-commit the superseded grant.
	r.group.Forget(strconv.FormatInt(userID, 10))
}

// Catalog returns the permission catalog, fetching it on first use. The
// category field is preserved for grouping in override surfaces.
func (r *Resolver) Catalog(ctx context.Context) ([]directory.Permission, error) {
	r.catalogMu.RLock()
	cached := r.catalog
	r.catalogMu.RUnlock()
	if cached != nil {
		return cached, nil
	}
	return r.RefreshCatalog(ctx)
}

// RefreshCatalog re-fetches the permission catalog from the directory.
func (r *Resolver) RefreshCatalog(ctx context.Context) ([]directory.Permission, error) {
	perms, err := r.store.FetchPermissionCatalog(ctx)
	if err != nil {
		return nil, err
	}
	r.catalogMu.Lock()
	r.catalog = perms
	r.catalogMu.Unlock()
	return perms, nil
}

func (r *Resolver) peek(userID int64) (*EffectiveSet, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cache.Get(userID)
}

func (r *Resolver) commit(userID int64, gen uint64, set *EffectiveSet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen[userID] != gen {
		return
	}
	r.cache.Add(userID, set)
}

// degrade handles a transient fetch failure: keep the last known-good set
// when it granted anything, otherwise fail closed with an empty set. Never
// grant more than last known good.
func (r *Resolver) degrade(userID int64, gen uint64, cause error) *EffectiveSet {
	r.mu.Lock()
	prev, ok := r.cache.Get(userID)
	r.mu.Unlock()

	if ok && !prev.Empty() {
		stale := NewEffectiveSet(userID, prev.Role, prev.Codes(), prev.ResolvedAt)
		stale.Degraded = true
		r.commit(userID, gen, stale)
		if r.logger != nil {
			r.logger.Warn("permission fetch failed, retaining stale set",
				slog.Int64("user_id", userID),
				slog.Any("error", cause))
		}
		return stale
	}

	empty := NewEffectiveSet(userID, "", nil, time.Now())
	empty.Degraded = true
	r.commit(userID, gen, empty)
	if r.logger != nil {
		r.logger.Warn("permission fetch failed with no known-good set, failing closed",
			slog.Int64("user_id", userID),
			slog.Any("error", cause))
	}
	return empty
}
