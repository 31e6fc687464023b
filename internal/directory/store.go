package directory

import (
	"context"
	"errors"
)

// ErrNotFound indicates that the requested record does not exist.
var ErrNotFound = errors.New("directory: not found")

// ErrDuplicate indicates a uniqueness violation on write.
var ErrDuplicate = errors.New("directory: duplicate")

// Store is the remote persistence service consumed by the resolver, the
// visibility store and the admin mutation surfaces. Implementations must be
// safe for concurrent use.
type Store interface {
	// FetchHybridPermissions returns the grant for one user. A user without
	// a stored grant yields ErrNotFound; callers treat that as an empty set.
	FetchHybridPermissions(ctx context.Context, userID int64) (HybridGrant, error)
	// FetchPermissionCatalog returns every known permission ordered by code.
	FetchPermissionCatalog(ctx context.Context) ([]Permission, error)
	// FetchPages returns every page ordered by slug.
	FetchPages(ctx context.Context) ([]Page, error)
	// UpdatePageVisibility flips one page's visibility flag.
	UpdatePageVisibility(ctx context.Context, pageID int64, visible bool) error
	// UpdateUserPermissions replaces a user's grant wholesale.
	UpdateUserPermissions(ctx context.Context, userID int64, role string, codes []string) error
}
