package rbac

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/gatehouse-app/gatehouse/internal/directory"
)

// Publisher announces confirmed grant mutations to every running instance.
type Publisher interface {
	PermissionsChanged(ctx context.Context, userID int64) error
}

// Service performs the admin-side grant mutations. Every write goes to the
// directory first and is published only after it succeeds, so other
// instances never observe optimistic state.
type Service struct {
	store    directory.Store
	resolver *Resolver
	bus      Publisher
	logger   *slog.Logger
}

// NewService constructs a Service.
func NewService(store directory.Store, resolver *Resolver, bus Publisher, logger *slog.Logger) *Service {
	return &Service{store: store, resolver: resolver, bus: bus, logger: logger}
}

// UpdateUserPermissions replaces a user's grant wholesale.
func (s *Service) UpdateUserPermissions(ctx context.Context, userID int64, role string, codes []string) error {
	role = strings.TrimSpace(role)
	if role == "" {
		return errors.New("rbac: role required")
	}
	if !IsKnownRole(role) {
		return errors.New("rbac: unknown role " + role)
	}
	normalized := make([]string, 0, len(codes))
	seen := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		normalized = append(normalized, code)
	}
	if err := s.store.UpdateUserPermissions(ctx, userID, role, normalized); err != nil {
		return err
	}
	s.afterWrite(ctx, userID)
	return nil
}

// ApplyTemplate seeds or resets a user's grant to the role's template codes.
func (s *Service) ApplyTemplate(ctx context.Context, userID int64, role string) error {
	codes := PermissionsForRole(role)
	if codes == nil {
		return errors.New("rbac: unknown role " + role)
	}
	if err := s.store.UpdateUserPermissions(ctx, userID, role, codes); err != nil {
		return err
	}
	s.afterWrite(ctx, userID)
	return nil
}

// Grant returns the stored hybrid grant for one user. A user without a
// stored grant comes back empty rather than as an error.
func (s *Service) Grant(ctx context.Context, userID int64) (directory.HybridGrant, error) {
	grant, err := s.store.FetchHybridPermissions(ctx, userID)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return directory.HybridGrant{UserID: userID}, nil
		}
		return directory.HybridGrant{}, err
	}
	return grant, nil
}

func (s *Service) afterWrite(ctx context.Context, userID int64) {
	s.resolver.Invalidate(userID)
	if s.bus == nil {
		return
	}
	if err := s.bus.PermissionsChanged(ctx, userID); err != nil && s.logger != nil {
		s.logger.Warn("publish permissions change",
			slog.Int64("user_id", userID),
			slog.Any("error", err))
	}
}
