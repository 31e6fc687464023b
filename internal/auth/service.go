package auth

import (
	"context"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/gatehouse-app/gatehouse/internal/identity"
	"github.com/gatehouse-app/gatehouse/internal/shared"
)

// Service wraps authentication business rules.
type Service struct {
	repo Repository
	// allowTestIdentity lets the designated impersonation account gate
	// like an administrator. Off by default; production deployments
	// should leave it off.
	allowTestIdentity bool
}

// NewService constructs a new Service.
func NewService(repo Repository, allowTestIdentity bool) *Service {
	return &Service{repo: repo, allowTestIdentity: allowTestIdentity}
}

// Authenticate validates email/password credentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	return user, nil
}

// ClassifyIdentity resolves the tagged identity for a user, once, at the
// authentication boundary. Downstream code switches on the kind and never
// compares sentinel account names.
func (s *Service) ClassifyIdentity(user *User) identity.Identity {
	switch {
	case user == nil:
		return identity.Identity{Kind: identity.Anonymous}
	case user.IsTestIdentity && s.allowTestIdentity:
		return identity.Identity{Kind: identity.ImpersonatedTest, UserID: user.ID}
	case user.IsAdministrator:
		return identity.Identity{Kind: identity.Administrator, UserID: user.ID}
	default:
		return identity.Identity{Kind: identity.User, UserID: user.ID}
	}
}

// RegisterSession persists the session metadata in postgres.
func (s *Service) RegisterSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	return s.repo.CreateSession(ctx, id, userID, expiresAt, ip, ua)
}

// RemoveSession deletes a session record from postgres.
func (s *Service) RemoveSession(ctx context.Context, id string) error {
	return s.repo.DeleteSession(ctx, id)
}
