package auth

import "time"

// User represents an account that can authenticate.
type User struct {
	ID              int64
	Email           string
	PasswordHash    string
	IsActive        bool
	IsAdministrator bool
	// IsTestIdentity marks the designated impersonation account used by
	// end-to-end checks. It only gains administrator-like gating when the
	// deployment opts in.
	IsTestIdentity bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
