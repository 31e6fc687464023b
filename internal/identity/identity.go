package identity

import "fmt"

// Kind discriminates how the acting caller authenticated.
type Kind int

const (
	// Anonymous is a caller with no session or an empty one.
	Anonymous Kind = iota
	// User is an authenticated, non-privileged account.
	User
	// Administrator is an authenticated privileged account.
	Administrator
	// ImpersonatedTest is a designated test identity that behaves like an
	// administrator for gating purposes. Only honored when the deployment
	// enables it explicitly.
	ImpersonatedTest
)

// String returns the audit-log label for the kind.
func (k Kind) String() string {
	switch k {
	case User:
		return "user"
	case Administrator:
		return "administrator"
	case ImpersonatedTest:
		return "impersonated-test"
	default:
		return "anonymous"
	}
}

// Identity describes the acting caller, resolved once at the session boundary.
type Identity struct {
	Kind   Kind
	UserID int64
}

// Authenticated reports whether the caller has proved who they are.
func (id Identity) Authenticated() bool {
	return id.Kind != Anonymous
}

// Privileged reports whether the caller bypasses page visibility gating.
func (id Identity) Privileged() bool {
	return id.Kind == Administrator || id.Kind == ImpersonatedTest
}

// ParseKind maps a stored session label back to a Kind. Unknown labels
// degrade to Anonymous rather than failing, so a corrupt session never
// grants access.
func ParseKind(label string) Kind {
	switch label {
	case "user":
		return User
	case "administrator":
		return Administrator
	case "impersonated-test":
		return ImpersonatedTest
	default:
		return Anonymous
	}
}

// Validate rejects identities that are structurally impossible.
func (id Identity) Validate() error {
	if id.Kind == Anonymous && id.UserID != 0 {
		return fmt.Errorf("identity: anonymous identity with user id %d", id.UserID)
	}
	if id.Kind != Anonymous && id.UserID == 0 {
		return fmt.Errorf("identity: %s identity without user id", id.Kind)
	}
	return nil
}
