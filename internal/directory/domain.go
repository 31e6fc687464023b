package directory

import "time"

// Permission is one entry of the permission catalog.
type Permission struct {
	ID          int64
	Code        string
	Name        string
	Description string
	Category    string
}

// Page is a guarded route with an independent content-visibility toggle.
type Page struct {
	ID        int64
	Slug      string
	Name      string
	Visible   bool
	UpdatedAt time.Time
}

// HybridGrant is a user's permission assignment: one role label plus the
// explicit permission codes that are authoritative for that user. The role
// is informational; the code list is the source of truth.
type HybridGrant struct {
	UserID          int64
	Role            string
	PermissionCodes []string
	UpdatedAt       time.Time
}
