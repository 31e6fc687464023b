package rbac

import (
	"sort"
	"time"
)

// PermAdminArea gates entry to the administrative area. It is the one code
// the resolver itself interprets; everything else is opaque to this package.
const PermAdminArea = "admin.area"

// EffectiveSet is the resolved permission set for one user in the current
// session. It is derived state: recomputed on login and on every sync bus
// invalidation, never persisted.
type EffectiveSet struct {
	UserID     int64
	Role       string
	ResolvedAt time.Time
	// Degraded marks a stale set retained after a transient fetch failure.
	Degraded bool

	codes map[string]struct{}
}

// NewEffectiveSet builds a set from explicit permission codes.
func NewEffectiveSet(userID int64, role string, codes []string, at time.Time) *EffectiveSet {
	set := &EffectiveSet{
		UserID:     userID,
		Role:       role,
		ResolvedAt: at,
		codes:      make(map[string]struct{}, len(codes)),
	}
	for _, code := range codes {
		if code == "" {
			continue
		}
		set.codes[code] = struct{}{}
	}
	return set
}

// Can reports whether the set contains the given permission code. Nil sets
// and empty sets always answer false.
func (s *EffectiveSet) Can(code string) bool {
	if s == nil || len(s.codes) == 0 {
		return false
	}
	_, ok := s.codes[code]
	return ok
}

// Empty reports whether the set grants nothing.
func (s *EffectiveSet) Empty() bool {
	return s == nil || len(s.codes) == 0
}

// Codes returns the granted codes in sorted order.
func (s *EffectiveSet) Codes() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.codes))
	for code := range s.codes {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}
