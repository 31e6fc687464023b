package rbac

// Role templates are compiled in. They exist for two purposes only: seeding
// a brand-new user's grant and offering a "reset to role defaults" action.
// The live authorization check never consults them; the explicit grant list
// is authoritative even when an administrator has removed codes the role
// template would imply.

// RoleTemplate pairs a role identifier with its default permission codes.
type RoleTemplate struct {
	Role  string
	Label string
	Codes []string
}

var roleTemplates = []RoleTemplate{
	{
		Role:  "administrator",
		Label: "Administrator",
		Codes: []string{PermAdminArea, "users.view", "users.edit", "pages.view", "pages.edit", "tools.view"},
	},
	{
		Role:  "manager",
		Label: "Manager",
		Codes: []string{"users.view", "users.edit", "pages.view", "tools.view"},
	},
	{
		Role:  "support",
		Label: "Support",
		Codes: []string{"users.view"},
	},
	{
		Role:  "viewer",
		Label: "Viewer",
		Codes: []string{"pages.view"},
	},
}

// PermissionsForRole returns the template codes for a role in declaration
// order. Unknown roles yield an empty list.
func PermissionsForRole(role string) []string {
	for _, tpl := range roleTemplates {
		if tpl.Role == role {
			out := make([]string, len(tpl.Codes))
			copy(out, tpl.Codes)
			return out
		}
	}
	return nil
}

// KnownRoles lists every role with a template, in declaration order.
func KnownRoles() []RoleTemplate {
	out := make([]RoleTemplate, len(roleTemplates))
	copy(out, roleTemplates)
	return out
}

// IsKnownRole reports whether a template exists for the role.
func IsKnownRole(role string) bool {
	for _, tpl := range roleTemplates {
		if tpl.Role == role {
			return true
		}
	}
	return false
}
