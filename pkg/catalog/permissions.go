package catalog

import "context"

// Authorize reports whether userID holds perm, consulting UserPermissions.
// internal/authn's middleware does not call it: RequirePermission checks the
// permissions already loaded onto the request's identity.
func (s *Store) Authorize(ctx context.Context, userID ID, perm Permission) (bool, error) {
	perms, err := s.UserPermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	return HasPermission(perms, perm), nil
}

// AllPermissions enumerates the closed (resource, action) universe RBAC
// roles are built from.
func AllPermissions() []Permission {
	resources := []PermissionResource{
		ResourceUsers, ResourceHosts, ResourceVmTemplate, ResourceVmOsImage,
		ResourceIpSpace, ResourceCompany, ResourceRouter, ResourceAccessPolicy,
		ResourcePaymentMethodConfig,
	}
	actions := []PermissionAction{ActionView, ActionCreate, ActionUpdate, ActionDelete}

	out := make([]Permission, 0, len(resources)*len(actions))
	for _, r := range resources {
		for _, a := range actions {
			out = append(out, Permission{Resource: r, Action: a})
		}
	}
	return out
}

// SuperAdminRole is the built-in role granted every Permission. Nothing
// assigns it automatically, not even to the first user; a user holds it
// only after an explicit AssignRole.
const SuperAdminRole = "super_admin"
