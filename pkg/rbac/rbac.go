// Package rbac provides role-based access control checks for operators.
package rbac

import "github.com/NicolasHaas/gorelay/pkg/model"

// permissionMatrix maps roles to their allowed permissions.
var permissionMatrix = map[model.Role]map[model.Permission]bool{
	model.RoleAdmin: {
		model.PermViewState:      true,
		model.PermMessage:        true,
		model.PermKick:           true,
		model.PermBan:            true,
		model.PermManageChannels: true,
		model.PermShutdown:       true,
	},
	model.RoleModerator: {
		model.PermViewState: true,
		model.PermMessage:   true,
		model.PermKick:      true,
	},
	model.RoleViewer: {
		model.PermViewState: true,
	},
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role model.Role, perm model.Permission) bool {
	perms, ok := permissionMatrix[role]
	if !ok {
		return false
	}
	return perms[perm]
}

// RequirePermission returns an error message if the role lacks the permission, or empty string if allowed.
func RequirePermission(role model.Role, perm model.Permission) string {
	if HasPermission(role, perm) {
		return ""
	}
	return "permission denied: " + PermName(perm) + " requires higher role"
}

// PermName returns the stable name of a permission.
func PermName(p model.Permission) string {
	switch p {
	case model.PermViewState:
		return "view_state"
	case model.PermMessage:
		return "message"
	case model.PermKick:
		return "kick"
	case model.PermBan:
		return "ban"
	case model.PermManageChannels:
		return "manage_channels"
	case model.PermShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}
