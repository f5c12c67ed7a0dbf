package model

// Role is an operator's permission level on the admin surfaces.
type Role int

const (
	RoleViewer    Role = iota // Read-only: list sessions, channels, bans
	RoleModerator             // Can message users and kick
	RoleAdmin                 // Full control: bans, channels, shutdown
)

func (r Role) String() string {
	switch r {
	case RoleViewer:
		return "viewer"
	case RoleModerator:
		return "moderator"
	case RoleAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// ParseRole converts a string to a Role. Unknown names map to RoleViewer.
func ParseRole(s string) Role {
	switch s {
	case "admin":
		return RoleAdmin
	case "moderator":
		return RoleModerator
	default:
		return RoleViewer
	}
}

// Valid returns true if the role is a recognised value.
func (r Role) Valid() bool {
	return r >= RoleViewer && r <= RoleAdmin
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler so roles can be written
// by name in YAML and TOML config files.
func (r *Role) UnmarshalText(text []byte) error {
	role := ParseRole(string(text))
	if role == RoleViewer && string(text) != "viewer" && len(text) != 0 {
		return ErrInvalidRole
	}
	*r = role
	return nil
}
