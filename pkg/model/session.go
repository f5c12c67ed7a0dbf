package model

import "time"

// SessionInfo is a point-in-time view of a connected session.
type SessionInfo struct {
	ID          string    `json:"id"`
	Nick        string    `json:"nick"`
	User        string    `json:"user,omitempty"`
	RealName    string    `json:"realname,omitempty"`
	Address     string    `json:"address"`
	Transport   string    `json:"transport"`
	Channels    []string  `json:"channels"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Registered reports whether the session holds an identity.
func (s SessionInfo) Registered() bool {
	return s.Nick != ""
}
