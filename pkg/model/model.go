// Package model defines the core domain types for gorelay.
//
// Types here are plain values: snapshots handed out by the server registry
// and records persisted by the datastore. Nothing in this package holds a
// lock or a connection.
package model

// Permission represents an administrative action checked against an
// operator role.
type Permission int

const (
	PermViewState Permission = iota
	PermMessage
	PermKick
	PermBan
	PermManageChannels
	PermShutdown
)
