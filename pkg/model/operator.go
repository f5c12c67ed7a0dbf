package model

import "errors"

var ErrInvalidRole = errors.New("invalid role: must be viewer, moderator or admin")

// Operator is a principal allowed on the admin HTTP API. The raw secret is
// never stored; SecretHash is a bcrypt hash.
type Operator struct {
	Name       string `yaml:"name" toml:"name" validate:"required"`
	SecretHash string `yaml:"secret_hash" toml:"secret_hash" validate:"required"`
	Role       Role   `yaml:"role" toml:"role"`
}
