// Package datastore persists the Ban List so bans survive restarts.
//
// The default backend is SQLite (modernc.org/sqlite, no cgo). Memory is an
// in-process implementation used when no database path is configured and in
// tests.
package datastore

import (
	"context"
	"errors"

	"github.com/NicolasHaas/gorelay/pkg/model"
)

// ErrInvalidBan is returned for bans with an unknown kind or empty value.
var ErrInvalidBan = errors.New("datastore: invalid ban")

// BanStore is the persistence interface for bans. Implementations must be
// safe for concurrent use.
type BanStore interface {
	BanReadProvider
	BanWriteProvider
	Close() error
}

type BanReadProvider interface {
	// ListBans returns every stored ban ordered by creation time.
	ListBans(ctx context.Context) ([]model.Ban, error)
}

type BanWriteProvider interface {
	// CreateBan stores b, replacing any ban with the same kind and value.
	CreateBan(ctx context.Context, b model.Ban) error
	// DeleteBan removes a ban and reports whether one existed.
	DeleteBan(ctx context.Context, kind model.BanKind, value string) (bool, error)
}

// Compile-time checks.
var (
	_ BanStore = (*SQLStore)(nil)
	_ BanStore = (*Memory)(nil)
)

func validateBan(b model.Ban) error {
	if b.Value == "" {
		return ErrInvalidBan
	}
	switch b.Kind {
	case model.BanAddress, model.BanNick:
		return nil
	default:
		return ErrInvalidBan
	}
}
