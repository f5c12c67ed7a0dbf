package model

import "time"

// BanKind says what a ban matches against.
type BanKind string

const (
	BanAddress BanKind = "address" // remote IP, checked at accept time
	BanNick    BanKind = "nick"    // identity, checked at NICK time
)

// Ban is one Ban List entry. It is independent of any live session.
type Ban struct {
	Kind      BanKind   `json:"kind" yaml:"kind"`
	Value     string    `json:"value" yaml:"value"`
	Reason    string    `json:"reason" yaml:"reason,omitempty"`
	SetBy     string    `json:"set_by" yaml:"set_by,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}
