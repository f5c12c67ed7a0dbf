package server

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by registry and admin operations.
var (
	ErrIdentityInUse   = errors.New("server: nickname is already in use")
	ErrNotRegistered   = errors.New("server: session has not registered")
	ErrBanned          = errors.New("server: banned")
	ErrChannelNotEmpty = errors.New("server: channel is not empty")
	ErrChannelExists   = errors.New("server: channel already exists")
	ErrInvalidChannel  = errors.New("server: invalid channel name")
	ErrTargetNotFound  = errors.New("server: no such nick, address or channel")
	ErrServerClosed    = errors.New("server: closed")
	ErrNotPersisted    = errors.New("server: ban is active in memory only and was not persisted")
)

// StreamError is a failure on one session's byte stream: a read or write
// error, an over-long line or invalid UTF-8. It ends that session only.
type StreamError struct {
	Op  string
	Err error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("server: stream %s: %v", e.Op, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }
