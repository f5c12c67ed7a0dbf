package model

import (
	"errors"
	"strings"
	"time"
)

const (
	ChannelPrefix            = "#"
	DefaultMaxChannelNameLen = 50
)

var ErrChannelNameEmpty = errors.New("channel name must not be empty")
var ErrChannelNameTooLong = errors.New("channel name too long")
var ErrChannelNamePrefix = errors.New("channel name must begin with #")
var ErrChannelNameInvalid = errors.New("channel name contains invalid characters")

// NormalizeChannelName prefixes name with '#' when it is missing.
// Channel names are case-sensitive and are not otherwise folded.
func NormalizeChannelName(name string) string {
	if name == "" || strings.HasPrefix(name, ChannelPrefix) {
		return name
	}
	return ChannelPrefix + name
}

// IsChannelName reports whether target addresses a channel rather than a nick.
func IsChannelName(target string) bool {
	return strings.HasPrefix(target, ChannelPrefix)
}

// ValidateChannelName checks a normalized channel name. maxLen <= 0 means
// DefaultMaxChannelNameLen.
func ValidateChannelName(name string, maxLen int) error {
	if maxLen <= 0 {
		maxLen = DefaultMaxChannelNameLen
	}
	switch {
	case name == "":
		return ErrChannelNameEmpty
	case !IsChannelName(name):
		return ErrChannelNamePrefix
	case len(name) == 1:
		return ErrChannelNameEmpty
	case len(name) > maxLen:
		return ErrChannelNameTooLong
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c <= ' ' || c == ',' || c == 0x07 || c == 0x7f {
			return ErrChannelNameInvalid
		}
	}
	return nil
}

// DefaultTopic is the topic a channel gets when it is created.
func DefaultTopic(name string) string {
	return "Welcome to " + name + "!"
}

// ChannelInfo is a point-in-time view of a channel.
type ChannelInfo struct {
	Name      string    `json:"name" yaml:"name"`
	Topic     string    `json:"topic" yaml:"topic"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	Members   []string  `json:"members" yaml:"members,omitempty"`
	Key       string    `json:"-" yaml:"-"`
	Limit     int       `json:"limit,omitempty" yaml:"limit,omitempty"`
}
