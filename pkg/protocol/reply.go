package protocol

import (
	"gopkg.in/irc.v3"
)

// ServerPrefix is the prefix of server-authored lines.
func ServerPrefix(server string) *irc.Prefix {
	return &irc.Prefix{Name: server}
}

// UserPrefix builds the nick!user@host prefix used on relayed lines.
func UserPrefix(nick, user, host string) *irc.Prefix {
	if user == "" {
		user = nick
	}
	return &irc.Prefix{Name: nick, User: user, Host: host}
}

// Numeric builds a numeric reply. target is the recipient's nick, or "*"
// before registration.
func Numeric(server, code, target string, params ...string) *irc.Message {
	if target == "" {
		target = "*"
	}
	return &irc.Message{
		Prefix:  ServerPrefix(server),
		Command: code,
		Params:  append([]string{target}, params...),
	}
}

// Relay builds a line attributed to another client, e.g. JOIN or PRIVMSG.
func Relay(from *irc.Prefix, command string, params ...string) *irc.Message {
	return &irc.Message{
		Prefix:  from,
		Command: command,
		Params:  params,
	}
}

// Notice builds a server NOTICE.
func Notice(server, target, text string) *irc.Message {
	if target == "" {
		target = "*"
	}
	return &irc.Message{
		Prefix:  ServerPrefix(server),
		Command: "NOTICE",
		Params:  []string{target, text},
	}
}

// ErrorLine builds the ERROR line sent right before the server closes a
// connection.
func ErrorLine(reason string) *irc.Message {
	return &irc.Message{
		Command: "ERROR",
		Params:  []string{reason},
	}
}

// Encode frames m for the wire.
func Encode(m *irc.Message) []byte {
	return []byte(m.String() + "\r\n")
}
