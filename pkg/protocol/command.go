// Package protocol implements the line-oriented client protocol spoken by
// gorelay: a subset of RFC 1459/2812 IRC.
//
// Inbound lines are parsed into typed Command values by Parse; outbound lines
// are built as *irc.Message values with the helpers in reply.go and framed
// with Encode.
package protocol

// Command is one parsed client request. The concrete types below are the
// only implementations.
type Command interface {
	Verb() string
}

// Nick requests a nickname.
type Nick struct {
	Name string
}

// User carries the username and real name sent during registration.
type User struct {
	Username string
	RealName string
}

// Join requests membership of one or more channels. Keys[i] belongs to
// Channels[i] when present.
type Join struct {
	Channels []string
	Keys     []string
}

// Part leaves the named channels. An empty Channels list means every
// channel the session belongs to.
type Part struct {
	Channels []string
	Reason   string
}

// Privmsg is a PRIVMSG or, when Notice is set, a NOTICE.
type Privmsg struct {
	Target string
	Text   string
	Notice bool
}

// Mode queries (Modes == "") or changes the modes of a channel or user.
type Mode struct {
	Target string
	Modes  string
	Args   []string
}

// Topic queries or, when Set is true, replaces a channel topic.
type Topic struct {
	Channel string
	Text    string
	Set     bool
}

type Names struct {
	Channels []string
}

type List struct {
	Channels []string
}

type Whois struct {
	Nick string
}

type Ping struct {
	Token string
}

type Pong struct {
	Token string
}

// Cap is capability negotiation. Only LS, LIST, REQ and END are meaningful.
type Cap struct {
	Sub  string
	Args []string
}

type Quit struct {
	Reason string
}

// Unknown is any verb the server does not implement.
type Unknown struct {
	Command string
}

func (Nick) Verb() string { return "NICK" }
func (User) Verb() string { return "USER" }
func (Join) Verb() string { return "JOIN" }
func (Part) Verb() string { return "PART" }
func (Mode) Verb() string { return "MODE" }
func (Topic) Verb() string { return "TOPIC" }
func (Names) Verb() string { return "NAMES" }
func (List) Verb() string { return "LIST" }
func (Whois) Verb() string { return "WHOIS" }
func (Ping) Verb() string { return "PING" }
func (Pong) Verb() string { return "PONG" }
func (Cap) Verb() string { return "CAP" }
func (Quit) Verb() string { return "QUIT" }
func (u Unknown) Verb() string { return u.Command }

func (p Privmsg) Verb() string {
	if p.Notice {
		return "NOTICE"
	}
	return "PRIVMSG"
}
