package protocol

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/irc.v3"
)

var (
	// ErrMalformed means the line could not be tokenized at all.
	ErrMalformed = errors.New("protocol: malformed line")
	// ErrNeedMoreParams means a known verb arrived without its required
	// parameters.
	ErrNeedMoreParams = errors.New("protocol: not enough parameters")
)

// ParseError reports which verb failed to parse. Verb is empty when the line
// was malformed before a verb could be read.
type ParseError struct {
	Verb string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Verb == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Verb, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parse decodes one protocol line (without or with its trailing CRLF) into a
// Command. Unrecognised verbs yield Unknown, not an error. Any prefix the
// client sends is ignored. CR, LF or NUL inside the line is malformed.
func Parse(line string) (Command, error) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" || strings.ContainsAny(line, "\r\n\x00") {
		return nil, &ParseError{Err: ErrMalformed}
	}
	msg, err := irc.ParseMessage(line)
	if err != nil {
		return nil, &ParseError{Err: fmt.Errorf("%w: %v", ErrMalformed, err)}
	}
	verb := strings.ToUpper(msg.Command)
	if verb == "" {
		return nil, &ParseError{Err: ErrMalformed}
	}
	p := msg.Params

	need := func(n int) error {
		if len(p) < n || strings.TrimSpace(p[0]) == "" {
			return &ParseError{Verb: verb, Err: ErrNeedMoreParams}
		}
		return nil
	}

	switch verb {
	case "NICK":
		if err := need(1); err != nil {
			return nil, err
		}
		return Nick{Name: p[0]}, nil

	case "USER":
		if err := need(4); err != nil {
			return nil, err
		}
		return User{Username: p[0], RealName: p[3]}, nil

	case "JOIN":
		if err := need(1); err != nil {
			return nil, err
		}
		j := Join{Channels: splitList(p[0])}
		if len(j.Channels) == 0 {
			return nil, &ParseError{Verb: verb, Err: ErrNeedMoreParams}
		}
		if len(p) > 1 {
			j.Keys = strings.Split(p[1], ",")
		}
		return j, nil

	case "PART":
		var part Part
		if len(p) > 0 {
			part.Channels = splitList(p[0])
		}
		if len(p) > 1 {
			part.Reason = p[1]
		}
		return part, nil

	case "PRIVMSG", "NOTICE":
		if err := need(2); err != nil {
			return nil, err
		}
		if p[1] == "" {
			return nil, &ParseError{Verb: verb, Err: ErrNeedMoreParams}
		}
		return Privmsg{Target: p[0], Text: p[1], Notice: verb == "NOTICE"}, nil

	case "MODE":
		if err := need(1); err != nil {
			return nil, err
		}
		m := Mode{Target: p[0]}
		if len(p) > 1 {
			m.Modes = p[1]
			m.Args = append([]string(nil), p[2:]...)
		}
		return m, nil

	case "TOPIC":
		if err := need(1); err != nil {
			return nil, err
		}
		t := Topic{Channel: p[0]}
		if len(p) > 1 {
			t.Text, t.Set = p[1], true
		}
		return t, nil

	case "NAMES":
		var n Names
		if len(p) > 0 {
			n.Channels = splitList(p[0])
		}
		return n, nil

	case "LIST":
		var l List
		if len(p) > 0 {
			l.Channels = splitList(p[0])
		}
		return l, nil

	case "WHOIS":
		if err := need(1); err != nil {
			return nil, err
		}
		// WHOIS [server] nick
		return Whois{Nick: p[len(p)-1]}, nil

	case "PING":
		if err := need(1); err != nil {
			return nil, err
		}
		return Ping{Token: p[0]}, nil

	case "PONG":
		var pong Pong
		if len(p) > 0 {
			pong.Token = p[len(p)-1]
		}
		return pong, nil

	case "CAP":
		if err := need(1); err != nil {
			return nil, err
		}
		return Cap{Sub: strings.ToUpper(p[0]), Args: append([]string(nil), p[1:]...)}, nil

	case "QUIT":
		var q Quit
		if len(p) > 0 {
			q.Reason = p[0]
		}
		return q, nil

	default:
		return Unknown{Command: verb}, nil
	}
}

// splitList splits a comma separated parameter, dropping empty elements.
func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
