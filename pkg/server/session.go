package server

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sort"
	"time"

	"github.com/google/uuid"
	"gopkg.in/irc.v3"

	"github.com/NicolasHaas/gorelay/pkg/model"
	"github.com/NicolasHaas/gorelay/pkg/protocol"
)

// Conn is the byte stream behind a session. *net.TCPConn, *tls.Conn and the
// WebSocket adapter all satisfy it.
type Conn interface {
	io.ReadWriteCloser
	RemoteAddr() net.Addr
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Session is the server-side state of one client connection.
//
// id, conn, host, transport and connectedAt are fixed at accept time. Every
// other field is guarded by Registry.mu.
type Session struct {
	id          string
	conn        Conn
	host        string
	transport   string
	connectedAt time.Time
	out         chan []byte

	nick       string
	user       string
	realName   string
	channels   map[string]struct{}
	gone       bool
	overflowed bool
}

func newSession(conn Conn, transport string, queue int) *Session {
	if queue <= 0 {
		queue = 1
	}
	return &Session{
		id:          uuid.NewString(),
		conn:        conn,
		host:        hostOf(conn.RemoteAddr()),
		transport:   transport,
		connectedAt: time.Now(),
		out:         make(chan []byte, queue),
		channels:    make(map[string]struct{}),
	}
}

// ID returns the opaque session identifier.
func (s *Session) ID() string { return s.id }

// Host returns the remote address the session connected from.
func (s *Session) Host() string { return s.host }

// prefix returns nick!user@host. Caller holds Registry.mu.
func (s *Session) prefix() *irc.Prefix {
	return protocol.UserPrefix(s.nick, s.user, s.host)
}

// target is the first parameter of numerics sent to this session.
func (s *Session) target() string {
	if s.nick == "" {
		return "*"
	}
	return s.nick
}

func (s *Session) channelList() []string {
	out := make([]string, 0, len(s.channels))
	for name := range s.channels {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// info snapshots the session. Caller holds Registry.mu.
func (s *Session) info() model.SessionInfo {
	return model.SessionInfo{
		ID:          s.id,
		Nick:        s.nick,
		User:        s.user,
		RealName:    s.realName,
		Address:     s.host,
		Transport:   s.transport,
		Channels:    s.channelList(),
		ConnectedAt: s.connectedAt,
	}
}

// hostOf strips the port from a remote address.
func hostOf(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	raw := addr.String()
	host, _, err := net.SplitHostPort(raw)
	if err != nil {
		return raw
	}
	return host
}

var errLineTooLong = errors.New("line too long")

// lineReader reads CRLF (or LF) terminated lines of bounded length. Unlike
// bufio.Scanner it survives read deadline errors: a partial line is kept
// and completed by the next call.
type lineReader struct {
	br      *bufio.Reader
	pending []byte
	max     int
}

func newLineReader(r io.Reader, max int) *lineReader {
	return &lineReader{br: bufio.NewReaderSize(r, 4096), max: max}
}

func (lr *lineReader) readLine() ([]byte, error) {
	for {
		chunk, err := lr.br.ReadSlice('\n')
		lr.pending = append(lr.pending, chunk...)
		if len(lr.pending) > lr.max+2 {
			lr.pending = lr.pending[:0]
			return nil, errLineTooLong
		}
		switch {
		case err == nil:
			line := lr.pending
			lr.pending = nil
			line = line[:len(line)-1]
			if n := len(line); n > 0 && line[n-1] == '\r' {
				line = line[:n-1]
			}
			return line, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		default:
			return nil, err
		}
	}
}
