package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/NicolasHaas/gorelay/pkg/protocol"
)

var errInvalidUTF8 = errors.New("invalid UTF-8")

// ServeConn runs one client session over conn and returns when the session
// has ended. Every transport hands its accepted streams to ServeConn.
// A stream refused at accept yields ErrServerClosed or ErrBanned.
func (srv *Server) ServeConn(conn Conn, transport string) error {
	sess := newSession(conn, transport, srv.cfg.Limits.SendQueue)
	srv.metrics.TotalConnections.Add(1)

	var (
		refused string
		err     error
	)
	srv.reg.do(func() {
		if srv.reg.closing {
			refused, err = "Server shutting down", ErrServerClosed
			return
		}
		if b, banned := srv.reg.insertLocked(sess); banned {
			refused = "Banned: " + banReason(b)
			err = fmt.Errorf("%s: %w", sess.host, ErrBanned)
			return
		}
		srv.wg.Add(2)
	})
	if err != nil {
		srv.refuse(sess, refused)
		return err
	}

	srv.trackConn(sess, true)
	srv.audit.Connection(sess.id, sess.host, transport, true, "")
	slog.Info("client connected", "session", sess.id, "remote", sess.host, "transport", transport)

	go srv.writeLoop(sess)
	srv.readLoop(sess)
	return nil
}

// refuse writes a single ERROR line straight to the stream and closes it.
// The session never entered the registry.
func (srv *Server) refuse(sess *Session, reason string) {
	srv.metrics.RejectedConnections.Add(1)
	srv.audit.Connection(sess.id, sess.host, sess.transport, false, reason)
	slog.Info("connection refused", "remote", sess.host, "reason", reason)

	if wt := srv.cfg.Limits.WriteTimeout; wt > 0 {
		_ = sess.conn.SetWriteDeadline(time.Now().Add(wt))
	}
	_, _ = sess.conn.Write(protocol.Encode(protocol.ErrorLine("Closing Link: " + sess.host + " (" + reason + ")")))
	_ = sess.conn.Close()
}

func (srv *Server) readLoop(sess *Session) {
	defer srv.wg.Done()

	lim := srv.cfg.Limits
	lr := newLineReader(sess.conn, lim.MaxLineLength)

	var limiter *rate.Limiter
	if lim.FloodRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(lim.FloodRate), max(lim.FloodBurst, 1))
	}

	if lim.RegistrationTimeout > 0 {
		t := time.AfterFunc(lim.RegistrationTimeout, func() {
			srv.reg.do(func() {
				if sess.nick == "" {
					srv.reg.teardownLocked(sess, "Registration timeout")
				}
			})
		})
		defer t.Stop()
	}

	pinged := false
	for {
		if lim.PingInterval > 0 {
			idle := lim.PingInterval
			if pinged {
				idle = lim.PingTimeout
			}
			_ = sess.conn.SetReadDeadline(time.Now().Add(idle))
		}

		raw, err := lr.readLine()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() && lim.PingInterval > 0 {
				if pinged {
					srv.disconnect(sess, "Ping timeout")
					return
				}
				pinged = true
				srv.reg.do(func() {
					srv.reg.sendMsgLocked(sess, protocol.Relay(protocol.ServerPrefix(srv.name), "PING", srv.name))
				})
				continue
			}
			srv.disconnect(sess, srv.readFailure(sess, err))
			return
		}
		pinged = false

		if len(raw) == 0 {
			continue
		}
		if !utf8.Valid(raw) {
			srv.disconnect(sess, srv.readFailure(sess, errInvalidUTF8))
			return
		}
		srv.metrics.LinesIn.Add(1)
		line := string(raw)

		if limiter != nil && !limiter.Allow() {
			srv.metrics.FloodDropped.Add(1)
			srv.reg.do(func() {
				srv.reg.sendMsgLocked(sess, protocol.Notice(srv.name, sess.target(), "Flood control: line dropped"))
			})
			continue
		}

		cmd, err := protocol.Parse(line)
		if err != nil {
			var perr *protocol.ParseError
			if !errors.As(err, &perr) {
				perr = &protocol.ParseError{Err: err}
			}
			srv.reg.do(func() {
				if !sess.gone {
					srv.rejectLocked(sess, perr)
				}
			})
			continue
		}

		closed, rerr := srv.dispatch(sess, line, cmd)
		if rerr != nil {
			slog.Debug("command rejected", "session", sess.id, "verb", cmd.Verb(), "err", rerr)
		}
		if closed {
			return
		}
	}
}

// readFailure maps a read error to the QUIT reason shown to peers.
func (srv *Server) readFailure(sess *Session, err error) string {
	switch {
	case errors.Is(err, io.EOF):
		return "Connection closed"
	case errors.Is(err, errLineTooLong):
		return "Line too long"
	case errors.Is(err, errInvalidUTF8):
		return "Invalid UTF-8"
	}
	serr := &StreamError{Op: "read", Err: err}
	slog.Debug("stream error", "session", sess.id, "err", serr)
	return "Read error"
}

// writeLoop drains the session queue onto the stream. It closes the stream
// once teardown has closed the queue.
func (srv *Server) writeLoop(sess *Session) {
	defer srv.wg.Done()
	defer srv.trackConn(sess, false)
	defer func() { _ = sess.conn.Close() }()

	wt := srv.cfg.Limits.WriteTimeout
	for line := range sess.out {
		if wt > 0 {
			_ = sess.conn.SetWriteDeadline(time.Now().Add(wt))
		}
		if _, err := sess.conn.Write(line); err != nil {
			serr := &StreamError{Op: "write", Err: err}
			slog.Debug("stream error", "session", sess.id, "err", serr)
			srv.disconnect(sess, "Write error")
			for range sess.out {
			}
			return
		}
	}
}

// disconnect tears sess down. It is safe to call more than once.
func (srv *Server) disconnect(sess *Session, reason string) {
	srv.reg.do(func() {
		srv.reg.teardownLocked(sess, reason)
	})
}

func (srv *Server) trackConn(sess *Session, live bool) {
	srv.connMu.Lock()
	defer srv.connMu.Unlock()
	if live {
		srv.conns[sess] = struct{}{}
	} else {
		delete(srv.conns, sess)
	}
}

// closeConns force-closes every stream still open.
func (srv *Server) closeConns() {
	srv.connMu.Lock()
	defer srv.connMu.Unlock()
	for sess := range srv.conns {
		_ = sess.conn.Close()
	}
}
