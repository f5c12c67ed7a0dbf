package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/NicolasHaas/gorelay/pkg/model"
	"github.com/NicolasHaas/gorelay/pkg/protocol"
)

// storeTimeout bounds ban store calls made on behalf of an operator.
const storeTimeout = 5 * time.Second

// Admin is the operator API. The console and the HTTP API both call it; each
// action is written to the audit log under the operator's name.
type Admin struct {
	srv *Server
}

func (a *Admin) record(operator, action, target string, err error) {
	a.srv.audit.Admin(operator, action, target, err)
	if err != nil {
		slog.Warn("admin action failed", "operator", operator, "action", action, "target", target, "err", err)
		return
	}
	slog.Info("admin action", "operator", operator, "action", action, "target", target)
}

// Sessions lists every live session.
func (a *Admin) Sessions() []model.SessionInfo {
	var out []model.SessionInfo
	a.srv.reg.do(func() {
		out = a.srv.reg.snapshotSessionsLocked()
	})
	return out
}

// Channels lists every channel with its members.
func (a *Admin) Channels() []model.ChannelInfo {
	var out []model.ChannelInfo
	a.srv.reg.do(func() {
		for _, ch := range a.srv.reg.sortedChannelsLocked() {
			out = append(out, a.srv.reg.channelInfoLocked(ch))
		}
	})
	return out
}

// Bans lists address and nick bans.
func (a *Admin) Bans() []model.Ban {
	var out []model.Ban
	a.srv.reg.do(func() {
		out = a.srv.reg.bansLocked()
	})
	return out
}

// resolveLocked finds the sessions target names: the holder of the nick, or
// else every session connected from that address.
func (a *Admin) resolveLocked(target string) []*Session {
	if s := a.srv.reg.nicks[target]; s != nil {
		return []*Session{s}
	}
	return a.srv.reg.sessionsAtLocked(target)
}

func (a *Admin) kickLocked(s *Session, reason string) {
	a.srv.reg.sendMsgLocked(s, protocol.Notice(a.srv.name, s.target(), "You have been kicked: "+reason))
	if a.srv.reg.teardownLocked(s, "Kicked: "+reason) {
		a.srv.metrics.KickCount.Add(1)
	}
}

// Kick disconnects the session holding nick target, or every session from
// address target. It returns how many sessions were closed.
func (a *Admin) Kick(operator, target, reason string) (int, error) {
	if reason == "" {
		reason = "no reason given"
	}
	var n int
	a.srv.reg.do(func() {
		victims := a.resolveLocked(target)
		for _, s := range victims {
			a.kickLocked(s, reason)
		}
		n = len(victims)
	})
	var err error
	if n == 0 {
		err = fmt.Errorf("kick %q: %w", target, ErrTargetNotFound)
	}
	a.record(operator, "kick", target, err)
	return n, err
}

// Ban adds an address ban. target may be a connected nick, which is resolved
// to its address, or a literal address. Sessions from that address are
// kicked. The returned ban is the one in force; if the store fails it is
// still returned together with an ErrNotPersisted error.
func (a *Admin) Ban(operator, target, reason string) (model.Ban, error) {
	var (
		b      model.Ban
		kicked int
		err    error
	)
	a.srv.reg.do(func() {
		addr := target
		if s := a.srv.reg.nicks[target]; s != nil {
			addr = s.host
		} else if net.ParseIP(addr) == nil {
			err = fmt.Errorf("ban %q: %w", target, ErrTargetNotFound)
			return
		}
		b = model.Ban{
			Kind:      model.BanAddress,
			Value:     addr,
			Reason:    reason,
			SetBy:     operator,
			CreatedAt: time.Now().UTC().Truncate(time.Second),
		}
		a.srv.reg.addBanLocked(b)
		a.srv.metrics.BanCount.Add(1)
		for _, s := range a.srv.reg.sessionsAtLocked(addr) {
			a.kickLocked(s, "Banned: "+banReason(b))
			kicked++
		}
	})
	if err != nil {
		a.record(operator, "ban", target, err)
		return model.Ban{}, err
	}
	err = a.persist(b)
	a.record(operator, "ban", target, err)
	slog.Info("address banned", "address", b.Value, "kicked", kicked, "persisted", err == nil)
	return b, err
}

// Unban removes an address ban.
func (a *Admin) Unban(operator, address string) error {
	err := a.removeBan(model.BanAddress, address)
	a.record(operator, "unban", address, err)
	return err
}

// BanNick bans an identity. Its current holder, if any, is disconnected.
func (a *Admin) BanNick(operator, nick, reason string) (model.Ban, error) {
	if err := model.ValidateNickname(nick, a.srv.cfg.Limits.MaxNickLength); err != nil {
		err = fmt.Errorf("bannick %q: %w", nick, err)
		a.record(operator, "bannick", nick, err)
		return model.Ban{}, err
	}
	b := model.Ban{
		Kind:      model.BanNick,
		Value:     nick,
		Reason:    reason,
		SetBy:     operator,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	a.srv.reg.do(func() {
		a.srv.reg.addBanLocked(b)
		a.srv.metrics.BanCount.Add(1)
		if s := a.srv.reg.nicks[nick]; s != nil {
			a.kickLocked(s, "Banned: "+banReason(b))
		}
	})
	err := a.persist(b)
	a.record(operator, "bannick", nick, err)
	return b, err
}

// UnbanNick removes an identity ban.
func (a *Admin) UnbanNick(operator, nick string) error {
	err := a.removeBan(model.BanNick, nick)
	a.record(operator, "unbannick", nick, err)
	return err
}

func (a *Admin) removeBan(kind model.BanKind, value string) error {
	var found bool
	a.srv.reg.do(func() {
		bans := a.srv.reg.addrBans
		if kind == model.BanNick {
			bans = a.srv.reg.nickBans
		}
		if _, found = bans[value]; found {
			delete(bans, value)
		}
	})
	if !found {
		return fmt.Errorf("unban %s %q: %w", kind, value, ErrTargetNotFound)
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if _, err := a.srv.store.DeleteBan(ctx, kind, value); err != nil {
		return fmt.Errorf("unban %s %q: %w", kind, value, err)
	}
	return nil
}

func (a *Admin) persist(b model.Ban) error {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := a.srv.store.CreateBan(ctx, b); err != nil {
		slog.Warn("ban not persisted", "kind", b.Kind, "value", b.Value, "err", err)
		return fmt.Errorf("%w: %s %q: %w", ErrNotPersisted, b.Kind, b.Value, err)
	}
	return nil
}

// AddChannel creates an empty channel. An empty topic selects the default.
func (a *Admin) AddChannel(operator, name, topic string) (model.ChannelInfo, error) {
	name = model.NormalizeChannelName(name)
	var (
		info model.ChannelInfo
		err  error
	)
	if verr := model.ValidateChannelName(name, a.srv.cfg.Limits.MaxChannelNameLength); verr != nil {
		err = fmt.Errorf("addchan %q: %w: %w", name, ErrInvalidChannel, verr)
	} else {
		a.srv.reg.do(func() {
			ch, created := a.srv.reg.ensureChannelLocked(name, topic)
			if !created {
				err = fmt.Errorf("addchan %q: %w", name, ErrChannelExists)
				return
			}
			info = a.srv.reg.channelInfoLocked(ch)
		})
	}
	a.record(operator, "addchan", name, err)
	return info, err
}

// RemoveChannel deletes an empty channel.
func (a *Admin) RemoveChannel(operator, name string) error {
	name = model.NormalizeChannelName(name)
	var err error
	a.srv.reg.do(func() {
		ch := a.srv.reg.channels[name]
		switch {
		case ch == nil:
			err = fmt.Errorf("rmchan %q: %w", name, ErrTargetNotFound)
		case len(ch.members) > 0:
			err = fmt.Errorf("rmchan %q (%d members): %w", name, len(ch.members), ErrChannelNotEmpty)
		default:
			delete(a.srv.reg.channels, name)
			a.srv.metrics.ChannelsDeleted.Add(1)
		}
	})
	a.record(operator, "rmchan", name, err)
	return err
}

// Message sends a server NOTICE to a nick or to every member of a channel.
func (a *Admin) Message(operator, target, text string) error {
	var err error
	a.srv.reg.do(func() {
		if model.IsChannelName(target) {
			ch := a.srv.reg.channels[target]
			if ch == nil {
				err = fmt.Errorf("msg %q: %w", target, ErrTargetNotFound)
				return
			}
			line := protocol.Encode(protocol.Notice(a.srv.name, target, text))
			a.srv.reg.broadcastLocked(ch, line, nil)
			return
		}
		s := a.srv.reg.nicks[target]
		if s == nil {
			err = fmt.Errorf("msg %q: %w", target, ErrTargetNotFound)
			return
		}
		a.srv.reg.sendMsgLocked(s, protocol.Notice(a.srv.name, s.nick, text))
	})
	a.record(operator, "msg", target, err)
	return err
}

// Broadcast sends a server NOTICE to every connected session, registered or
// not, and returns how many received it.
func (a *Admin) Broadcast(operator, text string) int {
	var n int
	a.srv.reg.do(func() {
		for _, s := range a.srv.reg.sessions {
			a.srv.reg.sendMsgLocked(s, protocol.Notice(a.srv.name, s.target(), text))
			n++
		}
	})
	a.record(operator, "broadcast", "*", nil)
	return n
}

// Shutdown asks the server to stop. It does not wait.
func (a *Admin) Shutdown(operator string) {
	a.record(operator, "shutdown", "", nil)
	a.srv.RequestShutdown()
}
