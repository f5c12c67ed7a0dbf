package server

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/NicolasHaas/gorelay/pkg/model"
	"github.com/NicolasHaas/gorelay/pkg/protocol"
	"github.com/NicolasHaas/gorelay/pkg/version"
)

const (
	userModes    = "iw"
	channelModes = "kl"
	namesChunk   = 400
)

// dispatch audits and routes one parsed line. closed reports that the
// session was torn down while handling it. err is the rejection the client
// was told about, if any.
func (srv *Server) dispatch(sess *Session, line string, cmd protocol.Command) (closed bool, err error) {
	srv.reg.do(func() {
		if sess.gone {
			closed = true
			return
		}
		srv.audit.Inbound(sess.id, sess.nick, line)
		err = srv.routeLocked(sess, cmd)
		closed = sess.gone
	})
	return closed, err
}

func (srv *Server) routeLocked(sess *Session, cmd protocol.Command) error {
	if sess.nick == "" {
		switch cmd.(type) {
		case protocol.Nick, protocol.User, protocol.Ping, protocol.Pong, protocol.Cap, protocol.Quit:
		default:
			srv.numericLocked(sess, protocol.ERR_NOTREGISTERED, "You have not registered")
			return ErrNotRegistered
		}
	}

	switch c := cmd.(type) {
	case protocol.Nick:
		return srv.nickLocked(sess, c.Name)
	case protocol.User:
		return srv.userLocked(sess, c)
	case protocol.Join:
		return srv.joinLocked(sess, c)
	case protocol.Part:
		srv.partLocked(sess, c)
	case protocol.Privmsg:
		return srv.privmsgLocked(sess, c)
	case protocol.Mode:
		return srv.modeLocked(sess, c)
	case protocol.Topic:
		return srv.topicLocked(sess, c)
	case protocol.Names:
		srv.namesLocked(sess, c.Channels)
	case protocol.List:
		srv.listLocked(sess, c.Channels)
	case protocol.Whois:
		return srv.whoisLocked(sess, c.Nick)
	case protocol.Ping:
		srv.reg.sendMsgLocked(sess, protocol.Relay(protocol.ServerPrefix(srv.name), "PONG", srv.name, c.Token))
	case protocol.Pong:
		// Activity is tracked by the read loop.
	case protocol.Cap:
		srv.capLocked(sess, c)
	case protocol.Quit:
		reason := "Client Quit"
		if c.Reason != "" {
			reason = "Quit: " + c.Reason
		}
		srv.reg.teardownLocked(sess, reason)
	case protocol.Unknown:
		srv.numericLocked(sess, protocol.ERR_UNKNOWNCOMMAND, c.Command, "Unknown command")
	}
	return nil
}

// rejectLocked answers a line that failed to parse.
func (srv *Server) rejectLocked(sess *Session, perr *protocol.ParseError) {
	switch {
	case perr.Verb == "NICK" && errors.Is(perr, protocol.ErrNeedMoreParams):
		srv.numericLocked(sess, protocol.ERR_NONICKNAMEGIVEN, "No nickname given")
	case errors.Is(perr, protocol.ErrNeedMoreParams):
		srv.numericLocked(sess, protocol.ERR_NEEDMOREPARAMS, perr.Verb, "Not enough parameters")
	default:
		srv.reg.sendMsgLocked(sess, protocol.Notice(srv.name, sess.target(), "Malformed line ignored"))
	}
}

func (srv *Server) numericLocked(sess *Session, code string, params ...string) {
	srv.reg.sendMsgLocked(sess, protocol.Numeric(srv.name, code, sess.target(), params...))
}

func (srv *Server) nickLocked(sess *Session, nick string) error {
	if err := model.ValidateNickname(nick, srv.cfg.Limits.MaxNickLength); err != nil {
		srv.numericLocked(sess, protocol.ERR_ERRONEUSNICKNAME, nick, "Erroneous nickname")
		return err
	}
	if b, ok := srv.reg.nickBans[nick]; ok {
		reason := banReason(b)
		srv.numericLocked(sess, protocol.ERR_YOUREBANNEDCREEP, "You are banned from this server: "+reason)
		srv.reg.teardownLocked(sess, "Banned: "+reason)
		return ErrBanned
	}
	holder := srv.reg.nicks[nick]
	if holder == sess {
		return nil
	}
	if holder != nil {
		srv.numericLocked(sess, protocol.ERR_NICKNAMEINUSE, nick, "Nickname is already in use")
		return ErrIdentityInUse
	}

	if sess.nick == "" {
		srv.reg.renameLocked(sess, nick)
		srv.metrics.Registrations.Add(1)
		srv.welcomeLocked(sess)
		return nil
	}

	line := protocol.Encode(protocol.Relay(sess.prefix(), "NICK", nick))
	peers := srv.reg.peersLocked(sess)
	srv.reg.renameLocked(sess, nick)
	for _, p := range peers {
		srv.reg.sendLocked(p, line)
	}
	return nil
}

func (srv *Server) userLocked(sess *Session, u protocol.User) error {
	if sess.user != "" {
		srv.numericLocked(sess, protocol.ERR_ALREADYREGISTRED, "You may not reregister")
		return nil
	}
	sess.user = sanitizeUser(u.Username)
	sess.realName = u.RealName
	return nil
}

func (srv *Server) welcomeLocked(sess *Session) {
	p := sess.prefix()
	srv.numericLocked(sess, protocol.RPL_WELCOME,
		"Welcome to the "+srv.cfg.Server.Network+" IRC Network "+p.String())
	srv.numericLocked(sess, protocol.RPL_YOURHOST,
		"Your host is "+srv.name+", running version "+version.String())
	srv.numericLocked(sess, protocol.RPL_CREATED,
		"This server was created "+srv.created.UTC().Format(time.RFC1123))
	srv.numericLocked(sess, protocol.RPL_MYINFO, srv.name, version.String(), userModes, channelModes)
	srv.motdLocked(sess)
}

func (srv *Server) motdLocked(sess *Session) {
	motd := strings.TrimRight(srv.cfg.Server.MOTD, "\n")
	if motd == "" {
		srv.numericLocked(sess, protocol.ERR_NOMOTD, "MOTD File is missing")
		return
	}
	srv.numericLocked(sess, protocol.RPL_MOTDSTART, "- "+srv.name+" Message of the day - ")
	for _, line := range strings.Split(motd, "\n") {
		srv.numericLocked(sess, protocol.RPL_MOTD, "- "+strings.TrimRight(line, "\r"))
	}
	srv.numericLocked(sess, protocol.RPL_ENDOFMOTD, "End of /MOTD command.")
}

func (srv *Server) joinLocked(sess *Session, j protocol.Join) error {
	var firstErr error
	for i, raw := range j.Channels {
		key := ""
		if i < len(j.Keys) {
			key = j.Keys[i]
		}
		if err := srv.joinOneLocked(sess, model.NormalizeChannelName(raw), key); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (srv *Server) joinOneLocked(sess *Session, name, key string) error {
	if err := model.ValidateChannelName(name, srv.cfg.Limits.MaxChannelNameLength); err != nil {
		srv.numericLocked(sess, protocol.ERR_NOSUCHCHANNEL, name, "No such channel")
		return ErrInvalidChannel
	}
	ch, _ := srv.reg.ensureChannelLocked(name, "")

	if ch.members[sess.id] {
		srv.namesReplyLocked(sess, ch)
		return nil
	}
	if ch.key != "" && key != ch.key {
		srv.numericLocked(sess, protocol.ERR_BADCHANNELKEY, name, "Cannot join channel (+k)")
		return nil
	}
	if ch.limit > 0 && len(ch.members) >= ch.limit {
		srv.numericLocked(sess, protocol.ERR_CHANNELISFULL, name, "Cannot join channel (+l)")
		return nil
	}

	srv.reg.addMemberLocked(ch, sess)
	srv.reg.broadcastLocked(ch, protocol.Encode(protocol.Relay(sess.prefix(), "JOIN", name)), nil)
	if ch.topic != "" {
		srv.numericLocked(sess, protocol.RPL_TOPIC, name, ch.topic)
	}
	srv.namesReplyLocked(sess, ch)
	return nil
}

func (srv *Server) namesReplyLocked(sess *Session, ch *channel) {
	var (
		line []string
		size int
	)
	for _, nick := range srv.reg.memberNicksLocked(ch) {
		if size+len(nick)+1 > namesChunk && len(line) > 0 {
			srv.numericLocked(sess, protocol.RPL_NAMREPLY, "=", ch.name, strings.Join(line, " "))
			line, size = nil, 0
		}
		line = append(line, nick)
		size += len(nick) + 1
	}
	if len(line) > 0 {
		srv.numericLocked(sess, protocol.RPL_NAMREPLY, "=", ch.name, strings.Join(line, " "))
	}
	srv.numericLocked(sess, protocol.RPL_ENDOFNAMES, ch.name, "End of /NAMES list.")
}

func (srv *Server) partLocked(sess *Session, p protocol.Part) {
	names := p.Channels
	if len(names) == 0 {
		names = sess.channelList()
	}
	for _, raw := range names {
		name := model.NormalizeChannelName(raw)
		ch := srv.reg.channels[name]
		if ch == nil || !ch.members[sess.id] {
			continue
		}
		params := []string{name}
		if p.Reason != "" {
			params = append(params, p.Reason)
		}
		srv.reg.broadcastLocked(ch, protocol.Encode(protocol.Relay(sess.prefix(), "PART", params...)), nil)
		srv.reg.removeMemberLocked(ch, sess)
	}
}

func (srv *Server) privmsgLocked(sess *Session, m protocol.Privmsg) error {
	verb := m.Verb()
	line := protocol.Encode(protocol.Relay(sess.prefix(), verb, m.Target, m.Text))

	if model.IsChannelName(m.Target) {
		ch := srv.reg.channels[m.Target]
		if ch == nil {
			if !m.Notice {
				srv.numericLocked(sess, protocol.ERR_NOSUCHNICK, m.Target, "No such nick/channel")
			}
			return ErrTargetNotFound
		}
		if !ch.members[sess.id] {
			return nil
		}
		srv.reg.broadcastLocked(ch, line, nil)
		srv.metrics.MessagesRouted.Add(1)
		return nil
	}

	target := srv.reg.nicks[m.Target]
	if target == nil {
		if !m.Notice {
			srv.numericLocked(sess, protocol.ERR_NOSUCHNICK, m.Target, "No such nick/channel")
		}
		return ErrTargetNotFound
	}
	srv.reg.sendLocked(target, line)
	if target != sess {
		srv.reg.sendLocked(sess, line)
	}
	srv.metrics.MessagesRouted.Add(1)
	return nil
}

func (srv *Server) modeLocked(sess *Session, m protocol.Mode) error {
	if !model.IsChannelName(m.Target) {
		return srv.userModeLocked(sess, m)
	}
	ch := srv.reg.channels[m.Target]
	if ch == nil {
		srv.numericLocked(sess, protocol.ERR_NOSUCHCHANNEL, m.Target, "No such channel")
		return ErrTargetNotFound
	}
	member := ch.members[sess.id]
	if m.Modes == "" {
		modes, args := ch.modeString(member)
		srv.numericLocked(sess, protocol.RPL_CHANNELMODEIS, append([]string{ch.name, modes}, args...)...)
		srv.numericLocked(sess, protocol.RPL_CREATIONTIME, ch.name, strconv.FormatInt(ch.createdAt.Unix(), 10))
		return nil
	}
	if !member {
		srv.numericLocked(sess, protocol.ERR_NOTONCHANNEL, ch.name, "You're not on that channel")
		return nil
	}

	var (
		applied     strings.Builder
		appliedArgs []string
		lastSign    byte
		args        = m.Args
	)
	emit := func(sign, mode byte, arg string) {
		if sign != lastSign {
			applied.WriteByte(sign)
			lastSign = sign
		}
		applied.WriteByte(mode)
		if arg != "" {
			appliedArgs = append(appliedArgs, arg)
		}
	}
	sign := byte('+')
	for i := 0; i < len(m.Modes); i++ {
		c := m.Modes[i]
		switch c {
		case '+', '-':
			sign = c
		case 'k':
			if sign == '-' {
				if ch.key != "" {
					ch.key = ""
					emit('-', 'k', "*")
				}
				continue
			}
			if len(args) == 0 || args[0] == "" || strings.ContainsAny(args[0], " ,") {
				srv.numericLocked(sess, protocol.ERR_NEEDMOREPARAMS, "MODE", "Not enough parameters")
				continue
			}
			ch.key, args = args[0], args[1:]
			emit('+', 'k', ch.key)
		case 'l':
			if sign == '-' {
				if ch.limit > 0 {
					ch.limit = 0
					emit('-', 'l', "")
				}
				continue
			}
			if len(args) == 0 {
				srv.numericLocked(sess, protocol.ERR_NEEDMOREPARAMS, "MODE", "Not enough parameters")
				continue
			}
			n, err := strconv.Atoi(args[0])
			args = args[1:]
			if err != nil || n <= 0 {
				continue
			}
			ch.limit = n
			emit('+', 'l', strconv.Itoa(n))
		default:
			srv.numericLocked(sess, protocol.ERR_UNKNOWNMODE, string(c), "is unknown mode char to me")
		}
	}
	if applied.Len() > 0 {
		params := append([]string{ch.name, applied.String()}, appliedArgs...)
		srv.reg.broadcastLocked(ch, protocol.Encode(protocol.Relay(sess.prefix(), "MODE", params...)), nil)
	}
	return nil
}

func (srv *Server) userModeLocked(sess *Session, m protocol.Mode) error {
	if m.Target != sess.nick {
		if srv.reg.nicks[m.Target] == nil {
			srv.numericLocked(sess, protocol.ERR_NOSUCHNICK, m.Target, "No such nick/channel")
			return ErrTargetNotFound
		}
		srv.numericLocked(sess, protocol.ERR_USERSDONTMATCH, "Cant change mode for other users")
		return nil
	}
	if m.Modes == "" {
		srv.numericLocked(sess, protocol.RPL_UMODEIS, "+")
		return nil
	}
	for i := 0; i < len(m.Modes); i++ {
		c := m.Modes[i]
		if c == '+' || c == '-' || strings.IndexByte(userModes, c) >= 0 {
			continue
		}
		srv.numericLocked(sess, protocol.ERR_UMODEUNKNOWNFLAG, "Unknown MODE flag")
		break
	}
	return nil
}

func (srv *Server) topicLocked(sess *Session, t protocol.Topic) error {
	name := model.NormalizeChannelName(t.Channel)
	ch := srv.reg.channels[name]
	if ch == nil {
		srv.numericLocked(sess, protocol.ERR_NOSUCHCHANNEL, name, "No such channel")
		return ErrTargetNotFound
	}
	if !t.Set {
		if ch.topic == "" {
			srv.numericLocked(sess, protocol.RPL_NOTOPIC, name, "No topic is set")
		} else {
			srv.numericLocked(sess, protocol.RPL_TOPIC, name, ch.topic)
		}
		return nil
	}
	if !ch.members[sess.id] {
		srv.numericLocked(sess, protocol.ERR_NOTONCHANNEL, name, "You're not on that channel")
		return nil
	}
	ch.topic, ch.topicBy, ch.topicAt = t.Text, sess.nick, time.Now()
	srv.reg.broadcastLocked(ch, protocol.Encode(protocol.Relay(sess.prefix(), "TOPIC", name, t.Text)), nil)
	return nil
}

func (srv *Server) namesLocked(sess *Session, names []string) {
	if len(names) == 0 {
		for _, ch := range srv.reg.sortedChannelsLocked() {
			if len(ch.members) == 0 {
				continue
			}
			srv.namesReplyLocked(sess, ch)
		}
		return
	}
	for _, raw := range names {
		name := model.NormalizeChannelName(raw)
		if ch := srv.reg.channels[name]; ch != nil {
			srv.namesReplyLocked(sess, ch)
			continue
		}
		srv.numericLocked(sess, protocol.RPL_ENDOFNAMES, name, "End of /NAMES list.")
	}
}

func (srv *Server) listLocked(sess *Session, filter []string) {
	want := make(map[string]bool, len(filter))
	for _, f := range filter {
		want[model.NormalizeChannelName(f)] = true
	}
	srv.numericLocked(sess, protocol.RPL_LISTSTART, "Channel", "Users  Name")
	for _, ch := range srv.reg.sortedChannelsLocked() {
		if len(want) > 0 && !want[ch.name] {
			continue
		}
		srv.numericLocked(sess, protocol.RPL_LIST, ch.name, strconv.Itoa(len(ch.members)), ch.topic)
	}
	srv.numericLocked(sess, protocol.RPL_LISTEND, "End of /LIST")
}

func (srv *Server) whoisLocked(sess *Session, nick string) error {
	target := srv.reg.nicks[nick]
	if target == nil {
		srv.numericLocked(sess, protocol.ERR_NOSUCHNICK, nick, "No such nick/channel")
		srv.numericLocked(sess, protocol.RPL_ENDOFWHOIS, nick, "End of /WHOIS list.")
		return ErrTargetNotFound
	}
	user := target.user
	if user == "" {
		user = target.nick
	}
	srv.numericLocked(sess, protocol.RPL_WHOISUSER, target.nick, user, target.host, "*", target.realName)
	if chans := target.channelList(); len(chans) > 0 {
		srv.numericLocked(sess, protocol.RPL_WHOISCHANNELS, target.nick, strings.Join(chans, " "))
	}
	srv.numericLocked(sess, protocol.RPL_WHOISSERVER, target.nick, srv.name, srv.cfg.Server.Network)
	srv.numericLocked(sess, protocol.RPL_ENDOFWHOIS, target.nick, "End of /WHOIS list.")
	return nil
}

// capLocked answers capability negotiation with an empty list so that
// IRCv3 clients proceed to registration.
func (srv *Server) capLocked(sess *Session, c protocol.Cap) {
	prefix := protocol.ServerPrefix(srv.name)
	switch c.Sub {
	case "LS", "LIST":
		srv.reg.sendMsgLocked(sess, protocol.Relay(prefix, "CAP", sess.target(), c.Sub, ""))
	case "REQ":
		srv.reg.sendMsgLocked(sess, protocol.Relay(prefix, "CAP", sess.target(), "NAK", strings.Join(c.Args, " ")))
	}
}

func sanitizeUser(u string) string {
	u = strings.Map(func(r rune) rune {
		if r <= ' ' || r == '@' || r == '!' || r == ':' {
			return -1
		}
		return r
	}, u)
	if len(u) > 16 {
		u = u[:16]
	}
	return u
}

func banReason(b model.Ban) string {
	if b.Reason == "" {
		return "no reason given"
	}
	return b.Reason
}
