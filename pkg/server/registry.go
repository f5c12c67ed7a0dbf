package server

import (
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"gopkg.in/irc.v3"

	"github.com/NicolasHaas/gorelay/pkg/logging"
	"github.com/NicolasHaas/gorelay/pkg/model"
	"github.com/NicolasHaas/gorelay/pkg/protocol"
)

// channel is one entry of the channel registry. members is an index of
// session ids; sessions are resolved through Registry.sessions.
type channel struct {
	name      string
	topic     string
	topicBy   string
	topicAt   time.Time
	createdAt time.Time
	key       string
	limit     int
	members   map[string]bool
}

func (c *channel) modeString(showKey bool) (string, []string) {
	modes := "+"
	var args []string
	if c.key != "" {
		modes += "k"
		if showKey {
			args = append(args, c.key)
		} else {
			args = append(args, "*")
		}
	}
	if c.limit > 0 {
		modes += "l"
		args = append(args, strconv.Itoa(c.limit))
	}
	return modes, args
}

// Registry owns every piece of shared routing state: live sessions, the
// nickname directory, channels and the ban list. All of it is guarded by
// one mutex. Methods suffixed Locked must be called with mu held, normally
// from inside do.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	nicks    map[string]*Session
	channels map[string]*channel
	addrBans map[string]model.Ban
	nickBans map[string]model.Ban
	overflow []*Session
	closing  bool

	metrics *Metrics
	audit   *logging.Audit
}

// NewRegistry creates an empty registry.
func NewRegistry(m *Metrics, audit *logging.Audit) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		nicks:    make(map[string]*Session),
		channels: make(map[string]*channel),
		addrBans: make(map[string]model.Ban),
		nickBans: make(map[string]model.Ban),
		metrics:  m,
		audit:    audit,
	}
}

// do runs fn under the registry lock, then tears down every recipient whose
// queue overflowed while fn was delivering. Teardown itself delivers QUIT
// lines, so this loops until no new overflow appears.
func (r *Registry) do(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn()
	for len(r.overflow) > 0 {
		s := r.overflow[0]
		r.overflow = r.overflow[1:]
		if r.teardownLocked(s, "SendQ exceeded") {
			r.metrics.SlowConsumers.Add(1)
		}
	}
}

// sendLocked enqueues one encoded line without blocking. A full queue marks
// the session as a slow consumer; do tears it down once fn returns.
func (r *Registry) sendLocked(s *Session, line []byte) {
	if s.gone || s.overflowed {
		return
	}
	select {
	case s.out <- line:
		r.metrics.LinesOut.Add(1)
	default:
		s.overflowed = true
		r.overflow = append(r.overflow, s)
	}
}

func (r *Registry) sendMsgLocked(s *Session, m *irc.Message) {
	r.sendLocked(s, protocol.Encode(m))
}

// broadcastLocked delivers line to every member of ch. except may be nil.
func (r *Registry) broadcastLocked(ch *channel, line []byte, except *Session) int {
	n := 0
	for id := range ch.members {
		m := r.sessions[id]
		if m == nil || m == except {
			continue
		}
		r.sendLocked(m, line)
		n++
	}
	return n
}

// peersLocked returns s plus every session sharing a channel with s, each
// exactly once.
func (r *Registry) peersLocked(s *Session) []*Session {
	seen := map[string]bool{s.id: true}
	out := []*Session{s}
	for name := range s.channels {
		ch := r.channels[name]
		if ch == nil {
			continue
		}
		for id := range ch.members {
			if seen[id] {
				continue
			}
			seen[id] = true
			if m := r.sessions[id]; m != nil {
				out = append(out, m)
			}
		}
	}
	return out
}

// insertLocked admits a freshly accepted session. It returns the matching
// ban when the address is banned.
func (r *Registry) insertLocked(s *Session) (model.Ban, bool) {
	if b, ok := r.addrBans[s.host]; ok {
		return b, true
	}
	r.sessions[s.id] = s
	r.metrics.ActiveConnections.Add(1)
	return model.Ban{}, false
}

// renameLocked moves s to nick in the directory. The caller has already
// checked for collisions and bans.
func (r *Registry) renameLocked(s *Session, nick string) {
	if s.nick != "" && r.nicks[s.nick] == s {
		delete(r.nicks, s.nick)
	}
	r.nicks[nick] = s
	s.nick = nick
}

// ensureChannelLocked returns the named channel, creating it when missing.
func (r *Registry) ensureChannelLocked(name, topic string) (*channel, bool) {
	if ch, ok := r.channels[name]; ok {
		return ch, false
	}
	if topic == "" {
		topic = model.DefaultTopic(name)
	}
	now := time.Now()
	ch := &channel{
		name:      name,
		topic:     topic,
		topicAt:   now,
		createdAt: now,
		members:   make(map[string]bool),
	}
	r.channels[name] = ch
	r.metrics.ChannelsCreated.Add(1)
	return ch, true
}

func (r *Registry) addMemberLocked(ch *channel, s *Session) {
	ch.members[s.id] = true
	s.channels[ch.name] = struct{}{}
}

func (r *Registry) removeMemberLocked(ch *channel, s *Session) {
	delete(ch.members, s.id)
	delete(s.channels, ch.name)
}

// memberNicksLocked returns the sorted nicknames of ch's members.
func (r *Registry) memberNicksLocked(ch *channel) []string {
	nicks := make([]string, 0, len(ch.members))
	for id := range ch.members {
		if m := r.sessions[id]; m != nil && m.nick != "" {
			nicks = append(nicks, m.nick)
		}
	}
	sort.Strings(nicks)
	return nicks
}

func (r *Registry) sessionsAtLocked(host string) []*Session {
	var out []*Session
	for _, s := range r.sessions {
		if s.host == host {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].connectedAt.Before(out[j].connectedAt) })
	return out
}

// teardownLocked removes s from every channel and from the directory,
// notifies the remaining members of each channel once, queues a final ERROR
// line and closes the session's queue. The writer goroutine closes the
// stream after draining. It reports false if s was already torn down.
func (r *Registry) teardownLocked(s *Session, reason string) bool {
	if s.gone {
		return false
	}
	s.gone = true

	if s.nick != "" {
		quit := protocol.Encode(protocol.Relay(s.prefix(), "QUIT", reason))
		for _, name := range s.channelList() {
			ch := r.channels[name]
			if ch == nil {
				continue
			}
			r.removeMemberLocked(ch, s)
			r.broadcastLocked(ch, quit, nil)
		}
		if r.nicks[s.nick] == s {
			delete(r.nicks, s.nick)
		}
	}
	delete(r.sessions, s.id)

	if !s.overflowed {
		final := protocol.Encode(protocol.ErrorLine("Closing Link: " + s.host + " (" + reason + ")"))
		select {
		case s.out <- final:
		default:
		}
	}
	close(s.out)

	r.metrics.ActiveConnections.Add(-1)
	r.metrics.TotalDisconnects.Add(1)
	r.audit.Disconnect(s.id, s.nick, reason)
	slog.Info("client disconnected", "session", s.id, "nick", s.nick, "remote", s.host, "reason", reason)
	return true
}

// snapshotSessionsLocked returns every live session, oldest first.
func (r *Registry) snapshotSessionsLocked() []model.SessionInfo {
	out := make([]model.SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.info())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ConnectedAt.Before(out[j].ConnectedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *Registry) channelInfoLocked(ch *channel) model.ChannelInfo {
	return model.ChannelInfo{
		Name:      ch.name,
		Topic:     ch.topic,
		CreatedAt: ch.createdAt,
		Members:   r.memberNicksLocked(ch),
		Key:       ch.key,
		Limit:     ch.limit,
	}
}

func (r *Registry) sortedChannelsLocked() []*channel {
	out := make([]*channel, 0, len(r.channels))
	for _, ch := range r.channels {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

func (r *Registry) bansLocked() []model.Ban {
	out := make([]model.Ban, 0, len(r.addrBans)+len(r.nickBans))
	for _, b := range r.addrBans {
		out = append(out, b)
	}
	for _, b := range r.nickBans {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Value < out[j].Value
	})
	return out
}

func (r *Registry) addBanLocked(b model.Ban) {
	switch b.Kind {
	case model.BanAddress:
		r.addrBans[b.Value] = b
	case model.BanNick:
		r.nickBans[b.Value] = b
	}
}
