package server

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks server runtime statistics.
// All counters use atomic operations for lock-free concurrent access.
type Metrics struct {
	startTime time.Time

	// Connection counters
	TotalConnections    atomic.Int64 // lifetime connections accepted (all transports)
	ActiveConnections   atomic.Int64 // current live sessions
	RejectedConnections atomic.Int64 // refused at accept (banned or shutting down)
	Registrations       atomic.Int64 // sessions that completed NICK
	TotalDisconnects    atomic.Int64 // total teardowns (clean + unclean)
	SlowConsumers       atomic.Int64 // sessions dropped for a full send queue

	// Traffic counters
	LinesIn        atomic.Int64 // protocol lines read
	LinesOut       atomic.Int64 // protocol lines queued for writing
	MessagesRouted atomic.Int64 // PRIVMSG/NOTICE deliveries accepted by the router
	FloodDropped   atomic.Int64 // lines rejected by flood control

	// Channel counters
	ChannelsCreated atomic.Int64 // channels created during this run
	ChannelsDeleted atomic.Int64 // channels removed by operators

	// Admin counters
	KickCount atomic.Int64 // sessions kicked
	BanCount  atomic.Int64 // bans added
}

// NewMetrics creates a new Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	ActiveConnections   int64 `json:"active_connections"`
	TotalConnections    int64 `json:"total_connections"`
	RejectedConnections int64 `json:"rejected_connections"`
	Registrations       int64 `json:"registrations"`
	TotalDisconnects    int64 `json:"total_disconnects"`
	SlowConsumers       int64 `json:"slow_consumers"`

	LinesIn        int64 `json:"lines_in"`
	LinesOut       int64 `json:"lines_out"`
	MessagesRouted int64 `json:"messages_routed"`
	FloodDropped   int64 `json:"flood_dropped"`

	ChannelsCreated int64 `json:"channels_created"`
	ChannelsDeleted int64 `json:"channels_deleted"`

	KickCount int64 `json:"kick_count"`
	BanCount  int64 `json:"ban_count"`
}

// Snapshot returns a read-consistent snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	uptime := time.Since(m.startTime)
	return MetricsSnapshot{
		Uptime:              uptime.Truncate(time.Second).String(),
		UptimeSeconds:       int64(uptime.Seconds()),
		ActiveConnections:   m.ActiveConnections.Load(),
		TotalConnections:    m.TotalConnections.Load(),
		RejectedConnections: m.RejectedConnections.Load(),
		Registrations:       m.Registrations.Load(),
		TotalDisconnects:    m.TotalDisconnects.Load(),
		SlowConsumers:       m.SlowConsumers.Load(),
		LinesIn:             m.LinesIn.Load(),
		LinesOut:            m.LinesOut.Load(),
		MessagesRouted:      m.MessagesRouted.Load(),
		FloodDropped:        m.FloodDropped.Load(),
		ChannelsCreated:     m.ChannelsCreated.Load(),
		ChannelsDeleted:     m.ChannelsDeleted.Load(),
		KickCount:           m.KickCount.Load(),
		BanCount:            m.BanCount.Load(),
	}
}

// JSON returns the metrics snapshot as a JSON string.
func (m *Metrics) JSON() string {
	data, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// Register exposes every counter on reg. Values are read from the atomics
// at scrape time.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	counter := func(name, help string, v *atomic.Int64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "gorelay",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(v.Load()) })
	}
	gauge := func(name, help string, f func() float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "gorelay",
			Name:      name,
			Help:      help,
		}, f)
	}

	collectors := []prometheus.Collector{
		gauge("uptime_seconds", "Server uptime in seconds.",
			func() float64 { return time.Since(m.startTime).Seconds() }),
		gauge("connections_active", "Current live sessions.",
			func() float64 { return float64(m.ActiveConnections.Load()) }),
		counter("connections_total", "Lifetime connections accepted.", &m.TotalConnections),
		counter("connections_rejected_total", "Connections refused at accept.", &m.RejectedConnections),
		counter("registrations_total", "Sessions that completed registration.", &m.Registrations),
		counter("disconnects_total", "Total session teardowns.", &m.TotalDisconnects),
		counter("slow_consumers_total", "Sessions dropped for a full send queue.", &m.SlowConsumers),
		counter("lines_in_total", "Protocol lines read from clients.", &m.LinesIn),
		counter("lines_out_total", "Protocol lines queued to clients.", &m.LinesOut),
		counter("messages_routed_total", "PRIVMSG and NOTICE commands routed.", &m.MessagesRouted),
		counter("flood_dropped_total", "Lines rejected by flood control.", &m.FloodDropped),
		counter("channels_created_total", "Channels created.", &m.ChannelsCreated),
		counter("channels_deleted_total", "Channels removed.", &m.ChannelsDeleted),
		counter("kicks_total", "Sessions kicked by operators.", &m.KickCount),
		counter("bans_total", "Bans added by operators.", &m.BanCount),
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// LogSummary writes a periodic metrics summary to the logger.
func (m *Metrics) LogSummary() {
	s := m.Snapshot()
	slog.Info("metrics",
		"uptime", s.Uptime,
		"connections", s.ActiveConnections,
		"total_connections", s.TotalConnections,
		"lines_in", s.LinesIn,
		"lines_out", s.LinesOut,
		"messages", s.MessagesRouted,
		"slow_consumers", s.SlowConsumers,
	)
}

// StartPeriodicLog starts a goroutine that logs metrics every interval.
// It stops when the done channel is closed.
func (m *Metrics) StartPeriodicLog(interval time.Duration, done <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.LogSummary()
			}
		}
	}()
}
