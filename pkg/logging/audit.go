package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// DefaultAuditQueue is the number of pending audit records buffered in memory.
const DefaultAuditQueue = 4096

// Audit is the append-only audit log. Records are JSON lines; writes never
// block the caller.
type Audit struct {
	log *slog.Logger
	w   *asyncWriter
}

// OpenAudit opens (or creates) path in append mode. An empty path yields an
// audit log that discards everything.
func OpenAudit(path string, queue int) (*Audit, error) {
	if path == "" {
		return NewAudit(io.Discard, queue), nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("logging: create audit dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o640) //nolint:gosec // path from server config
	if err != nil {
		return nil, fmt.Errorf("logging: open audit log: %w", err)
	}
	return NewAudit(f, queue), nil
}

// NewAudit writes audit records to w. If w is an io.Closer it is closed by
// Close.
func NewAudit(w io.Writer, queue int) *Audit {
	if queue <= 0 {
		queue = DefaultAuditQueue
	}
	aw := newAsyncWriter(w, queue)
	return &Audit{
		log: slog.New(slog.NewJSONHandler(aw, &slog.HandlerOptions{Level: slog.LevelDebug})),
		w:   aw,
	}
}

// Connection records an accepted or rejected connection.
func (a *Audit) Connection(session, remote, transport string, accepted bool, reason string) {
	a.log.Info("connection",
		"session", session,
		"remote", remote,
		"transport", transport,
		"accepted", accepted,
		"reason", reason,
	)
}

// Inbound records one parsed inbound protocol line.
func (a *Audit) Inbound(session, nick, line string) {
	a.log.Info("inbound", "session", session, "nick", nick, "line", line)
}

// Disconnect records the end of a session.
func (a *Audit) Disconnect(session, nick, reason string) {
	a.log.Info("disconnect", "session", session, "nick", nick, "reason", reason)
}

// Admin records an administrative action and its outcome.
func (a *Audit) Admin(operator, action, target string, err error) {
	if err != nil {
		a.log.Warn("admin", "operator", operator, "action", action, "target", target, "err", err.Error())
		return
	}
	a.log.Info("admin", "operator", operator, "action", action, "target", target)
}

// Dropped returns how many records were discarded because the queue was full.
func (a *Audit) Dropped() int64 {
	return a.w.dropped.Load()
}

// Close flushes pending records and closes the underlying writer.
func (a *Audit) Close() error {
	return a.w.Close()
}

// asyncWriter hands each Write to a single background goroutine.
type asyncWriter struct {
	out     io.Writer
	queue   chan []byte
	done    chan struct{}
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

func newAsyncWriter(out io.Writer, size int) *asyncWriter {
	w := &asyncWriter{
		out:   out,
		queue: make(chan []byte, size),
		done:  make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *asyncWriter) run() {
	defer close(w.done)
	for p := range w.queue {
		if _, err := w.out.Write(p); err != nil {
			w.dropped.Add(1)
		}
	}
}

// Write never blocks: the record is copied and queued, or dropped.
func (w *asyncWriter) Write(p []byte) (int, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.dropped.Add(1)
		return len(p), nil
	}
	buf := make([]byte, len(p))
	copy(buf, p)
	select {
	case w.queue <- buf:
	default:
		w.dropped.Add(1)
	}
	return len(p), nil
}

func (w *asyncWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.queue)
	w.mu.Unlock()

	<-w.done
	if c, ok := w.out.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
