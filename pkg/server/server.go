// Package server implements the gorelay chat server: session registry,
// channel membership, message routing, transports and admin surfaces.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/NicolasHaas/gorelay/pkg/config"
	"github.com/NicolasHaas/gorelay/pkg/datastore"
	"github.com/NicolasHaas/gorelay/pkg/logging"
	"github.com/NicolasHaas/gorelay/pkg/model"
	"github.com/NicolasHaas/gorelay/pkg/protocol"
)

// Dependencies holds external dependencies for the server.
// Server assumes ownership of Store and Audit and closes them on shutdown.
// Nil values are replaced by an in-memory ban store and a discarding audit
// log.
type Dependencies struct {
	Store datastore.BanStore
	Audit *logging.Audit
}

// Server is the main gorelay server.
type Server struct {
	cfg     config.Config
	name    string
	created time.Time

	reg     *Registry
	metrics *Metrics
	prom    *prometheus.Registry
	store   datastore.BanStore
	audit   *logging.Audit
	admin   *Admin

	wg     sync.WaitGroup
	connMu sync.Mutex
	conns  map[*Session]struct{}

	lnMu      sync.Mutex
	listeners []net.Listener
	https     []*http.Server
	addrs     map[string]net.Addr

	ctx          context.Context
	cancel       context.CancelFunc
	stop         chan struct{}
	stopOnce     sync.Once
	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a Server from cfg. Configured channels are created and
// persisted bans are loaded; nothing listens until Start.
func New(cfg config.Config, deps Dependencies) (*Server, error) {
	if deps.Store == nil {
		deps.Store = datastore.NewMemory()
	}
	if deps.Audit == nil {
		deps.Audit = logging.NewAudit(io.Discard, 0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := NewMetrics()
	srv := &Server{
		cfg:     cfg,
		name:    cfg.Server.Name,
		created: time.Now(),
		reg:     NewRegistry(m, deps.Audit),
		metrics: m,
		prom:    prometheus.NewRegistry(),
		store:   deps.Store,
		audit:   deps.Audit,
		conns:   make(map[*Session]struct{}),
		addrs:   make(map[string]net.Addr),
		ctx:     ctx,
		cancel:  cancel,
		stop:    make(chan struct{}),
	}
	srv.admin = &Admin{srv: srv}

	if err := m.Register(srv.prom); err != nil {
		cancel()
		return nil, fmt.Errorf("server: register metrics: %w", err)
	}
	srv.prom.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	bans, err := deps.Store.ListBans(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("server: load bans: %w", err)
	}

	srv.reg.do(func() {
		for _, ch := range cfg.Channels {
			name := model.NormalizeChannelName(ch.Name)
			srv.reg.ensureChannelLocked(name, ch.Topic)
		}
		for _, b := range bans {
			srv.reg.addBanLocked(b)
		}
	})
	slog.Info("server initialised", "name", srv.name, "channels", len(cfg.Channels), "bans", len(bans))
	return srv, nil
}

// Admin returns the operator API shared by the console and HTTP surfaces.
func (srv *Server) Admin() *Admin { return srv.admin }

// Metrics returns the server metrics.
func (srv *Server) Metrics() *Metrics { return srv.metrics }

// Gatherer returns the Prometheus registry backing /metrics.
func (srv *Server) Gatherer() prometheus.Gatherer { return srv.prom }

// Addr returns the bound address of the named listener ("tcp", "tls",
// "websocket" or "admin"), or nil if it is not running.
func (srv *Server) Addr(name string) net.Addr {
	srv.lnMu.Lock()
	defer srv.lnMu.Unlock()
	return srv.addrs[name]
}

// Start opens every configured listener and returns once they are bound.
func (srv *Server) Start() error {
	sc := srv.cfg.Server

	ln, err := net.Listen("tcp", sc.Listen)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	srv.serveStream("tcp", ln)

	if sc.TLSListen != "" {
		tcfg, err := tlsConfig(sc)
		if err != nil {
			srv.closeListeners()
			return err
		}
		ln, err := tls.Listen("tcp", sc.TLSListen, tcfg)
		if err != nil {
			srv.closeListeners()
			return fmt.Errorf("server: listen tls: %w", err)
		}
		srv.serveStream("tls", ln)
	}

	if sc.WebSocketListen != "" {
		mux := http.NewServeMux()
		mux.Handle(sc.WebSocketPath, srv.WebSocketHandler())
		if err := srv.serveHTTP("websocket", sc.WebSocketListen, mux); err != nil {
			srv.closeListeners()
			return err
		}
	}

	if srv.cfg.Admin.Listen != "" {
		api, err := NewAdminHTTP(srv.admin, srv.cfg.Admin.Operators, srv.prom)
		if err != nil {
			srv.closeListeners()
			return err
		}
		if err := srv.serveHTTP("admin", srv.cfg.Admin.Listen, api); err != nil {
			srv.closeListeners()
			return err
		}
	}

	srv.metrics.StartPeriodicLog(60*time.Second, srv.ctx.Done())
	return nil
}

func (srv *Server) serveStream(name string, ln net.Listener) {
	srv.lnMu.Lock()
	srv.listeners = append(srv.listeners, ln)
	srv.addrs[name] = ln.Addr()
	srv.lnMu.Unlock()

	slog.Info("listening", "transport", name, "addr", ln.Addr().String())
	srv.wg.Add(1)
	go srv.acceptLoop(name, ln)
}

func (srv *Server) acceptLoop(transport string, ln net.Listener) {
	defer srv.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || srv.ctx.Err() != nil {
				return
			}
			slog.Error("accept error", "transport", transport, "err", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		go srv.ServeConn(conn, transport)
	}
}

func (srv *Server) serveHTTP(name, addr string, h http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", name, err)
	}
	hs := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv.lnMu.Lock()
	srv.https = append(srv.https, hs)
	srv.addrs[name] = ln.Addr()
	srv.lnMu.Unlock()

	slog.Info("listening", "transport", name, "addr", ln.Addr().String())
	go func() {
		if err := hs.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "listener", name, "err", err)
		}
	}()
	return nil
}

func (srv *Server) closeListeners() {
	srv.lnMu.Lock()
	defer srv.lnMu.Unlock()
	for _, ln := range srv.listeners {
		_ = ln.Close()
	}
	srv.listeners = nil
	for _, hs := range srv.https {
		_ = hs.Close()
	}
	srv.https = nil
}

// Run starts the server and blocks until ctx is cancelled or an operator
// requests shutdown, then shuts down within the configured grace period.
func (srv *Server) Run(ctx context.Context) error {
	if err := srv.Start(); err != nil {
		return err
	}
	slog.Info("gorelay server running", "name", srv.name, "listen", srv.cfg.Server.Listen)

	select {
	case <-ctx.Done():
	case <-srv.stop:
	}

	slog.Info("shutting down...")
	grace := srv.cfg.Admin.ShutdownGrace
	if grace <= 0 {
		grace = 5 * time.Second
	}
	sctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	return srv.Shutdown(sctx)
}

// RequestShutdown asks Run to stop. It returns immediately.
func (srv *Server) RequestShutdown() {
	srv.stopOnce.Do(func() { close(srv.stop) })
}

// Shutdown notifies every client, closes all listeners and connections and
// waits for session goroutines to exit. Streams still open when ctx expires
// are closed forcibly. Only the first call does any work.
func (srv *Server) Shutdown(ctx context.Context) error {
	srv.shutdownOnce.Do(func() {
		srv.shutdownErr = srv.shutdown(ctx)
	})
	return srv.shutdownErr
}

func (srv *Server) shutdown(ctx context.Context) error {
	srv.RequestShutdown()

	srv.reg.do(func() {
		srv.reg.closing = true
		for _, s := range srv.reg.sessions {
			srv.reg.sendMsgLocked(s, protocol.Notice(srv.name, s.target(), "Server shutting down"))
			srv.reg.teardownLocked(s, "Server shutting down")
		}
	})

	srv.lnMu.Lock()
	for _, ln := range srv.listeners {
		_ = ln.Close()
	}
	https := srv.https
	srv.lnMu.Unlock()
	for _, hs := range https {
		if err := hs.Shutdown(ctx); err != nil {
			_ = hs.Close()
		}
	}
	srv.cancel()

	done := make(chan struct{})
	go func() {
		srv.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("shutdown grace expired, closing remaining connections")
		srv.closeConns()
		<-done
		err = fmt.Errorf("server: shutdown: %w", ctx.Err())
	}

	if cerr := srv.store.Close(); cerr != nil {
		slog.Error("close ban store", "err", cerr)
	}
	if cerr := srv.audit.Close(); cerr != nil {
		slog.Error("close audit log", "err", cerr)
	}
	slog.Info("server stopped")
	return err
}
