package promptline

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"

	"pkt.systems/promptline/core"
	"pkt.systems/promptline/httpapi"
	"pkt.systems/promptline/internal/eventbus"
	"pkt.systems/promptline/internal/persist"
	"pkt.systems/promptline/internal/shell"
	"pkt.systems/promptline/schema"
	"pkt.systems/promptline/sshserver"
	"pkt.systems/pslog"
)

// Server composes the SSH surface and the optional HTTP API over shell-backed
// sessions.
type Server interface {
	Start(ctx context.Context) error
	Wait() error
	Stop(ctx context.Context) error
}

// ServerConfig configures the compositor.
type ServerConfig struct {
	Session schema.SessionConfig
	Shell   shell.Config
	SSH     sshserver.Config
	HTTP    httpapi.Config
	// StateDir keeps per-user history between sessions; empty disables it.
	StateDir string
	// HomeRoot, when set, gives every user a private home under it, seeded
	// from SkelDir on first use.
	HomeRoot            string
	SkelDir             string
	DisableAuditLogging bool
}

// ServerDeps captures optional collaborators.
type ServerDeps struct {
	Logger pslog.Logger
	// EventSink receives every session event next to the SSH event bus.
	EventSink core.EventSink
	// HTTPListener, when set, serves the HTTP API instead of listening on HTTP.Addr.
	HTTPListener net.Listener
}

// New constructs a composable promptline server.
func New(cfg ServerConfig, deps ServerDeps) (Server, error) {
	normalized, err := schema.NormalizeSessionConfig(cfg.Session)
	if err != nil {
		return nil, err
	}
	cfg.Session = normalized
	if cfg.Shell.Path == "" {
		return nil, errors.New("shell path is required")
	}

	bus := eventbus.New(deps.Logger)
	var sinks []core.EventSink
	if deps.EventSink != nil {
		sinks = append(sinks, deps.EventSink)
	}
	var hub *httpapi.Hub
	httpEnabled := cfg.HTTP.Addr != "" || deps.HTTPListener != nil
	if httpEnabled {
		hub = httpapi.NewHub(cfg.HTTP.HistorySize)
		sinks = append(sinks, hub)
	}
	var sink core.EventSink = bus
	if len(sinks) > 0 {
		sink = eventFanout{sinks: append(sinks, bus)}
	}
	state, err := OpenStateStore(cfg.StateDir, deps.Logger)
	if err != nil {
		return nil, err
	}
	sessions := NewSessionManager(cfg, sink, state)
	srv := &compositeServer{
		cfg:      cfg,
		sessions: sessions,
		sshSrv:   sshserver.New(cfg.SSH, sessions, bus),
	}
	if httpEnabled {
		sessions.OnRelease(hub.Forget)
		srv.httpSrv = httpapi.NewServer(cfg.HTTP, sessions, hub)
		srv.httpLn = deps.HTTPListener
	}
	return srv, nil
}

// OpenStateStore opens the per-user state directory, or returns nil when dir
// is empty.
func OpenStateStore(dir string, logger pslog.Logger) (*persist.Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, nil
	}
	return persist.NewStoreWithLogger(dir, logger)
}

type compositeServer struct {
	cfg      ServerConfig
	sessions *SessionManager
	sshSrv   *sshserver.Server
	httpSrv  *httpapi.Server
	httpLn   net.Listener
	logger   pslog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	errCh   chan error
	started bool
}

func (s *compositeServer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		pslog.Ctx(ctx).Warn("server start rejected", "reason", "already started")
		return errors.New("server already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.errCh = make(chan error, 2)
	s.started = true
	s.logger = pslog.Ctx(s.ctx)
	s.mu.Unlock()

	log := s.logger
	log.Info(
		"server start",
		"ssh_addr", s.cfg.SSH.Addr,
		"http_addr", s.cfg.HTTP.Addr,
		"shell", s.cfg.Shell.Path,
		"host_label", s.cfg.Session.HostLabel,
		"audit", !s.cfg.DisableAuditLogging,
		"home_root", s.cfg.HomeRoot,
	)
	s.sessions.Bind(s.ctx)
	go func() {
		if err := s.sshSrv.ListenAndServe(s.ctx); err != nil {
			log.Error("ssh server failed", "err", err)
			s.errCh <- err
		}
	}()
	if s.httpSrv != nil {
		go func() {
			var err error
			if s.httpLn != nil {
				err = httpapi.Serve(s.ctx, s.httpLn, s.httpSrv.Handler())
			} else {
				err = httpapi.ListenAndServe(s.ctx, s.cfg.HTTP.Addr, s.httpSrv.Handler())
			}
			if err != nil {
				log.Error("http server failed", "err", err)
				s.errCh <- err
			}
		}()
	}
	return nil
}

func (s *compositeServer) Wait() error {
	s.mu.Lock()
	ctx := s.ctx
	errCh := s.errCh
	started := s.started
	s.mu.Unlock()
	if !started {
		return errors.New("server not started")
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil {
			pslog.Ctx(ctx).Error("server stopped", "err", err)
			_ = s.Stop(context.Background())
			return err
		}
		return nil
	}
}

func (s *compositeServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	started := s.started
	log := s.logger
	s.mu.Unlock()
	if !started {
		return nil
	}
	if log == nil {
		log = pslog.Ctx(context.Background())
	}
	log.Info("server stop requested")
	if n := s.sessions.CloseAll(); n > 0 {
		log.Info("server sessions closed", "count", n)
	}
	if cancel != nil {
		cancel()
	}
	if ctx == nil {
		log.Info("server stop completed")
		return nil
	}
	select {
	case <-ctx.Done():
		log.Warn("server stop timed out", "err", ctx.Err())
		return ctx.Err()
	case <-s.ctx.Done():
		log.Info("server stopped")
		return nil
	}
}
