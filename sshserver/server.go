package sshserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	gliderssh "github.com/gliderlabs/ssh"
	"golang.org/x/crypto/ssh"

	"pkt.systems/promptline/core"
	"pkt.systems/promptline/internal/eventbus"
	"pkt.systems/promptline/internal/logx"
	"pkt.systems/pslog"
)

// SessionOpener creates a running session for a newly connected user. The
// returned release func stops it once the connection goes away.
type SessionOpener interface {
	Open(ctx context.Context, user string) (*core.Session, func(), error)
}

// Server exposes promptline sessions over SSH, one session per connection.
type Server struct {
	Addr               string
	HostKeyPath        string
	AuthorizedKeysPath string
	Theme              string
	Listener           net.Listener
	Sessions           SessionOpener
	EventBus           *eventbus.Bus
	logger             pslog.Logger

	keysMu sync.RWMutex
	keys   []ssh.PublicKey
}

// New builds a server from cfg.
func New(cfg Config, sessions SessionOpener, bus *eventbus.Bus) *Server {
	return &Server{
		Addr:               cfg.Addr,
		HostKeyPath:        cfg.HostKeyPath,
		AuthorizedKeysPath: cfg.AuthorizedKeysPath,
		Theme:              cfg.Theme,
		Sessions:           sessions,
		EventBus:           bus,
	}
}

// ListenAndServe starts the SSH server and shuts down on context cancellation.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.logger == nil {
		s.logger = pslog.Ctx(ctx)
	}
	if s.Sessions == nil {
		return errors.New("session opener is required for SSH")
	}
	signer, err := EnsureHostKey(s.HostKeyPath)
	if err != nil {
		return err
	}
	if err := s.ReloadAuthorizedKeys(); err != nil {
		return err
	}

	server := &gliderssh.Server{
		Addr:             s.Addr,
		Handler:          s.handleSession,
		PublicKeyHandler: s.handlePublicKey,
	}
	server.AddHostKey(signer)

	errCh := make(chan error, 1)
	go func() {
		if s.Listener != nil {
			errCh <- server.Serve(s.Listener)
			return
		}
		errCh <- server.ListenAndServe()
	}()
	s.logger.Info("ssh listening", "addr", s.listenAddr(), "fingerprint", ssh.FingerprintSHA256(signer.PublicKey()))

	select {
	case <-ctx.Done():
		_ = server.Close()
		return nil
	case err := <-errCh:
		if errors.Is(err, gliderssh.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// ReloadAuthorizedKeys re-reads the authorized keys file.
func (s *Server) ReloadAuthorizedKeys() error {
	keys, err := LoadAuthorizedKeys(s.AuthorizedKeysPath)
	if err != nil {
		return err
	}
	s.keysMu.Lock()
	s.keys = keys
	s.keysMu.Unlock()
	if s.logger != nil {
		s.logger.Debug("ssh authorized keys loaded", "path", s.AuthorizedKeysPath, "count", len(keys))
	}
	return nil
}

func (s *Server) listenAddr() string {
	if s.Listener != nil {
		return s.Listener.Addr().String()
	}
	return s.Addr
}

func (s *Server) handlePublicKey(ctx gliderssh.Context, key gliderssh.PublicKey) bool {
	log := s.logger
	if log == nil {
		log = pslog.Ctx(ctx)
	}
	log = logx.WithRemote(log, ctx.User(), remoteAddr(ctx)).With("fingerprint", ssh.FingerprintSHA256(key))
	if ctx.User() == "" {
		log.Warn("ssh pubkey rejected", "reason", "missing user")
		return false
	}
	s.keysMu.RLock()
	ok := keyAuthorized(s.keys, key)
	s.keysMu.RUnlock()
	if !ok {
		log.Warn("ssh pubkey rejected", "reason", "no matching key")
		return false
	}
	log.Info("ssh pubkey accepted")
	return true
}

func remoteAddr(ctx gliderssh.Context) string {
	if ctx == nil || ctx.RemoteAddr() == nil {
		return ""
	}
	return ctx.RemoteAddr().String()
}

func (s *Server) handleSession(sess gliderssh.Session) {
	log := s.logger
	if log == nil {
		log = pslog.Ctx(sess.Context())
	}
	remote := sess.RemoteAddr().String()
	log = logx.WithRemote(log, sess.User(), remote)
	if id := sess.Context().SessionID(); id != "" {
		log = log.With("ssh_session", id)
	}

	pty, winCh, ok := sess.Pty()
	if !ok {
		log.Info("ssh session rejected", "reason", "pty required")
		_, _ = io.WriteString(sess, "pty required\n")
		_ = sess.Exit(1)
		return
	}

	ctx := logx.ContextWithRemote(pslog.ContextWithLogger(sess.Context(), log), remote)
	session, release, err := s.Sessions.Open(ctx, sess.User())
	if err != nil {
		log.Error("ssh session open failed", "err", err)
		_, _ = io.WriteString(sess, fmt.Sprintf("session unavailable: %v\n", err))
		_ = sess.Exit(1)
		return
	}
	defer release()
	log = logx.WithSession(log, session.ID())
	ctx = logx.ContextWithSessionLogger(ctx, log, session.ID())

	var events <-chan eventbus.Event
	if s.EventBus != nil {
		var unsubscribe func()
		events, unsubscribe = s.EventBus.Subscribe(session.ID())
		defer unsubscribe()
	}

	log.Info("ssh session opened", "term", pty.Term)
	ui := newTerminalSession(sess, sess, session, events, themeForName(s.Theme))
	ui.SetSize(pty.Window.Width, pty.Window.Height)
	if err := ui.Run(ctx, winCh); err != nil {
		log.Warn("ssh session ended with error", "err", err)
	}
	_ = sess.Exit(0)
	log.Info("ssh session closed", "term", pty.Term)
}
