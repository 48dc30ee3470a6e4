package promptline

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"pkt.systems/promptline/core"
	"pkt.systems/promptline/internal/logx"
	"pkt.systems/promptline/internal/persist"
	"pkt.systems/promptline/internal/shell"
	"pkt.systems/promptline/internal/userhome"
	"pkt.systems/promptline/schema"
	"pkt.systems/pslog"
)

// SessionManager opens one shell-backed session per connection and tears
// them down when the connection or the server goes away.
type SessionManager struct {
	cfg   ServerConfig
	sink  core.EventSink
	state *persist.Store

	mu       sync.Mutex
	base     context.Context
	live     map[schema.SessionID]*liveSession
	released []func(schema.SessionID)
}

type liveSession struct {
	user    string
	opened  time.Time
	session *core.Session
	backend *shell.Backend
	cancel  context.CancelFunc
	once    sync.Once
}

// NewSessionManager returns a manager whose sessions report to sink. When
// state is nil, history and working directory are not kept between sessions.
func NewSessionManager(cfg ServerConfig, sink core.EventSink, state *persist.Store) *SessionManager {
	return &SessionManager{
		cfg:   cfg,
		sink:  sink,
		state: state,
		base:  context.Background(),
		live:  make(map[schema.SessionID]*liveSession),
	}
}

// Bind makes ctx the parent of every session loop started afterwards. Only its
// values are inherited: loops stop on release or CloseAll, so state is saved
// after the server context is cancelled.
func (m *SessionManager) Bind(ctx context.Context) {
	m.mu.Lock()
	m.base = ctx
	m.mu.Unlock()
}

// Open implements sshserver.SessionOpener.
func (m *SessionManager) Open(ctx context.Context, user string) (*core.Session, func(), error) {
	id := core.NewSessionID(user)
	log := logx.WithSession(pslog.Ctx(ctx), id)
	state := m.loadState(user, log)
	sessionCfg := m.cfg.Session
	shellCfg := m.cfg.Shell
	if m.cfg.HomeRoot != "" {
		home, err := userhome.EnsureHome(m.cfg.HomeRoot, user, m.cfg.SkelDir, userhome.TemplateData{HostLabel: sessionCfg.HostLabel})
		if err != nil {
			return nil, nil, fmt.Errorf("user home: %w", err)
		}
		log.Debug("session home", "path", home)
		sessionCfg.HomeDir = home
		shellCfg.WorkingDir = home
		shellCfg.Env = withEnv(shellCfg.Env, "HOME", home)
	}
	if isDir(state.WorkingDir) {
		shellCfg.WorkingDir = state.WorkingDir
	}
	backend, err := shell.New(shellCfg)
	if err != nil {
		return nil, nil, err
	}
	session, err := core.NewSession(id, sessionCfg, core.SessionDeps{
		Backend:   backend,
		Delegate:  auditDelegate{user: user, disabled: m.cfg.DisableAuditLogging},
		EventSink: m.sink,
		Logger:    log,
		History:   state.History,
	})
	if err != nil {
		_ = backend.Close()
		return nil, nil, err
	}

	m.mu.Lock()
	runCtx, cancel := context.WithCancel(logx.CopyContextFields(logx.ContextWithSessionLogger(context.WithoutCancel(m.base), log, id), ctx))
	live := &liveSession{user: user, opened: time.Now(), session: session, backend: backend, cancel: cancel}
	m.live[id] = live
	count := len(m.live)
	m.mu.Unlock()

	go func() { _ = session.Run(runCtx) }()
	if err := session.Start(ctx); err != nil {
		m.release(id, live)
		return nil, nil, err
	}
	log.Info("session opened", "user", user, "remote", logx.RemoteFromContext(ctx), "live", count)
	return session, func() { m.release(id, live) }, nil
}

func (m *SessionManager) release(id schema.SessionID, live *liveSession) {
	live.once.Do(func() {
		m.mu.Lock()
		delete(m.live, id)
		m.mu.Unlock()
		m.saveState(live)
		if err := live.backend.Close(); err != nil {
			pslog.Ctx(context.Background()).With("session", id).Warn("session backend close failed", "err", err)
		}
		live.cancel()
		<-live.session.Done()
		m.mu.Lock()
		hooks := append([]func(schema.SessionID){}, m.released...)
		m.mu.Unlock()
		for _, fn := range hooks {
			fn(id)
		}
	})
}

// OnRelease registers fn to run after a session has been torn down.
func (m *SessionManager) OnRelease(fn func(schema.SessionID)) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.released = append(m.released, fn)
	m.mu.Unlock()
}

// Sessions lists live sessions, oldest first.
func (m *SessionManager) Sessions() []schema.SessionInfo {
	m.mu.Lock()
	out := make([]schema.SessionInfo, 0, len(m.live))
	for id, live := range m.live {
		out = append(out, schema.SessionInfo{ID: id, User: live.user, Opened: live.opened})
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Opened.Equal(out[j].Opened) {
			return out[i].ID < out[j].ID
		}
		return out[i].Opened.Before(out[j].Opened)
	})
	return out
}

// Lookup returns the live session with the given id.
func (m *SessionManager) Lookup(id schema.SessionID) (*core.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	live, ok := m.live[id]
	if !ok {
		return nil, false
	}
	return live.session, true
}

func (m *SessionManager) loadState(user string, log pslog.Logger) persist.UserState {
	if m.state == nil {
		return persist.UserState{}
	}
	state, _, err := m.state.Load(user)
	if err != nil {
		log.Warn("session state ignored", "err", err)
		return persist.UserState{}
	}
	return state
}

func (m *SessionManager) saveState(live *liveSession) {
	if m.state == nil {
		return
	}
	history, err := live.session.History(context.Background())
	if err != nil {
		pslog.Ctx(context.Background()).With("session", live.session.ID()).Warn("session state not saved", "err", err)
		return
	}
	state := persist.UserState{History: history, WorkingDir: live.backend.WorkingDirectory()}
	if err := m.state.Save(live.user, state); err != nil {
		pslog.Ctx(context.Background()).With("session", live.session.ID()).Warn("session state save failed", "err", err)
	}
}

func withEnv(env map[string]string, key, value string) map[string]string {
	out := make(map[string]string, len(env)+1)
	for k, v := range env {
		out[k] = v
	}
	out[key] = value
	return out
}

func isDir(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// CloseAll releases every live session and reports how many there were.
func (m *SessionManager) CloseAll() int {
	m.mu.Lock()
	all := make(map[schema.SessionID]*liveSession, len(m.live))
	for id, live := range m.live {
		all[id] = live
	}
	m.mu.Unlock()
	for id, live := range all {
		m.release(id, live)
	}
	return len(all)
}

// auditDelegate records submitted commands and directory changes.
type auditDelegate struct {
	user     string
	disabled bool
}

func (d auditDelegate) DidEnterCommand(ctx context.Context, command string) {
	if d.disabled {
		return
	}
	pslog.Ctx(ctx).Info("command audit", "user", d.user, "command", command)
}

func (d auditDelegate) DidChangeCurrentWorkingDirectory(ctx context.Context, path string) {
	pslog.Ctx(ctx).Debug("session directory", "user", d.user, "path", path)
}
