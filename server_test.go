package promptline

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"pkt.systems/promptline/core"
	"pkt.systems/promptline/internal/shell"
	"pkt.systems/promptline/schema"
	"pkt.systems/pslog"
)

type logCapture struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (c *logCapture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

type logEntry struct {
	Message string
	Fields  map[string]any
}

func (c *logCapture) Entries() []logEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	var entries []logEntry
	for _, line := range strings.Split(c.buf.String(), "\n") {
		payload := map[string]any{}
		if err := json.Unmarshal([]byte(line), &payload); err != nil {
			continue
		}
		message, _ := payload["msg"].(string)
		if value, ok := payload["message"].(string); ok {
			message = value
		}
		entries = append(entries, logEntry{Message: message, Fields: payload})
	}
	return entries
}

func (c *logCapture) has(message, key, value string) bool {
	for _, entry := range c.Entries() {
		if entry.Message == message && entry.Fields[key] == value {
			return true
		}
	}
	return false
}

type phaseSink struct {
	mu     sync.Mutex
	phases []schema.PhaseEvent
}

func (s *phaseSink) OnTranscript(schema.TranscriptEvent) {}
func (s *phaseSink) OnBoundary(schema.BoundaryEvent)     {}
func (s *phaseSink) OnCommand(schema.CommandEvent)       {}
func (s *phaseSink) OnDirectory(schema.DirectoryEvent)   {}
func (s *phaseSink) OnPhase(ev schema.PhaseEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phases = append(s.phases, ev)
}

func testServerConfig(t *testing.T) ServerConfig {
	t.Helper()
	dir := t.TempDir()
	return ServerConfig{
		Session: schema.SessionConfig{HostLabel: "box", HomeDir: dir},
		Shell:   shell.Config{Path: "/bin/sh", Args: []string{"-c"}, WorkingDir: dir},
	}
}

func captureContext() (context.Context, *logCapture) {
	capture := &logCapture{}
	logger := pslog.NewWithOptions(capture, pslog.Options{
		Mode:          pslog.ModeStructured,
		NoColor:       true,
		VerboseFields: true,
		MinLevel:      pslog.DebugLevel,
	})
	return pslog.ContextWithLogger(context.Background(), logger), capture
}

func transcriptText(t *testing.T, session *core.Session) string {
	t.Helper()
	snap, err := session.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	var b strings.Builder
	for _, run := range snap.Runs {
		b.WriteString(run.Text)
	}
	return b.String()
}

func waitForText(t *testing.T, session *core.Session, suffix string) string {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		text := transcriptText(t, session)
		if strings.HasSuffix(text, suffix) {
			return text
		}
		select {
		case <-deadline:
			t.Fatalf("timeout waiting for %q, transcript %q", suffix, text)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestSessionManagerRunsCommands(t *testing.T) {
	ctx, capture := captureContext()
	sink := &phaseSink{}
	manager := NewSessionManager(testServerConfig(t), sink, nil)
	manager.Bind(ctx)

	session, release, err := manager.Open(ctx, "Alice")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer release()
	if !strings.HasPrefix(string(session.ID()), "alice-") {
		t.Fatalf("expected session id for alice, got %q", session.ID())
	}
	if got := transcriptText(t, session); got != "box: " {
		t.Fatalf("expected initial prompt, got %q", got)
	}
	snap, err := session.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if _, err := session.Propose(ctx, snap.Length, snap.Length, "echo hi"); err != nil {
		t.Fatalf("propose: %v", err)
	}
	if d, err := session.Propose(ctx, snap.Length+7, snap.Length+7, "\n"); err != nil || d != core.DecisionSubmit {
		t.Fatalf("expected submit, got %v (%v)", d, err)
	}
	text := waitForText(t, session, "hi\nbox: ")
	if text != "box: echo hi\nhi\nbox: " {
		t.Fatalf("unexpected transcript %q", text)
	}
	if !capture.has("command audit", "command", "echo hi") {
		t.Fatalf("expected command audit entry")
	}

	sink.mu.Lock()
	phases := append([]schema.PhaseEvent(nil), sink.phases...)
	sink.mu.Unlock()
	if len(phases) != 2 || phases[1].ExitCode == nil || *phases[1].ExitCode != 0 {
		t.Fatalf("expected blocked then completed phase events, got %+v", phases)
	}
}

func TestSessionManagerAuditDisabled(t *testing.T) {
	ctx, capture := captureContext()
	cfg := testServerConfig(t)
	cfg.DisableAuditLogging = true
	manager := NewSessionManager(cfg, nil, nil)
	manager.Bind(ctx)
	session, release, err := manager.Open(ctx, "bob")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer release()
	if err := session.SetCurrentCommand(ctx, "true"); err != nil {
		t.Fatalf("set command: %v", err)
	}
	snap, err := session.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if _, err := session.Propose(ctx, snap.Length, snap.Length, "\n"); err != nil {
		t.Fatalf("propose: %v", err)
	}
	waitForText(t, session, "true\nbox: ")
	if capture.has("command audit", "command", "true") {
		t.Fatalf("expected no command audit entry")
	}
}

func TestSessionManagerReleaseStopsSession(t *testing.T) {
	manager := NewSessionManager(testServerConfig(t), nil, nil)
	session, release, err := manager.Open(context.Background(), "carol")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	release()
	release()
	select {
	case <-session.Done():
	case <-time.After(time.Second):
		t.Fatalf("expected session loop to stop")
	}
	if _, err := session.Snapshot(context.Background()); err == nil {
		t.Fatalf("expected closed session to refuse calls")
	}
	if n := manager.CloseAll(); n != 0 {
		t.Fatalf("expected no live sessions, got %d", n)
	}
}

func TestServerStopClosesSessions(t *testing.T) {
	manager := NewSessionManager(testServerConfig(t), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	manager.Bind(ctx)
	session, _, err := manager.Open(ctx, "dave")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	server := &compositeServer{
		sessions: manager,
		ctx:      ctx,
		cancel:   cancel,
		started:  true,
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	if err := server.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-session.Done():
	default:
		t.Fatalf("expected session to be stopped")
	}
	select {
	case <-ctx.Done():
	default:
		t.Fatalf("expected server context to be canceled")
	}
}

func TestNewRequiresShell(t *testing.T) {
	cfg := testServerConfig(t)
	cfg.Shell.Path = ""
	if _, err := New(cfg, ServerDeps{}); err == nil {
		t.Fatalf("expected error without shell path")
	}
}

func TestSessionManagerKeepsUserState(t *testing.T) {
	cfg := testServerConfig(t)
	work := t.TempDir()
	state, err := OpenStateStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("state store: %v", err)
	}
	manager := NewSessionManager(cfg, nil, state)
	ctx := context.Background()

	session, release, err := manager.Open(ctx, "erin")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := session.SetCurrentCommand(ctx, "cd "+work); err != nil {
		t.Fatalf("set command: %v", err)
	}
	snap, err := session.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if _, err := session.Propose(ctx, snap.Length, snap.Length, "\n"); err != nil {
		t.Fatalf("propose: %v", err)
	}
	waitForText(t, session, "\nbox: ")
	release()

	saved, ok, err := state.Load("erin")
	if err != nil || !ok {
		t.Fatalf("load state: ok=%v err=%v", ok, err)
	}
	if len(saved.History) != 1 || saved.History[0] != "cd "+work || saved.WorkingDir != work {
		t.Fatalf("unexpected saved state %+v", saved)
	}

	session, release, err = manager.Open(ctx, "erin")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer release()
	history, err := session.History(ctx)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0] != "cd "+work {
		t.Fatalf("expected restored history, got %q", history)
	}
	snap, err = session.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.WorkingDir != work {
		t.Fatalf("expected restored working dir %q, got %q", work, snap.WorkingDir)
	}
}

func TestSessionManagerSavesStateAfterServerCancel(t *testing.T) {
	state, err := OpenStateStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("state store: %v", err)
	}
	manager := NewSessionManager(testServerConfig(t), nil, state)
	ctx, cancel := context.WithCancel(context.Background())
	manager.Bind(ctx)

	session, _, err := manager.Open(ctx, "gina")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := session.Submit(ctx, "true"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitForText(t, session, "box: true\nbox: ")
	cancel()
	select {
	case <-session.Done():
		t.Fatalf("session loop stopped with the server context")
	case <-time.After(50 * time.Millisecond):
	}
	if n := manager.CloseAll(); n != 1 {
		t.Fatalf("expected one live session, got %d", n)
	}

	saved, ok, err := state.Load("gina")
	if err != nil || !ok {
		t.Fatalf("load state: ok=%v err=%v", ok, err)
	}
	if len(saved.History) != 1 || saved.History[0] != "true" {
		t.Fatalf("expected history to be saved, got %+v", saved)
	}
}

func TestOpenStateStoreDisabled(t *testing.T) {
	store, err := OpenStateStore("", nil)
	if err != nil || store != nil {
		t.Fatalf("expected no store, got %v (%v)", store, err)
	}
}

func TestServerWiresHTTPAPI(t *testing.T) {
	cfg := testServerConfig(t)
	cfg.HTTP.Addr = "127.0.0.1:0"
	built, err := New(cfg, ServerDeps{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := built.(*compositeServer)
	if srv.httpSrv == nil {
		t.Fatalf("expected http api to be configured")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv.sessions.Bind(ctx)
	session, release, err := srv.sessions.Open(ctx, "erin")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	api := httptest.NewServer(srv.httpSrv.Handler())
	defer api.Close()

	resp, err := http.Get(api.URL + "/api/sessions")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var list struct {
		Sessions []struct {
			ID   string `json:"id"`
			User string `json:"user"`
		} `json:"sessions"`
	}
	err = json.NewDecoder(resp.Body).Decode(&list)
	_ = resp.Body.Close()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Sessions) != 1 || list.Sessions[0].ID != string(session.ID()) || list.Sessions[0].User != "erin" {
		t.Fatalf("unexpected sessions %+v", list)
	}

	resp, err = http.Post(api.URL+"/api/sessions/"+string(session.ID())+"/command", "application/json", strings.NewReader(`{"command":"echo web"}`))
	if err != nil {
		t.Fatalf("command: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("unexpected command status %d", resp.StatusCode)
	}
	waitForText(t, session, "box: echo web\nweb\nbox: ")

	if len(srv.httpSrv.Hub().Replay(session.ID(), 0, ^uint64(0))) == 0 {
		t.Fatalf("expected session events in the hub")
	}
	release()
	if events := srv.httpSrv.Hub().Replay(session.ID(), 0, ^uint64(0)); events != nil {
		t.Fatalf("expected hub history dropped on release, got %d events", len(events))
	}
	resp, err = http.Get(api.URL + "/api/sessions/" + string(session.ID()))
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected released session to be gone, got %d", resp.StatusCode)
	}
}

func TestServerWithoutHTTPAPI(t *testing.T) {
	built, err := New(testServerConfig(t), ServerDeps{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if built.(*compositeServer).httpSrv != nil {
		t.Fatalf("expected http api disabled without an address")
	}
}

func TestSessionManagerUserHomes(t *testing.T) {
	cfg := testServerConfig(t)
	base := t.TempDir()
	cfg.HomeRoot = filepath.Join(base, "homes")
	cfg.SkelDir = filepath.Join(base, "skel")
	if err := os.MkdirAll(cfg.SkelDir, 0o700); err != nil {
		t.Fatalf("skel: %v", err)
	}
	if err := os.WriteFile(filepath.Join(cfg.SkelDir, "motd.tmpl"), []byte("hi {{ .User }}\n"), 0o600); err != nil {
		t.Fatalf("skel write: %v", err)
	}
	manager := NewSessionManager(cfg, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	manager.Bind(ctx)

	session, release, err := manager.Open(ctx, "frank")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer release()
	if d, err := session.Submit(ctx, "pwd; cat motd; echo $HOME"); err != nil || d != core.DecisionSubmit {
		t.Fatalf("submit: %s %v", d, err)
	}
	waitForText(t, session, "box: pwd; cat motd; echo $HOME\n~\nhi frank\n~\nbox: ")

	if _, _, err := manager.Open(ctx, "../escape"); err == nil {
		t.Fatalf("expected error for a user name that is not a path element")
	}
}
