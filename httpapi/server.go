package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pkt.systems/promptline/core"
	"pkt.systems/promptline/internal/logx"
	"pkt.systems/promptline/schema"
	"pkt.systems/pslog"
)

// SessionDirectory exposes the live sessions the API may observe and drive.
type SessionDirectory interface {
	Sessions() []schema.SessionInfo
	Lookup(id schema.SessionID) (*core.Session, bool)
}

// SnapshotPayload is the JSON view of a session.
type SnapshotPayload struct {
	SessionID  schema.SessionID `json:"session_id"`
	Text       string           `json:"text"`
	Truncated  bool             `json:"truncated,omitempty"`
	Length     int              `json:"length"`
	Boundary   int              `json:"boundary"`
	Valid      bool             `json:"valid"`
	Pending    string           `json:"pending"`
	Phase      schema.Phase     `json:"phase"`
	WorkingDir string           `json:"working_dir,omitempty"`
}

type sessionView struct {
	ID     schema.SessionID `json:"id"`
	User   string           `json:"user"`
	Opened time.Time        `json:"opened_at"`
}

type commandRequest struct {
	Command string `json:"command"`
}

// Server serves the HTTP control API.
type Server struct {
	cfg      Config
	sessions SessionDirectory
	hub      *Hub
	basePath string
}

// NewServer constructs an HTTP server.
func NewServer(cfg Config, sessions SessionDirectory, hub *Hub) *Server {
	if hub == nil {
		hub = NewHub(cfg.HistorySize)
	}
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		hub:      hub,
		basePath: normalizeBasePath(cfg.BasePath),
	}
}

// Hub returns the event hub the server streams from.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns an http.Handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/sessions", s.requireToken(s.handleSessions))
	mux.HandleFunc("GET /api/sessions/{id}", s.requireSession(s.handleSnapshot))
	mux.HandleFunc("POST /api/sessions/{id}/command", s.requireSession(s.handleCommand))
	mux.HandleFunc("POST /api/sessions/{id}/interrupt", s.requireSession(s.handleInterrupt))
	mux.HandleFunc("GET /api/sessions/{id}/stream", s.requireSession(s.handleStream))

	handler := withRequestLogging(mux, sessionFromPath)
	if s.basePath == "" {
		return handler
	}
	prefix := s.basePath
	root := http.NewServeMux()
	root.Handle(prefix+"/", http.StripPrefix(prefix, handler))
	return root
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "sessions": len(s.sessions.Sessions())})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	infos := s.sessions.Sessions()
	views := make([]sessionView, 0, len(infos))
	for _, info := range infos {
		views = append(views, sessionView{ID: info.ID, User: info.User, Opened: info.Opened})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": views})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request, session *core.Session) {
	tail := parseInt(r.URL.Query().Get("tail"), s.cfg.TailLines)
	snapshot, err := buildSnapshot(r.Context(), session, tail)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request, session *core.Session) {
	var payload commandRequest
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
		return
	}
	if strings.ContainsAny(payload.Command, "\r\n") {
		writeError(w, http.StatusBadRequest, errors.New("command must be a single line"))
		return
	}
	log := pslog.Ctx(r.Context())
	decision, err := session.Submit(r.Context(), payload.Command)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	switch decision {
	case core.DecisionSubmit:
		log.Info("http command submitted", "command", payload.Command)
		writeJSON(w, http.StatusAccepted, map[string]any{"decision": decision.String()})
	case core.DecisionPrompt:
		writeJSON(w, http.StatusOK, map[string]any{"decision": decision.String()})
	default:
		log.Debug("http command rejected", "decision", decision.String())
		writeError(w, http.StatusConflict, errors.New("session is not accepting input"))
	}
}

func (s *Server) handleInterrupt(w http.ResponseWriter, r *http.Request, session *core.Session) {
	if err := session.Interrupt(r.Context()); err != nil {
		if errors.Is(err, schema.ErrNotRunning) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeSessionError(w, err)
		return
	}
	pslog.Ctx(r.Context()).Info("http command interrupted")
	writeJSON(w, http.StatusOK, map[string]any{"interrupted": true})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, session *core.Session) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("stream unsupported"))
		return
	}
	log := pslog.Ctx(r.Context())
	id := session.ID()

	ch, unsubscribe, seq := s.hub.Subscribe(id)
	defer unsubscribe()

	snapshot, err := buildSnapshot(r.Context(), session, s.cfg.TailLines)
	if err != nil {
		writeSessionError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	_ = writeSSEvent(w, StreamEvent{
		Type:      "snapshot",
		SessionID: id,
		Snapshot:  &snapshot,
		Timestamp: time.Now(),
	})

	lastID := parseUint(r.Header.Get("Last-Event-ID"))
	replayCount := 0
	if lastID > 0 {
		replay := s.hub.Replay(id, lastID, seq)
		replayCount = len(replay)
		for _, event := range replay {
			_ = writeSSEvent(w, event)
		}
	}
	flusher.Flush()

	log.Info("http stream opened", "last_id", lastID, "replay", replayCount)
	for {
		select {
		case <-r.Context().Done():
			log.Info("http stream closed")
			return
		case event, ok := <-ch:
			if !ok {
				_ = writeSSEvent(w, StreamEvent{Type: "closed", SessionID: id, Timestamp: time.Now()})
				flusher.Flush()
				log.Info("http stream closed", "reason", "session ended")
				return
			}
			_ = writeSSEvent(w, event)
			flusher.Flush()
		}
	}
}

func buildSnapshot(ctx context.Context, session *core.Session, tail int) (SnapshotPayload, error) {
	snap, err := session.Snapshot(ctx)
	if err != nil {
		return SnapshotPayload{}, err
	}
	var b strings.Builder
	for _, run := range snap.Runs {
		b.WriteString(run.Text)
	}
	text, truncated := tailLines(b.String(), tail)
	return SnapshotPayload{
		SessionID:  session.ID(),
		Text:       text,
		Truncated:  truncated,
		Length:     snap.Length,
		Boundary:   snap.Boundary,
		Valid:      snap.Valid,
		Pending:    snap.Pending,
		Phase:      snap.Phase,
		WorkingDir: snap.WorkingDir,
	}, nil
}

// tailLines keeps the last n lines of text; n <= 0 keeps everything.
func tailLines(text string, n int) (string, bool) {
	if n <= 0 {
		return text, false
	}
	idx := len(text)
	for i := 0; i < n; i++ {
		cut := strings.LastIndexByte(text[:idx], '\n')
		if cut < 0 {
			return text, false
		}
		idx = cut
	}
	return text[idx+1:], true
}

func (s *Server) requireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Token == "" {
			next(w, r)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(s.cfg.Token)) != 1 {
			pslog.Ctx(r.Context()).With("remote", clientIP(r)).Warn("http token rejected")
			writeError(w, http.StatusUnauthorized, errors.New("invalid token"))
			return
		}
		next(w, r)
	}
}

func (s *Server) requireSession(next func(http.ResponseWriter, *http.Request, *core.Session)) http.HandlerFunc {
	return s.requireToken(func(w http.ResponseWriter, r *http.Request) {
		id := schema.SessionID(r.PathValue("id"))
		session, ok := s.sessions.Lookup(id)
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Errorf("session %q not found", id))
			return
		}
		log := logx.WithSession(pslog.Ctx(r.Context()), id).With("remote", clientIP(r))
		ctx := logx.ContextWithSessionLogger(r.Context(), log, id)
		next(w, r.WithContext(ctx), session)
	})
}

func sessionFromPath(r *http.Request) schema.SessionID {
	rest, ok := strings.CutPrefix(r.URL.Path, "/api/sessions/")
	if !ok {
		return ""
	}
	id, _, _ := strings.Cut(rest, "/")
	return schema.SessionID(id)
}

func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, schema.ErrSessionClosed):
		writeError(w, http.StatusGone, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func decodeJSON(body io.Reader, target any) error {
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeSSEvent(w http.ResponseWriter, event StreamEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if event.Seq > 0 {
		_, _ = fmt.Fprintf(w, "id: %d\n", event.Seq)
	}
	_, _ = fmt.Fprintf(w, "event: %s\n", event.Type)
	_, _ = fmt.Fprintf(w, "data: %s\n\n", strings.TrimSpace(string(data)))
	return nil
}

func parseUint(value string) uint64 {
	if value == "" {
		return 0
	}
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}

func parseInt(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
