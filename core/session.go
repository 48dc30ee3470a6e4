package core

import (
	"context"

	"pkt.systems/promptline/internal/logx"
	"pkt.systems/promptline/schema"
	"pkt.systems/pslog"
)

// SessionDeps captures the collaborators of a session. All are optional.
type SessionDeps struct {
	Backend   Backend
	Delegate  Delegate
	Observers []BoundaryObserver
	EventSink EventSink
	Logger    pslog.Logger
	// History seeds command recall, oldest first.
	History []string
}

// Snapshot is a copy of the session state for renderers.
type Snapshot struct {
	Runs     []schema.Run
	Length   int
	Boundary int
	Valid    bool
	Pending  string
	Phase    schema.Phase
	// WorkingDir is the backend directory as displayed to the user.
	WorkingDir string
}

// Session owns one transcript and drives the prompt, edit and command cycle.
// Every exported method may be called from any goroutine; state is only
// touched on the session loop, which Run executes.
type Session struct {
	id  schema.SessionID
	cfg schema.SessionConfig
	log pslog.Logger

	loop       *Loop
	transcript *Transcript
	formatter  *Formatter
	gate       *EditGate
	sanitizer  *Sanitizer
	history    *historyBuffer

	backend   Backend
	delegate  Delegate
	observers []BoundaryObserver
	sink      EventSink

	cwd string
	// orphans counts interrupted commands whose exit code is still due.
	orphans int

	dirty        bool
	cleared      bool
	trimmed      int
	moved        bool
	lastBoundary schema.BoundaryEvent
	announced    bool
}

var _ BackendSink = (*Session)(nil)

// NewSession builds a session. Call Run to start its loop.
func NewSession(id schema.SessionID, cfg schema.SessionConfig, deps SessionDeps) (*Session, error) {
	if err := schema.ValidateSessionID(id); err != nil {
		return nil, err
	}
	normalized, err := schema.NormalizeSessionConfig(cfg)
	if err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	s := &Session{
		id:         id,
		cfg:        normalized,
		log:        logx.WithSession(logger, id),
		loop:       NewLoop(normalized.LoopDepth),
		transcript: NewTranscript(normalized.MaxTranscriptRunes),
		formatter:  NewFormatter(),
		gate:       NewEditGate(),
		sanitizer:  NewSanitizer(normalized.HomeDir, normalized.HomeAlias, normalized.StripPrefixes),
		history:    newHistory(normalized.HistoryMax),
		backend:    deps.Backend,
		delegate:   deps.Delegate,
		observers:  append([]BoundaryObserver(nil), deps.Observers...),
		sink:       deps.EventSink,
	}
	for _, entry := range deps.History {
		s.history.Append(entry)
	}
	s.transcript.SetHook(s.onChange)
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() schema.SessionID {
	return s.id
}

// Run executes the session loop until ctx is done.
func (s *Session) Run(ctx context.Context) error {
	s.log.Info("session loop start")
	err := s.loop.Run(ctx)
	s.log.Info("session loop stop")
	return err
}

// Done is closed once Run has returned.
func (s *Session) Done() <-chan struct{} {
	return s.loop.Done()
}

// Start mirrors the backend directory and writes the first prompt.
func (s *Session) Start(ctx context.Context) error {
	return s.do(ctx, func(ctx context.Context) {
		if s.backend != nil {
			s.cwd = s.backend.WorkingDirectory()
		}
		s.writePrompt(ctx)
	})
}

// WritePrompt ends the current line if needed and writes the prompt label.
func (s *Session) WritePrompt(ctx context.Context) error {
	return s.do(ctx, s.writePrompt)
}

// WriteOutput sanitizes, formats and appends raw output.
func (s *Session) WriteOutput(ctx context.Context, raw string) error {
	return s.do(ctx, func(ctx context.Context) {
		s.writeOutput(ctx, raw)
	})
}

// NewLine ends the current line if it is not already ended.
func (s *Session) NewLine(ctx context.Context) error {
	return s.do(ctx, func(ctx context.Context) {
		s.formatter.Reset()
		if s.transcript.Len() > 0 && !s.transcript.EndsWithNewline() {
			s.transcript.Append(schema.PlainRun("\n"))
		}
		s.transcript.AdvanceBoundary()
	})
}

// ClearScreen empties the transcript and unsets the boundary.
func (s *Session) ClearScreen(ctx context.Context) error {
	return s.do(ctx, func(ctx context.Context) {
		s.transcript.Clear(s.formatter)
		s.log.Debug("session clear")
	})
}

// ClearKeepingCommand empties the transcript and, unless a command is running,
// writes a fresh prompt followed by the command being typed. Output cannot land
// in between since it all happens in one loop turn.
func (s *Session) ClearKeepingCommand(ctx context.Context) error {
	return s.do(ctx, func(ctx context.Context) {
		pending := s.transcript.Pending()
		s.transcript.Clear(s.formatter)
		s.log.Debug("session clear", "keep_command", pending != "")
		if s.gate.Phase() != schema.PhaseAwaitingInput {
			return
		}
		s.writePrompt(ctx)
		if pending != "" {
			s.setCurrentCommand(pending)
		}
	})
}

// CurrentCommand returns the pending command text.
func (s *Session) CurrentCommand(ctx context.Context) (string, error) {
	var pending string
	err := s.do(ctx, func(ctx context.Context) {
		pending = s.transcript.Pending()
	})
	return pending, err
}

// SetCurrentCommand replaces the pending command text.
func (s *Session) SetCurrentCommand(ctx context.Context, text string) error {
	return s.do(ctx, func(ctx context.Context) {
		s.history.Reset()
		s.setCurrentCommand(text)
	})
}

// Propose asks the gate to replace the rune range [start, end) with text.
func (s *Session) Propose(ctx context.Context, start, end int, text string) (Decision, error) {
	return s.ProposeFunc(ctx, func(Region) (Proposal, bool) {
		return Proposal{Start: start, End: end, Text: text}, true
	})
}

// ProposeFunc builds a proposal from the current region and judges it in the
// same loop turn, so the region cannot move in between. Returning false
// abandons the edit.
func (s *Session) ProposeFunc(ctx context.Context, build func(Region) (Proposal, bool)) (Decision, error) {
	decision := DecisionReject
	err := s.do(ctx, func(ctx context.Context) {
		region := s.region()
		p, ok := build(region)
		if !ok {
			return
		}
		decision = s.gate.Evaluate(p, region)
		switch decision {
		case DecisionReject:
			s.log.Trace("session edit rejected", "start", p.Start, "end", p.End, "boundary", region.Boundary, "phase", s.gate.Phase())
		case DecisionApply:
			if err := s.transcript.ReplaceRange(p.Start, p.End, schema.PlainRun(p.Text)); err != nil {
				s.log.Trace("session edit rejected", "err", err)
				decision = DecisionReject
				return
			}
			s.history.Reset()
		case DecisionPrompt:
			s.writePrompt(ctx)
		case DecisionSubmit:
			s.submit(ctx, region.Pending)
		}
	})
	return decision, err
}

// Submit replaces the pending command with command and presses enter in one
// loop turn. It returns DecisionReject while a command runs or the boundary is
// unset.
func (s *Session) Submit(ctx context.Context, command string) (Decision, error) {
	decision := DecisionReject
	err := s.do(ctx, func(ctx context.Context) {
		if _, ok := s.transcript.Boundary(); !ok || s.gate.Phase() != schema.PhaseAwaitingInput {
			s.log.Trace("session submit rejected", "phase", s.gate.Phase())
			return
		}
		s.history.Reset()
		s.setCurrentCommand(command)
		region := s.region()
		decision = s.gate.Evaluate(Proposal{Start: region.End, End: region.End, Text: "\n"}, region)
		switch decision {
		case DecisionPrompt:
			s.writePrompt(ctx)
		case DecisionSubmit:
			s.submit(ctx, region.Pending)
		}
	})
	return decision, err
}

// Interrupt abandons the running command: the backend is asked to stop it, the
// gate re-opens and a new prompt is written. Its late completion is ignored.
// When the backend cannot reach the command the session stays blocked and the
// backend's error is returned.
func (s *Session) Interrupt(ctx context.Context) error {
	var result error
	err := s.do(ctx, func(ctx context.Context) {
		if s.gate.Phase() != schema.PhaseBlocked {
			result = schema.ErrNotRunning
			return
		}
		if in, ok := s.backend.(Interrupter); ok {
			if err := in.Interrupt(Detach(ctx)); err != nil {
				s.log.Warn("session interrupt failed", "err", err)
				result = err
				return
			}
		}
		s.orphans++
		s.transcript.Append(schema.PlainRun("^C"))
		s.gate.Open()
		s.emitPhase(nil)
		s.log.Debug("session interrupt", "orphans", s.orphans)
		s.writePrompt(ctx)
	})
	if err != nil {
		return err
	}
	return result
}

// HistoryPrev recalls the previous submitted command into the command line.
func (s *Session) HistoryPrev(ctx context.Context) (bool, error) {
	var recalled bool
	err := s.do(ctx, func(ctx context.Context) {
		if s.gate.Phase() != schema.PhaseAwaitingInput {
			return
		}
		if _, ok := s.transcript.Boundary(); !ok {
			return
		}
		entry, ok := s.history.Prev(s.transcript.Pending())
		if !ok {
			return
		}
		s.setCurrentCommand(entry)
		recalled = true
	})
	return recalled, err
}

// HistoryNext moves forward through recalled commands, ending at the draft.
func (s *Session) HistoryNext(ctx context.Context) (bool, error) {
	var recalled bool
	err := s.do(ctx, func(ctx context.Context) {
		if s.gate.Phase() != schema.PhaseAwaitingInput {
			return
		}
		entry, ok := s.history.Next()
		if !ok {
			return
		}
		s.setCurrentCommand(entry)
		recalled = true
	})
	return recalled, err
}

// History returns the submitted commands, oldest first.
func (s *Session) History(ctx context.Context) ([]string, error) {
	var entries []string
	err := s.do(ctx, func(ctx context.Context) {
		entries = s.history.Entries()
	})
	return entries, err
}

// Snapshot copies the state a renderer needs.
func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.do(ctx, func(ctx context.Context) {
		b, ok := s.transcript.Boundary()
		snap = Snapshot{
			Runs:       s.transcript.Runs(),
			Length:     s.transcript.Len(),
			Boundary:   b,
			Valid:      ok,
			Pending:    s.transcript.Pending(),
			Phase:      s.gate.Phase(),
			WorkingDir: s.sanitizer.DisplayPath(s.cwd),
		}
	})
	return snap, err
}

// OnStdout queues a chunk of standard output.
func (s *Session) OnStdout(ctx context.Context, chunk string) {
	s.post(ctx, "stdout", func(ctx context.Context) {
		s.writeBackendOutput(ctx, chunk)
	})
}

// OnStderr queues a chunk of standard error.
func (s *Session) OnStderr(ctx context.Context, chunk string) {
	s.post(ctx, "stderr", func(ctx context.Context) {
		s.writeBackendOutput(ctx, chunk)
	})
}

// OnExitCode queues the completion of the dispatched command.
func (s *Session) OnExitCode(ctx context.Context, code int) {
	s.post(ctx, "exit", func(ctx context.Context) {
		s.complete(ctx, code)
	})
}

// OnWorkingDirectoryChanged queues a directory change.
func (s *Session) OnWorkingDirectoryChanged(ctx context.Context, path string) {
	s.post(ctx, "cwd", func(ctx context.Context) {
		s.changeDirectory(ctx, path)
	})
}

func (s *Session) writePrompt(ctx context.Context) {
	s.formatter.Reset()
	if s.transcript.Len() > 0 && !s.transcript.EndsWithNewline() {
		s.transcript.Append(schema.PlainRun("\n"))
	}
	s.transcript.Append(schema.PlainRun(s.cfg.HostLabel + s.cfg.PromptSeparator))
	s.transcript.AdvanceBoundary()
	s.history.Reset()
	s.log.Trace("session prompt", "boundary", s.transcript.Len())
}

func (s *Session) writeOutput(ctx context.Context, raw string) {
	if raw != "" {
		s.transcript.Write(s.formatter, s.sanitizer.Sanitize(raw))
	}
	s.transcript.AdvanceBoundary()
}

func (s *Session) writeBackendOutput(ctx context.Context, chunk string) {
	if s.orphans > 0 {
		s.log.Trace("session output dropped", "reason", "interrupted", "len", len(chunk))
		return
	}
	s.writeOutput(ctx, chunk)
}

func (s *Session) setCurrentCommand(text string) {
	if b, ok := s.transcript.Boundary(); ok && b <= s.transcript.Len() {
		_ = s.transcript.ReplaceRange(b, s.transcript.Len())
	}
	if text != "" {
		s.transcript.Append(schema.PlainRun(text))
	}
}

func (s *Session) submit(ctx context.Context, command string) {
	s.transcript.Append(schema.PlainRun("\n"))
	s.transcript.AdvanceBoundary()
	s.formatter.Reset()
	s.gate.Block()
	s.emitPhase(nil)
	s.history.Append(command)
	s.log.Debug("session command", "input", command)
	if s.sink != nil {
		s.sink.OnCommand(schema.CommandEvent{SessionID: s.id, Command: command})
	}
	if s.delegate != nil {
		s.delegate.DidEnterCommand(ctx, command)
	}
	if s.backend == nil {
		s.log.Warn("session command rejected", "reason", "no backend")
		s.writeOutput(ctx, schema.ErrNoBackend.Error()+"\n")
		s.complete(ctx, 127)
		return
	}
	s.backend.Dispatch(Detach(ctx), command, s)
}

func (s *Session) complete(ctx context.Context, code int) {
	if s.orphans > 0 {
		s.orphans--
		s.log.Trace("session exit ignored", "reason", "interrupted", "exit_code", code)
		return
	}
	if !s.gate.Open() {
		s.log.Warn("session exit ignored", "reason", "no command running", "exit_code", code)
		return
	}
	s.emitPhase(&code)
	s.log.Debug("session command finished", "exit_code", code)
	s.writePrompt(ctx)
}

func (s *Session) changeDirectory(ctx context.Context, path string) {
	if path == "" || path == s.cwd {
		return
	}
	s.cwd = path
	s.log.Debug("session cwd", "path", path)
	if s.sink != nil {
		s.sink.OnDirectory(schema.DirectoryEvent{SessionID: s.id, Path: path})
	}
	if s.delegate != nil {
		s.delegate.DidChangeCurrentWorkingDirectory(ctx, path)
	}
}

func (s *Session) region() Region {
	b, ok := s.transcript.Boundary()
	return Region{
		Boundary: b,
		Valid:    ok,
		End:      s.transcript.Len(),
		Pending:  s.transcript.Pending(),
	}
}

func (s *Session) emitPhase(code *int) {
	if s.sink == nil {
		return
	}
	s.sink.OnPhase(schema.PhaseEvent{SessionID: s.id, Phase: s.gate.Phase(), ExitCode: code})
}

// onChange records transcript mutations; flush reports them once per loop turn.
func (s *Session) onChange(c Change) {
	switch c.Kind {
	case ChangeAppend:
		s.dirty = true
		if c.Valid && c.Start >= c.Boundary {
			s.moved = true
		}
	case ChangeReplace:
		s.dirty = true
		s.moved = true
	case ChangeClear:
		s.dirty = true
		s.cleared = true
		s.moved = true
	case ChangeTrim:
		s.dirty = true
		s.trimmed += c.End - c.Start
		s.moved = true
	case ChangeBoundary:
		s.moved = true
	}
}

func (s *Session) flush(ctx context.Context) {
	if s.dirty {
		ev := schema.TranscriptEvent{
			SessionID: s.id,
			Length:    s.transcript.Len(),
			Cleared:   s.cleared,
			Trimmed:   s.trimmed,
		}
		s.dirty = false
		s.cleared = false
		s.trimmed = 0
		if s.sink != nil {
			s.sink.OnTranscript(ev)
		}
	}
	if !s.moved {
		return
	}
	s.moved = false
	b, ok := s.transcript.Boundary()
	ev := schema.BoundaryEvent{SessionID: s.id, Boundary: b, Valid: ok, Pending: s.transcript.Pending()}
	if s.announced && ev == s.lastBoundary {
		return
	}
	s.lastBoundary = ev
	s.announced = true
	for _, obs := range s.observers {
		if obs != nil {
			obs.BoundaryChanged(ctx, ev)
		}
	}
	if s.sink != nil {
		s.sink.OnBoundary(ev)
	}
}

func (s *Session) do(ctx context.Context, fn func(context.Context)) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.loop.Do(ctx, func(ctx context.Context) {
		fn(ctx)
		s.flush(ctx)
	})
}

func (s *Session) post(ctx context.Context, kind string, fn func(context.Context)) {
	if ctx == nil {
		ctx = context.Background()
	}
	err := s.loop.Post(ctx, func(ctx context.Context) {
		fn(ctx)
		s.flush(ctx)
	})
	if err != nil {
		s.log.Debug("session notification dropped", "kind", kind, "err", err)
	}
}
