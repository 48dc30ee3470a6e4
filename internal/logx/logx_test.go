package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"pkt.systems/promptline/schema"
	"pkt.systems/pslog"
)

func newTestLogger(capture *logCapture) pslog.Logger {
	return pslog.NewWithOptions(capture, pslog.Options{
		Mode:          pslog.ModeStructured,
		NoColor:       true,
		MinLevel:      pslog.InfoLevel,
		VerboseFields: true,
	})
}

func TestWithSessionAddsField(t *testing.T) {
	capture := &logCapture{}
	log := WithSession(newTestLogger(capture), "s1")
	log.Info("hello")

	entry := capture.firstEntry(t)
	if entry["session"] != "s1" {
		t.Fatalf("expected session field, got %+v", entry)
	}
}

func TestWithRemoteAddsFields(t *testing.T) {
	capture := &logCapture{}
	log := WithRemote(newTestLogger(capture), "alice", "")
	log.Info("hello")

	entry := capture.firstEntry(t)
	if entry["user"] != "alice" {
		t.Fatalf("expected user field, got %+v", entry)
	}
	if _, ok := entry["remote"]; ok {
		t.Fatalf("did not expect remote for empty address")
	}
}

func TestSessionCtxSkipsDuplicateField(t *testing.T) {
	capture := &logCapture{}
	logger := WithSession(newTestLogger(capture), "s1")
	ctx := ContextWithSessionLogger(context.Background(), logger, "s1")
	SessionCtx(ctx, "s1").Info("hello")

	line := capture.buf.String()
	if strings.Count(line, `"session"`) != 1 {
		t.Fatalf("expected one session field, got %s", line)
	}
}

func TestCopyContextFields(t *testing.T) {
	src := ContextWithRemote(ContextWithSession(context.Background(), "s1"), "127.0.0.1:22")
	dst := CopyContextFields(context.Background(), src)
	if got := RemoteFromContext(dst); got != "127.0.0.1:22" {
		t.Fatalf("expected remote copied, got %q", got)
	}
	if id, _ := dst.Value(sessionKey).(schema.SessionID); id != "s1" {
		t.Fatalf("expected session copied, got %q", id)
	}
}

type logCapture struct {
	buf bytes.Buffer
}

func (c *logCapture) Write(p []byte) (int, error) {
	return c.buf.Write(p)
}

func (c *logCapture) firstEntry(t *testing.T) map[string]any {
	t.Helper()
	data := c.buf.Bytes()
	idx := bytes.IndexByte(data, '\n')
	if idx == -1 {
		idx = len(data)
	}
	line := bytes.TrimSpace(data[:idx])
	entry := map[string]any{}
	if err := json.Unmarshal(line, &entry); err != nil {
		t.Fatalf("parse log entry: %v", err)
	}
	return entry
}
