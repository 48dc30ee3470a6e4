package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"pkt.systems/promptline/schema"
	"pkt.systems/pslog"
)

func TestRequestLoggingRecordsStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := pslog.NewWithOptions(&buf, pslog.Options{
		Mode:     pslog.ModeStructured,
		NoColor:  true,
		MinLevel: pslog.DebugLevel,
	})
	handler := withRequestLogging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}), func(*http.Request) schema.SessionID { return "s1" })

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/s1?tail=5", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.7, 10.0.0.1")
	req = req.WithContext(pslog.ContextWithLogger(context.Background(), logger))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	line := strings.TrimSpace(buf.String())
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", line, err)
	}
	if entry["status"] != float64(http.StatusTeapot) || entry["bytes"] != float64(len("short and stout")) {
		t.Fatalf("unexpected fields %v", entry)
	}
	if entry["remote"] != "10.0.0.7" || entry["session"] != "s1" || entry["path"] != "/api/sessions/s1?tail=5" {
		t.Fatalf("unexpected request fields %v", entry)
	}
}

func TestSessionFromPath(t *testing.T) {
	cases := map[string]schema.SessionID{
		"/api/sessions/abc":        "abc",
		"/api/sessions/abc/stream": "abc",
		"/api/sessions":            "",
		"/healthz":                 "",
	}
	for path, want := range cases {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if got := sessionFromPath(req); got != want {
			t.Fatalf("sessionFromPath(%q) = %q, want %q", path, got, want)
		}
	}
}
