package userhome

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestEnsureHomeRendersTemplates(t *testing.T) {
	temp := t.TempDir()
	skelDir := filepath.Join(temp, "skel")
	if err := os.MkdirAll(filepath.Join(skelDir, ".config"), 0o700); err != nil {
		t.Fatalf("skel mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(skelDir, ".profile.tmpl"), []byte("export PS_USER={{ .User }}@{{ .HostLabel }}\ncd {{ .Home }}\n"), 0o600); err != nil {
		t.Fatalf("skel write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(skelDir, ".config", "plain.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("skel write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(skelDir, ".keep"), nil, 0o600); err != nil {
		t.Fatalf("skel write: %v", err)
	}

	root := filepath.Join(temp, "homes")
	home, err := EnsureHome(root, "alice", skelDir, TemplateData{HostLabel: "box"})
	if err != nil {
		t.Fatalf("ensure home: %v", err)
	}
	if home != filepath.Join(root, "alice") {
		t.Fatalf("unexpected home %q", home)
	}
	raw, err := os.ReadFile(filepath.Join(home, ".profile"))
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if want := "export PS_USER=alice@box\ncd " + home + "\n"; string(raw) != want {
		t.Fatalf("unexpected profile %q, want %q", raw, want)
	}
	plain, err := os.ReadFile(filepath.Join(home, ".config", "plain.txt"))
	if err != nil || string(plain) != "hello" {
		t.Fatalf("plain file: %q %v", plain, err)
	}
	info, err := os.Stat(filepath.Join(home, ".config", "plain.txt"))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm()&0o077 != 0 {
		t.Fatalf("expected private copy, got %v", info.Mode().Perm())
	}
	if _, err := os.Stat(filepath.Join(home, ".profile.tmpl")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected template to be removed, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(home, ".keep")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected marker file to be skipped, got %v", err)
	}
}

func TestEnsureHomeKeepsExistingHome(t *testing.T) {
	temp := t.TempDir()
	skelDir := filepath.Join(temp, "skel")
	if err := os.MkdirAll(skelDir, 0o700); err != nil {
		t.Fatalf("skel mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(skelDir, "motd"), []byte("v1"), 0o600); err != nil {
		t.Fatalf("skel write: %v", err)
	}
	root := filepath.Join(temp, "homes")
	home, err := EnsureHome(root, "bob", skelDir, TemplateData{})
	if err != nil {
		t.Fatalf("ensure home: %v", err)
	}
	if err := os.WriteFile(filepath.Join(home, "motd"), []byte("edited"), 0o600); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if _, err := EnsureHome(root, "bob", skelDir, TemplateData{}); err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	raw, _ := os.ReadFile(filepath.Join(home, "motd"))
	if string(raw) != "edited" {
		t.Fatalf("expected existing home to be left alone, got %q", raw)
	}
}

func TestEnsureHomeWithoutSkel(t *testing.T) {
	root := filepath.Join(t.TempDir(), "homes")
	home, err := EnsureHome(root, "carol", filepath.Join(root, "missing"), TemplateData{})
	if err != nil {
		t.Fatalf("ensure home: %v", err)
	}
	if info, err := os.Stat(home); err != nil || !info.IsDir() {
		t.Fatalf("expected home directory, got %v", err)
	}
}

func TestEnsureHomeRejectsBadNames(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"", " ", ".", "..", "a/b", `a\b`} {
		if _, err := EnsureHome(root, name, "", TemplateData{}); err == nil {
			t.Fatalf("expected error for %q", name)
		}
	}
}

func TestEnsureHomeTemplateError(t *testing.T) {
	temp := t.TempDir()
	skelDir := filepath.Join(temp, "skel")
	if err := os.MkdirAll(skelDir, 0o700); err != nil {
		t.Fatalf("skel mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(skelDir, "bad.tmpl"), []byte("{{ .Missing }}"), 0o600); err != nil {
		t.Fatalf("skel write: %v", err)
	}
	root := filepath.Join(temp, "homes")
	if _, err := EnsureHome(root, "dan", skelDir, TemplateData{}); err == nil {
		t.Fatalf("expected template error")
	}
	if _, err := os.Stat(HomeDir(root, "dan")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected half-seeded home to be removed, got %v", err)
	}
}
