package userhome

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

// TemplateData supplies values for rendering skel templates.
type TemplateData struct {
	User      string
	Home      string
	HostLabel string
}

// HomeDir returns the home directory for a specific user under root.
func HomeDir(root, username string) string {
	return filepath.Join(root, username)
}

// ValidateUsername rejects names that cannot be used as a single path element.
func ValidateUsername(username string) error {
	switch {
	case strings.TrimSpace(username) == "":
		return errors.New("username is required")
	case username == "." || username == "..":
		return fmt.Errorf("username %q is not allowed", username)
	case strings.ContainsAny(username, `/\`) || strings.ContainsRune(username, 0):
		return fmt.Errorf("username %q contains a path separator", username)
	}
	return nil
}

// EnsureHome creates a user home directory under root and seeds it from
// skelDir the first time. Existing homes are left as they are.
func EnsureHome(root, username, skelDir string, data TemplateData) (string, error) {
	if err := ValidateUsername(username); err != nil {
		return "", err
	}
	if err := ensureDir(root, 0o700); err != nil {
		return "", fmt.Errorf("home root %q: %w", root, err)
	}
	target := HomeDir(root, username)
	info, err := os.Stat(target)
	switch {
	case err == nil:
		if !info.IsDir() {
			return "", fmt.Errorf("home %q is not a directory", target)
		}
		return target, nil
	case !errors.Is(err, os.ErrNotExist):
		return "", err
	}
	if err := os.MkdirAll(target, 0o700); err != nil {
		return "", err
	}
	if data.User == "" {
		data.User = username
	}
	if data.Home == "" {
		data.Home = target
	}
	if err := CopySkel(skelDir, target, data); err != nil {
		_ = os.RemoveAll(target)
		return "", err
	}
	return target, nil
}

// CopySkel copies a skel directory into a destination, rendering .tmpl files.
func CopySkel(skelDir, destDir string, data TemplateData) error {
	if strings.TrimSpace(skelDir) == "" {
		return nil
	}
	info, err := os.Stat(skelDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if !info.IsDir() {
		return nil
	}
	return filepath.WalkDir(skelDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == skelDir {
			return nil
		}
		rel, err := filepath.Rel(skelDir, p)
		if err != nil {
			return err
		}
		name := d.Name()
		if name == ".gitkeep" || name == ".keep" {
			return nil
		}
		target := filepath.Join(destDir, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o700)
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		if strings.HasSuffix(target, ".tmpl") {
			raw, err := os.ReadFile(p)
			if err != nil {
				return err
			}
			rendered, err := renderTemplate(p, raw, data)
			if err != nil {
				return err
			}
			target = strings.TrimSuffix(target, ".tmpl")
			if err := os.MkdirAll(filepath.Dir(target), 0o700); err != nil {
				return err
			}
			return os.WriteFile(target, rendered, info.Mode().Perm()&0o700)
		}
		return copyFile(p, target, info.Mode().Perm())
	})
}

func copyFile(src, target string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	if err := os.MkdirAll(filepath.Dir(target), 0o700); err != nil {
		return err
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm&0o700)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func renderTemplate(name string, raw []byte, data TemplateData) ([]byte, error) {
	tpl, err := template.New(filepath.Base(name)).Option("missingkey=error").Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", name, err)
	}
	var buf strings.Builder
	if err := tpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render template %s: %w", name, err)
	}
	return []byte(buf.String()), nil
}

func ensureDir(path string, mode fs.FileMode) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("path is required")
	}
	if err := os.MkdirAll(path, mode); err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}
	return nil
}
