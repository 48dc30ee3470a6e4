package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"pkt.systems/promptline/core"
	"pkt.systems/promptline/schema"
	"pkt.systems/pslog"
)

// Config controls how commands are executed.
type Config struct {
	// Path is the shell binary; commands are passed as its last argument.
	Path       string
	Args       []string
	Env        map[string]string
	WorkingDir string
	// KillAfter is how long an interrupted command may keep running before
	// its process group is killed.
	KillAfter time.Duration
}

const (
	defaultKillAfter = 2 * time.Second
	chunkSize        = 32 * 1024
	// ExitCommandNotFound is reported when the shell itself cannot be started.
	ExitCommandNotFound = 127
	// ExitInterrupted is reported for a command interrupted before it started.
	ExitInterrupted = 130
)

// Backend runs commands through a shell, one at a time, in the directory
// tracked by its cd builtin.
type Backend struct {
	cfg Config
	env []string

	// turn serializes runs so a command's exit code is always reported
	// before the next command produces output.
	turn chan struct{}

	mu      sync.Mutex
	cwd     string
	prev    string
	running *exec.Cmd
	latest  *dispatch
	stopped bool
}

// dispatch tracks one command from Dispatch until its exit code is reported,
// including the time it spends waiting for its turn.
type dispatch struct {
	cancel      context.CancelFunc
	cmd         *exec.Cmd
	started     bool
	interrupted bool
	finished    bool
}

var (
	_ core.Backend     = (*Backend)(nil)
	_ core.Interrupter = (*Backend)(nil)
)

// New constructs a shell backend.
func New(cfg Config) (*Backend, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		cfg.Path = "/bin/sh"
	}
	if cfg.Args == nil {
		cfg.Args = []string{"-c"}
	}
	if cfg.KillAfter <= 0 {
		cfg.KillAfter = defaultKillAfter
	}
	cwd := cfg.WorkingDir
	if cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("shell working dir: %w", err)
		}
		cwd = wd
	}
	abs, err := filepath.Abs(cwd)
	if err != nil {
		return nil, fmt.Errorf("shell working dir: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("shell working dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("shell working dir %s is not a directory", abs)
	}
	return &Backend{
		cfg:  cfg,
		env:  buildEnv(cfg.Env),
		turn: make(chan struct{}, 1),
		cwd:  abs,
		prev: abs,
	}, nil
}

// WorkingDirectory returns the directory the next command runs in.
func (b *Backend) WorkingDirectory() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cwd
}

// Dispatch runs command asynchronously and reports to sink.
func (b *Backend) Dispatch(ctx context.Context, command string, sink core.BackendSink) {
	runCtx, cancel := context.WithCancel(ctx)
	d := &dispatch{cancel: cancel}
	b.mu.Lock()
	b.latest = d
	b.mu.Unlock()
	go b.run(runCtx, d, command, sink)
}

// Interrupt stops the most recently dispatched command. A command still
// waiting for its turn is cancelled and never runs. A running one gets SIGINT
// on its process group, which is killed if it is still running after
// KillAfter. ErrNotRunning means the command already finished.
func (b *Backend) Interrupt(ctx context.Context) error {
	log := pslog.Ctx(ctx)
	b.mu.Lock()
	d := b.latest
	if d == nil || d.finished {
		b.mu.Unlock()
		return schema.ErrNotRunning
	}
	cmd := d.cmd
	if !d.started || cmd == nil || cmd.Process == nil {
		d.interrupted = true
		started := d.started
		b.mu.Unlock()
		d.cancel()
		log.Debug("shell dispatch cancelled", "started", started)
		return nil
	}
	b.mu.Unlock()
	pid := cmd.Process.Pid
	if err := interruptGroup(cmd); err != nil {
		log.Warn("shell interrupt failed", "pid", pid, "err", err)
		return err
	}
	b.mu.Lock()
	d.interrupted = true
	b.mu.Unlock()
	log.Debug("shell interrupt", "pid", pid)
	time.AfterFunc(b.cfg.KillAfter, func() {
		b.mu.Lock()
		still := b.running == cmd
		b.mu.Unlock()
		if still {
			log.Warn("shell kill", "pid", pid, "reason", "interrupt ignored")
			_ = killGroup(cmd)
		}
	})
	return nil
}

// Close kills any running command and rejects further dispatches.
func (b *Backend) Close() error {
	b.mu.Lock()
	b.stopped = true
	cmd := b.running
	b.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		return killGroup(cmd)
	}
	return nil
}

func (b *Backend) run(ctx context.Context, d *dispatch, command string, sink core.BackendSink) {
	defer d.cancel()
	log := pslog.Ctx(ctx)
	// Notifications must survive the cancellation that skipped the command.
	notify := context.WithoutCancel(ctx)
	select {
	case b.turn <- struct{}{}:
	case <-ctx.Done():
		if b.finish(d) {
			log.Debug("shell dispatch skipped", "reason", "interrupted")
			sink.OnExitCode(notify, ExitInterrupted)
			return
		}
		sink.OnStderr(notify, "promptline: session closed\n")
		sink.OnExitCode(notify, ExitCommandNotFound)
		return
	}
	defer func() { <-b.turn }()

	b.mu.Lock()
	if d.interrupted {
		d.finished = true
		b.mu.Unlock()
		log.Debug("shell dispatch skipped", "reason", "interrupted")
		sink.OnExitCode(notify, ExitInterrupted)
		return
	}
	d.started = true
	b.mu.Unlock()

	code := 0
	if target, ok := parseCD(command); ok {
		code = b.changeDirectory(ctx, target, sink)
		log.Debug("shell cd", "target", target, "exit_code", code)
	} else {
		code = b.exec(ctx, d, command, sink)
	}
	b.finish(d)
	sink.OnExitCode(notify, code)
}

// finish marks d done and reports whether it had been interrupted.
func (b *Backend) finish(d *dispatch) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	d.finished = true
	return d.interrupted
}

func (b *Backend) exec(ctx context.Context, d *dispatch, command string, sink core.BackendSink) int {
	log := pslog.Ctx(ctx)
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		sink.OnStderr(ctx, "promptline: shell closed\n")
		return ExitCommandNotFound
	}
	dir := b.cwd
	b.mu.Unlock()

	args := append(append([]string(nil), b.cfg.Args...), command)
	cmd := exec.CommandContext(ctx, b.cfg.Path, args...)
	cmd.Dir = dir
	cmd.Env = b.env
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killGroup(cmd) }
	cmd.WaitDelay = b.cfg.KillAfter

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return b.startFailed(ctx, sink, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return b.startFailed(ctx, sink, err)
	}
	started := time.Now()
	log.Info("shell exec start", "workdir", dir, "command_len", len(command))
	log.Trace("shell exec command", "command", command)
	if err := cmd.Start(); err != nil {
		return b.startFailed(ctx, sink, err)
	}
	b.mu.Lock()
	b.running = cmd
	d.cmd = cmd
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.running = nil
		b.mu.Unlock()
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go pump(ctx, &wg, stdout, sink.OnStdout)
	go pump(ctx, &wg, stderr, sink.OnStderr)
	wg.Wait()

	code := 0
	signal := ""
	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			log.Warn("shell exec wait failed", "err", err)
			return ExitCommandNotFound
		}
		code, signal = exitStatus(exitErr.ProcessState)
	}
	fields := []any{"exit_code", code, "duration_ms", time.Since(started).Milliseconds()}
	if signal != "" {
		fields = append(fields, "signal", signal)
	}
	log.Info("shell exec finished", fields...)
	return code
}

func (b *Backend) startFailed(ctx context.Context, sink core.BackendSink, err error) int {
	pslog.Ctx(ctx).Warn("shell exec start failed", "err", err)
	sink.OnStderr(ctx, fmt.Sprintf("promptline: %v\n", err))
	return ExitCommandNotFound
}

func (b *Backend) changeDirectory(ctx context.Context, target string, sink core.BackendSink) int {
	b.mu.Lock()
	cwd, prev := b.cwd, b.prev
	b.mu.Unlock()

	echo := false
	switch {
	case target == "" || target == "~":
		home, err := homeDir()
		if err != nil {
			sink.OnStderr(ctx, "cd: HOME not set\n")
			return 1
		}
		target = home
	case target == "-":
		target = prev
		echo = true
	case strings.HasPrefix(target, "~/"):
		home, err := homeDir()
		if err != nil {
			sink.OnStderr(ctx, "cd: HOME not set\n")
			return 1
		}
		target = filepath.Join(home, target[2:])
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(cwd, target)
	}
	target = filepath.Clean(target)
	info, err := os.Stat(target)
	switch {
	case err != nil:
		sink.OnStderr(ctx, fmt.Sprintf("cd: %s: No such file or directory\n", target))
		return 1
	case !info.IsDir():
		sink.OnStderr(ctx, fmt.Sprintf("cd: %s: Not a directory\n", target))
		return 1
	}
	b.mu.Lock()
	b.prev = b.cwd
	b.cwd = target
	b.mu.Unlock()
	if echo {
		sink.OnStdout(ctx, target+"\n")
	}
	if target != cwd {
		sink.OnWorkingDirectoryChanged(ctx, target)
	}
	return 0
}

// parseCD recognizes a bare cd with at most one argument. Anything the shell
// would have to interpret is left to the shell.
func parseCD(command string) (string, bool) {
	fields := strings.Fields(command)
	if len(fields) == 0 || fields[0] != "cd" || len(fields) > 2 {
		return "", false
	}
	if strings.ContainsAny(command, ";&|<>$`\\\"'*?(){}") {
		return "", false
	}
	if len(fields) == 1 {
		return "", true
	}
	return fields[1], true
}

func pump(ctx context.Context, wg *sync.WaitGroup, r io.Reader, emit func(context.Context, string)) {
	defer wg.Done()
	buf := make([]byte, chunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			emit(ctx, string(buf[:n]))
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				pslog.Ctx(ctx).Debug("shell stream read failed", "err", err)
			}
			return
		}
	}
}

func buildEnv(extra map[string]string) []string {
	env := os.Environ()
	if len(extra) == 0 {
		return env
	}
	keys := make([]string, 0, len(extra))
	for key := range extra {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		env = append(filterEnv(env, key), key+"="+extra[key])
	}
	return env
}

func filterEnv(env []string, key string) []string {
	prefix := key + "="
	out := env[:0:0]
	for _, entry := range env {
		if strings.HasPrefix(entry, prefix) {
			continue
		}
		out = append(out, entry)
	}
	return out
}

func homeDir() (string, error) {
	if home := os.Getenv("HOME"); home != "" {
		return home, nil
	}
	return os.UserHomeDir()
}
