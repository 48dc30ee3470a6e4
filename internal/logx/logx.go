package logx

import (
	"context"

	"pkt.systems/promptline/schema"
	"pkt.systems/pslog"
)

type contextKey int

const (
	sessionKey contextKey = iota
	remoteKey
)

// WithSession annotates the logger with a session id when available.
func WithSession(log pslog.Logger, sessionID schema.SessionID) pslog.Logger {
	if sessionID != "" {
		log = log.With("session", sessionID)
	}
	return log
}

// SessionCtx returns the context logger annotated with the session id unless
// the context already carries that marker.
func SessionCtx(ctx context.Context, sessionID schema.SessionID) pslog.Logger {
	log := pslog.Ctx(ctx)
	if sessionID == "" {
		return log
	}
	if current, ok := ctx.Value(sessionKey).(schema.SessionID); ok && current == sessionID {
		return log
	}
	return log.With("session", sessionID)
}

// WithRemote annotates the logger with the remote peer and user.
func WithRemote(log pslog.Logger, user, addr string) pslog.Logger {
	if user != "" {
		log = log.With("user", user)
	}
	if addr != "" {
		log = log.With("remote", addr)
	}
	return log
}

// ContextWithSession stores the session marker on the context for log de-duplication.
func ContextWithSession(ctx context.Context, sessionID schema.SessionID) context.Context {
	if ctx == nil || sessionID == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionKey, sessionID)
}

// ContextWithSessionLogger attaches the logger and session marker to the context.
func ContextWithSessionLogger(ctx context.Context, log pslog.Logger, sessionID schema.SessionID) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithSession(ctx, sessionID)
}

// ContextWithRemote stores the remote address on the context.
func ContextWithRemote(ctx context.Context, addr string) context.Context {
	if ctx == nil || addr == "" {
		return ctx
	}
	return context.WithValue(ctx, remoteKey, addr)
}

// RemoteFromContext returns the remote address stored by ContextWithRemote.
func RemoteFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	addr, _ := ctx.Value(remoteKey).(string)
	return addr
}

// CopyContextFields copies session/remote markers from src to dst.
func CopyContextFields(dst context.Context, src context.Context) context.Context {
	if src == nil {
		return dst
	}
	if id, ok := src.Value(sessionKey).(schema.SessionID); ok && id != "" {
		dst = ContextWithSession(dst, id)
	}
	if addr := RemoteFromContext(src); addr != "" {
		dst = ContextWithRemote(dst, addr)
	}
	return dst
}
