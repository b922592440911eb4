// Package log holds the slog plumbing shared by the ews-client command:
// a handler that keeps credentials out of log output and a size-rotated
// log file.
package log

import (
	"context"
	"log/slog"
	"strings"
)

// Redacted replaces sensitive values.
const Redacted = "[REDACTED]"

// sensitiveKeys are matched case-insensitively as substrings of attribute
// keys.
var sensitiveKeys = []string{
	"password",
	"passwd",
	"secret",
	"token",
	"hash",
	"authorization",
	"cookie",
	"cred",
}

// authSchemes prefix Authorization and WWW-Authenticate values, which carry
// NTLM messages, Basic credentials or bearer tokens.
var authSchemes = []string{"ntlm ", "negotiate ", "basic ", "bearer "}

// RedactingHandler is a slog.Handler that redacts credentials before
// passing records on.
type RedactingHandler struct {
	next slog.Handler
}

// NewRedactingHandler creates a new RedactingHandler.
func NewRedactingHandler(next slog.Handler) *RedactingHandler {
	return &RedactingHandler{next: next}
}

// Enabled implements slog.Handler.
func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(redactAttr(a))
		return true
	})
	return h.next.Handle(ctx, out)
}

// WithAttrs implements slog.Handler.
func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = redactAttr(a)
	}
	return &RedactingHandler{next: h.next.WithAttrs(redacted)}
}

// WithGroup implements slog.Handler.
func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{next: h.next.WithGroup(name)}
}

func redactAttr(a slog.Attr) slog.Attr {
	a.Value = a.Value.Resolve()

	if a.Value.Kind() == slog.KindGroup {
		group := a.Value.Group()
		args := make([]any, len(group))
		for i, attr := range group {
			args[i] = redactAttr(attr)
		}
		return slog.Group(a.Key, args...)
	}

	if isSensitiveKey(a.Key) {
		if a.Value.Kind() == slog.KindString && a.Value.String() == "" {
			return a
		}
		return slog.String(a.Key, Redacted)
	}
	if a.Value.Kind() == slog.KindString && hasAuthScheme(a.Value.String()) {
		return slog.String(a.Key, Redacted)
	}
	return a
}

func isSensitiveKey(key string) bool {
	key = strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(key, s) {
			return true
		}
	}
	return false
}

func hasAuthScheme(v string) bool {
	v = strings.ToLower(v)
	for _, s := range authSchemes {
		if strings.HasPrefix(v, s) && len(v) > len(s) {
			return true
		}
	}
	return false
}
