// Package correlation tags contexts and log records with request ids.
// A websocket connection inherits the id of its upgrade request; every command
// it sends gets its own id, linked back to the connection's as the parent.
package correlation

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
)

type (
	idKey     struct{}
	parentKey struct{}
)

// NewID generates an 8-character hex correlation ID (4 random bytes).
func NewID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// WithID returns a new context carrying the given correlation ID.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, idKey{}, id)
}

// ID extracts the correlation ID from ctx, returning ("", false) if not present.
func ID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(idKey{}).(string)
	return id, ok && id != ""
}

// Derive returns a context with a fresh correlation ID whose parent is the ID
// ctx already carries, if any.
func Derive(ctx context.Context) context.Context {
	if id, ok := ID(ctx); ok {
		ctx = context.WithValue(ctx, parentKey{}, id)
	}
	return WithID(ctx, NewID())
}

// ParentID returns the ID that was current when ctx was derived.
func ParentID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(parentKey{}).(string)
	return id, ok && id != ""
}

// Handler wraps an slog.Handler and adds correlation_id (and parent_id for
// derived contexts) to records logged with a context.
type Handler struct {
	inner slog.Handler
}

func NewHandler(inner slog.Handler) *Handler {
	return &Handler{inner: inner}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	if id, ok := ID(ctx); ok {
		r.AddAttrs(slog.String("correlation_id", id))
	}
	if parent, ok := ParentID(ctx); ok {
		r.AddAttrs(slog.String("parent_id", parent))
	}
	if err := h.inner.Handle(ctx, r); err != nil {
		return fmt.Errorf("correlation handler: %w", err)
	}
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{inner: h.inner.WithAttrs(attrs)}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{inner: h.inner.WithGroup(name)}
}
