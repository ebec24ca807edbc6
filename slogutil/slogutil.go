// Package slogutil configures structured logging for the remote-access
// layer and lets request-scoped attributes travel through a context.
package slogutil

import (
	"context"
	"log/slog"
	"maps"
)

type attrMap map[string]slog.Attr

type attrKey struct{}

func cloneAttrs(ctx context.Context) attrMap {
	m, ok := ctx.Value(attrKey{}).(attrMap)
	if !ok {
		return attrMap{}
	}
	return maps.Clone(m)
}

// With returns a new context carrying the given key-value pairs; every
// record logged through a Handler with that context includes them.
func With(ctx context.Context, kvargs ...any) context.Context {
	if len(kvargs) == 0 {
		return ctx
	}

	m := cloneAttrs(ctx)

	var r slog.Record
	r.Add(kvargs...)
	r.Attrs(func(a slog.Attr) bool {
		m[a.Key] = a
		return true
	})

	return context.WithValue(ctx, attrKey{}, m)
}

// Attrs returns the attributes carried by the context.
func Attrs(ctx context.Context) []slog.Attr {
	m, ok := ctx.Value(attrKey{}).(attrMap)
	if !ok {
		return nil
	}

	attrs := make([]slog.Attr, 0, len(m))
	for _, a := range m {
		attrs = append(attrs, a)
	}
	return attrs
}

// Handler decorates a slog.Handler with the context-carried attributes.
type Handler struct {
	inner slog.Handler
}

// Wrap creates a Handler over h.
func Wrap(h slog.Handler) Handler {
	return Handler{inner: h}
}

func (h Handler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.inner.Enabled(ctx, l)
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if attrs := Attrs(ctx); len(attrs) > 0 {
		r = r.Clone()
		r.AddAttrs(attrs...)
	}
	return h.inner.Handle(ctx, r)
}

func (h Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return Handler{inner: h.inner.WithAttrs(attrs)}
}

func (h Handler) WithGroup(name string) slog.Handler {
	return Handler{inner: h.inner.WithGroup(name)}
}
