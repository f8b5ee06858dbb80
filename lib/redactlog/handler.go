// Copyright 2026 The Archivemount Authors
// SPDX-License-Identifier: Apache-2.0

// Package redactlog wraps an slog.Handler to implement spec §6.7's
// --redact behavior: substitute the literal "(redacted)" for any
// attribute value carrying an archive filename or archive entry
// pathname, identified by a fixed set of attribute keys the engine
// always uses for that data.
package redactlog

import (
	"context"
	"log/slog"
)

// redactedKeys names every attribute key the engine ever attaches a
// filesystem pathname to. Centralizing the list here (rather than
// redacting by value-pattern) keeps redaction deterministic: it never
// guesses whether a string "looks like" a path.
var redactedKeys = map[string]bool{
	"archive":     true,
	"mount_point": true,
	"pathname":    true,
	"entry":       true,
	"path":        true,
	"link_target": true,
}

const redactedValue = "(redacted)"

// Handler wraps an inner slog.Handler, redacting the values of
// redactedKeys before delegating. Safe to stack with any other
// slog.Handler, including the fanout-style combinators the rest of
// the ambient logging stack uses.
type Handler struct {
	inner   slog.Handler
	enabled bool
}

// Wrap returns a Handler over inner. When enabled is false, Wrap
// returns inner unchanged — --redact is off by default, and an
// unconditional wrapper would add attribute-walking overhead to every
// log call for no benefit.
func Wrap(inner slog.Handler, enabled bool) slog.Handler {
	if !enabled {
		return inner
	}
	return &Handler{inner: inner, enabled: enabled}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, record slog.Record) error {
	redacted := slog.NewRecord(record.Time, record.Level, record.Message, record.PC)
	record.Attrs(func(a slog.Attr) bool {
		redacted.AddAttrs(redactAttr(a))
		return true
	})
	return h.inner.Handle(ctx, redacted)
}

func redactAttr(a slog.Attr) slog.Attr {
	if redactedKeys[a.Key] {
		return slog.String(a.Key, redactedValue)
	}
	return a
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = redactAttr(a)
	}
	return &Handler{inner: h.inner.WithAttrs(redacted), enabled: h.enabled}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{inner: h.inner.WithGroup(name), enabled: h.enabled}
}
