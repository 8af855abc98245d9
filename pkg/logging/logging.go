// Package logging builds the JSON slog loggers used by the service and
// carries request-scoped attributes through context.Context.
//
// Attributes added with [WithAttrs] are appended to every record logged
// with that context by a logger from [New] (or any logger whose handler
// is wrapped in a [ContextHandler]):
//
//	ctx = logging.WithAttrs(ctx, slog.String("correlation_id", id))
//	logger.InfoContext(ctx, "request complete") // carries correlation_id
package logging

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"strings"

	sserr "github.com/StricklySoft/stricklysoft-claims/pkg/errors"
)

// New returns a logger writing JSON records at level or above to w.
func New(w io.Writer, level slog.Leveler) *slog.Logger {
	return slog.New(NewContextHandler(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})))
}

// ParseLevel parses debug, info, warn or error, ignoring case. An empty
// string is info.
func ParseLevel(s string) (slog.Level, error) {
	if strings.TrimSpace(s) == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, sserr.Wrapf(err, sserr.CodeValidation, "logging: unknown level %q", s)
	}
	return level, nil
}

type attrsKey struct{}

// WithAttrs returns a copy of ctx carrying attrs in addition to any
// attributes already present.
func WithAttrs(ctx context.Context, attrs ...slog.Attr) context.Context {
	if len(attrs) == 0 {
		return ctx
	}
	existing := Attrs(ctx)
	merged := make([]slog.Attr, 0, len(existing)+len(attrs))
	merged = append(merged, existing...)
	merged = append(merged, attrs...)
	return context.WithValue(ctx, attrsKey{}, merged)
}

// Attrs returns the attributes stored in ctx.
func Attrs(ctx context.Context) []slog.Attr {
	attrs, _ := ctx.Value(attrsKey{}).([]slog.Attr)
	return slices.Clip(attrs)
}

// ContextHandler adds the attributes stored by [WithAttrs] to each record
// before passing it on.
type ContextHandler struct {
	next slog.Handler
}

func NewContextHandler(next slog.Handler) *ContextHandler {
	return &ContextHandler{next: next}
}

func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if attrs := Attrs(ctx); len(attrs) > 0 {
		r = r.Clone()
		r.AddAttrs(attrs...)
	}
	return h.next.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{next: h.next.WithAttrs(attrs)}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{next: h.next.WithGroup(name)}
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
