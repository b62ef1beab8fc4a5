package logger

import (
	"context"
	"io"
	"log/slog"

	"github.com/raai2005/ai-learning-assistant-RAG/internal/middleware"
)

type ctxKey int

const contentIDKey ctxKey = 0

// ContextHandler decorates records with the request correlation id and the
// content item being processed, when present on the context.
type ContextHandler struct {
	slog.Handler
}

func NewContextHandler(h slog.Handler) *ContextHandler {
	return &ContextHandler{Handler: h}
}

// New returns a JSON logger writing to w with context decoration.
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(NewContextHandler(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})))
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if id, ok := ctx.Value(middleware.CorrelationKey).(string); ok && id != "" {
		r.AddAttrs(slog.String("correlation_id", id))
	}
	if id, ok := ctx.Value(contentIDKey).(string); ok && id != "" {
		r.AddAttrs(slog.String("content_id", id))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithGroup(name)}
}

// WithContentID attaches a content id that every log record on ctx will carry.
func WithContentID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contentIDKey, id)
}
