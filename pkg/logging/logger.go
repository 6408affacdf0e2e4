package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Options describe how to configure a logger instance.
type Options struct {
	Level  string
	Format string
	Output io.Writer
}

// New creates a structured logger backed by Go's slog package. Records logged
// with a context carrying a delivery id get a "delivery_id" attribute.
func New(opts Options) (*slog.Logger, error) {
	lvl, err := parseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	handlerOpts := slog.HandlerOptions{
		Level:       lvl,
		ReplaceAttr: replaceTimeAttr,
	}

	format, err := NormalizeFormat(opts.Format)
	if err != nil {
		return nil, err
	}
	var handler slog.Handler
	if format == "console" {
		handler = slog.NewTextHandler(out, &handlerOpts)
	} else {
		handler = slog.NewJSONHandler(out, &handlerOpts)
	}

	return slog.New(&deliveryHandler{inner: handler}), nil
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type deliveryKey struct{}

// NewDeliveryID mints an identifier for one notification delivery.
func NewDeliveryID() string {
	return uuid.NewString()
}

// WithDeliveryID returns a context carrying the given delivery id.
func WithDeliveryID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, deliveryKey{}, id)
}

// DeliveryID extracts the delivery id from ctx.
func DeliveryID(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(deliveryKey{}).(string)
	return id, ok && id != ""
}

type deliveryHandler struct {
	inner slog.Handler
}

func (h *deliveryHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *deliveryHandler) Handle(ctx context.Context, r slog.Record) error {
	if id, ok := DeliveryID(ctx); ok {
		r.AddAttrs(slog.String("delivery_id", id))
	}
	return h.inner.Handle(ctx, r)
}

func (h *deliveryHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &deliveryHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *deliveryHandler) WithGroup(name string) slog.Handler {
	return &deliveryHandler{inner: h.inner.WithGroup(name)}
}

func parseLevel(level string) (slog.Leveler, error) {
	normalized, err := NormalizeLevel(level)
	if err != nil {
		return nil, err
	}

	var lvl slog.Level
	switch normalized {
	case "info":
		lvl = slog.LevelInfo
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unhandled log level %q", normalized)
	}

	var levelVar slog.LevelVar
	levelVar.Set(lvl)
	return &levelVar, nil
}

// NormalizeLevel validates and lowercases known logging levels.
func NormalizeLevel(level string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return "info", nil
	case "debug":
		return "debug", nil
	case "warn", "warning":
		return "warn", nil
	case "error":
		return "error", nil
	default:
		return "", fmt.Errorf("unsupported log level %q", level)
	}
}

// NormalizeFormat validates and canonicalizes logging format identifiers.
func NormalizeFormat(format string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		return "json", nil
	case "console", "text":
		return "console", nil
	default:
		return "", fmt.Errorf("unsupported log format %q", format)
	}
}

func replaceTimeAttr(_ []string, attr slog.Attr) slog.Attr {
	if attr.Key == slog.TimeKey && attr.Value.Kind() == slog.KindTime {
		attr.Value = slog.StringValue(attr.Value.Time().UTC().Format(time.RFC3339))
	}
	return attr
}
