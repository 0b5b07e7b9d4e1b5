package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
)

const serviceName = "voice-receptionist"

// Level maps APP_ENV to the minimum log level. Local and dev log debug.
func Level(appEnv string) slog.Level {
	switch appEnv {
	case "local", "dev":
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// New returns the service's JSON logger on stdout.
func New(appEnv string) *slog.Logger {
	return NewWithWriter(os.Stdout, appEnv)
}

// NewWithWriter is New with a caller-chosen sink. Every record carries the
// service name and environment so shared log pipelines can filter on them.
func NewWithWriter(w io.Writer, appEnv string) *slog.Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: Level(appEnv)})
	l := slog.New(h).With("service", serviceName)
	if appEnv != "" {
		l = l.With("env", appEnv)
	}
	return l
}

type ctxKey struct{}

// With stores a logger in context.
func With(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From gets a logger from context, falling back to slog.Default().
func From(ctx context.Context) *slog.Logger {
	if v := ctx.Value(ctxKey{}); v != nil {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}
