package llm

import (
	"context"
	"log/slog"
	"time"
)

// LoggingProvider is a decorator that logs every completion call.
type LoggingProvider struct {
	inner  Provider
	name   string
	logger *slog.Logger
}

// WithLogging wraps a Provider with structured request logging.
func WithLogging(p Provider, name string, logger *slog.Logger) Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingProvider{inner: p, name: name, logger: logger}
}

func (l *LoggingProvider) Complete(ctx context.Context, req Request) (string, error) {
	start := time.Now()
	out, err := l.inner.Complete(ctx, req)
	attrs := []any{
		"provider", l.name,
		"model", l.inner.ModelID(),
		"latency_ms", time.Since(start).Milliseconds(),
		"prompt_chars", len(req.Prompt),
	}
	if err != nil {
		l.logger.WarnContext(ctx, "LLM request failed", append(attrs, "error", err)...)
		return out, err
	}
	l.logger.DebugContext(ctx, "LLM request", append(attrs, "response", out)...)
	return out, nil
}

func (l *LoggingProvider) ModelID() string {
	return l.inner.ModelID()
}

// Unwrap returns the wrapped provider.
func (l *LoggingProvider) Unwrap() Provider { return l.inner }
