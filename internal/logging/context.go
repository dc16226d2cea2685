package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
)

type loggerContextKey struct{}

// NewServiceLogger builds the JSON logger shared by the service and its commands
func NewServiceLogger(w io.Writer, level slog.Leveler) *slog.Logger {
	return slog.New(NewTracingLogHandler(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})))
}

var fallbackLogger = sync.OnceValue(func() *slog.Logger {
	return NewServiceLogger(os.Stdout, nil).With(slog.String("logger", "fallback"))
})

func FromContext(ctx context.Context) *slog.Logger {
	logger, ok := ctx.Value(loggerContextKey{}).(*slog.Logger)
	if !ok || logger == nil {
		return fallbackLogger()
	}
	return logger
}

func AddToContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, logger)
}

func AddMetaToContext(ctx context.Context, args ...slog.Attr) context.Context {
	logger := FromContext(ctx)

	anySlice := make([]any, len(args))
	for i, arg := range args {
		anySlice[i] = arg
	}

	return AddToContext(ctx, logger.With(anySlice...))
}
