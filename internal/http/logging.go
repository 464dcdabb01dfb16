package http

import (
	"context"
	"log/slog"
)

func defaultLogger(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

// handlerLogger prefers the request-scoped logger installed by RequestLogger,
// so request_id flows into handler logs, and tags the signed-in member when
// RequireSession has run.
func handlerLogger(ctx context.Context, fallback *slog.Logger, handler, operation string, attrs ...any) *slog.Logger {
	logger := LoggerFromContext(ctx)
	if logger == nil {
		logger = defaultLogger(fallback)
	}

	logger = logger.With("handler", handler, "operation", operation)
	if principal, ok := PrincipalFromContext(ctx); ok {
		logger = logger.With("principal_id", principal.UserID)
	}
	if len(attrs) > 0 {
		logger = logger.With(attrs...)
	}
	return logger
}
