package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/example/chair-portal/internal/application"
)

type SessionValidator interface {
	ValidateSession(ctx context.Context, token string) (application.Principal, error)
}

// RequireSession rejects requests without a live session and stores the
// principal in the request context.
func RequireSession(validator SessionValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	responder := newResponder(logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractTokenFromRequest(r)
			if token == "" {
				responder.writeJSON(r.Context(), w, http.StatusUnauthorized, errorResponse{
					ErrorCode: "AUTH_REQUIRED",
					Message:   errMissingSessionToken.Error(),
				})
				return
			}

			principal, err := validator.ValidateSession(r.Context(), token)
			if err != nil {
				switch {
				case errors.Is(err, application.ErrSessionExpired), errors.Is(err, application.ErrSessionRevoked):
					responder.writeJSON(r.Context(), w, http.StatusUnauthorized, errorResponse{ErrorCode: "AUTH_SESSION_EXPIRED", Message: "Your session has ended. Please sign in again."})
				case errors.Is(err, application.ErrUnauthorized), errors.Is(err, application.ErrNotFound), errors.Is(err, application.ErrInvalidCredentials):
					responder.writeJSON(r.Context(), w, http.StatusUnauthorized, errorResponse{ErrorCode: "AUTH_REQUIRED", Message: "Session not found. Please sign in again."})
				case errors.Is(err, application.ErrTransientStore):
					responder.handleServiceError(r.Context(), w, err)
				default:
					responder.writeJSON(r.Context(), w, http.StatusInternalServerError, errorResponse{Message: "Session validation failed."})
				}
				return
			}

			ctx := ContextWithPrincipal(r.Context(), principal)
			if logger := LoggerFromContext(ctx); logger != nil {
				ctx = ContextWithLogger(ctx, logger.With("principal_id", principal.UserID))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin must run after RequireSession.
func RequireAdmin(logger *slog.Logger) func(http.Handler) http.Handler {
	responder := newResponder(logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok || !principal.IsAdmin {
				responder.loggerFor(r.Context()).WarnContext(r.Context(), "administrator route refused", "error_kind", "unauthorized")
				responder.handleServiceError(r.Context(), w, application.ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger attaches a logger carrying chi's request id to the context
// and logs request start and completion.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	if base == nil {
		base = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := base.With(
				"request_id", chimw.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
			)

			ctx := ContextWithLogger(r.Context(), logger)
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			logger.DebugContext(ctx, "request started")
			next.ServeHTTP(ww, r.WithContext(ctx))
			logger.InfoContext(ctx, "request completed",
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
			)
		})
	}
}
