package application

import (
	"context"
	"errors"
	"log/slog"

	"github.com/example/chair-portal/internal/logging"
)

func defaultLogger(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

// serviceLogger tags a logger with the service and operation. The logger in ctx
// wins over base so HTTP request ids carry through.
func serviceLogger(ctx context.Context, base *slog.Logger, service, operation string, attrs ...any) *slog.Logger {
	logger := logging.FromContext(ctx)
	if logger == nil {
		logger = defaultLogger(base)
	}
	logger = logger.With("service", service, "operation", operation)
	if len(attrs) > 0 {
		logger = logger.With(attrs...)
	}
	return logger
}

// ErrorKind maps sentinel and validation errors to a stable logging label.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrAlreadyClaimed):
		return "already_claimed"
	case errors.Is(err, ErrMeetingNotFound):
		return "meeting_not_found"
	case errors.Is(err, ErrMeetingClosed):
		return "meeting_closed"
	case errors.Is(err, ErrGenderRestricted):
		return "gender_restricted"
	case errors.Is(err, ErrNotOwner):
		return "not_owner"
	case errors.Is(err, ErrSignupNotFound):
		return "signup_not_found"
	case errors.Is(err, ErrDuplicateSignup):
		return "duplicate_signup"
	case errors.Is(err, ErrPastDate):
		return "past_date"
	case errors.Is(err, ErrTransientStore):
		return "transient_store"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrSessionExpired):
		return "session_expired"
	case errors.Is(err, ErrSessionRevoked):
		return "session_revoked"
	}

	var cfgErr *ConfigurationError
	if errors.As(err, &cfgErr) {
		return "configuration"
	}

	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return "validation"
	}

	return "unexpected"
}
