package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/example/chair-portal/internal/application"
)

var (
	errBadRequestBody      = errors.New("request body is malformed")
	errMissingSessionToken = errors.New("a session token is required")
)

type responder struct {
	logger   *slog.Logger
	validate *validator.Validate
}

func newResponder(logger *slog.Logger) responder {
	if logger == nil {
		logger = slog.Default()
	}
	return responder{logger: logger, validate: validator.New(validator.WithRequiredStructEnabled())}
}

// decode reads a JSON body into dst and runs its validate tags. An empty body
// decodes as the zero value. It writes the error response itself and reports
// whether the handler may continue.
func (r responder) decode(w http.ResponseWriter, req *http.Request, dst any) bool {
	ctx := req.Context()
	if err := json.NewDecoder(req.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		r.loggerFor(ctx).WarnContext(ctx, "failed to decode request body", "error", err, "error_kind", "bad_request")
		r.writeError(ctx, w, http.StatusBadRequest, errBadRequestBody)
		return false
	}
	if err := r.validate.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			r.writeError(ctx, w, http.StatusBadRequest, errBadRequestBody)
			return false
		}
		details := make(map[string]string, len(fieldErrs))
		for _, fe := range fieldErrs {
			details[jsonFieldName(fe.Field())] = describeFieldError(fe)
		}
		r.loggerFor(ctx).WarnContext(ctx, "request body rejected", "fields", len(details), "error_kind", "validation")
		r.writeJSON(ctx, w, http.StatusUnprocessableEntity, errorResponse{
			ErrorCode: "VALIDATION_FAILED",
			Message:   "Please correct the highlighted fields.",
			Errors:    details,
		})
		return false
	}
	return true
}

func (r responder) writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	if w == nil {
		return
	}

	if status == http.StatusNoContent || payload == nil {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.loggerFor(ctx).ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (r responder) writeError(ctx context.Context, w http.ResponseWriter, status int, err error) {
	message := http.StatusText(status)
	if err != nil {
		if msg := strings.TrimSpace(err.Error()); msg != "" {
			message = msg
		}
		r.loggerFor(ctx).ErrorContext(ctx, "request failed", "status", status, "error", err)
	}

	r.writeJSON(ctx, w, status, errorResponse{Message: message})
}

// handleServiceError translates application errors into responses. Each
// domain failure has its own status and error code.
func (r responder) handleServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		r.writeError(ctx, w, http.StatusInternalServerError, errors.New("unknown error"))
		return
	}

	status, body := errorResponseFor(err)
	r.writeJSON(ctx, w, status, body)
}

func errorResponseFor(err error) (int, errorResponse) {
	switch {
	case errors.Is(err, application.ErrAlreadyClaimed):
		return http.StatusConflict, errorResponse{ErrorCode: "SLOT_TAKEN", Message: "Someone has already signed up to chair this meeting."}
	case errors.Is(err, application.ErrMeetingNotFound):
		return http.StatusNotFound, errorResponse{ErrorCode: "MEETING_NOT_FOUND", Message: "That meeting does not exist."}
	case errors.Is(err, application.ErrGenderRestricted):
		return http.StatusForbidden, errorResponse{ErrorCode: "GENDER_RESTRICTED", Message: "This meeting is restricted to members of a specific gender."}
	case errors.Is(err, application.ErrNotOwner):
		return http.StatusForbidden, errorResponse{ErrorCode: "NOT_OWNER", Message: "Only the volunteer or an administrator can do that."}
	case errors.Is(err, application.ErrDuplicateSignup):
		return http.StatusConflict, errorResponse{ErrorCode: "ALREADY_VOLUNTEERED", Message: "You have already volunteered for that date."}
	case errors.Is(err, application.ErrPastDate):
		return http.StatusUnprocessableEntity, errorResponse{ErrorCode: "PAST_DATE", Message: "Dates in the past cannot be selected."}
	case errors.Is(err, application.ErrMeetingClosed):
		return http.StatusConflict, errorResponse{ErrorCode: "MEETING_CLOSED", Message: "This meeting is not accepting chairperson signups."}
	case errors.Is(err, application.ErrSignupNotFound):
		return http.StatusNotFound, errorResponse{ErrorCode: "SIGNUP_NOT_FOUND", Message: "Nobody has signed up to chair this meeting."}
	case errors.Is(err, application.ErrTransientStore):
		return http.StatusServiceUnavailable, errorResponse{ErrorCode: "STORE_UNAVAILABLE", Message: "The portal is temporarily unavailable. Please try again."}
	case errors.Is(err, application.ErrInvalidCredentials):
		return http.StatusUnauthorized, errorResponse{ErrorCode: "AUTH_INVALID_CREDENTIALS", Message: "Email or password is incorrect."}
	case errors.Is(err, application.ErrSessionExpired), errors.Is(err, application.ErrSessionRevoked):
		return http.StatusUnauthorized, errorResponse{ErrorCode: "AUTH_SESSION_EXPIRED", Message: "Your session has ended. Please sign in again."}
	case errors.Is(err, application.ErrUnauthorized):
		return http.StatusForbidden, errorResponse{ErrorCode: "AUTH_FORBIDDEN", Message: "You are not allowed to perform this action."}
	case errors.Is(err, application.ErrAlreadyExists):
		return http.StatusConflict, errorResponse{ErrorCode: "ALREADY_EXISTS", Message: "That record already exists."}
	case errors.Is(err, application.ErrNotFound):
		return http.StatusNotFound, errorResponse{ErrorCode: "NOT_FOUND", Message: "The requested resource was not found."}
	}

	var vErr *application.ValidationError
	if errors.As(err, &vErr) {
		return http.StatusUnprocessableEntity, errorResponse{
			ErrorCode: "VALIDATION_FAILED",
			Message:   "Please correct the highlighted fields.",
			Errors:    vErr.FieldErrors,
		}
	}
	return http.StatusInternalServerError, errorResponse{Message: "An internal error occurred."}
}

func (r responder) loggerFor(ctx context.Context) *slog.Logger {
	if logger := LoggerFromContext(ctx); logger != nil {
		return logger
	}
	return r.logger
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "oneof":
		return "must be one of: " + fe.Param()
	case "datetime":
		return "must match " + fe.Param()
	case "url":
		return "must be a valid URL"
	default:
		return "is invalid"
	}
}

// jsonFieldName converts a Go field name such as DisplayName to display_name.
func jsonFieldName(field string) string {
	var b strings.Builder
	for i, r := range field {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

type errorResponse struct {
	ErrorCode string            `json:"error_code,omitempty"`
	Message   string            `json:"message"`
	Errors    map[string]string `json:"errors,omitempty"`
}
