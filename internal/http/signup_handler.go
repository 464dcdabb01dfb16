package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/example/chair-portal/internal/application"
)

type signupService interface {
	Claim(ctx context.Context, params application.ClaimParams) (application.ChairSignup, error)
	Release(ctx context.Context, params application.ReleaseParams) error
	ListMySignups(ctx context.Context, principal application.Principal) ([]application.SignupWithMeeting, error)
}

type SignupHandler struct {
	service   signupService
	responder responder
	logger    *slog.Logger
}

func NewSignupHandler(service signupService, logger *slog.Logger) *SignupHandler {
	base := defaultLogger(logger)
	return &SignupHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *SignupHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "SignupHandler", operation, attrs...)
}

// Claim handles POST /meetings/{id}/signup.
func (h *SignupHandler) Claim(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	meetingID := strings.TrimSpace(chi.URLParam(r, "id"))

	var req claimRequest
	if !h.responder.decode(w, r, &req) {
		return
	}

	logger := h.log(r.Context(), "Claim", "principal_id", principal.UserID, "meeting_id", meetingID)
	signup, err := h.service.Claim(r.Context(), application.ClaimParams{
		Principal: principal,
		MeetingID: meetingID,
		Notes:     strings.TrimSpace(req.Notes),
	})
	if err != nil {
		logger.WarnContext(r.Context(), "claim rejected", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("signup_id", signup.ID).InfoContext(r.Context(), "meeting claimed")
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, signupResponse{Signup: toSignupDTO(signup)})
}

// Release handles DELETE /meetings/{id}/signup.
func (h *SignupHandler) Release(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	meetingID := strings.TrimSpace(chi.URLParam(r, "id"))
	logger := h.log(r.Context(), "Release", "principal_id", principal.UserID, "meeting_id", meetingID)

	if err := h.service.Release(r.Context(), application.ReleaseParams{Principal: principal, MeetingID: meetingID}); err != nil {
		logger.WarnContext(r.Context(), "release rejected", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "meeting released")
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

// Mine handles GET /me/signups.
func (h *SignupHandler) Mine(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	items, err := h.service.ListMySignups(r.Context(), principal)
	if err != nil {
		h.log(r.Context(), "Mine", "principal_id", principal.UserID).ErrorContext(r.Context(), "signup listing failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	out := make([]mySignupDTO, 0, len(items))
	for _, item := range items {
		out = append(out, mySignupDTO{Signup: toSignupDTO(item.Signup), Meeting: toMeetingDTO(item.Meeting)})
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, mySignupsResponse{Signups: out})
}

type claimRequest struct {
	Notes string `json:"notes" validate:"max=500"`
}

type signupDTO struct {
	ID          string `json:"id"`
	MeetingID   string `json:"meeting_id"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	BPID        string `json:"bp_id,omitempty"`
	Notes       string `json:"notes,omitempty"`
	CreatedAt   string `json:"created_at"`
}

func toSignupDTO(s application.ChairSignup) signupDTO {
	return signupDTO{
		ID:          s.ID,
		MeetingID:   s.MeetingID,
		UserID:      s.UserID,
		DisplayName: s.DisplayNameSnapshot,
		BPID:        application.FormatBPID(s.MemberNumber),
		Notes:       s.Notes,
		CreatedAt:   s.CreatedAt.UTC().Format(time.RFC3339),
	}
}

type signupResponse struct {
	Signup signupDTO `json:"signup"`
}

type mySignupDTO struct {
	Signup  signupDTO  `json:"signup"`
	Meeting meetingDTO `json:"meeting"`
}

type mySignupsResponse struct {
	Signups []mySignupDTO `json:"signups"`
}
