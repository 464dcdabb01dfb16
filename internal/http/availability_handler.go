package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/example/chair-portal/internal/application"
	"github.com/example/chair-portal/internal/recurrence"
)

type availabilityService interface {
	Volunteer(ctx context.Context, params application.VolunteerParams) (application.Availability, error)
	ListUpcomingForUser(ctx context.Context, principal application.Principal) ([]application.Availability, error)
	ListForDate(ctx context.Context, principal application.Principal, date string) ([]application.Availability, error)
	Withdraw(ctx context.Context, principal application.Principal, id string) error
}

type AvailabilityHandler struct {
	service   availabilityService
	responder responder
	logger    *slog.Logger
}

func NewAvailabilityHandler(service availabilityService, logger *slog.Logger) *AvailabilityHandler {
	base := defaultLogger(logger)
	return &AvailabilityHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *AvailabilityHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "AvailabilityHandler", operation, attrs...)
}

// Volunteer handles POST /availability.
func (h *AvailabilityHandler) Volunteer(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	var req volunteerRequest
	if !h.responder.decode(w, r, &req) {
		return
	}

	logger := h.log(r.Context(), "Volunteer", "principal_id", principal.UserID, "date", req.Date)
	availability, err := h.service.Volunteer(r.Context(), application.VolunteerParams{
		Principal:      principal,
		Date:           strings.TrimSpace(req.Date),
		TimePreference: application.TimePreference(req.TimePreference),
		Notes:          strings.TrimSpace(req.Notes),
	})
	if err != nil {
		logger.WarnContext(r.Context(), "volunteer rejected", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("availability_id", availability.ID).InfoContext(r.Context(), "availability recorded")
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, availabilityResponse{Availability: toAvailabilityDTO(availability)})
}

// Mine handles GET /availability/mine.
func (h *AvailabilityHandler) Mine(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	items, err := h.service.ListUpcomingForUser(r.Context(), principal)
	if err != nil {
		h.log(r.Context(), "Mine", "principal_id", principal.UserID).ErrorContext(r.Context(), "availability listing failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listAvailabilityResponse{Availability: toAvailabilityDTOs(items)})
}

// ListForDate handles GET /admin/availability?date=YYYY-MM-DD.
func (h *AvailabilityHandler) ListForDate(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	date := strings.TrimSpace(r.URL.Query().Get("date"))
	logger := h.log(r.Context(), "ListForDate", "principal_id", principal.UserID, "date", date)

	items, err := h.service.ListForDate(r.Context(), principal, date)
	if err != nil {
		logger.ErrorContext(r.Context(), "availability listing failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("result_count", len(items)).DebugContext(r.Context(), "availability listed")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listAvailabilityResponse{Availability: toAvailabilityDTOs(items)})
}

// Withdraw handles DELETE /availability/{id}.
func (h *AvailabilityHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if err := h.service.Withdraw(r.Context(), principal, id); err != nil {
		h.log(r.Context(), "Withdraw", "principal_id", principal.UserID, "availability_id", id).
			WarnContext(r.Context(), "withdraw rejected", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

type volunteerRequest struct {
	Date           string `json:"date" validate:"required,datetime=2006-01-02"`
	TimePreference string `json:"time_preference" validate:"omitempty,oneof=morning afternoon evening any"`
	Notes          string `json:"notes" validate:"max=500"`
}

type availabilityDTO struct {
	ID             string `json:"id"`
	UserID         string `json:"user_id"`
	DisplayName    string `json:"display_name"`
	Date           string `json:"date"`
	TimePreference string `json:"time_preference"`
	Notes          string `json:"notes,omitempty"`
	CreatedAt      string `json:"created_at"`
}

func toAvailabilityDTO(a application.Availability) availabilityDTO {
	return availabilityDTO{
		ID:             a.ID,
		UserID:         a.UserID,
		DisplayName:    a.DisplayNameSnapshot,
		Date:           a.Date.Format(recurrence.DateLayout),
		TimePreference: string(a.TimePreference),
		Notes:          a.Notes,
		CreatedAt:      a.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toAvailabilityDTOs(items []application.Availability) []availabilityDTO {
	out := make([]availabilityDTO, 0, len(items))
	for _, item := range items {
		out = append(out, toAvailabilityDTO(item))
	}
	return out
}

type availabilityResponse struct {
	Availability availabilityDTO `json:"availability"`
}

type listAvailabilityResponse struct {
	Availability []availabilityDTO `json:"availability"`
}
