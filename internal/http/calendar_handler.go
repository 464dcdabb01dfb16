package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/example/chair-portal/internal/application"
	"github.com/example/chair-portal/internal/ical"
	"github.com/example/chair-portal/internal/recurrence"
)

const (
	defaultCalendarDays = 30
	defaultFeedDays     = 90
	maxImportBytes      = 5 << 20
)

type calendarService interface {
	Location() *time.Location
	Today() time.Time
	Materialize(ctx context.Context, from, to time.Time) ([]application.CalendarEntry, error)
	GetMeeting(ctx context.Context, id string) (application.CalendarEntry, error)
	CreateMeeting(ctx context.Context, params application.CreateMeetingParams) (application.Meeting, error)
	UpdateMeeting(ctx context.Context, params application.UpdateMeetingParams) (application.Meeting, error)
	CancelMeeting(ctx context.Context, principal application.Principal, meetingID string) (application.Meeting, error)
	DeleteMeeting(ctx context.Context, principal application.Principal, meetingID string) error
	ImportMeetings(ctx context.Context, params application.ImportMeetingsParams) (application.ImportReport, error)
}

// CalendarOptions tunes the public feed.
type CalendarOptions struct {
	// FeedDays is how many days ahead the ICS feed covers.
	FeedDays  int
	PortalURL string
}

type CalendarHandler struct {
	service   calendarService
	opts      CalendarOptions
	responder responder
	logger    *slog.Logger
}

func NewCalendarHandler(service calendarService, opts CalendarOptions, logger *slog.Logger) *CalendarHandler {
	if opts.FeedDays <= 0 {
		opts.FeedDays = defaultFeedDays
	}
	base := defaultLogger(logger)
	return &CalendarHandler{service: service, opts: opts, responder: newResponder(base), logger: base}
}

func (h *CalendarHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "CalendarHandler", operation, attrs...)
}

// List handles GET /calendar?from=YYYY-MM-DD&to=YYYY-MM-DD.
func (h *CalendarHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	loc := h.service.Location()
	from := h.service.Today()
	to := from.AddDate(0, 0, defaultCalendarDays-1)

	vErr := &application.ValidationError{}
	if raw := strings.TrimSpace(r.URL.Query().Get("from")); raw != "" {
		parsed, err := recurrence.ParseDate(raw, loc)
		if err != nil {
			vErr.FieldErrors = map[string]string{"from": "must be YYYY-MM-DD"}
		} else {
			from = parsed
			to = from.AddDate(0, 0, defaultCalendarDays-1)
		}
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("to")); raw != "" {
		parsed, err := recurrence.ParseDate(raw, loc)
		if err != nil {
			if vErr.FieldErrors == nil {
				vErr.FieldErrors = map[string]string{}
			}
			vErr.FieldErrors["to"] = "must be YYYY-MM-DD"
		} else {
			to = parsed
		}
	}
	if vErr.HasErrors() {
		h.responder.handleServiceError(r.Context(), w, vErr)
		return
	}

	logger := h.log(r.Context(), "List", "from", from.Format(recurrence.DateLayout), "to", to.Format(recurrence.DateLayout))
	entries, err := h.service.Materialize(r.Context(), from, to)
	if err != nil {
		logger.ErrorContext(r.Context(), "calendar listing failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("result_count", len(entries)).DebugContext(r.Context(), "calendar listed")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, calendarResponse{
		From:    from.Format(recurrence.DateLayout),
		To:      to.Format(recurrence.DateLayout),
		Entries: toCalendarEntryDTOs(entries),
	})
}

// Get handles GET /meetings/{id}.
func (h *CalendarHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	id := strings.TrimSpace(chi.URLParam(r, "id"))
	entry, err := h.service.GetMeeting(r.Context(), id)
	if err != nil {
		h.log(r.Context(), "Get", "meeting_id", id).ErrorContext(r.Context(), "meeting lookup failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toCalendarEntryDTO(entry))
}

// Feed handles GET /calendar.ics.
func (h *CalendarHandler) Feed(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	from := h.service.Today()
	to := from.AddDate(0, 0, h.opts.FeedDays)
	logger := h.log(r.Context(), "Feed", "days", h.opts.FeedDays)

	entries, err := h.service.Materialize(r.Context(), from, to)
	if err != nil {
		logger.ErrorContext(r.Context(), "calendar feed failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=backporch-calendar.ics")
	w.WriteHeader(http.StatusOK)
	if err := (ical.Feed{PortalURL: h.opts.PortalURL}).Encode(w, entries); err != nil {
		logger.ErrorContext(r.Context(), "failed to write calendar feed", "error", err)
		return
	}
	logger.With("event_count", len(entries)).DebugContext(r.Context(), "calendar feed served")
}

// Create handles POST /admin/meetings.
func (h *CalendarHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	var req meetingRequest
	if !h.responder.decode(w, r, &req) {
		return
	}

	logger := h.log(r.Context(), "Create", "principal_id", principal.UserID)
	meeting, err := h.service.CreateMeeting(r.Context(), application.CreateMeetingParams{Principal: principal, Input: req.toInput()})
	if err != nil {
		logger.ErrorContext(r.Context(), "meeting creation failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("meeting_id", meeting.ID).InfoContext(r.Context(), "meeting created")
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, meetingResponse{Meeting: toMeetingDTO(meeting)})
}

// Update handles PUT /admin/meetings/{id}.
func (h *CalendarHandler) Update(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	var req meetingRequest
	if !h.responder.decode(w, r, &req) {
		return
	}

	logger := h.log(r.Context(), "Update", "principal_id", principal.UserID, "meeting_id", id)
	meeting, err := h.service.UpdateMeeting(r.Context(), application.UpdateMeetingParams{Principal: principal, MeetingID: id, Input: req.toInput()})
	if err != nil {
		logger.ErrorContext(r.Context(), "meeting update failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "meeting updated")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, meetingResponse{Meeting: toMeetingDTO(meeting)})
}

// Cancel handles POST /admin/meetings/{id}/cancel.
func (h *CalendarHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	logger := h.log(r.Context(), "Cancel", "principal_id", principal.UserID, "meeting_id", id)

	meeting, err := h.service.CancelMeeting(r.Context(), principal, id)
	if err != nil {
		logger.ErrorContext(r.Context(), "meeting cancellation failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "meeting cancelled")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, meetingResponse{Meeting: toMeetingDTO(meeting)})
}

// Delete handles DELETE /admin/meetings/{id}.
func (h *CalendarHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	logger := h.log(r.Context(), "Delete", "principal_id", principal.UserID, "meeting_id", id)

	if err := h.service.DeleteMeeting(r.Context(), principal, id); err != nil {
		logger.ErrorContext(r.Context(), "meeting delete failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "meeting deleted")
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

// Import handles POST /admin/import with an ICS document as the body.
func (h *CalendarHandler) Import(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	replace, _ := strconv.ParseBool(r.URL.Query().Get("replace"))
	logger := h.log(r.Context(), "Import", "principal_id", principal.UserID, "replace", replace)

	// Reject before parsing so a non-admin cannot make us read a large body.
	if !principal.IsAdmin {
		h.responder.handleServiceError(r.Context(), w, application.ErrUnauthorized)
		return
	}

	decoded, err := ical.Decode(http.MaxBytesReader(w, r.Body, maxImportBytes), h.service.Location())
	if err != nil {
		logger.WarnContext(r.Context(), "import body rejected", "error", err, "error_kind", "bad_request")
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	report, err := h.service.ImportMeetings(r.Context(), application.ImportMeetingsParams{
		Principal: principal,
		Meetings:  decoded.Meetings,
		Replace:   replace,
	})
	if err != nil {
		logger.ErrorContext(r.Context(), "import failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	resp := importResponse{
		Created:  report.Created,
		Existing: report.Existing,
		Removed:  report.Removed,
		Skipped:  report.Skipped + len(decoded.Skipped),
	}
	for _, s := range decoded.Skipped {
		resp.Unreadable = append(resp.Unreadable, skippedEventDTO{UID: s.UID, Reason: s.Reason})
	}
	logger.With("created", resp.Created, "existing", resp.Existing, "removed", resp.Removed, "skipped", resp.Skipped).InfoContext(r.Context(), "calendar imported")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, resp)
}

type meetingRequest struct {
	Date              string `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime         string `json:"start_time" validate:"required,datetime=15:04"`
	EndTime           string `json:"end_time" validate:"omitempty,datetime=15:04"`
	Title             string `json:"title" validate:"required,max=200"`
	Description       string `json:"description"`
	VideoLink         string `json:"video_link" validate:"omitempty,url"`
	MeetingType       string `json:"meeting_type" validate:"max=50"`
	GenderRestriction string `json:"gender_restriction" validate:"omitempty,oneof=male female"`
	AcceptingSignups  *bool  `json:"accepting_signups"`
}

func (r meetingRequest) toInput() application.MeetingInput {
	return application.MeetingInput{
		Date:              strings.TrimSpace(r.Date),
		StartTime:         strings.TrimSpace(r.StartTime),
		EndTime:           strings.TrimSpace(r.EndTime),
		Title:             strings.TrimSpace(r.Title),
		Description:       strings.TrimSpace(r.Description),
		VideoLink:         strings.TrimSpace(r.VideoLink),
		MeetingType:       strings.TrimSpace(r.MeetingType),
		GenderRestriction: r.GenderRestriction,
		AcceptingSignups:  r.AcceptingSignups,
	}
}

type meetingDTO struct {
	ID                string `json:"id"`
	Date              string `json:"date"`
	StartTime         string `json:"start_time"`
	EndTime           string `json:"end_time,omitempty"`
	StartsAt          string `json:"starts_at"`
	EndsAt            string `json:"ends_at"`
	Title             string `json:"title"`
	Description       string `json:"description,omitempty"`
	VideoLink         string `json:"video_link,omitempty"`
	MeetingType       string `json:"meeting_type,omitempty"`
	GenderRestriction string `json:"gender_restriction,omitempty"`
	AcceptingSignups  bool   `json:"accepting_signups"`
	Status            string `json:"status"`
	Source            string `json:"source"`
}

func toMeetingDTO(m application.Meeting) meetingDTO {
	dto := meetingDTO{
		ID:                m.ID,
		Date:              m.Date.Format(recurrence.DateLayout),
		StartTime:         m.StartTime.String(),
		StartsAt:          m.StartsAt().Format(time.RFC3339),
		EndsAt:            m.EndsAt().Format(time.RFC3339),
		Title:             m.Title,
		Description:       m.Description,
		VideoLink:         m.VideoLink,
		MeetingType:       m.MeetingType,
		GenderRestriction: m.GenderRestriction,
		AcceptingSignups:  m.AcceptingSignups,
		Status:            string(m.Status),
		Source:            string(m.Source),
	}
	if m.EndTime != nil {
		dto.EndTime = m.EndTime.String()
	}
	return dto
}

type chairDTO struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	BPID        string `json:"bp_id,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

type calendarEntryDTO struct {
	Meeting meetingDTO `json:"meeting"`
	Chair   *chairDTO  `json:"chair,omitempty"`
	IsOpen  bool       `json:"is_open"`
}

func toCalendarEntryDTO(entry application.CalendarEntry) calendarEntryDTO {
	dto := calendarEntryDTO{Meeting: toMeetingDTO(entry.Meeting), IsOpen: entry.IsOpen}
	if entry.Chair != nil {
		dto.Chair = &chairDTO{
			UserID:      entry.Chair.UserID,
			DisplayName: entry.Chair.DisplayName,
			BPID:        entry.Chair.BPID,
			Notes:       entry.Chair.Notes,
		}
	}
	return dto
}

func toCalendarEntryDTOs(entries []application.CalendarEntry) []calendarEntryDTO {
	out := make([]calendarEntryDTO, 0, len(entries))
	for _, entry := range entries {
		out = append(out, toCalendarEntryDTO(entry))
	}
	return out
}

type calendarResponse struct {
	From    string             `json:"from"`
	To      string             `json:"to"`
	Entries []calendarEntryDTO `json:"entries"`
}

type meetingResponse struct {
	Meeting meetingDTO `json:"meeting"`
}

type skippedEventDTO struct {
	UID    string `json:"uid"`
	Reason string `json:"reason"`
}

type importResponse struct {
	Created    int               `json:"created"`
	Existing   int               `json:"existing"`
	Removed    int               `json:"removed"`
	Skipped    int               `json:"skipped"`
	Unreadable []skippedEventDTO `json:"unreadable,omitempty"`
}
