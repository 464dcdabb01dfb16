package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/chair-portal/internal/application"
)

type reminderRunner interface {
	RunScan(ctx context.Context) (application.ScanReport, error)
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// OpsHandler serves the health probe and the manual reminder trigger.
type OpsHandler struct {
	reminders reminderRunner
	store     Pinger
	responder responder
	logger    *slog.Logger
}

func NewOpsHandler(reminders reminderRunner, store Pinger, logger *slog.Logger) *OpsHandler {
	base := defaultLogger(logger)
	return &OpsHandler{reminders: reminders, store: store, responder: newResponder(base), logger: base}
}

func (h *OpsHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "OpsHandler", operation, attrs...)
}

// Health handles GET /healthz.
func (h *OpsHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.store.PingContext(ctx); err != nil {
			h.log(r.Context(), "Health").WarnContext(r.Context(), "store ping failed", "error", err)
			h.responder.writeJSON(r.Context(), w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
			return
		}
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, healthResponse{Status: "ok"})
}

// RunReminders handles POST /admin/reminders/run.
func (h *OpsHandler) RunReminders(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.reminders == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	logger := h.log(r.Context(), "RunReminders", "principal_id", principal.UserID)

	report, err := h.reminders.RunScan(r.Context())
	if err != nil {
		logger.ErrorContext(r.Context(), "reminder scan failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "reminder scan triggered", "reminders_sent", report.RemindersSent, "digests_sent", report.DigestsSent)
	h.responder.writeJSON(r.Context(), w, http.StatusOK, scanReportDTO{
		RemindersSent:       report.RemindersSent,
		RemindersFailed:     report.RemindersFailed,
		ConfirmationsSent:   report.ConfirmationsSent,
		ConfirmationsFailed: report.ConfirmationsFailed,
		DigestPeriod:        report.DigestPeriod,
		DigestsSent:         report.DigestsSent,
		DigestsFailed:       report.DigestsFailed,
	})
}

type healthResponse struct {
	Status string `json:"status"`
}

type scanReportDTO struct {
	RemindersSent       int    `json:"reminders_sent"`
	RemindersFailed     int    `json:"reminders_failed"`
	ConfirmationsSent   int    `json:"confirmations_sent"`
	ConfirmationsFailed int    `json:"confirmations_failed"`
	DigestPeriod        string `json:"digest_period,omitempty"`
	DigestsSent         int    `json:"digests_sent"`
	DigestsFailed       int    `json:"digests_failed"`
}
