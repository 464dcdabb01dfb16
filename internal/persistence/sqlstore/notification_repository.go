package sqlstore

import (
	"context"
	"errors"
	"time"

	"github.com/example/chair-portal/internal/persistence"
)

// NotificationLogRepository implements persistence.NotificationLogRepository.
type NotificationLogRepository struct {
	helper *QueryHelper
	mapper *ErrorMapper
}

// NewNotificationLogRepository creates a new notification log repository
func NewNotificationLogRepository(pool *ConnectionPool) *NotificationLogRepository {
	return &NotificationLogRepository{
		helper: NewQueryHelper(pool),
		mapper: NewErrorMapper(),
	}
}

// HasNotification reports whether a notification was already recorded.
func (r *NotificationLogRepository) HasNotification(ctx context.Context, kind, periodKey, recipientID string) (bool, error) {
	var one int
	err := r.helper.QueryRow(ctx,
		`SELECT 1 FROM notification_log WHERE kind = ? AND period_key = ? AND recipient_id = ?`,
		kind, periodKey, recipientID,
	).Scan(&one)
	if err != nil {
		mapped := r.mapper.MapError(err)
		if errors.Is(mapped, persistence.ErrNotFound) {
			return false, nil
		}
		return false, mapped
	}
	return true, nil
}

// RecordNotification stores a delivery marker. Recording the same key twice
// returns ErrDuplicate.
func (r *NotificationLogRepository) RecordNotification(ctx context.Context, record persistence.NotificationRecord) error {
	if record.Kind == "" || record.PeriodKey == "" || record.RecipientID == "" {
		return persistence.ErrConstraintViolation
	}
	if record.SentAt.IsZero() {
		record.SentAt = time.Now().UTC()
	}
	_, err := r.helper.Exec(ctx,
		`INSERT INTO notification_log (kind, period_key, recipient_id, sent_at) VALUES (?, ?, ?, ?)`,
		record.Kind, record.PeriodKey, record.RecipientID, formatTime(record.SentAt),
	)
	return r.mapper.MapError(err)
}
