package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/example/chair-portal/internal/persistence"
)

const availabilityColumns = `id, user_id, volunteer_date, time_preference, notes, display_name_snapshot,
	created_at, confirmation_sent_at`

// AvailabilityRepository implements persistence.AvailabilityRepository.
type AvailabilityRepository struct {
	helper *QueryHelper
	mapper *ErrorMapper
}

// NewAvailabilityRepository creates a new availability repository
func NewAvailabilityRepository(pool *ConnectionPool) *AvailabilityRepository {
	return &AvailabilityRepository{
		helper: NewQueryHelper(pool),
		mapper: NewErrorMapper(),
	}
}

// CreateAvailability records a volunteer date. One row per user and date.
func (r *AvailabilityRepository) CreateAvailability(ctx context.Context, availability persistence.Availability) error {
	if availability.ID == "" || availability.UserID == "" || availability.VolunteerDate == "" {
		return persistence.ErrConstraintViolation
	}
	if availability.CreatedAt.IsZero() {
		availability.CreatedAt = time.Now().UTC()
	}
	if availability.TimePreference == "" {
		availability.TimePreference = "any"
	}

	_, err := r.helper.Exec(ctx, `
		INSERT INTO chairperson_availability (`+availabilityColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		availability.ID,
		availability.UserID,
		availability.VolunteerDate,
		availability.TimePreference,
		availability.Notes,
		availability.DisplayNameSnapshot,
		formatTime(availability.CreatedAt),
		formatTimePtr(availability.ConfirmationSentAt),
	)
	return r.mapper.MapError(err)
}

// GetAvailability retrieves a volunteer record by ID.
func (r *AvailabilityRepository) GetAvailability(ctx context.Context, id string) (persistence.Availability, error) {
	if id == "" {
		return persistence.Availability{}, persistence.ErrNotFound
	}
	return r.scan(r.helper.QueryRow(ctx, `SELECT `+availabilityColumns+` FROM chairperson_availability WHERE id = ?`, id))
}

// DeleteAvailability removes a volunteer record.
func (r *AvailabilityRepository) DeleteAvailability(ctx context.Context, id string) error {
	if id == "" {
		return persistence.ErrNotFound
	}
	result, err := r.helper.Exec(ctx, `DELETE FROM chairperson_availability WHERE id = ?`, id)
	if err != nil {
		return r.mapper.MapError(err)
	}
	return requireAffected(result)
}

// ListAvailabilityByDate returns volunteers for a date in registration order.
func (r *AvailabilityRepository) ListAvailabilityByDate(ctx context.Context, date string) ([]persistence.Availability, error) {
	return r.list(ctx, `volunteer_date = ? ORDER BY created_at ASC, id ASC`, date)
}

// ListAvailabilityForUser returns a user's volunteer dates on or after fromDate.
func (r *AvailabilityRepository) ListAvailabilityForUser(ctx context.Context, userID string, fromDate string) ([]persistence.Availability, error) {
	return r.list(ctx, `user_id = ? AND volunteer_date >= ? ORDER BY volunteer_date ASC`, userID, fromDate)
}

// ListUnconfirmedAvailability returns records created after the cutoff whose
// confirmation was never delivered.
func (r *AvailabilityRepository) ListUnconfirmedAvailability(ctx context.Context, createdAfter time.Time) ([]persistence.Availability, error) {
	return r.list(ctx, `confirmation_sent_at IS NULL AND created_at >= ? ORDER BY created_at ASC`, formatTime(createdAfter))
}

// MarkAvailabilityConfirmationSent records delivery of the confirmation email.
func (r *AvailabilityRepository) MarkAvailabilityConfirmationSent(ctx context.Context, id string, sentAt time.Time) error {
	result, err := r.helper.Exec(ctx,
		`UPDATE chairperson_availability SET confirmation_sent_at = ? WHERE id = ?`,
		formatTime(sentAt), id,
	)
	if err != nil {
		return r.mapper.MapError(err)
	}
	return requireAffected(result)
}

func (r *AvailabilityRepository) list(ctx context.Context, whereAndOrder string, args ...any) ([]persistence.Availability, error) {
	rows, err := r.helper.Query(ctx, `SELECT `+availabilityColumns+` FROM chairperson_availability WHERE `+whereAndOrder, args...)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var out []persistence.Availability
	for rows.Next() {
		item, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return out, nil
}

func (r *AvailabilityRepository) scan(row rowScanner) (persistence.Availability, error) {
	var (
		item         persistence.Availability
		createdAtStr string
		confirmed    sql.NullString
	)
	if err := row.Scan(
		&item.ID,
		&item.UserID,
		&item.VolunteerDate,
		&item.TimePreference,
		&item.Notes,
		&item.DisplayNameSnapshot,
		&createdAtStr,
		&confirmed,
	); err != nil {
		return persistence.Availability{}, r.mapper.MapError(err)
	}

	var err error
	if item.CreatedAt, err = parseTime(createdAtStr); err != nil {
		return persistence.Availability{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if item.ConfirmationSentAt, err = parseTimePtr(confirmed); err != nil {
		return persistence.Availability{}, fmt.Errorf("failed to parse confirmation_sent_at: %w", err)
	}
	return item, nil
}
