package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/chair-portal/internal/persistence"
)

const meetingColumns = `id, event_date, start_time, end_time, title, description, video_link, meeting_type,
	gender_restriction, accepting_signups, status, source, template_key, created_at, updated_at`

// MeetingRepository implements persistence.MeetingRepository.
type MeetingRepository struct {
	pool   *ConnectionPool
	helper *QueryHelper
	mapper *ErrorMapper
}

// NewMeetingRepository creates a new meeting repository
func NewMeetingRepository(pool *ConnectionPool) *MeetingRepository {
	return &MeetingRepository{
		pool:   pool,
		helper: NewQueryHelper(pool),
		mapper: NewErrorMapper(),
	}
}

// CreateMeeting inserts a meeting. Slot and template key collisions are
// returned as ErrDuplicate.
func (r *MeetingRepository) CreateMeeting(ctx context.Context, meeting persistence.Meeting) error {
	if err := validateMeeting(meeting); err != nil {
		return err
	}
	meeting = stampMeeting(meeting)

	_, err := r.helper.Exec(ctx, `INSERT INTO meetings (`+meetingColumns+`) VALUES (`+placeholders(15)+`)`, meetingArgs(meeting)...)
	return r.mapper.MapError(err)
}

// EnsureMeeting inserts the meeting unless a row already holds its template
// key or slot, then returns whichever row is stored.
func (r *MeetingRepository) EnsureMeeting(ctx context.Context, meeting persistence.Meeting) (persistence.Meeting, error) {
	if err := validateMeeting(meeting); err != nil {
		return persistence.Meeting{}, err
	}
	meeting = stampMeeting(meeting)

	if _, err := r.helper.Exec(ctx,
		`INSERT INTO meetings (`+meetingColumns+`) VALUES (`+placeholders(15)+`) ON CONFLICT DO NOTHING`,
		meetingArgs(meeting)...,
	); err != nil {
		return persistence.Meeting{}, r.mapper.MapError(err)
	}

	if meeting.TemplateKey != nil {
		stored, err := r.FindMeetingByTemplateKey(ctx, *meeting.TemplateKey)
		if err == nil {
			return stored, nil
		}
		if !errors.Is(err, persistence.ErrNotFound) {
			return persistence.Meeting{}, err
		}
	}

	row := r.helper.QueryRow(ctx,
		`SELECT `+meetingColumns+` FROM meetings WHERE event_date = ? AND start_time = ? AND title = ?`,
		meeting.EventDate, meeting.StartTime, meeting.Title,
	)
	return r.scanMeeting(row)
}

// UpdateMeeting replaces the mutable fields of a stored meeting.
func (r *MeetingRepository) UpdateMeeting(ctx context.Context, meeting persistence.Meeting) error {
	if meeting.ID == "" {
		return persistence.ErrNotFound
	}
	if err := validateMeeting(meeting); err != nil {
		return err
	}
	if meeting.UpdatedAt.IsZero() {
		meeting.UpdatedAt = time.Now().UTC()
	}

	result, err := r.helper.Exec(ctx, `
		UPDATE meetings
		SET event_date = ?, start_time = ?, end_time = ?, title = ?, description = ?, video_link = ?,
			meeting_type = ?, gender_restriction = ?, accepting_signups = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		meeting.EventDate,
		meeting.StartTime,
		nullString(meeting.EndTime),
		meeting.Title,
		meeting.Description,
		meeting.VideoLink,
		meeting.MeetingType,
		meeting.GenderRestriction,
		boolToInt(meeting.AcceptingSignups),
		meeting.Status,
		formatTime(meeting.UpdatedAt),
		meeting.ID,
	)
	if err != nil {
		return r.mapper.MapError(err)
	}
	return requireAffected(result)
}

// GetMeeting retrieves a meeting by ID
func (r *MeetingRepository) GetMeeting(ctx context.Context, id string) (persistence.Meeting, error) {
	if id == "" {
		return persistence.Meeting{}, persistence.ErrNotFound
	}
	return r.scanMeeting(r.helper.QueryRow(ctx, `SELECT `+meetingColumns+` FROM meetings WHERE id = ?`, id))
}

// FindMeetingByTemplateKey returns the row that materialized a template occurrence.
func (r *MeetingRepository) FindMeetingByTemplateKey(ctx context.Context, key string) (persistence.Meeting, error) {
	if key == "" {
		return persistence.Meeting{}, persistence.ErrNotFound
	}
	return r.scanMeeting(r.helper.QueryRow(ctx, `SELECT `+meetingColumns+` FROM meetings WHERE template_key = ?`, key))
}

// ListMeetings returns meetings matching the filter ordered by date, start and title.
func (r *MeetingRepository) ListMeetings(ctx context.Context, filter persistence.MeetingFilter) ([]persistence.Meeting, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.FromDate != "" {
		clauses = append(clauses, "event_date >= ?")
		args = append(args, filter.FromDate)
	}
	if filter.ToDate != "" {
		clauses = append(clauses, "event_date <= ?")
		args = append(args, filter.ToDate)
	}
	if filter.Source != "" {
		clauses = append(clauses, "source = ?")
		args = append(args, filter.Source)
	}

	query := `SELECT ` + meetingColumns + ` FROM meetings`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY event_date ASC, start_time ASC, title ASC, id ASC`

	rows, err := r.helper.Query(ctx, query, args...)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var meetings []persistence.Meeting
	for rows.Next() {
		meeting, err := r.scanMeeting(rows)
		if err != nil {
			return nil, err
		}
		meetings = append(meetings, meeting)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return meetings, nil
}

// DeleteMeeting removes a meeting; its signup goes with it.
func (r *MeetingRepository) DeleteMeeting(ctx context.Context, id string) error {
	if id == "" {
		return persistence.ErrNotFound
	}
	return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := r.helper.ExecTx(ctx, tx, `DELETE FROM chair_signups WHERE meeting_id = ?`, id); err != nil {
			return r.mapper.MapError(err)
		}
		result, err := r.helper.ExecTx(ctx, tx, `DELETE FROM meetings WHERE id = ?`, id)
		if err != nil {
			return r.mapper.MapError(err)
		}
		return requireAffected(result)
	})
}

func (r *MeetingRepository) scanMeeting(row rowScanner) (persistence.Meeting, error) {
	var (
		meeting                    persistence.Meeting
		endTime, templateKey       sql.NullString
		accepting                  int64
		createdAtStr, updatedAtStr string
	)
	if err := row.Scan(
		&meeting.ID,
		&meeting.EventDate,
		&meeting.StartTime,
		&endTime,
		&meeting.Title,
		&meeting.Description,
		&meeting.VideoLink,
		&meeting.MeetingType,
		&meeting.GenderRestriction,
		&accepting,
		&meeting.Status,
		&meeting.Source,
		&templateKey,
		&createdAtStr,
		&updatedAtStr,
	); err != nil {
		return persistence.Meeting{}, r.mapper.MapError(err)
	}

	var err error
	if meeting.CreatedAt, err = parseTime(createdAtStr); err != nil {
		return persistence.Meeting{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if meeting.UpdatedAt, err = parseTime(updatedAtStr); err != nil {
		return persistence.Meeting{}, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	meeting.EndTime = stringPtr(endTime)
	meeting.TemplateKey = stringPtr(templateKey)
	meeting.AcceptingSignups = accepting != 0
	return meeting, nil
}

func validateMeeting(meeting persistence.Meeting) error {
	if meeting.ID == "" || meeting.EventDate == "" || meeting.StartTime == "" || strings.TrimSpace(meeting.Title) == "" {
		return persistence.ErrConstraintViolation
	}
	return nil
}

func stampMeeting(meeting persistence.Meeting) persistence.Meeting {
	if meeting.CreatedAt.IsZero() {
		meeting.CreatedAt = time.Now().UTC()
	}
	if meeting.UpdatedAt.IsZero() {
		meeting.UpdatedAt = meeting.CreatedAt
	}
	if meeting.Status == "" {
		meeting.Status = "scheduled"
	}
	if meeting.Source == "" {
		meeting.Source = "manual"
	}
	if meeting.GenderRestriction == "" {
		meeting.GenderRestriction = "any"
	}
	return meeting
}

func meetingArgs(meeting persistence.Meeting) []any {
	return []any{
		meeting.ID,
		meeting.EventDate,
		meeting.StartTime,
		nullString(meeting.EndTime),
		meeting.Title,
		meeting.Description,
		meeting.VideoLink,
		meeting.MeetingType,
		meeting.GenderRestriction,
		boolToInt(meeting.AcceptingSignups),
		meeting.Status,
		meeting.Source,
		nullString(meeting.TemplateKey),
		formatTime(meeting.CreatedAt),
		formatTime(meeting.UpdatedAt),
	}
}

func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}
