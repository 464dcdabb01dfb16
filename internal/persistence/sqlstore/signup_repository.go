package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/example/chair-portal/internal/persistence"
)

const signupColumns = `s.id, s.meeting_id, s.user_id, s.display_name_snapshot, s.notes, s.created_at,
	s.confirmation_sent_at, s.reminder_sent_at, COALESCE(u.member_number, 0)`

const signupFrom = `chair_signups s LEFT JOIN users u ON u.id = s.user_id`

const signupMeetingColumns = signupColumns + `, m.id, m.event_date, m.start_time, m.end_time, m.title,
	m.description, m.video_link, m.meeting_type, m.gender_restriction, m.accepting_signups, m.status,
	m.source, m.template_key, m.created_at, m.updated_at`

// SignupRepository implements persistence.SignupRepository.
type SignupRepository struct {
	pool   *ConnectionPool
	helper *QueryHelper
	mapper *ErrorMapper
}

// NewSignupRepository creates a new chair signup repository
func NewSignupRepository(pool *ConnectionPool) *SignupRepository {
	return &SignupRepository{
		pool:   pool,
		helper: NewQueryHelper(pool),
		mapper: NewErrorMapper(),
	}
}

// CreateSignup inserts a signup. The UNIQUE(meeting_id) constraint decides
// concurrent claims: the loser receives ErrDuplicate.
func (r *SignupRepository) CreateSignup(ctx context.Context, signup persistence.ChairSignup) error {
	if signup.ID == "" || signup.MeetingID == "" || signup.UserID == "" {
		return persistence.ErrConstraintViolation
	}
	if signup.CreatedAt.IsZero() {
		signup.CreatedAt = time.Now().UTC()
	}

	_, err := r.helper.Exec(ctx, `
		INSERT INTO chair_signups (id, meeting_id, user_id, display_name_snapshot, notes, created_at, confirmation_sent_at, reminder_sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		signup.ID,
		signup.MeetingID,
		signup.UserID,
		signup.DisplayNameSnapshot,
		signup.Notes,
		formatTime(signup.CreatedAt),
		formatTimePtr(signup.ConfirmationSentAt),
		formatTimePtr(signup.ReminderSentAt),
	)
	return r.mapper.MapError(err)
}

// GetSignupByMeeting returns the signup holding a meeting.
func (r *SignupRepository) GetSignupByMeeting(ctx context.Context, meetingID string) (persistence.ChairSignup, error) {
	if meetingID == "" {
		return persistence.ChairSignup{}, persistence.ErrNotFound
	}
	row := r.helper.QueryRow(ctx, `SELECT `+signupColumns+` FROM `+signupFrom+` WHERE s.meeting_id = ?`, meetingID)
	return r.scanSignup(row)
}

// DeleteSignup removes a signup by ID.
func (r *SignupRepository) DeleteSignup(ctx context.Context, id string) error {
	if id == "" {
		return persistence.ErrNotFound
	}
	result, err := r.helper.Exec(ctx, `DELETE FROM chair_signups WHERE id = ?`, id)
	if err != nil {
		return r.mapper.MapError(err)
	}
	return requireAffected(result)
}

// ListSignupsForMeetings returns the signups attached to the given meetings.
func (r *SignupRepository) ListSignupsForMeetings(ctx context.Context, meetingIDs []string) ([]persistence.ChairSignup, error) {
	meetingIDs = trimIDs(meetingIDs)
	if len(meetingIDs) == 0 {
		return nil, nil
	}

	args := make([]any, len(meetingIDs))
	for i, id := range meetingIDs {
		args[i] = id
	}
	rows, err := r.helper.Query(ctx,
		`SELECT `+signupColumns+` FROM `+signupFrom+` WHERE s.meeting_id IN (`+placeholders(len(meetingIDs))+`) ORDER BY s.created_at ASC`,
		args...,
	)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var signups []persistence.ChairSignup
	for rows.Next() {
		signup, err := r.scanSignup(rows)
		if err != nil {
			return nil, err
		}
		signups = append(signups, signup)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return signups, nil
}

// ListSignupsForUser returns a user's signups on or after fromDate.
func (r *SignupRepository) ListSignupsForUser(ctx context.Context, userID string, fromDate string) ([]persistence.SignupWithMeeting, error) {
	return r.listJoined(ctx, `s.user_id = ? AND m.event_date >= ?`, userID, fromDate)
}

// ListSignupsBetween returns signups whose meeting falls in the inclusive date range.
func (r *SignupRepository) ListSignupsBetween(ctx context.Context, fromDate, toDate string) ([]persistence.SignupWithMeeting, error) {
	return r.listJoined(ctx, `m.event_date >= ? AND m.event_date <= ?`, fromDate, toDate)
}

// ListUnconfirmedSignups returns signups created after the cutoff whose
// confirmation was never delivered.
func (r *SignupRepository) ListUnconfirmedSignups(ctx context.Context, createdAfter time.Time) ([]persistence.SignupWithMeeting, error) {
	return r.listJoined(ctx, `s.confirmation_sent_at IS NULL AND s.created_at >= ?`, formatTime(createdAfter))
}

// MarkReminderSent sets reminder_sent_at only when it is still unset.
func (r *SignupRepository) MarkReminderSent(ctx context.Context, id string, sentAt time.Time) (bool, error) {
	result, err := r.helper.Exec(ctx,
		`UPDATE chair_signups SET reminder_sent_at = ? WHERE id = ? AND reminder_sent_at IS NULL`,
		formatTime(sentAt), id,
	)
	if err != nil {
		return false, r.mapper.MapError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}

// MarkSignupConfirmationSent records delivery of the confirmation email.
func (r *SignupRepository) MarkSignupConfirmationSent(ctx context.Context, id string, sentAt time.Time) error {
	result, err := r.helper.Exec(ctx,
		`UPDATE chair_signups SET confirmation_sent_at = ? WHERE id = ?`,
		formatTime(sentAt), id,
	)
	if err != nil {
		return r.mapper.MapError(err)
	}
	return requireAffected(result)
}

func (r *SignupRepository) listJoined(ctx context.Context, where string, args ...any) ([]persistence.SignupWithMeeting, error) {
	query := `SELECT ` + signupMeetingColumns + `
		FROM ` + signupFrom + `
		JOIN meetings m ON m.id = s.meeting_id
		WHERE ` + where + `
		ORDER BY m.event_date ASC, m.start_time ASC, m.title ASC`

	rows, err := r.helper.Query(ctx, query, args...)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var out []persistence.SignupWithMeeting
	for rows.Next() {
		item, err := r.scanJoined(rows)
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

func (r *SignupRepository) scanSignup(row rowScanner) (persistence.ChairSignup, error) {
	var (
		signup            persistence.ChairSignup
		createdAtStr      string
		confirmed, remind sql.NullString
		memberNumber      int64
	)
	if err := row.Scan(
		&signup.ID,
		&signup.MeetingID,
		&signup.UserID,
		&signup.DisplayNameSnapshot,
		&signup.Notes,
		&createdAtStr,
		&confirmed,
		&remind,
		&memberNumber,
	); err != nil {
		return persistence.ChairSignup{}, r.mapper.MapError(err)
	}
	signup.MemberNumber = int(memberNumber)
	return finishSignup(signup, createdAtStr, confirmed, remind)
}

func (r *SignupRepository) scanJoined(row rowScanner) (persistence.SignupWithMeeting, error) {
	var (
		signup                         persistence.ChairSignup
		meeting                        persistence.Meeting
		signupCreated                  string
		confirmed, remind              sql.NullString
		endTime, templateKey           sql.NullString
		accepting, memberNumber        int64
		meetingCreated, meetingUpdated string
	)
	if err := row.Scan(
		&signup.ID,
		&signup.MeetingID,
		&signup.UserID,
		&signup.DisplayNameSnapshot,
		&signup.Notes,
		&signupCreated,
		&confirmed,
		&remind,
		&memberNumber,
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
		&meetingCreated,
		&meetingUpdated,
	); err != nil {
		return persistence.SignupWithMeeting{}, r.mapper.MapError(err)
	}

	signup.MemberNumber = int(memberNumber)
	signup, err := finishSignup(signup, signupCreated, confirmed, remind)
	if err != nil {
		return persistence.SignupWithMeeting{}, err
	}
	if meeting.CreatedAt, err = parseTime(meetingCreated); err != nil {
		return persistence.SignupWithMeeting{}, fmt.Errorf("failed to parse meeting created_at: %w", err)
	}
	if meeting.UpdatedAt, err = parseTime(meetingUpdated); err != nil {
		return persistence.SignupWithMeeting{}, fmt.Errorf("failed to parse meeting updated_at: %w", err)
	}
	meeting.EndTime = stringPtr(endTime)
	meeting.TemplateKey = stringPtr(templateKey)
	meeting.AcceptingSignups = accepting != 0
	return persistence.SignupWithMeeting{Signup: signup, Meeting: meeting}, nil
}

func finishSignup(signup persistence.ChairSignup, createdAt string, confirmed, remind sql.NullString) (persistence.ChairSignup, error) {
	var err error
	if signup.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.ChairSignup{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if signup.ConfirmationSentAt, err = parseTimePtr(confirmed); err != nil {
		return persistence.ChairSignup{}, fmt.Errorf("failed to parse confirmation_sent_at: %w", err)
	}
	if signup.ReminderSentAt, err = parseTimePtr(remind); err != nil {
		return persistence.ChairSignup{}, fmt.Errorf("failed to parse reminder_sent_at: %w", err)
	}
	return signup, nil
}

// trimIDs drops blank IDs.
func trimIDs(ids []string) []string {
	out := ids[:0:0]
	for _, id := range ids {
		if strings.TrimSpace(id) != "" {
			out = append(out, id)
		}
	}
	return out
}
