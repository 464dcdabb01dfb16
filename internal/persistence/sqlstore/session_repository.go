package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/example/chair-portal/internal/persistence"
)

const sessionColumns = `id, user_id, token, expires_at, revoked_at, created_at, updated_at`

// SessionRepository implements persistence.SessionRepository
type SessionRepository struct {
	helper *QueryHelper
	mapper *ErrorMapper
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(pool *ConnectionPool) *SessionRepository {
	return &SessionRepository{
		helper: NewQueryHelper(pool),
		mapper: NewErrorMapper(),
	}
}

// CreateSession stores a new session token for a user
func (r *SessionRepository) CreateSession(ctx context.Context, session persistence.Session) (persistence.Session, error) {
	session.Token = strings.TrimSpace(session.Token)
	if session.ID == "" || session.UserID == "" || session.Token == "" {
		return persistence.Session{}, persistence.ErrConstraintViolation
	}
	if session.ExpiresAt.IsZero() {
		return persistence.Session{}, persistence.ErrConstraintViolation
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}
	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = session.CreatedAt
	}

	_, err := r.helper.Exec(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		session.ID,
		session.UserID,
		session.Token,
		formatTime(session.ExpiresAt),
		formatTimePtr(session.RevokedAt),
		formatTime(session.CreatedAt),
		formatTime(session.UpdatedAt),
	)
	if err != nil {
		return persistence.Session{}, r.mapper.MapError(err)
	}
	return r.GetSession(ctx, session.Token)
}

// GetSession retrieves a session by its token value
func (r *SessionRepository) GetSession(ctx context.Context, token string) (persistence.Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return persistence.Session{}, persistence.ErrNotFound
	}

	var (
		session                                  persistence.Session
		expiresAtStr, createdAtStr, updatedAtStr string
		revokedAt                                sql.NullString
	)
	err := r.helper.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE token = ?`, token).Scan(
		&session.ID,
		&session.UserID,
		&session.Token,
		&expiresAtStr,
		&revokedAt,
		&createdAtStr,
		&updatedAtStr,
	)
	if err != nil {
		return persistence.Session{}, r.mapper.MapError(err)
	}

	if session.ExpiresAt, err = parseTime(expiresAtStr); err != nil {
		return persistence.Session{}, fmt.Errorf("failed to parse expires_at: %w", err)
	}
	if session.RevokedAt, err = parseTimePtr(revokedAt); err != nil {
		return persistence.Session{}, fmt.Errorf("failed to parse revoked_at: %w", err)
	}
	if session.CreatedAt, err = parseTime(createdAtStr); err != nil {
		return persistence.Session{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if session.UpdatedAt, err = parseTime(updatedAtStr); err != nil {
		return persistence.Session{}, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return session, nil
}

// RevokeSession marks a session as revoked. Revoking twice keeps the first timestamp.
func (r *SessionRepository) RevokeSession(ctx context.Context, token string, revokedAt time.Time) (persistence.Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return persistence.Session{}, persistence.ErrNotFound
	}
	stamp := formatTime(revokedAt)
	result, err := r.helper.Exec(ctx,
		`UPDATE sessions SET revoked_at = COALESCE(revoked_at, ?), updated_at = ? WHERE token = ?`,
		stamp, stamp, token,
	)
	if err != nil {
		return persistence.Session{}, r.mapper.MapError(err)
	}
	if err := requireAffected(result); err != nil {
		return persistence.Session{}, err
	}
	return r.GetSession(ctx, token)
}

// DeleteExpiredSessions removes sessions that expired before reference.
func (r *SessionRepository) DeleteExpiredSessions(ctx context.Context, reference time.Time) error {
	_, err := r.helper.Exec(ctx, `DELETE FROM sessions WHERE expires_at < ?`, formatTime(reference))
	return r.mapper.MapError(err)
}
