package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/chair-portal/internal/persistence"
)

// firstMemberNumber is assigned to the first registered account.
const firstMemberNumber = 1001

const maxMemberNumberAttempts = 5

const userColumns = `id, member_number, email, display_name, password_hash, gender, is_admin, created_at, updated_at`

// UserRepository implements persistence.UserRepository.
type UserRepository struct {
	pool   *ConnectionPool
	helper *QueryHelper
	mapper *ErrorMapper
}

// NewUserRepository creates a new user repository
func NewUserRepository(pool *ConnectionPool) *UserRepository {
	return &UserRepository{
		pool:   pool,
		helper: NewQueryHelper(pool),
		mapper: NewErrorMapper(),
	}
}

// CreateUser inserts a user and assigns the next member number. A race on
// the member number is retried; a duplicate email is returned as ErrDuplicate.
func (r *UserRepository) CreateUser(ctx context.Context, user persistence.User) (persistence.User, error) {
	if user.ID == "" || user.PasswordHash == "" {
		return persistence.User{}, persistence.ErrConstraintViolation
	}

	user.Email = normalizeEmail(user.Email)
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = user.CreatedAt
	}

	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES (?, (SELECT COALESCE(MAX(member_number), ?) + 1 FROM users), ?, ?, ?, ?, ?, ?, ?)`

	var lastErr error
	for attempt := 0; attempt < maxMemberNumberAttempts; attempt++ {
		_, err := r.helper.Exec(ctx, query,
			user.ID,
			firstMemberNumber-1,
			user.Email,
			user.DisplayName,
			user.PasswordHash,
			user.Gender,
			boolToInt(user.IsAdmin),
			formatTime(user.CreatedAt),
			formatTime(user.UpdatedAt),
		)
		if err == nil {
			return r.GetUser(ctx, user.ID)
		}
		lastErr = r.mapper.MapError(err)
		if !errors.Is(lastErr, persistence.ErrDuplicate) || !strings.Contains(err.Error(), "member_number") {
			return persistence.User{}, lastErr
		}
	}
	return persistence.User{}, fmt.Errorf("assign member number: %w", lastErr)
}

// UpdateUser updates mutable profile fields. The member number never changes.
func (r *UserRepository) UpdateUser(ctx context.Context, user persistence.User) (persistence.User, error) {
	if user.ID == "" || user.PasswordHash == "" {
		return persistence.User{}, persistence.ErrConstraintViolation
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = time.Now().UTC()
	}

	result, err := r.helper.Exec(ctx, `
		UPDATE users
		SET email = ?, display_name = ?, password_hash = ?, gender = ?, is_admin = ?, updated_at = ?
		WHERE id = ?`,
		normalizeEmail(user.Email),
		user.DisplayName,
		user.PasswordHash,
		user.Gender,
		boolToInt(user.IsAdmin),
		formatTime(user.UpdatedAt),
		user.ID,
	)
	if err != nil {
		return persistence.User{}, r.mapper.MapError(err)
	}
	if affected, err := result.RowsAffected(); err != nil {
		return persistence.User{}, fmt.Errorf("failed to get rows affected: %w", err)
	} else if affected == 0 {
		return persistence.User{}, persistence.ErrNotFound
	}
	return r.GetUser(ctx, user.ID)
}

// GetUser retrieves a user by ID
func (r *UserRepository) GetUser(ctx context.Context, id string) (persistence.User, error) {
	if id == "" {
		return persistence.User{}, persistence.ErrNotFound
	}
	row := r.helper.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return r.scanUser(row)
}

// GetUserByEmail retrieves a user by case-insensitive email address
func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (persistence.User, error) {
	normalized := normalizeEmail(email)
	if normalized == "" {
		return persistence.User{}, persistence.ErrNotFound
	}
	row := r.helper.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, normalized)
	return r.scanUser(row)
}

// ListUsers returns all users ordered by member number.
func (r *UserRepository) ListUsers(ctx context.Context) ([]persistence.User, error) {
	rows, err := r.helper.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY member_number ASC`)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var users []persistence.User
	for rows.Next() {
		user, err := r.scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return users, nil
}

func (r *UserRepository) scanUser(row rowScanner) (persistence.User, error) {
	var (
		user                       persistence.User
		memberNumber, isAdmin      int64
		createdAtStr, updatedAtStr string
	)
	if err := row.Scan(
		&user.ID,
		&memberNumber,
		&user.Email,
		&user.DisplayName,
		&user.PasswordHash,
		&user.Gender,
		&isAdmin,
		&createdAtStr,
		&updatedAtStr,
	); err != nil {
		return persistence.User{}, r.mapper.MapError(err)
	}

	var err error
	if user.CreatedAt, err = parseTime(createdAtStr); err != nil {
		return persistence.User{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if user.UpdatedAt, err = parseTime(updatedAtStr); err != nil {
		return persistence.User{}, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	user.MemberNumber = int(memberNumber)
	user.IsAdmin = isAdmin != 0
	return user, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
