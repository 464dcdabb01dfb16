package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"sort"
	"strings"
	"time"
)

const (
	minPasswordLength   = 8
	maxDisplayNameChars = 100
)

// UserRepository captures the persistence operations needed by the user service.
// UpdateUser writes profile fields and leaves the password hash untouched.
type UserRepository interface {
	CreateUser(ctx context.Context, credentials UserCredentials) (User, error)
	UpdateUser(ctx context.Context, user User) (User, error)
	GetUser(ctx context.Context, id string) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
}

// PasswordHasher turns a plaintext password into a storable hash.
type PasswordHasher func(password string) (string, error)

// HashPassword hashes with DefaultArgon2idParams.
func HashPassword(password string) (string, error) {
	return CreatePasswordHash(password, DefaultArgon2idParams)
}

// UserService orchestrates validation, authorization, and persistence for users.
type UserService struct {
	users       UserRepository
	hash        PasswordHasher
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// NewUserService wires dependencies for the user service.
func NewUserService(users UserRepository, hash PasswordHasher, idGenerator func() string, now func() time.Time) *UserService {
	return NewUserServiceWithLogger(users, hash, idGenerator, now, nil)
}

// NewUserServiceWithLogger wires dependencies for the user service with a logger.
func NewUserServiceWithLogger(users UserRepository, hash PasswordHasher, idGenerator func() string, now func() time.Time, logger *slog.Logger) *UserService {
	if hash == nil {
		hash = HashPassword
	}
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &UserService{users: users, hash: hash, idGenerator: idGenerator, now: now, logger: defaultLogger(logger)}
}

func (s *UserService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "UserService", operation, attrs...)
}

// Register creates a regular account. A member number is assigned by storage.
func (s *UserService) Register(ctx context.Context, params RegisterParams) (User, error) {
	return s.create(ctx, "Register", params, false)
}

// CreateAdmin creates an administrator account; used for bootstrapping.
func (s *UserService) CreateAdmin(ctx context.Context, params RegisterParams) (User, error) {
	return s.create(ctx, "CreateAdmin", params, true)
}

func (s *UserService) create(ctx context.Context, operation string, params RegisterParams, admin bool) (user User, err error) {
	if s == nil {
		return User{}, fmt.Errorf("UserService is nil")
	}
	if s.users == nil {
		return User{}, fmt.Errorf("user repository not configured")
	}

	email := normalizeEmail(params.Email)
	logger := s.loggerWith(ctx, operation, "email", email)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "account creation failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("user_id", user.ID, "bp_id", user.BPID()).InfoContext(ctx, "account created")
	}()

	vErr := validateProfile(strings.TrimSpace(params.DisplayName), normalizeGender(params.Gender))
	vErr.merge(validateEmail(email))
	if len(params.Password) < minPasswordLength {
		vErr.add("password", fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	var hash string
	hash, err = s.hash(params.Password)
	if err != nil {
		err = fmt.Errorf("hash password: %w", err)
		return
	}

	now := s.now()
	candidate := User{
		ID:          s.idGenerator(),
		Email:       email,
		DisplayName: strings.TrimSpace(params.DisplayName),
		Gender:      normalizeGender(params.Gender),
		IsAdmin:     admin,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	user, err = s.users.CreateUser(ctx, UserCredentials{User: candidate, PasswordHash: hash})
	return
}

// GetProfile returns the principal's own account.
func (s *UserService) GetProfile(ctx context.Context, principal Principal) (User, error) {
	if s == nil {
		return User{}, fmt.Errorf("UserService is nil")
	}
	if s.users == nil {
		return User{}, fmt.Errorf("user repository not configured")
	}
	if principal.UserID == "" {
		return User{}, ErrUnauthorized
	}

	user, err := s.users.GetUser(ctx, principal.UserID)
	if errors.Is(err, ErrNotFound) {
		return User{}, ErrUnauthorized
	}
	return user, err
}

// UpdateProfile changes display name and gender. Existing signup snapshots keep the old name.
func (s *UserService) UpdateProfile(ctx context.Context, params UpdateProfileParams) (user User, err error) {
	if s == nil {
		return User{}, fmt.Errorf("UserService is nil")
	}
	if s.users == nil {
		return User{}, fmt.Errorf("user repository not configured")
	}

	logger := s.loggerWith(ctx, "UpdateProfile", "principal_id", params.Principal.UserID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "profile update failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "profile updated")
	}()

	var existing User
	existing, err = s.GetProfile(ctx, params.Principal)
	if err != nil {
		return
	}

	displayName := strings.TrimSpace(params.DisplayName)
	gender := normalizeGender(params.Gender)
	if vErr := validateProfile(displayName, gender); vErr.HasErrors() {
		err = vErr
		return
	}

	existing.DisplayName = displayName
	existing.Gender = gender
	existing.UpdatedAt = s.now()
	user, err = s.users.UpdateUser(ctx, existing)
	if errors.Is(err, ErrNotFound) {
		err = ErrUnauthorized
	}
	return
}

// ListUsers returns all users for administrators.
func (s *UserService) ListUsers(ctx context.Context, principal Principal) ([]User, error) {
	if s == nil {
		return nil, fmt.Errorf("UserService is nil")
	}
	if !principal.IsAdmin {
		return nil, ErrUnauthorized
	}
	if s.users == nil {
		return nil, nil
	}

	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]User, len(users))
	copy(out, users)

	sort.Slice(out, func(i, j int) bool {
		if strings.EqualFold(out[i].Email, out[j].Email) {
			return out[i].ID < out[j].ID
		}
		return strings.ToLower(out[i].Email) < strings.ToLower(out[j].Email)
	})

	return out, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func normalizeGender(gender string) string {
	return strings.ToLower(strings.TrimSpace(gender))
}

func validateEmail(email string) *ValidationError {
	vErr := &ValidationError{}
	if email == "" {
		vErr.add("email", "email is required")
	} else if _, err := mail.ParseAddress(email); err != nil {
		vErr.add("email", "email is invalid")
	}
	return vErr
}

func validateProfile(displayName, gender string) *ValidationError {
	vErr := &ValidationError{}

	if displayName == "" {
		vErr.add("display_name", "display name is required")
	} else if len([]rune(displayName)) > maxDisplayNameChars {
		vErr.add("display_name", fmt.Sprintf("display name must be at most %d characters", maxDisplayNameChars))
	}

	switch gender {
	case GenderUnspecified, GenderMale, GenderFemale:
	default:
		vErr.add("gender", "gender must be empty, male, or female")
	}

	return vErr
}
