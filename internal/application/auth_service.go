package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// CredentialStore exposes the account lookups needed to sign members in.
type CredentialStore interface {
	GetUserCredentialsByEmail(ctx context.Context, email string) (UserCredentials, error)
	GetUser(ctx context.Context, id string) (User, error)
}

// SessionRepository captures the persistence interactions for issued sessions.
// RevokeSession keeps the first revocation time when called twice.
type SessionRepository interface {
	CreateSession(ctx context.Context, session Session) (Session, error)
	GetSession(ctx context.Context, token string) (Session, error)
	RevokeSession(ctx context.Context, token string, revokedAt time.Time) (Session, error)
	DeleteExpiredSessions(ctx context.Context, reference time.Time) error
}

// PasswordVerifier compares a stored hash with a candidate password.
type PasswordVerifier func(hashedPassword, password string) error

// AuthService signs members in with email and password and resolves session
// tokens back to a Principal on every request.
type AuthService struct {
	credentials    CredentialStore
	sessions       SessionRepository
	verifyPassword PasswordVerifier
	tokenGenerator func() string
	now            func() time.Time
	sessionTTL     time.Duration
	logger         *slog.Logger
}

// NewAuthService constructs an AuthService with the provided dependencies.
func NewAuthService(credentials CredentialStore, sessions SessionRepository, verify PasswordVerifier, tokenGenerator func() string, now func() time.Time, sessionTTL time.Duration) *AuthService {
	return NewAuthServiceWithLogger(credentials, sessions, verify, tokenGenerator, now, sessionTTL, nil)
}

// NewAuthServiceWithLogger constructs an AuthService with a specified logger.
// tokenGenerator supplies both the session id and the bearer token.
func NewAuthServiceWithLogger(credentials CredentialStore, sessions SessionRepository, verify PasswordVerifier, tokenGenerator func() string, now func() time.Time, sessionTTL time.Duration, logger *slog.Logger) *AuthService {
	if verify == nil {
		verify = VerifyPassword
	}
	if now == nil {
		now = time.Now
	}
	if sessionTTL <= 0 {
		sessionTTL = 24 * time.Hour
	}
	return &AuthService{
		credentials:    credentials,
		sessions:       sessions,
		verifyPassword: verify,
		tokenGenerator: tokenGenerator,
		now:            now,
		sessionTTL:     sessionTTL,
		logger:         defaultLogger(logger),
	}
}

func (s *AuthService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "AuthService", operation, attrs...)
}

var (
	decoyOnce sync.Once
	decoyHash string
)

// decoy returns a real hash to verify against when the email is unknown, so
// that unknown and known addresses take the same time to reject.
func decoy() string {
	decoyOnce.Do(func() {
		decoyHash, _ = HashPassword("decoy-password-for-unknown-accounts")
	})
	return decoyHash
}

// Authenticate checks the password and opens a session of sessionTTL.
// Unknown email and wrong password are both ErrInvalidCredentials.
func (s *AuthService) Authenticate(ctx context.Context, params AuthenticateParams) (result AuthenticateResult, err error) {
	if s == nil {
		return AuthenticateResult{}, fmt.Errorf("AuthService is nil")
	}
	if s.credentials == nil || s.sessions == nil {
		return AuthenticateResult{}, fmt.Errorf("auth repositories not configured")
	}
	if s.tokenGenerator == nil {
		return AuthenticateResult{}, fmt.Errorf("token generator not configured")
	}

	email := normalizeEmail(params.Email)
	logger := s.loggerWith(ctx, "Authenticate", "email", email)
	defer func() {
		if err != nil {
			level := slog.LevelError
			if errors.Is(err, ErrInvalidCredentials) {
				level = slog.LevelWarn
			}
			logger.Log(ctx, level, "sign-in failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("user_id", result.User.ID, "session_id", result.Session.ID).InfoContext(ctx, "signed in")
	}()

	if email == "" || params.Password == "" {
		err = ErrInvalidCredentials
		return
	}

	creds, lookupErr := s.credentials.GetUserCredentialsByEmail(ctx, email)
	switch {
	case errors.Is(lookupErr, ErrNotFound):
		_ = s.verifyPassword(decoy(), params.Password)
		err = ErrInvalidCredentials
		return
	case lookupErr != nil:
		err = lookupErr
		return
	}
	if s.verifyPassword(creds.PasswordHash, params.Password) != nil {
		err = ErrInvalidCredentials
		return
	}

	now := s.now()
	s.pruneExpired(ctx, logger, now)

	session := Session{
		ID:        s.tokenGenerator(),
		UserID:    creds.User.ID,
		Token:     s.tokenGenerator(),
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(s.sessionTTL),
	}
	if session.Token == "" {
		err = fmt.Errorf("token generator returned an empty token")
		return
	}
	if session, err = s.sessions.CreateSession(ctx, session); err != nil {
		err = fmt.Errorf("store session: %w", err)
		return
	}

	result = AuthenticateResult{User: creds.User, Session: session}
	return
}

// pruneExpired drops dead sessions opportunistically. A failure only costs
// disk space, so sign-in proceeds regardless.
func (s *AuthService) pruneExpired(ctx context.Context, logger *slog.Logger, now time.Time) {
	if err := s.sessions.DeleteExpiredSessions(ctx, now); err != nil {
		logger.WarnContext(ctx, "expired session cleanup failed", "error", err)
	}
}

// RevokeSession signs a token out. Revoking an already revoked token succeeds.
func (s *AuthService) RevokeSession(ctx context.Context, token string) (err error) {
	if s == nil {
		return fmt.Errorf("AuthService is nil")
	}
	if s.sessions == nil {
		return fmt.Errorf("session repository not configured")
	}

	token = strings.TrimSpace(token)
	logger := s.loggerWith(ctx, "RevokeSession")
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "sign-out failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "signed out")
	}()

	if token == "" {
		return ErrInvalidCredentials
	}
	var session Session
	session, err = s.sessions.RevokeSession(ctx, token, s.now())
	if errors.Is(err, ErrNotFound) {
		return ErrInvalidCredentials
	}
	if err == nil {
		logger = logger.With("session_id", session.ID, "user_id", session.UserID)
	}
	return err
}

// ValidateSession resolves a bearer token to the Principal of a live session.
// The admin flag is read from the account on every call, so demotion takes
// effect without signing out.
func (s *AuthService) ValidateSession(ctx context.Context, token string) (principal Principal, err error) {
	if s == nil {
		return Principal{}, fmt.Errorf("AuthService is nil")
	}
	if s.sessions == nil || s.credentials == nil {
		return Principal{}, fmt.Errorf("auth repositories not configured")
	}

	logger := s.loggerWith(ctx, "ValidateSession")
	defer func() {
		if err != nil {
			logger.WarnContext(ctx, "session rejected", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.DebugContext(ctx, "session accepted", "principal_id", principal.UserID)
	}()

	token = strings.TrimSpace(token)
	if token == "" {
		return Principal{}, ErrInvalidCredentials
	}

	session, err := s.sessions.GetSession(ctx, token)
	if errors.Is(err, ErrNotFound) {
		return Principal{}, ErrUnauthorized
	}
	if err != nil {
		return Principal{}, err
	}
	if err = sessionState(session, s.now()); err != nil {
		return Principal{}, err
	}

	user, err := s.credentials.GetUser(ctx, session.UserID)
	if errors.Is(err, ErrNotFound) {
		return Principal{}, ErrUnauthorized
	}
	if err != nil {
		return Principal{}, err
	}
	return Principal{UserID: user.ID, IsAdmin: user.IsAdmin}, nil
}

// sessionState reports why a stored session can no longer be used, if at all.
func sessionState(session Session, now time.Time) error {
	if session.RevokedAt != nil && !session.RevokedAt.IsZero() {
		return ErrSessionRevoked
	}
	if !session.ExpiresAt.IsZero() && !session.ExpiresAt.After(now) {
		return ErrSessionExpired
	}
	return nil
}
