package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/example/chair-portal/internal/application"
)

type authService interface {
	Authenticate(ctx context.Context, params application.AuthenticateParams) (application.AuthenticateResult, error)
	RevokeSession(ctx context.Context, token string) error
}

// AuthHandler signs members in and out. The session token is returned in the
// body, the X-Session-Token header and an HttpOnly cookie; browsers use the
// cookie and the CLI and scripts use the bearer header.
type AuthHandler struct {
	service   authService
	responder responder
	logger    *slog.Logger
}

func NewAuthHandler(service authService, logger *slog.Logger) *AuthHandler {
	base := defaultLogger(logger)
	return &AuthHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *AuthHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return handlerLogger(ctx, h.logger, "AuthHandler", operation, attrs...)
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Token     string  `json:"token"`
	ExpiresAt string  `json:"expires_at"`
	User      userDTO `json:"user"`
}

// CreateSession handles POST /sessions.
func (h *AuthHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		unavailable(w)
		return
	}
	ctx := r.Context()

	var req loginRequest
	if !h.responder.decode(w, r, &req) {
		return
	}

	result, err := h.service.Authenticate(ctx, application.AuthenticateParams{Email: req.Email, Password: req.Password})
	if err != nil {
		// AuthService already logged the attempt with its error kind.
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	session := result.Session
	http.SetCookie(w, sessionCookie(session.Token, session.ExpiresAt))
	w.Header().Set("X-Session-Token", session.Token)
	h.log(ctx, "CreateSession", "user_id", result.User.ID, "admin", result.User.IsAdmin).DebugContext(ctx, "session cookie issued")

	h.responder.writeJSON(ctx, w, http.StatusCreated, loginResponse{
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt.UTC().Format(time.RFC3339),
		User:      toUserDTO(result.User),
	})
}

// DeleteCurrentSession handles DELETE /sessions/current. The cookie is cleared
// even when revocation fails so a browser never keeps a dead token.
func (h *AuthHandler) DeleteCurrentSession(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		unavailable(w)
		return
	}
	ctx := r.Context()

	http.SetCookie(w, sessionCookie("", time.Time{}))
	if err := h.service.RevokeSession(ctx, extractTokenFromRequest(r)); err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

const sessionCookieName = "session_token"

// sessionCookie builds the session cookie; an empty token produces the
// expired cookie that clears it.
func sessionCookie(token string, expires time.Time) *http.Cookie {
	cookie := &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	}
	switch {
	case token == "":
		cookie.Expires = time.Unix(0, 0)
		cookie.MaxAge = -1
	case !expires.IsZero():
		cookie.Expires = expires.UTC()
	}
	return cookie
}

// extractTokenFromRequest prefers an Authorization bearer token over the cookie.
func extractTokenFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	if token, ok := strings.CutPrefix(strings.TrimSpace(r.Header.Get("Authorization")), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

func unavailable(w http.ResponseWriter) {
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}
