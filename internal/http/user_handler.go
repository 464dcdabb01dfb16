package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/chair-portal/internal/application"
)

type userService interface {
	Register(ctx context.Context, params application.RegisterParams) (application.User, error)
	GetProfile(ctx context.Context, principal application.Principal) (application.User, error)
	UpdateProfile(ctx context.Context, params application.UpdateProfileParams) (application.User, error)
	ListUsers(ctx context.Context, principal application.Principal) ([]application.User, error)
}

type UserHandler struct {
	service   userService
	responder responder
	logger    *slog.Logger
}

func NewUserHandler(service userService, logger *slog.Logger) *UserHandler {
	base := defaultLogger(logger)
	return &UserHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *UserHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "UserHandler", operation, attrs...)
}

// Register handles POST /users.
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req registerRequest
	if !h.responder.decode(w, r, &req) {
		return
	}

	logger := h.log(r.Context(), "Register")
	user, err := h.service.Register(r.Context(), application.RegisterParams{
		Email:       req.Email,
		DisplayName: req.DisplayName,
		Password:    req.Password,
		Gender:      req.Gender,
	})
	if err != nil {
		logger.ErrorContext(r.Context(), "registration failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("user_id", user.ID).InfoContext(r.Context(), "user registered")
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, userResponse{User: toUserDTO(user)})
}

// Me handles GET /me.
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	user, err := h.service.GetProfile(r.Context(), principal)
	if err != nil {
		h.log(r.Context(), "Me", "principal_id", principal.UserID).ErrorContext(r.Context(), "profile lookup failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, userResponse{User: toUserDTO(user)})
}

// UpdateMe handles PUT /me.
func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())

	var req profileRequest
	if !h.responder.decode(w, r, &req) {
		return
	}

	logger := h.log(r.Context(), "UpdateMe", "principal_id", principal.UserID)
	user, err := h.service.UpdateProfile(r.Context(), application.UpdateProfileParams{
		Principal:   principal,
		DisplayName: req.DisplayName,
		Gender:      req.Gender,
	})
	if err != nil {
		logger.ErrorContext(r.Context(), "profile update failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "profile updated")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, userResponse{User: toUserDTO(user)})
}

// List handles GET /admin/users.
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	logger := h.log(r.Context(), "List", "principal_id", principal.UserID)
	users, err := h.service.ListUsers(r.Context(), principal)
	if err != nil {
		logger.ErrorContext(r.Context(), "user list failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("result_count", len(users)).InfoContext(r.Context(), "users listed")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listUsersResponse{Users: toUserDTOs(users)})
}

type registerRequest struct {
	Email       string `json:"email" validate:"required,email"`
	DisplayName string `json:"display_name" validate:"required,max=100"`
	Password    string `json:"password" validate:"required,min=8"`
	Gender      string `json:"gender" validate:"omitempty,oneof=male female Male Female"`
}

type profileRequest struct {
	DisplayName string `json:"display_name" validate:"required,max=100"`
	Gender      string `json:"gender" validate:"omitempty,oneof=male female Male Female"`
}

type userResponse struct {
	User userDTO `json:"user"`
}

type listUsersResponse struct {
	Users []userDTO `json:"users"`
}

type userDTO struct {
	ID          string `json:"id"`
	BPID        string `json:"bp_id,omitempty"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Gender      string `json:"gender,omitempty"`
	IsAdmin     bool   `json:"is_admin"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

func toUserDTO(user application.User) userDTO {
	return userDTO{
		ID:          user.ID,
		BPID:        user.BPID(),
		Email:       user.Email,
		DisplayName: user.DisplayName,
		Gender:      user.Gender,
		IsAdmin:     user.IsAdmin,
		CreatedAt:   user.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   user.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func toUserDTOs(users []application.User) []userDTO {
	out := make([]userDTO, 0, len(users))
	for _, user := range users {
		out = append(out, toUserDTO(user))
	}
	return out
}
