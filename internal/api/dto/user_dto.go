package dto

import (
	"time"

	"github.com/ticketdesk/ticket-service/internal/domain"
)

// UserRegisterRequest payload for new accounts.
type UserRegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// CreateUserRequest is the admin payload, which may set role and level.
type CreateUserRequest struct {
	UserRegisterRequest
	Role  string `json:"role"`
	Level string `json:"level"`
}

// UserLoginRequest payload for login.
type UserLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UserResponse is the public view of an account.
type UserResponse struct {
	ID        string            `json:"id"`
	Username  string            `json:"username"`
	Email     string            `json:"email"`
	Role      domain.UserRole   `json:"role"`
	Level     *domain.UserLevel `json:"level"`
	IsActive  bool              `json:"is_active"`
	CreatedBy *string           `json:"created_by,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// AuthResponse standard response for auth endpoints.
type AuthResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      UserResponse `json:"user"`
}

// NewUserResponse maps a user without credentials.
func NewUserResponse(u *domain.User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Role:      u.Role,
		Level:     u.Level,
		IsActive:  u.IsActive,
		CreatedBy: u.CreatedBy,
		CreatedAt: u.CreatedAt,
	}
}

// NewAuthResponse pairs a token with its user.
func NewAuthResponse(u *domain.User, token domain.Token) AuthResponse {
	return AuthResponse{
		Token:     token.Value,
		ExpiresAt: token.ExpiresAt,
		User:      NewUserResponse(u),
	}
}
