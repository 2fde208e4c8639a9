package dto

import (
	"time"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// LoginRequest payload for login.
type LoginRequest struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

// AuthResponse standard response for auth endpoints.
type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// UserResponse is the caller's own profile.
type UserResponse struct {
	ID       int64       `json:"id"`
	Username string      `json:"username"`
	Email    string      `json:"email,omitempty"`
	Role     domain.Role `json:"role"`
	AreaID   *int64      `json:"area_id"`
	AreaName string      `json:"area_name,omitempty"`
}

// NewUserResponse maps a user.
func NewUserResponse(u *domain.User) UserResponse {
	return UserResponse{
		ID:       u.ID,
		Username: u.Username,
		Email:    u.Email,
		Role:     u.Role,
		AreaID:   u.AreaID,
		AreaName: u.AreaName,
	}
}
