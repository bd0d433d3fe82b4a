package dto

import (
	"time"

	"github.com/spec-kit/canvas-sync/internal/domain"
)

// SignupRequest payload for new accounts.
type SignupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest payload for login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Profile is the public identity of an account.
type Profile struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// AuthResponse is returned by signup and login. ExpiresAt is epoch ms.
type AuthResponse struct {
	Profile         Profile `json:"profile"`
	Token           string  `json:"token"`
	ExpiresAt       int64   `json:"expiresAt"`
	DefaultCanvasID string  `json:"defaultCanvasId,omitempty"`
}

// MeResponse is returned by GET /auth/me.
type MeResponse struct {
	Profile Profile `json:"profile"`
}

// SuccessResponse acknowledges operations without a body.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// NewProfile maps a user to its public profile.
func NewProfile(u *domain.User) Profile {
	if u == nil {
		return Profile{}
	}
	return Profile{ID: u.ID, Email: u.Email, Name: u.Name}
}

// NewAuthResponse builds the signup/login body.
func NewAuthResponse(u *domain.User, token string, expiresAt time.Time, defaultCanvasID string) AuthResponse {
	return AuthResponse{
		Profile:         NewProfile(u),
		Token:           token,
		ExpiresAt:       expiresAt.UnixMilli(),
		DefaultCanvasID: defaultCanvasID,
	}
}
