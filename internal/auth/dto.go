// ClarusRCM | 2026
// dto.go

package auth

import (
	"time"

	"github.com/clarusrcm/platform-api/internal/user"
)

type LoginRequest struct {
	Email    string `json:"email"    validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type RegisterRequest struct {
	Email    string `json:"email"    validate:"required,email"`
	Password string `json:"password" validate:"required,min=12,max=128"`
	Name     string `json:"name"     validate:"required,min=1,max=100"`

	// Optional. When present a new organization is provisioned on the
	// trial tier and the registrant becomes its admin.
	OrganizationName string `json:"organization_name" validate:"omitempty,min=1,max=200"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password"     validate:"required,min=12,max=128"`
}

type AuthResponse struct {
	User      user.Response `json:"user"`
	Token     string        `json:"token"`
	TokenType string        `json:"token_type"`
	ExpiresIn int           `json:"expires_in"`
	ExpiresAt time.Time     `json:"expires_at"`
}
