// ClarusRCM | 2026
// entity.go

package user

import (
	"time"

	"github.com/google/uuid"
)

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// User belongs to at most one organization. PasswordHash is nullable:
// externally provisioned accounts authenticate through other means and
// must fail credential login indistinguishably from unknown emails.
type User struct {
	ID           uuid.UUID  `db:"id"    json:"id"`
	Email        string     `db:"email" json:"email"`
	PasswordHash *string    `db:"password_hash" json:"-"`
	Name         string     `db:"name" json:"name"`
	Role         string     `db:"role" json:"role"`
	OrgID        *uuid.UUID `db:"org_id"    json:"org_id,omitempty"`
	IsActive     bool       `db:"is_active" json:"is_active"`
	LastLoginAt  *time.Time `db:"last_login_at" json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}
