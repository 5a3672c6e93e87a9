// ClarusRCM | 2026
// repository.go

package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/clarusrcm/platform-api/internal/core"
)

const userColumns = `id, email, password_hash, name, role, org_id,
	is_active, last_login_at, created_at, updated_at`

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, u *User) error {
	query := `
		INSERT INTO users (id, email, password_hash, name, role, org_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING is_active, created_at, updated_at`

	err := r.db.QueryRowxContext(ctx, query,
		u.ID, u.Email, u.PasswordHash, u.Name, u.Role, u.OrgID,
	).Scan(&u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("create user: %w", core.ErrDuplicateKey)
		}
		return fmt.Errorf("create user: %w", err)
	}

	return nil
}

func (r *Repository) GetByID(
	ctx context.Context,
	id uuid.UUID,
) (*User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE id = $1`, userColumns)

	var u User
	if err := r.db.GetContext(ctx, &u, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("get user: %w", core.ErrNotFound)
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return &u, nil
}

func (r *Repository) GetByEmail(
	ctx context.Context,
	email string,
) (*User, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM users WHERE lower(email) = lower($1)`,
		userColumns,
	)

	var u User
	if err := r.db.GetContext(ctx, &u, query, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("get user by email: %w", core.ErrNotFound)
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}

	return &u, nil
}

func (r *Repository) ListByOrg(
	ctx context.Context,
	orgID uuid.UUID,
) ([]User, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM users
		WHERE org_id = $1
		ORDER BY created_at ASC`,
		userColumns,
	)

	var users []User
	if err := r.db.SelectContext(ctx, &users, query, orgID); err != nil {
		return nil, fmt.Errorf("list users by org: %w", err)
	}

	return users, nil
}

func (r *Repository) UpdateLastLogin(
	ctx context.Context,
	id uuid.UUID,
	at time.Time,
) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users SET last_login_at = $1, updated_at = now()
		WHERE id = $2`,
		at, id,
	)
	if err != nil {
		return fmt.Errorf("update last login: %w", err)
	}

	return nil
}

func (r *Repository) UpdatePasswordHash(
	ctx context.Context,
	id uuid.UUID,
	hash string,
) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users SET password_hash = $1, updated_at = now()
		WHERE id = $2`,
		hash, id,
	)
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}

	return nil
}

func (r *Repository) UpdateRole(
	ctx context.Context,
	id uuid.UUID,
	role string,
) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE users SET role = $1, updated_at = now()
		WHERE id = $2`,
		role, id,
	)
	if err != nil {
		return fmt.Errorf("update role: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update role: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("update role: %w", core.ErrNotFound)
	}

	return nil
}

// SetActive soft-disables or re-enables an account. Rows are never
// deleted so audit history stays intact.
func (r *Repository) SetActive(
	ctx context.Context,
	id uuid.UUID,
	active bool,
) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE users SET is_active = $1, updated_at = now()
		WHERE id = $2`,
		active, id,
	)
	if err != nil {
		return fmt.Errorf("set user active: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set user active: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("set user active: %w", core.ErrNotFound)
	}

	return nil
}
