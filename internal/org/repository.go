// ClarusRCM | 2026
// repository.go

package org

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/clarusrcm/platform-api/internal/core"
)

const orgColumns = `id, name, subscription_tier, subscription_status,
	stripe_customer_id, stripe_subscription_id, current_period_end,
	max_users, created_at, updated_at`

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(
	ctx context.Context,
	organization *Organization,
) error {
	query := `
		INSERT INTO organizations (
			id, name, subscription_tier, subscription_status, max_users
		)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`

	err := r.db.QueryRowxContext(ctx, query,
		organization.ID,
		organization.Name,
		organization.SubscriptionTier,
		organization.SubscriptionStatus,
		organization.MaxUsers,
	).Scan(&organization.CreatedAt, &organization.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("create organization: %w", core.ErrDuplicateKey)
		}
		return fmt.Errorf("create organization: %w", err)
	}

	return nil
}

func (r *Repository) GetByID(
	ctx context.Context,
	id uuid.UUID,
) (*Organization, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM organizations WHERE id = $1`,
		orgColumns,
	)

	var organization Organization
	err := r.db.GetContext(ctx, &organization, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("get organization: %w", core.ErrNotFound)
		}
		return nil, fmt.Errorf("get organization: %w", err)
	}

	return &organization, nil
}

// GetBySubscriptionID resolves the organization a provider event belongs
// to. Not found is not an error condition for callers handling webhook
// replays, so the core sentinel is returned for them to branch on.
func (r *Repository) GetBySubscriptionID(
	ctx context.Context,
	subscriptionID string,
) (*Organization, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM organizations WHERE stripe_subscription_id = $1`,
		orgColumns,
	)

	var organization Organization
	err := r.db.GetContext(ctx, &organization, query, subscriptionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf(
				"get organization by subscription: %w",
				core.ErrNotFound,
			)
		}
		return nil, fmt.Errorf("get organization by subscription: %w", err)
	}

	return &organization, nil
}

func (r *Repository) GetByCustomerID(
	ctx context.Context,
	customerID string,
) (*Organization, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM organizations WHERE stripe_customer_id = $1`,
		orgColumns,
	)

	var organization Organization
	err := r.db.GetContext(ctx, &organization, query, customerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf(
				"get organization by customer: %w",
				core.ErrNotFound,
			)
		}
		return nil, fmt.Errorf("get organization by customer: %w", err)
	}

	return &organization, nil
}

// EnsureCustomerRef returns the organization's provider customer id,
// creating one through the callback if it is missing. The row is locked
// for the duration so concurrent checkouts cannot both call create.
func (r *Repository) EnsureCustomerRef(
	ctx context.Context,
	orgID uuid.UUID,
	create func(ctx context.Context, organization *Organization) (string, error),
) (string, error) {
	var customerID string

	err := core.InTx(ctx, r.db, func(tx *sqlx.Tx) error {
		query := fmt.Sprintf(
			`SELECT %s FROM organizations WHERE id = $1 FOR UPDATE`,
			orgColumns,
		)

		var organization Organization
		if err := tx.GetContext(ctx, &organization, query, orgID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("lock organization: %w", core.ErrNotFound)
			}
			return fmt.Errorf("lock organization: %w", err)
		}

		if organization.StripeCustomerID != nil &&
			*organization.StripeCustomerID != "" {
			customerID = *organization.StripeCustomerID
			return nil
		}

		created, err := create(ctx, &organization)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE organizations
			SET stripe_customer_id = $1, updated_at = now()
			WHERE id = $2`,
			created, orgID,
		)
		if err != nil {
			return fmt.Errorf("store customer ref: %w", err)
		}

		customerID = created
		return nil
	})
	if err != nil {
		return "", err
	}

	return customerID, nil
}

// UpdateSubscription applies a partial billing-state update. Webhook
// handlers call this with whatever the event carried; omitted fields
// keep their current value.
func (r *Repository) UpdateSubscription(
	ctx context.Context,
	orgID uuid.UUID,
	update SubscriptionUpdate,
) error {
	sets := []string{"updated_at = now()"}
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if update.Tier != nil {
		sets = append(sets, "subscription_tier = "+arg(*update.Tier))
	}
	if update.Status != nil {
		sets = append(sets, "subscription_status = "+arg(*update.Status))
	}
	if update.CustomerID != nil {
		sets = append(sets, "stripe_customer_id = "+arg(*update.CustomerID))
	}
	if update.SubscriptionID != nil {
		sets = append(
			sets,
			"stripe_subscription_id = "+arg(*update.SubscriptionID),
		)
	}
	if update.CurrentPeriodEnd != nil {
		sets = append(
			sets,
			"current_period_end = "+arg(*update.CurrentPeriodEnd),
		)
	}
	if update.MaxUsers != nil {
		sets = append(sets, "max_users = "+arg(*update.MaxUsers))
	}
	if update.ClearSubscription {
		sets = append(sets,
			"stripe_subscription_id = NULL",
			"current_period_end = NULL",
		)
	}

	query := fmt.Sprintf(
		`UPDATE organizations SET %s WHERE id = %s`,
		strings.Join(sets, ", "),
		arg(orgID),
	)

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("update subscription: %w", core.ErrNotFound)
	}

	return nil
}

func (r *Repository) CountMembers(
	ctx context.Context,
	orgID uuid.UUID,
) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM users WHERE org_id = $1 AND is_active = true`,
		orgID,
	)
	if err != nil {
		return 0, fmt.Errorf("count members: %w", err)
	}

	return count, nil
}

// ListExpiringTrials returns trial organizations created before the cutoff.
func (r *Repository) ListExpiringTrials(
	ctx context.Context,
	before time.Time,
) ([]Organization, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM organizations
		WHERE subscription_tier = 'trial' AND created_at < $1
		ORDER BY created_at ASC`,
		orgColumns,
	)

	var organizations []Organization
	err := r.db.SelectContext(ctx, &organizations, query, before)
	if err != nil {
		return nil, fmt.Errorf("list expiring trials: %w", err)
	}

	return organizations, nil
}
