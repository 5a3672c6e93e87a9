// ClarusRCM | 2026
// entity.go

package org

import (
	"time"

	"github.com/google/uuid"
)

type Tier string

const (
	TierTrial        Tier = "trial"
	TierStarter      Tier = "starter"
	TierProfessional Tier = "professional"
	TierEnterprise   Tier = "enterprise"
)

// TrialMaxUsers is the seat limit for organizations that have not
// purchased a plan.
const TrialMaxUsers = 5

type Status string

const (
	StatusActive     Status = "active"
	StatusPastDue    Status = "past_due"
	StatusCancelled  Status = "cancelled"
	StatusIncomplete Status = "incomplete"
)

// Organization is a tenant. Billing reference fields are nullable: an
// organization exists before it ever reaches the payment provider.
type Organization struct {
	ID                   uuid.UUID  `db:"id"            json:"id"`
	Name                 string     `db:"name"          json:"name"`
	SubscriptionTier     Tier       `db:"subscription_tier"   json:"subscription_tier"`
	SubscriptionStatus   Status     `db:"subscription_status" json:"subscription_status"`
	StripeCustomerID     *string    `db:"stripe_customer_id"     json:"-"`
	StripeSubscriptionID *string    `db:"stripe_subscription_id" json:"-"`
	CurrentPeriodEnd     *time.Time `db:"current_period_end" json:"current_period_end,omitempty"`
	MaxUsers             int        `db:"max_users"  json:"max_users"`
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time  `db:"updated_at" json:"updated_at"`
}

// SubscriptionUpdate is a partial update. Nil fields are left untouched;
// ClearSubscription nulls out the provider subscription reference and the
// period end together.
type SubscriptionUpdate struct {
	Tier              *Tier
	Status            *Status
	CustomerID        *string
	SubscriptionID    *string
	CurrentPeriodEnd  *time.Time
	MaxUsers          *int
	ClearSubscription bool
}
