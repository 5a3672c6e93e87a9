// ClarusRCM | 2026
// provider.go

package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/clarusrcm/platform-api/internal/org"
)

var (
	ErrUnknownPlan      = errors.New("unknown plan")
	ErrNoSubscription   = errors.New("no active subscription")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrProviderFailure  = errors.New("payment provider failure")
)

type EventType string

const (
	EventCheckoutCompleted   EventType = "checkout_completed"
	EventSubscriptionUpdated EventType = "subscription_updated"
	EventSubscriptionDeleted EventType = "subscription_deleted"
	EventPaymentFailed       EventType = "payment_failed"
	EventInvoicePaid         EventType = "invoice_paid"

	// EventUnknown covers types the service does not act on. They are
	// acknowledged so the provider stops retrying.
	EventUnknown EventType = "unknown"
)

// SubscriptionState is the provider's view of one subscription, reduced
// to the fields the organization record tracks.
type SubscriptionState struct {
	SubscriptionID   string
	CustomerID       string
	Status           org.Status
	PriceID          string
	CurrentPeriodEnd *time.Time
}

// Event is one verified webhook notification.
type Event struct {
	ID   string
	Type EventType

	// CheckoutOrgID and CheckoutTier are set on checkout_completed
	// events from the metadata the checkout session was created with.
	CheckoutOrgID *uuid.UUID
	CheckoutTier  org.Tier

	CustomerID     string
	SubscriptionID string

	// Subscription is set when the event payload embeds the full
	// subscription object.
	Subscription *SubscriptionState
}

// CheckoutSession is the provider's hosted checkout reference handed
// back to the frontend.
type CheckoutSession struct {
	ID  string
	URL string
}

type CheckoutParams struct {
	CustomerID string
	OrgID      uuid.UUID
	Tier       org.Tier
	PriceID    string
	SuccessURL string
	CancelURL  string
}

// Provider abstracts the payment processor. The concrete implementation
// talks to Stripe; tests substitute a fake.
type Provider interface {
	CreateCustomer(
		ctx context.Context,
		organization *org.Organization,
	) (string, error)

	CreateCheckoutSession(
		ctx context.Context,
		params CheckoutParams,
	) (*CheckoutSession, error)

	CreatePortalSession(
		ctx context.Context,
		customerID, returnURL string,
	) (string, error)

	GetSubscription(
		ctx context.Context,
		subscriptionID string,
	) (*SubscriptionState, error)

	// ParseEvent verifies the payload signature before any parsing.
	// A bad signature returns ErrInvalidSignature.
	ParseEvent(payload []byte, sigHeader string) (*Event, error)
}
