// ClarusRCM | 2026
// stripe.go

package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/clarusrcm/platform-api/internal/config"
	"github.com/clarusrcm/platform-api/internal/org"
)

type StripeProvider struct {
	api           *client.API
	webhookSecret string
	logger        *slog.Logger
}

func NewStripeProvider(
	cfg config.BillingConfig,
	logger *slog.Logger,
) *StripeProvider {
	api := &client.API{}
	api.Init(cfg.StripeSecretKey, nil)

	return &StripeProvider{
		api:           api,
		webhookSecret: cfg.StripeWebhookSecret,
		logger:        logger,
	}
}

func (p *StripeProvider) CreateCustomer(
	ctx context.Context,
	organization *org.Organization,
) (string, error) {
	params := &stripe.CustomerParams{
		Name: stripe.String(organization.Name),
		Metadata: map[string]string{
			"org_id": organization.ID.String(),
		},
	}
	params.Context = ctx

	customer, err := p.api.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("create customer: %v: %w", err, ErrProviderFailure)
	}

	return customer.ID, nil
}

func (p *StripeProvider) CreateCheckoutSession(
	ctx context.Context,
	checkout CheckoutParams,
) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Customer: stripe.String(checkout.CustomerID),
		Mode: stripe.String(
			string(stripe.CheckoutSessionModeSubscription),
		),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(checkout.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(checkout.SuccessURL),
		CancelURL:         stripe.String(checkout.CancelURL),
		ClientReferenceID: stripe.String(checkout.OrgID.String()),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				"org_id": checkout.OrgID.String(),
			},
		},
	}
	params.Context = ctx
	params.AddMetadata("org_id", checkout.OrgID.String())
	params.AddMetadata("plan_type", string(checkout.Tier))

	session, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf(
			"create checkout session: %v: %w",
			err,
			ErrProviderFailure,
		)
	}

	return &CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

func (p *StripeProvider) CreatePortalSession(
	ctx context.Context,
	customerID, returnURL string,
) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	session, err := p.api.BillingPortalSessions.New(params)
	if err != nil {
		return "", fmt.Errorf(
			"create portal session: %v: %w",
			err,
			ErrProviderFailure,
		)
	}

	return session.URL, nil
}

func (p *StripeProvider) GetSubscription(
	ctx context.Context,
	subscriptionID string,
) (*SubscriptionState, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := p.api.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf(
			"get subscription: %v: %w",
			err,
			ErrProviderFailure,
		)
	}

	state := &SubscriptionState{
		SubscriptionID: sub.ID,
		Status:         p.mapStatus(string(sub.Status)),
	}

	if sub.Customer != nil {
		state.CustomerID = sub.Customer.ID
	}

	// Period end and price live on the subscription item.
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		if item.Price != nil {
			state.PriceID = item.Price.ID
		}
		if item.CurrentPeriodEnd > 0 {
			end := time.Unix(item.CurrentPeriodEnd, 0).UTC()
			state.CurrentPeriodEnd = &end
		}
	}

	return state, nil
}

// ParseEvent verifies the signature before touching the payload, then
// reduces the stripe event to the internal Event shape. Types the
// service does not handle and verified payloads that fail to decode
// both come back as EventUnknown.
func (p *StripeProvider) ParseEvent(
	payload []byte,
	sigHeader string,
) (*Event, error) {
	stripeEvent, err := webhook.ConstructEventWithOptions(
		payload,
		sigHeader,
		p.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true},
	)
	if err != nil {
		return nil, fmt.Errorf("construct event: %w", ErrInvalidSignature)
	}

	event := &Event{ID: stripeEvent.ID}

	switch stripeEvent.Type {
	case "checkout.session.completed":
		var session stripeCheckoutSession
		if err := json.Unmarshal(stripeEvent.Data.Raw, &session); err != nil {
			return p.undecodable(stripeEvent, err), nil
		}

		event.Type = EventCheckoutCompleted
		event.CustomerID = session.Customer
		event.SubscriptionID = session.Subscription
		event.CheckoutTier = org.Tier(session.Metadata["plan_type"])

		orgRef := session.Metadata["org_id"]
		if orgRef == "" {
			orgRef = session.ClientReferenceID
		}
		if orgID, parseErr := uuid.Parse(orgRef); parseErr == nil {
			event.CheckoutOrgID = &orgID
		}

	case "customer.subscription.created", "customer.subscription.updated":
		state, err := parseSubscriptionState(stripeEvent.Data.Raw, p.mapStatus)
		if err != nil {
			return p.undecodable(stripeEvent, err), nil
		}

		event.Type = EventSubscriptionUpdated
		event.CustomerID = state.CustomerID
		event.SubscriptionID = state.SubscriptionID
		event.Subscription = state

	case "customer.subscription.deleted":
		state, err := parseSubscriptionState(stripeEvent.Data.Raw, p.mapStatus)
		if err != nil {
			return p.undecodable(stripeEvent, err), nil
		}

		event.Type = EventSubscriptionDeleted
		event.CustomerID = state.CustomerID
		event.SubscriptionID = state.SubscriptionID

	case "invoice.payment_failed":
		var invoice stripeInvoice
		if err := json.Unmarshal(stripeEvent.Data.Raw, &invoice); err != nil {
			return p.undecodable(stripeEvent, err), nil
		}

		event.Type = EventPaymentFailed
		event.CustomerID = invoice.Customer
		event.SubscriptionID = invoice.subscriptionID()

	case "invoice.payment_succeeded", "invoice.paid":
		var invoice stripeInvoice
		if err := json.Unmarshal(stripeEvent.Data.Raw, &invoice); err != nil {
			return p.undecodable(stripeEvent, err), nil
		}

		event.Type = EventInvoicePaid
		event.CustomerID = invoice.Customer
		event.SubscriptionID = invoice.subscriptionID()

	default:
		event.Type = EventUnknown
	}

	return event, nil
}

// undecodable downgrades a verified event whose object does not match
// the expected shape. Redelivery cannot change the payload, so the
// event is acknowledged as unknown instead of answered with an error.
func (p *StripeProvider) undecodable(
	stripeEvent stripe.Event,
	err error,
) *Event {
	p.logger.Warn("undecodable event payload",
		"event_id", stripeEvent.ID,
		"type", string(stripeEvent.Type),
		"error", err,
	)
	return &Event{ID: stripeEvent.ID, Type: EventUnknown}
}

func (p *StripeProvider) mapStatus(status string) org.Status {
	switch status {
	case "active", "trialing":
		return org.StatusActive
	case "past_due", "unpaid":
		return org.StatusPastDue
	case "canceled":
		return org.StatusCancelled
	case "incomplete", "incomplete_expired":
		return org.StatusIncomplete
	default:
		p.logger.Warn("unrecognized subscription status",
			"status", status,
		)
		return org.StatusIncomplete
	}
}

// Webhook payloads are decoded into minimal local shapes instead of the
// SDK's full types; only the fields the organization record tracks are
// needed, and the reduced structs survive API version drift better.
type stripeCheckoutSession struct {
	ID                string            `json:"id"`
	ClientReferenceID string            `json:"client_reference_id"`
	Customer          string            `json:"customer"`
	Subscription      string            `json:"subscription"`
	Metadata          map[string]string `json:"metadata"`
}

type stripeSubscription struct {
	ID               string `json:"id"`
	Customer         string `json:"customer"`
	Status           string `json:"status"`
	CurrentPeriodEnd int64  `json:"current_period_end"`
	Items            struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
			Price            struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

type stripeInvoice struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
	Parent       struct {
		SubscriptionDetails struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

// subscriptionID tolerates both the legacy top-level field and the
// newer parent.subscription_details location.
func (i stripeInvoice) subscriptionID() string {
	if i.Subscription != "" {
		return i.Subscription
	}
	return i.Parent.SubscriptionDetails.Subscription
}

func parseSubscriptionState(
	raw json.RawMessage,
	mapStatus func(string) org.Status,
) (*SubscriptionState, error) {
	var sub stripeSubscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, fmt.Errorf("parse subscription: %w", err)
	}

	state := &SubscriptionState{
		SubscriptionID: sub.ID,
		CustomerID:     sub.Customer,
		Status:         mapStatus(sub.Status),
	}

	periodEnd := sub.CurrentPeriodEnd
	if len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		state.PriceID = item.Price.ID
		if item.CurrentPeriodEnd > 0 {
			periodEnd = item.CurrentPeriodEnd
		}
	}
	if periodEnd > 0 {
		end := time.Unix(periodEnd, 0).UTC()
		state.CurrentPeriodEnd = &end
	}

	return state, nil
}
