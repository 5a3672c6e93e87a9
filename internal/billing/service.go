// ClarusRCM | 2026
// service.go

package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/clarusrcm/platform-api/internal/audit"
	"github.com/clarusrcm/platform-api/internal/config"
	"github.com/clarusrcm/platform-api/internal/core"
	"github.com/clarusrcm/platform-api/internal/org"
)

// OrganizationStore is the slice of the organization repository the
// synchronizer needs. Billing is the only writer of the subscription
// fields.
type OrganizationStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*org.Organization, error)
	GetBySubscriptionID(
		ctx context.Context,
		subscriptionID string,
	) (*org.Organization, error)
	GetByCustomerID(
		ctx context.Context,
		customerID string,
	) (*org.Organization, error)
	EnsureCustomerRef(
		ctx context.Context,
		orgID uuid.UUID,
		create func(
			ctx context.Context,
			organization *org.Organization,
		) (string, error),
	) (string, error)
	UpdateSubscription(
		ctx context.Context,
		orgID uuid.UUID,
		update org.SubscriptionUpdate,
	) error
}

// TierCache invalidates cached tier lookups after a billing-state
// change.
type TierCache interface {
	InvalidateTier(orgID uuid.UUID)
}

type Service struct {
	store    OrganizationStore
	provider Provider
	catalog  *Catalog
	auditor  audit.Recorder
	tiers    TierCache
	cfg      config.BillingConfig
	logger   *slog.Logger
}

func NewService(
	store OrganizationStore,
	provider Provider,
	catalog *Catalog,
	auditor audit.Recorder,
	tiers TierCache,
	cfg config.BillingConfig,
	logger *slog.Logger,
) *Service {
	return &Service{
		store:    store,
		provider: provider,
		catalog:  catalog,
		auditor:  auditor,
		tiers:    tiers,
		cfg:      cfg,
		logger:   logger,
	}
}

// InitiateCheckout starts a hosted checkout for a paid tier. The plan is
// validated before anything touches the provider or the store, and the
// customer reference is created under a per-organization lock so two
// concurrent first checkouts cannot both create a provider customer.
// The organization's tier and status are not touched here; only the
// webhook following a completed payment changes them.
func (s *Service) InitiateCheckout(
	ctx context.Context,
	orgID uuid.UUID,
	tier org.Tier,
) (*CheckoutResponse, error) {
	plan, err := s.catalog.ByTier(tier)
	if err != nil {
		return nil, fmt.Errorf("initiate checkout: %w", err)
	}

	customerID, err := s.store.EnsureCustomerRef(
		ctx,
		orgID,
		s.provider.CreateCustomer,
	)
	if err != nil {
		return nil, fmt.Errorf("ensure customer ref: %w", err)
	}

	session, err := s.provider.CreateCheckoutSession(ctx, CheckoutParams{
		CustomerID: customerID,
		OrgID:      orgID,
		Tier:       plan.Tier,
		PriceID:    plan.PriceID,
		SuccessURL: s.cfg.CheckoutSuccessURL,
		CancelURL:  s.cfg.CheckoutCancelURL,
	})
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	s.auditor.Record(ctx, audit.Entry{
		OrgID:  &orgID,
		Action: "checkout_initiated",
		Detail: map[string]any{"tier": string(plan.Tier)},
	})

	return &CheckoutResponse{SessionID: session.ID, URL: session.URL}, nil
}

// OpenBillingPortal returns a hosted portal URL for an organization
// that already has a provider customer.
func (s *Service) OpenBillingPortal(
	ctx context.Context,
	orgID uuid.UUID,
) (*PortalResponse, error) {
	organization, err := s.store.GetByID(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("get organization: %w", err)
	}

	if organization.StripeCustomerID == nil ||
		*organization.StripeCustomerID == "" {
		return nil, fmt.Errorf("open portal: %w", ErrNoSubscription)
	}

	url, err := s.provider.CreatePortalSession(
		ctx,
		*organization.StripeCustomerID,
		s.cfg.PortalReturnURL,
	)
	if err != nil {
		return nil, fmt.Errorf("create portal session: %w", err)
	}

	return &PortalResponse{URL: url}, nil
}

func (s *Service) GetSubscription(
	ctx context.Context,
	orgID uuid.UUID,
) (*SubscriptionResponse, error) {
	organization, err := s.store.GetByID(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("get organization: %w", err)
	}

	resp := &SubscriptionResponse{
		Tier:             organization.SubscriptionTier,
		Status:           organization.SubscriptionStatus,
		CurrentPeriodEnd: organization.CurrentPeriodEnd,
		MaxUsers:         organization.MaxUsers,
		HasSubscription: organization.StripeSubscriptionID != nil &&
			*organization.StripeSubscriptionID != "",
	}

	if plan, planErr := s.catalog.ByTier(organization.SubscriptionTier); planErr == nil {
		resp.PlanName = plan.Name
		resp.Features = plan.Features
	}

	return resp, nil
}

func (s *Service) Plans() []Plan {
	return s.catalog.List()
}

// HandleEvent applies one verified billing event. Every branch sets an
// absolute target state, so redelivery of the same event converges to
// the same row. An event that cannot be matched to an organization is
// logged and acknowledged; returning an error here would make the
// provider retry something that can never succeed. Only store failures
// propagate.
func (s *Service) HandleEvent(ctx context.Context, event *Event) error {
	switch event.Type {
	case EventCheckoutCompleted:
		return s.applyCheckoutCompleted(ctx, event)
	case EventSubscriptionUpdated:
		return s.applySubscriptionUpdated(ctx, event)
	case EventSubscriptionDeleted:
		return s.applySubscriptionDeleted(ctx, event)
	case EventPaymentFailed:
		return s.applyPaymentFailed(ctx, event)
	case EventInvoicePaid:
		s.recordInvoicePaid(ctx, event)
		return nil
	default:
		s.logger.Debug("billing event ignored",
			"event_id", event.ID,
			"type", event.Type,
		)
		return nil
	}
}

func (s *Service) applyCheckoutCompleted(
	ctx context.Context,
	event *Event,
) error {
	orgID, ok := s.resolveCheckoutOrg(ctx, event)
	if !ok {
		s.logger.Warn("checkout event without resolvable organization",
			"event_id", event.ID,
			"customer_id", event.CustomerID,
		)
		return nil
	}

	status := org.StatusActive
	update := org.SubscriptionUpdate{Status: &status}

	if event.CustomerID != "" {
		update.CustomerID = &event.CustomerID
	}
	if event.SubscriptionID != "" {
		update.SubscriptionID = &event.SubscriptionID
	}

	if plan, err := s.catalog.ByTier(event.CheckoutTier); err == nil {
		update.Tier = &plan.Tier
		update.MaxUsers = &plan.MaxUsers
	} else {
		s.logger.Warn("checkout event carries unrecognized plan",
			"event_id", event.ID,
			"plan_type", event.CheckoutTier,
		)
	}

	// The period end is not on the checkout session itself; it becomes
	// retrievable once the subscription exists. A fetch failure is not
	// fatal, the next subscription_updated event carries it too.
	if event.SubscriptionID != "" {
		state, err := s.provider.GetSubscription(ctx, event.SubscriptionID)
		if err != nil {
			s.logger.Warn("subscription fetch after checkout failed",
				"event_id", event.ID,
				"subscription_id", event.SubscriptionID,
				"error", err,
			)
		} else if state.CurrentPeriodEnd != nil {
			update.CurrentPeriodEnd = state.CurrentPeriodEnd
		}
	}

	if err := s.store.UpdateSubscription(ctx, orgID, update); err != nil {
		return fmt.Errorf("apply checkout_completed: %w", err)
	}

	s.afterBillingChange(ctx, orgID, event, "subscription_activated")
	return nil
}

func (s *Service) applySubscriptionUpdated(
	ctx context.Context,
	event *Event,
) error {
	organization, ok, err := s.resolveBySubscription(ctx, event)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	if event.Subscription == nil {
		s.logger.Warn("subscription event without state",
			"event_id", event.ID,
		)
		return nil
	}

	state := event.Subscription
	update := org.SubscriptionUpdate{
		Status:           &state.Status,
		CurrentPeriodEnd: state.CurrentPeriodEnd,
	}

	// A plan change through the portal shows up here as a new price.
	if plan, known := s.catalog.ByPriceID(state.PriceID); known {
		update.Tier = &plan.Tier
		update.MaxUsers = &plan.MaxUsers
	}

	if err := s.store.UpdateSubscription(ctx, organization.ID, update); err != nil {
		return fmt.Errorf("apply subscription_updated: %w", err)
	}

	s.afterBillingChange(ctx, organization.ID, event, "subscription_updated")
	return nil
}

func (s *Service) applySubscriptionDeleted(
	ctx context.Context,
	event *Event,
) error {
	organization, ok, err := s.resolveBySubscription(ctx, event)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	tier := org.TierTrial
	status := org.StatusCancelled
	maxUsers := org.TrialMaxUsers

	update := org.SubscriptionUpdate{
		Tier:              &tier,
		Status:            &status,
		MaxUsers:          &maxUsers,
		ClearSubscription: true,
	}

	if err := s.store.UpdateSubscription(ctx, organization.ID, update); err != nil {
		return fmt.Errorf("apply subscription_deleted: %w", err)
	}

	s.afterBillingChange(ctx, organization.ID, event, "subscription_cancelled")
	return nil
}

func (s *Service) applyPaymentFailed(ctx context.Context, event *Event) error {
	organization, ok, err := s.resolveBySubscription(ctx, event)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	status := org.StatusPastDue
	update := org.SubscriptionUpdate{Status: &status}

	if err := s.store.UpdateSubscription(ctx, organization.ID, update); err != nil {
		return fmt.Errorf("apply payment_failed: %w", err)
	}

	s.afterBillingChange(ctx, organization.ID, event, "payment_failed")
	return nil
}

func (s *Service) recordInvoicePaid(ctx context.Context, event *Event) {
	entry := audit.Entry{
		Action: "invoice_paid",
		Detail: map[string]any{"event_id": event.ID},
	}

	if organization, ok, err := s.resolveBySubscription(ctx, event); err == nil && ok {
		entry.OrgID = &organization.ID
	}

	s.auditor.Record(ctx, entry)
}

func (s *Service) resolveCheckoutOrg(
	ctx context.Context,
	event *Event,
) (uuid.UUID, bool) {
	if event.CheckoutOrgID != nil {
		return *event.CheckoutOrgID, true
	}

	if event.CustomerID != "" {
		organization, err := s.store.GetByCustomerID(ctx, event.CustomerID)
		if err == nil {
			return organization.ID, true
		}
	}

	return uuid.Nil, false
}

// resolveBySubscription matches an event to an organization through the
// stored subscription reference. A missing match is skippable; a store
// failure is not and propagates so the provider retries.
func (s *Service) resolveBySubscription(
	ctx context.Context,
	event *Event,
) (*org.Organization, bool, error) {
	if event.SubscriptionID == "" {
		s.logger.Warn("billing event without subscription reference",
			"event_id", event.ID,
			"type", event.Type,
		)
		return nil, false, nil
	}

	organization, err := s.store.GetBySubscriptionID(ctx, event.SubscriptionID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			s.logger.Warn("billing event references unknown subscription",
				"event_id", event.ID,
				"type", event.Type,
				"subscription_id", event.SubscriptionID,
			)
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("resolve subscription: %w", err)
	}

	return organization, true, nil
}

func (s *Service) afterBillingChange(
	ctx context.Context,
	orgID uuid.UUID,
	event *Event,
	action string,
) {
	if s.tiers != nil {
		s.tiers.InvalidateTier(orgID)
	}

	s.auditor.Record(ctx, audit.Entry{
		OrgID:  &orgID,
		Action: action,
		Detail: map[string]any{"event_id": event.ID},
	})
}
