// ClarusRCM | 2026
// service_test.go

package billing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clarusrcm/platform-api/internal/audit"
	"github.com/clarusrcm/platform-api/internal/config"
	"github.com/clarusrcm/platform-api/internal/core"
	"github.com/clarusrcm/platform-api/internal/org"
)

type fakeStore struct {
	mu        sync.Mutex
	orgs      map[uuid.UUID]*org.Organization
	updateErr error

	getCalls    atomic.Int64
	updateCalls atomic.Int64
}

func newFakeStore(orgs ...*org.Organization) *fakeStore {
	s := &fakeStore{orgs: make(map[uuid.UUID]*org.Organization)}
	for _, o := range orgs {
		s.orgs[o.ID] = o
	}
	return s
}

func (s *fakeStore) GetByID(
	_ context.Context,
	id uuid.UUID,
) (*org.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls.Add(1)

	o, ok := s.orgs[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	copied := *o
	return &copied, nil
}

func (s *fakeStore) GetBySubscriptionID(
	_ context.Context,
	subscriptionID string,
) (*org.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls.Add(1)

	for _, o := range s.orgs {
		if o.StripeSubscriptionID != nil &&
			*o.StripeSubscriptionID == subscriptionID {
			copied := *o
			return &copied, nil
		}
	}
	return nil, core.ErrNotFound
}

func (s *fakeStore) GetByCustomerID(
	_ context.Context,
	customerID string,
) (*org.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls.Add(1)

	for _, o := range s.orgs {
		if o.StripeCustomerID != nil && *o.StripeCustomerID == customerID {
			copied := *o
			return &copied, nil
		}
	}
	return nil, core.ErrNotFound
}

// EnsureCustomerRef mirrors the row-lock semantics of the postgres
// repository with a mutex held across the check and the create.
func (s *fakeStore) EnsureCustomerRef(
	ctx context.Context,
	orgID uuid.UUID,
	create func(
		ctx context.Context,
		organization *org.Organization,
	) (string, error),
) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orgs[orgID]
	if !ok {
		return "", core.ErrNotFound
	}

	if o.StripeCustomerID != nil && *o.StripeCustomerID != "" {
		return *o.StripeCustomerID, nil
	}

	created, err := create(ctx, o)
	if err != nil {
		return "", err
	}

	o.StripeCustomerID = &created
	return created, nil
}

func (s *fakeStore) UpdateSubscription(
	_ context.Context,
	orgID uuid.UUID,
	update org.SubscriptionUpdate,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateCalls.Add(1)

	if s.updateErr != nil {
		return s.updateErr
	}

	o, ok := s.orgs[orgID]
	if !ok {
		return core.ErrNotFound
	}

	if update.Tier != nil {
		o.SubscriptionTier = *update.Tier
	}
	if update.Status != nil {
		o.SubscriptionStatus = *update.Status
	}
	if update.CustomerID != nil {
		o.StripeCustomerID = update.CustomerID
	}
	if update.SubscriptionID != nil {
		o.StripeSubscriptionID = update.SubscriptionID
	}
	if update.CurrentPeriodEnd != nil {
		o.CurrentPeriodEnd = update.CurrentPeriodEnd
	}
	if update.MaxUsers != nil {
		o.MaxUsers = *update.MaxUsers
	}
	if update.ClearSubscription {
		o.StripeSubscriptionID = nil
		o.CurrentPeriodEnd = nil
	}

	return nil
}

func (s *fakeStore) snapshot(id uuid.UUID) org.Organization {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.orgs[id]
}

type fakeProvider struct {
	createCustomerCalls atomic.Int64
	checkoutCalls       atomic.Int64

	subscription    *SubscriptionState
	subscriptionErr error
}

func (p *fakeProvider) CreateCustomer(
	_ context.Context,
	_ *org.Organization,
) (string, error) {
	n := p.createCustomerCalls.Add(1)
	return fmt.Sprintf("cus_%d", n), nil
}

func (p *fakeProvider) CreateCheckoutSession(
	_ context.Context,
	_ CheckoutParams,
) (*CheckoutSession, error) {
	p.checkoutCalls.Add(1)
	return &CheckoutSession{
		ID:  "cs_test_1",
		URL: "https://checkout.example.com/cs_test_1",
	}, nil
}

func (p *fakeProvider) CreatePortalSession(
	_ context.Context,
	_, _ string,
) (string, error) {
	return "https://portal.example.com/ps_1", nil
}

func (p *fakeProvider) GetSubscription(
	_ context.Context,
	_ string,
) (*SubscriptionState, error) {
	if p.subscriptionErr != nil {
		return nil, p.subscriptionErr
	}
	if p.subscription != nil {
		return p.subscription, nil
	}
	return &SubscriptionState{}, nil
}

func (p *fakeProvider) ParseEvent(
	_ []byte,
	_ string,
) (*Event, error) {
	return nil, errors.New("not implemented")
}

func testBillingConfig() config.BillingConfig {
	return config.BillingConfig{
		CheckoutSuccessURL: "https://app.example.com/billing/success",
		CheckoutCancelURL:  "https://app.example.com/billing/cancelled",
		PortalReturnURL:    "https://app.example.com/settings/billing",
		PriceStarter:       "price_starter_m",
		PriceProfessional:  "price_professional_m",
		PriceEnterprise:    "price_enterprise_m",
	}
}

func newTestService(
	store *fakeStore,
	provider *fakeProvider,
) *Service {
	cfg := testBillingConfig()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return NewService(
		store,
		provider,
		NewCatalog(cfg),
		audit.NopRecorder{},
		nil,
		cfg,
		logger,
	)
}

func newTrialOrg() *org.Organization {
	return &org.Organization{
		ID:                 uuid.New(),
		Name:               "Riverside Medical Group",
		SubscriptionTier:   org.TierTrial,
		SubscriptionStatus: org.StatusActive,
		MaxUsers:           org.TrialMaxUsers,
	}
}

func TestInitiateCheckoutUnknownPlan(t *testing.T) {
	organization := newTrialOrg()
	store := newFakeStore(organization)
	provider := &fakeProvider{}
	svc := newTestService(store, provider)

	_, err := svc.InitiateCheckout(
		context.Background(),
		organization.ID,
		org.Tier("gold"),
	)

	require.ErrorIs(t, err, ErrUnknownPlan)
	assert.Zero(t, provider.createCustomerCalls.Load(),
		"no customer may be created for an unknown plan")
	assert.Zero(t, store.updateCalls.Load(),
		"no store write may happen for an unknown plan")
	assert.Nil(t, store.snapshot(organization.ID).StripeCustomerID)
}

func TestInitiateCheckoutDoesNotTouchTier(t *testing.T) {
	organization := newTrialOrg()
	store := newFakeStore(organization)
	provider := &fakeProvider{}
	svc := newTestService(store, provider)

	resp, err := svc.InitiateCheckout(
		context.Background(),
		organization.ID,
		org.TierProfessional,
	)

	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", resp.SessionID)
	assert.NotEmpty(t, resp.URL)

	after := store.snapshot(organization.ID)
	assert.Equal(t, org.TierTrial, after.SubscriptionTier)
	assert.Equal(t, org.StatusActive, after.SubscriptionStatus)
	require.NotNil(t, after.StripeCustomerID)
	assert.Equal(t, "cus_1", *after.StripeCustomerID)
}

func TestConcurrentCheckoutCreatesOneCustomer(t *testing.T) {
	organization := newTrialOrg()
	store := newFakeStore(organization)
	provider := &fakeProvider{}
	svc := newTestService(store, provider)

	const workers = 16

	var wg sync.WaitGroup
	errs := make([]error, workers)

	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.InitiateCheckout(
				context.Background(),
				organization.ID,
				org.TierStarter,
			)
		}()
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "checkout %d", i)
	}

	assert.Equal(t, int64(1), provider.createCustomerCalls.Load(),
		"exactly one provider customer must be created")
	assert.Equal(t, int64(workers), provider.checkoutCalls.Load())

	after := store.snapshot(organization.ID)
	require.NotNil(t, after.StripeCustomerID)
	assert.Equal(t, "cus_1", *after.StripeCustomerID)
}

func TestOpenBillingPortalWithoutCustomer(t *testing.T) {
	organization := newTrialOrg()
	store := newFakeStore(organization)
	svc := newTestService(store, &fakeProvider{})

	_, err := svc.OpenBillingPortal(context.Background(), organization.ID)

	require.ErrorIs(t, err, ErrNoSubscription)
}

func TestSubscriptionLifecycle(t *testing.T) {
	organization := newTrialOrg()
	store := newFakeStore(organization)

	periodEnd := time.Now().Add(30 * 24 * time.Hour).UTC().Truncate(time.Second)
	provider := &fakeProvider{
		subscription: &SubscriptionState{
			SubscriptionID:   "sub_42",
			Status:           org.StatusActive,
			PriceID:          "price_professional_m",
			CurrentPeriodEnd: &periodEnd,
		},
	}
	svc := newTestService(store, provider)
	ctx := context.Background()

	// Checkout initiation creates the customer but changes nothing else.
	_, err := svc.InitiateCheckout(ctx, organization.ID, org.TierProfessional)
	require.NoError(t, err)

	after := store.snapshot(organization.ID)
	require.NotNil(t, after.StripeCustomerID)
	assert.Equal(t, org.TierTrial, after.SubscriptionTier)

	// Completed checkout activates the purchased plan.
	err = svc.HandleEvent(ctx, &Event{
		ID:             "evt_1",
		Type:           EventCheckoutCompleted,
		CheckoutOrgID:  &organization.ID,
		CheckoutTier:   org.TierProfessional,
		CustomerID:     *after.StripeCustomerID,
		SubscriptionID: "sub_42",
	})
	require.NoError(t, err)

	after = store.snapshot(organization.ID)
	assert.Equal(t, org.TierProfessional, after.SubscriptionTier)
	assert.Equal(t, org.StatusActive, after.SubscriptionStatus)
	require.NotNil(t, after.StripeSubscriptionID)
	assert.Equal(t, "sub_42", *after.StripeSubscriptionID)
	assert.Equal(t, 50, after.MaxUsers)
	require.NotNil(t, after.CurrentPeriodEnd)
	assert.Equal(t, periodEnd, *after.CurrentPeriodEnd)

	// A failed invoice marks the organization past due.
	err = svc.HandleEvent(ctx, &Event{
		ID:             "evt_2",
		Type:           EventPaymentFailed,
		SubscriptionID: "sub_42",
	})
	require.NoError(t, err)

	after = store.snapshot(organization.ID)
	assert.Equal(t, org.StatusPastDue, after.SubscriptionStatus)
	assert.Equal(t, org.TierProfessional, after.SubscriptionTier)

	// Deletion drops the organization back to trial.
	err = svc.HandleEvent(ctx, &Event{
		ID:             "evt_3",
		Type:           EventSubscriptionDeleted,
		SubscriptionID: "sub_42",
	})
	require.NoError(t, err)

	after = store.snapshot(organization.ID)
	assert.Equal(t, org.TierTrial, after.SubscriptionTier)
	assert.Equal(t, org.StatusCancelled, after.SubscriptionStatus)
	assert.Equal(t, org.TrialMaxUsers, after.MaxUsers)
	assert.Nil(t, after.StripeSubscriptionID)
	assert.Nil(t, after.CurrentPeriodEnd)
}

func TestSubscriptionDeletedIsIdempotent(t *testing.T) {
	organization := newTrialOrg()
	organization.SubscriptionTier = org.TierStarter
	organization.SubscriptionStatus = org.StatusActive
	subID := "sub_77"
	organization.StripeSubscriptionID = &subID

	store := newFakeStore(organization)
	svc := newTestService(store, &fakeProvider{})
	ctx := context.Background()

	event := &Event{
		ID:             "evt_del",
		Type:           EventSubscriptionDeleted,
		SubscriptionID: subID,
	}

	require.NoError(t, svc.HandleEvent(ctx, event))
	first := store.snapshot(organization.ID)

	require.NoError(t, svc.HandleEvent(ctx, event))
	second := store.snapshot(organization.ID)

	assert.Equal(t, first, second,
		"redelivery must converge to the same state")
	assert.Equal(t, org.StatusCancelled, second.SubscriptionStatus)
	assert.Equal(t, org.TierTrial, second.SubscriptionTier)
}

func TestSubscriptionUpdatedRefreshesStateAndPlan(t *testing.T) {
	organization := newTrialOrg()
	organization.SubscriptionTier = org.TierStarter
	subID := "sub_9"
	organization.StripeSubscriptionID = &subID

	store := newFakeStore(organization)
	svc := newTestService(store, &fakeProvider{})

	periodEnd := time.Now().Add(14 * 24 * time.Hour).UTC()
	err := svc.HandleEvent(context.Background(), &Event{
		ID:             "evt_up",
		Type:           EventSubscriptionUpdated,
		SubscriptionID: subID,
		Subscription: &SubscriptionState{
			SubscriptionID:   subID,
			Status:           org.StatusActive,
			PriceID:          "price_enterprise_m",
			CurrentPeriodEnd: &periodEnd,
		},
	})
	require.NoError(t, err)

	after := store.snapshot(organization.ID)
	assert.Equal(t, org.TierEnterprise, after.SubscriptionTier)
	assert.Equal(t, 500, after.MaxUsers)
	require.NotNil(t, after.CurrentPeriodEnd)
	assert.Equal(t, periodEnd, *after.CurrentPeriodEnd)
}

func TestUnresolvableSubscriptionUpdateIsNonFatal(t *testing.T) {
	organization := newTrialOrg()
	store := newFakeStore(organization)
	svc := newTestService(store, &fakeProvider{})

	before := store.snapshot(organization.ID)

	err := svc.HandleEvent(context.Background(), &Event{
		ID:             "evt_ghost",
		Type:           EventSubscriptionUpdated,
		SubscriptionID: "sub_unknown",
		Subscription: &SubscriptionState{
			SubscriptionID: "sub_unknown",
			Status:         org.StatusActive,
		},
	})

	require.NoError(t, err,
		"an unmatchable event must be acknowledged, not retried")
	assert.Equal(t, before, store.snapshot(organization.ID))
	assert.Zero(t, store.updateCalls.Load())
}

func TestCheckoutCompletedSurvivesSubscriptionFetchFailure(t *testing.T) {
	organization := newTrialOrg()
	store := newFakeStore(organization)
	provider := &fakeProvider{
		subscriptionErr: ErrProviderFailure,
	}
	svc := newTestService(store, provider)

	err := svc.HandleEvent(context.Background(), &Event{
		ID:             "evt_co",
		Type:           EventCheckoutCompleted,
		CheckoutOrgID:  &organization.ID,
		CheckoutTier:   org.TierStarter,
		CustomerID:     "cus_5",
		SubscriptionID: "sub_5",
	})
	require.NoError(t, err)

	after := store.snapshot(organization.ID)
	assert.Equal(t, org.TierStarter, after.SubscriptionTier)
	assert.Equal(t, org.StatusActive, after.SubscriptionStatus)
	assert.Nil(t, after.CurrentPeriodEnd,
		"period end stays unset until the next subscription event")
}

func TestUnknownEventTypeIsAcknowledged(t *testing.T) {
	organization := newTrialOrg()
	store := newFakeStore(organization)
	svc := newTestService(store, &fakeProvider{})

	err := svc.HandleEvent(context.Background(), &Event{
		ID:   "evt_misc",
		Type: EventUnknown,
	})

	require.NoError(t, err)
	assert.Zero(t, store.updateCalls.Load())
}
