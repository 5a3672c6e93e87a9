// ClarusRCM | 2026
// handler_test.go

package billing

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clarusrcm/platform-api/internal/audit"
	"github.com/clarusrcm/platform-api/internal/middleware"
)

func newWebhookHandler(store *fakeStore) *Handler {
	provider := newTestProvider()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc := NewService(
		store,
		provider,
		NewCatalog(testBillingConfig()),
		audit.NopRecorder{},
		nil,
		testBillingConfig(),
		logger,
	)

	return NewHandler(svc, provider, logger)
}

func postWebhook(
	h *Handler,
	payload []byte,
	sigHeader string,
) *httptest.ResponseRecorder {
	req := httptest.NewRequest(
		http.MethodPost,
		"/webhooks/stripe",
		bytes.NewReader(payload),
	)
	if sigHeader != "" {
		req.Header.Set("Stripe-Signature", sigHeader)
	}

	rec := httptest.NewRecorder()
	h.Webhook(rec, req)
	return rec
}

func TestWebhookRejectsBadSignatureBeforeStoreAccess(t *testing.T) {
	store := newFakeStore(newTrialOrg())
	h := newWebhookHandler(store)

	original := []byte(`{"id":"evt_1","type":"customer.subscription.deleted","data":{"object":{"id":"sub_1"}}}`)
	header := signPayload(original, time.Now())
	tampered := []byte(`{"id":"evt_1","type":"customer.subscription.deleted","data":{"object":{"id":"sub_X"}}}`)

	rec := postWebhook(h, tampered, header)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, store.getCalls.Load(),
		"no organization lookup may happen before the signature check")
	assert.Zero(t, store.updateCalls.Load())
}

func TestCheckoutNormalizesPlanTypeCase(t *testing.T) {
	organization := newTrialOrg()
	store := newFakeStore(organization)
	provider := &fakeProvider{}
	h := NewHandler(
		newTestService(store, provider),
		provider,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)

	req := httptest.NewRequest(
		http.MethodPost,
		"/billing/checkout",
		strings.NewReader(`{"plan_type":"PROFESSIONAL"}`),
	)
	ctx := middleware.WithPrincipal(req.Context(), &middleware.Principal{
		UserID: uuid.New(),
		Role:   "admin",
		OrgID:  &organization.ID,
	})

	rec := httptest.NewRecorder()
	h.Checkout(rec, req.WithContext(ctx))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 1, provider.checkoutCalls.Load())
}

func TestWebhookAcknowledgesUnknownEventType(t *testing.T) {
	store := newFakeStore(newTrialOrg())
	h := newWebhookHandler(store)

	payload := []byte(`{"id":"evt_1","type":"charge.refunded","data":{"object":{"id":"ch_1"}}}`)

	rec := postWebhook(h, payload, signPayload(payload, time.Now()))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, store.updateCalls.Load())
}

func TestWebhookAcknowledgesUnresolvableEvent(t *testing.T) {
	store := newFakeStore(newTrialOrg())
	h := newWebhookHandler(store)

	payload := []byte(`{
		"id": "evt_1",
		"type": "customer.subscription.updated",
		"data": {"object": {
			"id": "sub_ghost",
			"customer": "cus_ghost",
			"status": "active",
			"items": {"data": [{"price": {"id": "price_starter_m"}}]}
		}}
	}`)

	rec := postWebhook(h, payload, signPayload(payload, time.Now()))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, store.updateCalls.Load())
}

func TestWebhookAcknowledgesUndecodablePayload(t *testing.T) {
	store := newFakeStore(newTrialOrg())
	h := newWebhookHandler(store)

	payload := []byte(`{
		"id": "evt_1",
		"type": "checkout.session.completed",
		"data": {"object": {"id": "cs_1", "metadata": "not-an-object"}}
	}`)

	rec := postWebhook(h, payload, signPayload(payload, time.Now()))

	assert.Equal(t, http.StatusOK, rec.Code,
		"a payload that can never decode must not be redelivered")
	assert.Zero(t, store.updateCalls.Load())
}

func TestWebhookReturnsServerErrorOnStoreFailure(t *testing.T) {
	organization := newTrialOrg()
	subID := "sub_1"
	organization.StripeSubscriptionID = &subID

	store := newFakeStore(organization)
	store.updateErr = errors.New("connection reset")
	h := newWebhookHandler(store)

	payload := []byte(`{
		"id": "evt_1",
		"type": "invoice.payment_failed",
		"data": {"object": {"id": "in_1", "subscription": "sub_1"}}
	}`)

	rec := postWebhook(h, payload, signPayload(payload, time.Now()))

	require.Equal(t, http.StatusInternalServerError, rec.Code,
		"store failures must trigger a provider retry")
}

func TestWebhookAppliesVerifiedEvent(t *testing.T) {
	organization := newTrialOrg()
	subID := "sub_1"
	organization.StripeSubscriptionID = &subID

	store := newFakeStore(organization)
	h := newWebhookHandler(store)

	payload := []byte(`{
		"id": "evt_1",
		"type": "invoice.payment_failed",
		"data": {"object": {"id": "in_1", "subscription": "sub_1"}}
	}`)

	rec := postWebhook(h, payload, signPayload(payload, time.Now()))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(
		t,
		"past_due",
		string(store.snapshot(organization.ID).SubscriptionStatus),
	)
}
