// ClarusRCM | 2026
// stripe_test.go

package billing

import (
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/clarusrcm/platform-api/internal/config"
	"github.com/clarusrcm/platform-api/internal/org"
)

const testWebhookSecret = "whsec_test_secret"

func newTestProvider() *StripeProvider {
	return NewStripeProvider(
		config.BillingConfig{
			StripeSecretKey:     "sk_test_key",
			StripeWebhookSecret: testWebhookSecret,
		},
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
}

// signPayload produces a Stripe-Signature header valid for the given
// payload, the same scheme the provider uses on real deliveries.
func signPayload(payload []byte, at time.Time) string {
	sig := webhook.ComputeSignature(at, payload, testWebhookSecret)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(sig))
}

func TestParseEventRejectsTamperedPayload(t *testing.T) {
	provider := newTestProvider()

	original := []byte(`{"id":"evt_1","type":"customer.subscription.deleted","data":{"object":{"id":"sub_1"}}}`)
	header := signPayload(original, time.Now())

	tampered := []byte(`{"id":"evt_1","type":"customer.subscription.deleted","data":{"object":{"id":"sub_ATTACKER"}}}`)

	_, err := provider.ParseEvent(tampered, header)

	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestParseEventRejectsMissingSignature(t *testing.T) {
	provider := newTestProvider()

	payload := []byte(`{"id":"evt_1","type":"invoice.paid","data":{"object":{}}}`)

	_, err := provider.ParseEvent(payload, "")

	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestParseEventCheckoutCompleted(t *testing.T) {
	provider := newTestProvider()

	payload := []byte(`{
		"id": "evt_checkout",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_1",
			"client_reference_id": "7b6a3c52-74b2-4a4e-9f6f-2b2f9d3a1c00",
			"customer": "cus_1",
			"subscription": "sub_1",
			"metadata": {
				"org_id": "7b6a3c52-74b2-4a4e-9f6f-2b2f9d3a1c00",
				"plan_type": "professional"
			}
		}}
	}`)

	event, err := provider.ParseEvent(payload, signPayload(payload, time.Now()))

	require.NoError(t, err)
	assert.Equal(t, EventCheckoutCompleted, event.Type)
	assert.Equal(t, "evt_checkout", event.ID)
	assert.Equal(t, "cus_1", event.CustomerID)
	assert.Equal(t, "sub_1", event.SubscriptionID)
	assert.Equal(t, org.TierProfessional, event.CheckoutTier)
	require.NotNil(t, event.CheckoutOrgID)
	assert.Equal(
		t,
		"7b6a3c52-74b2-4a4e-9f6f-2b2f9d3a1c00",
		event.CheckoutOrgID.String(),
	)
}

func TestParseEventSubscriptionUpdated(t *testing.T) {
	provider := newTestProvider()

	payload := []byte(`{
		"id": "evt_sub",
		"type": "customer.subscription.updated",
		"data": {"object": {
			"id": "sub_1",
			"customer": "cus_1",
			"status": "past_due",
			"items": {"data": [{
				"current_period_end": 1767225600,
				"price": {"id": "price_professional_m"}
			}]}
		}}
	}`)

	event, err := provider.ParseEvent(payload, signPayload(payload, time.Now()))

	require.NoError(t, err)
	assert.Equal(t, EventSubscriptionUpdated, event.Type)
	require.NotNil(t, event.Subscription)
	assert.Equal(t, org.StatusPastDue, event.Subscription.Status)
	assert.Equal(t, "price_professional_m", event.Subscription.PriceID)
	require.NotNil(t, event.Subscription.CurrentPeriodEnd)
	assert.Equal(
		t,
		time.Unix(1767225600, 0).UTC(),
		*event.Subscription.CurrentPeriodEnd,
	)
}

func TestParseEventInvoiceFailedSubscriptionFallback(t *testing.T) {
	provider := newTestProvider()

	payload := []byte(`{
		"id": "evt_inv",
		"type": "invoice.payment_failed",
		"data": {"object": {
			"id": "in_1",
			"customer": "cus_1",
			"parent": {"subscription_details": {"subscription": "sub_1"}}
		}}
	}`)

	event, err := provider.ParseEvent(payload, signPayload(payload, time.Now()))

	require.NoError(t, err)
	assert.Equal(t, EventPaymentFailed, event.Type)
	assert.Equal(t, "sub_1", event.SubscriptionID)
}

func TestParseEventUndecodableShapeFailsClosed(t *testing.T) {
	provider := newTestProvider()

	payload := []byte(`{
		"id": "evt_bad_shape",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_1",
			"metadata": "not-an-object"
		}}
	}`)

	event, err := provider.ParseEvent(payload, signPayload(payload, time.Now()))

	require.NoError(t, err,
		"verified events with a bad object shape are ignorable, not errors")
	assert.Equal(t, EventUnknown, event.Type)
	assert.Equal(t, "evt_bad_shape", event.ID)
}

func TestParseEventUnknownTypeIsIgnorable(t *testing.T) {
	provider := newTestProvider()

	payload := []byte(`{
		"id": "evt_new",
		"type": "entitlements.active_entitlement_summary.updated",
		"data": {"object": {"id": "ent_1"}}
	}`)

	event, err := provider.ParseEvent(payload, signPayload(payload, time.Now()))

	require.NoError(t, err)
	assert.Equal(t, EventUnknown, event.Type)
}

func TestStatusMapping(t *testing.T) {
	provider := newTestProvider()

	cases := map[string]org.Status{
		"active":             org.StatusActive,
		"trialing":           org.StatusActive,
		"past_due":           org.StatusPastDue,
		"unpaid":             org.StatusPastDue,
		"canceled":           org.StatusCancelled,
		"incomplete":         org.StatusIncomplete,
		"incomplete_expired": org.StatusIncomplete,
		"something_new":      org.StatusIncomplete,
	}

	for input, want := range cases {
		assert.Equal(t, want, provider.mapStatus(input), "status %q", input)
	}
}
