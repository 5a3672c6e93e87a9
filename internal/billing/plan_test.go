// ClarusRCM | 2026
// plan_test.go

package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clarusrcm/platform-api/internal/config"
	"github.com/clarusrcm/platform-api/internal/org"
)

func TestCatalogByTier(t *testing.T) {
	catalog := NewCatalog(testBillingConfig())

	plan, err := catalog.ByTier(org.TierProfessional)
	require.NoError(t, err)
	assert.Equal(t, "Professional", plan.Name)
	assert.Equal(t, "price_professional_m", plan.PriceID)
	assert.Equal(t, 50, plan.MaxUsers)

	_, err = catalog.ByTier(org.TierTrial)
	assert.ErrorIs(t, err, ErrUnknownPlan, "trial is not purchasable")

	_, err = catalog.ByTier(org.Tier("gold"))
	assert.ErrorIs(t, err, ErrUnknownPlan)
}

func TestCatalogUnconfiguredPriceIsNotPurchasable(t *testing.T) {
	cfg := config.BillingConfig{
		PriceStarter: "price_starter_m",
		// professional and enterprise prices intentionally unset
	}
	catalog := NewCatalog(cfg)

	_, err := catalog.ByTier(org.TierStarter)
	assert.NoError(t, err)

	_, err = catalog.ByTier(org.TierEnterprise)
	assert.ErrorIs(t, err, ErrUnknownPlan)
}

func TestCatalogByPriceID(t *testing.T) {
	catalog := NewCatalog(testBillingConfig())

	plan, ok := catalog.ByPriceID("price_enterprise_m")
	require.True(t, ok)
	assert.Equal(t, org.TierEnterprise, plan.Tier)

	_, ok = catalog.ByPriceID("price_retired")
	assert.False(t, ok)
}

func TestCatalogListOrder(t *testing.T) {
	catalog := NewCatalog(testBillingConfig())

	plans := catalog.List()
	require.Len(t, plans, 3)
	assert.Equal(t, org.TierStarter, plans[0].Tier)
	assert.Equal(t, org.TierProfessional, plans[1].Tier)
	assert.Equal(t, org.TierEnterprise, plans[2].Tier)
}
