// ClarusRCM | 2026
// plan.go

package billing

import (
	"github.com/clarusrcm/platform-api/internal/config"
	"github.com/clarusrcm/platform-api/internal/org"
)

// Plan describes a purchasable tier. The trial tier is not a plan: it
// is the state an organization starts in and has nothing to buy.
type Plan struct {
	Tier     org.Tier `json:"tier"`
	Name     string   `json:"name"`
	PriceID  string   `json:"-"`
	MaxUsers int      `json:"max_users"`
	Features []string `json:"features"`
}

type Catalog struct {
	plans   map[org.Tier]Plan
	byPrice map[string]Plan
}

func NewCatalog(cfg config.BillingConfig) *Catalog {
	plans := []Plan{
		{
			Tier:     org.TierStarter,
			Name:     "Starter",
			PriceID:  cfg.PriceStarter,
			MaxUsers: 10,
			Features: []string{
				"claim_submission",
				"eligibility_checks",
				"denial_tracking",
			},
		},
		{
			Tier:     org.TierProfessional,
			Name:     "Professional",
			PriceID:  cfg.PriceProfessional,
			MaxUsers: 50,
			Features: []string{
				"claim_submission",
				"eligibility_checks",
				"denial_tracking",
				"era_autoposting",
				"analytics_dashboard",
			},
		},
		{
			Tier:     org.TierEnterprise,
			Name:     "Enterprise",
			PriceID:  cfg.PriceEnterprise,
			MaxUsers: 500,
			Features: []string{
				"claim_submission",
				"eligibility_checks",
				"denial_tracking",
				"era_autoposting",
				"analytics_dashboard",
				"custom_integrations",
				"dedicated_support",
			},
		},
	}

	c := &Catalog{
		plans:   make(map[org.Tier]Plan, len(plans)),
		byPrice: make(map[string]Plan, len(plans)),
	}

	for _, p := range plans {
		c.plans[p.Tier] = p
		if p.PriceID != "" {
			c.byPrice[p.PriceID] = p
		}
	}

	return c
}

// ByTier returns the plan for a paid tier. Unknown tiers and tiers with
// no configured price resolve to ErrUnknownPlan.
func (c *Catalog) ByTier(tier org.Tier) (Plan, error) {
	p, ok := c.plans[tier]
	if !ok || p.PriceID == "" {
		return Plan{}, ErrUnknownPlan
	}
	return p, nil
}

func (c *Catalog) ByPriceID(priceID string) (Plan, bool) {
	p, ok := c.byPrice[priceID]
	return p, ok
}

func (c *Catalog) List() []Plan {
	out := make([]Plan, 0, len(c.plans))
	for _, tier := range []org.Tier{
		org.TierStarter,
		org.TierProfessional,
		org.TierEnterprise,
	} {
		if p, ok := c.plans[tier]; ok {
			out = append(out, p)
		}
	}
	return out
}
