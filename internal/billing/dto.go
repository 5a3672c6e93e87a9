// ClarusRCM | 2026
// dto.go

package billing

import (
	"time"

	"github.com/clarusrcm/platform-api/internal/org"
)

type CheckoutRequest struct {
	PlanType string `json:"plan_type" validate:"required,oneof=starter professional enterprise"`
}

type CheckoutResponse struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

type PortalResponse struct {
	URL string `json:"url"`
}

type SubscriptionResponse struct {
	Tier             org.Tier   `json:"tier"`
	Status           org.Status `json:"status"`
	PlanName         string     `json:"plan_name,omitempty"`
	Features         []string   `json:"features,omitempty"`
	MaxUsers         int        `json:"max_users"`
	CurrentPeriodEnd *time.Time `json:"current_period_end,omitempty"`
	HasSubscription  bool       `json:"has_subscription"`
}
