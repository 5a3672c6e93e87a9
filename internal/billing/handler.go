// ClarusRCM | 2026
// handler.go

package billing

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/clarusrcm/platform-api/internal/core"
	"github.com/clarusrcm/platform-api/internal/middleware"
	"github.com/clarusrcm/platform-api/internal/org"
)

// Webhook payloads above this size are rejected before signature
// verification.
const maxWebhookBody = 1 << 20

type Handler struct {
	service   *Service
	provider  Provider
	validator *validator.Validate
	logger    *slog.Logger
}

func NewHandler(
	service *Service,
	provider Provider,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		service:   service,
		provider:  provider,
		validator: validator.New(validator.WithRequiredStructEnabled()),
		logger:    logger,
	}
}

func (h *Handler) RegisterRoutes(
	r chi.Router,
	authenticator func(http.Handler) http.Handler,
) {
	r.Route("/billing", func(r chi.Router) {
		r.Get("/plans", h.ListPlans)

		r.Group(func(r chi.Router) {
			r.Use(authenticator)
			r.Post("/checkout", h.Checkout)
			r.Post("/portal", h.Portal)
			r.Get("/subscription", h.Subscription)
		})
	})
}

// RegisterWebhookRoutes mounts the provider callback outside the
// authenticated API tree; the signature is the only authentication.
func (h *Handler) RegisterWebhookRoutes(r chi.Router) {
	r.Post("/webhooks/stripe", h.Webhook)
}

func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	core.OK(w, h.service.Plans())
}

func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	orgID, ok := middleware.GetOrgID(r.Context())
	if !ok {
		core.BadRequest(w, "no organization on session")
		return
	}

	var req CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.BadRequest(w, "invalid request body")
		return
	}

	// Plan keys are matched case-insensitively.
	req.PlanType = strings.ToLower(strings.TrimSpace(req.PlanType))

	if err := h.validator.Struct(req); err != nil {
		core.BadRequest(w, core.FormatValidationError(err))
		return
	}

	resp, err := h.service.InitiateCheckout(
		r.Context(),
		orgID,
		org.Tier(req.PlanType),
	)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownPlan):
			core.BadRequest(w, "unknown plan")
		case errors.Is(err, core.ErrNotFound):
			core.NotFound(w, "organization")
		default:
			core.InternalServerError(w, err)
		}
		return
	}

	core.OK(w, resp)
}

func (h *Handler) Portal(w http.ResponseWriter, r *http.Request) {
	orgID, ok := middleware.GetOrgID(r.Context())
	if !ok {
		core.BadRequest(w, "no organization on session")
		return
	}

	resp, err := h.service.OpenBillingPortal(r.Context(), orgID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNoSubscription):
			core.JSONError(w, core.NewAppError(
				ErrNoSubscription,
				"organization has no billing account",
				http.StatusNotFound,
				"NO_SUBSCRIPTION",
			))
		case errors.Is(err, core.ErrNotFound):
			core.NotFound(w, "organization")
		default:
			core.InternalServerError(w, err)
		}
		return
	}

	core.OK(w, resp)
}

func (h *Handler) Subscription(w http.ResponseWriter, r *http.Request) {
	orgID, ok := middleware.GetOrgID(r.Context())
	if !ok {
		core.BadRequest(w, "no organization on session")
		return
	}

	resp, err := h.service.GetSubscription(r.Context(), orgID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			core.NotFound(w, "organization")
			return
		}
		core.InternalServerError(w, err)
		return
	}

	core.OK(w, resp)
}

// Webhook receives provider events. The body must be read raw and
// unmodified; signature verification runs over the exact bytes Stripe
// sent. 200 acknowledges handled and intentionally skipped events, 400
// covers signature failures, and 500 asks the provider to retry after a
// store failure.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(
		http.MaxBytesReader(w, r.Body, maxWebhookBody),
	)
	if err != nil {
		h.logger.Warn("webhook body read failed", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	event, err := h.provider.ParseEvent(
		payload,
		r.Header.Get("Stripe-Signature"),
	)
	if err != nil {
		if errors.Is(err, ErrInvalidSignature) {
			h.logger.Warn("webhook signature rejected")
		} else {
			h.logger.Warn("webhook event rejected", "error", err)
		}
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := h.service.HandleEvent(r.Context(), event); err != nil {
		h.logger.Error("webhook application failed",
			"event_id", event.ID,
			"type", event.Type,
			"error", err,
		)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}
