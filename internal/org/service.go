// ClarusRCM | 2026
// service.go

package org

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Service struct {
	repo   *Repository
	logger *slog.Logger

	// Tier lookups back the per-request rate limiter, so results are
	// cached briefly instead of hitting postgres on every call.
	mu        sync.RWMutex
	tierCache map[uuid.UUID]cachedTier
}

type cachedTier struct {
	tier      Tier
	expiresAt time.Time
}

const tierCacheTTL = 30 * time.Second

func NewService(repo *Repository, logger *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		logger:    logger,
		tierCache: make(map[uuid.UUID]cachedTier),
	}
}

// Create provisions a new organization on the trial tier. Nothing is sent
// to the payment provider until the organization starts a checkout.
func (s *Service) Create(
	ctx context.Context,
	name string,
) (*Organization, error) {
	organization := &Organization{
		ID:                 uuid.New(),
		Name:               name,
		SubscriptionTier:   TierTrial,
		SubscriptionStatus: StatusActive,
		MaxUsers:           TrialMaxUsers,
	}

	if err := s.repo.Create(ctx, organization); err != nil {
		return nil, fmt.Errorf("create organization %q: %w", name, err)
	}

	s.logger.Info("organization created",
		"org_id", organization.ID,
		"name", organization.Name,
	)

	return organization, nil
}

func (s *Service) Get(
	ctx context.Context,
	id uuid.UUID,
) (*Organization, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) MemberCount(
	ctx context.Context,
	orgID uuid.UUID,
) (int, error) {
	return s.repo.CountMembers(ctx, orgID)
}

// TierOf resolves the organization's tier for rate limiting. Failures
// fall back to trial so a database blip never loosens limits.
func (s *Service) TierOf(ctx context.Context, orgID uuid.UUID) string {
	s.mu.RLock()
	cached, ok := s.tierCache[orgID]
	s.mu.RUnlock()

	if ok && time.Now().Before(cached.expiresAt) {
		return string(cached.tier)
	}

	organization, err := s.repo.GetByID(ctx, orgID)
	if err != nil {
		s.logger.Warn("tier lookup failed",
			"org_id", orgID,
			"error", err,
		)
		return string(TierTrial)
	}

	s.mu.Lock()
	s.tierCache[orgID] = cachedTier{
		tier:      organization.SubscriptionTier,
		expiresAt: time.Now().Add(tierCacheTTL),
	}
	s.mu.Unlock()

	return string(organization.SubscriptionTier)
}

// InvalidateTier drops the cached tier after a billing-state change so
// the new limits apply promptly.
func (s *Service) InvalidateTier(orgID uuid.UUID) {
	s.mu.Lock()
	delete(s.tierCache, orgID)
	s.mu.Unlock()
}
