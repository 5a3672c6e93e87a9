// ClarusRCM | 2026
// service.go

package user

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clarusrcm/platform-api/internal/core"
)

type Service struct {
	repo   *Repository
	logger *slog.Logger
}

func NewService(repo *Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

type CreateParams struct {
	Email        string
	PasswordHash *string
	Name         string
	Role         string
	OrgID        *uuid.UUID
}

func (s *Service) Create(
	ctx context.Context,
	params CreateParams,
) (*User, error) {
	role := params.Role
	if role == "" {
		role = RoleUser
	}

	u := &User{
		ID:           uuid.New(),
		Email:        strings.ToLower(strings.TrimSpace(params.Email)),
		PasswordHash: params.PasswordHash,
		Name:         params.Name,
		Role:         role,
		OrgID:        params.OrgID,
	}

	if err := s.repo.Create(ctx, u); err != nil {
		return nil, err
	}

	return u, nil
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetByEmail(
	ctx context.Context,
	email string,
) (*User, error) {
	return s.repo.GetByEmail(ctx, strings.TrimSpace(email))
}

func (s *Service) ListByOrg(
	ctx context.Context,
	orgID uuid.UUID,
) ([]User, error) {
	return s.repo.ListByOrg(ctx, orgID)
}

func (s *Service) RecordLogin(ctx context.Context, id uuid.UUID) error {
	return s.repo.UpdateLastLogin(ctx, id, time.Now().UTC())
}

func (s *Service) RotatePasswordHash(
	ctx context.Context,
	id uuid.UUID,
	hash string,
) error {
	return s.repo.UpdatePasswordHash(ctx, id, hash)
}

func (s *Service) SetRole(
	ctx context.Context,
	id uuid.UUID,
	role string,
) error {
	if role != RoleAdmin && role != RoleUser {
		return core.NewAppError(
			core.ErrInvalidInput,
			"role must be admin or member",
			http.StatusBadRequest,
			"INVALID_ROLE",
		)
	}

	return s.repo.UpdateRole(ctx, id, role)
}

func (s *Service) SetActive(
	ctx context.Context,
	id uuid.UUID,
	active bool,
) error {
	if err := s.repo.SetActive(ctx, id, active); err != nil {
		return fmt.Errorf("set active for %s: %w", id, err)
	}

	s.logger.Info("user active flag changed",
		"user_id", id,
		"active", active,
	)

	return nil
}

// EnsureSameOrg guards member-management endpoints: the target user must
// belong to the caller's organization.
func (s *Service) EnsureSameOrg(
	ctx context.Context,
	targetID, orgID uuid.UUID,
) (*User, error) {
	target, err := s.repo.GetByID(ctx, targetID)
	if err != nil {
		return nil, err
	}

	if target.OrgID == nil || *target.OrgID != orgID {
		return nil, core.ForbiddenError("user belongs to another organization")
	}

	return target, nil
}
