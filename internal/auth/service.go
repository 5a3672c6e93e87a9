// ClarusRCM | 2026
// service.go

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/clarusrcm/platform-api/internal/audit"
	"github.com/clarusrcm/platform-api/internal/core"
	"github.com/clarusrcm/platform-api/internal/middleware"
	"github.com/clarusrcm/platform-api/internal/org"
	"github.com/clarusrcm/platform-api/internal/user"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDisabled    = errors.New("account disabled")
	ErrEmailExists        = errors.New("email already exists")
)

type UserProvider interface {
	GetByEmail(ctx context.Context, email string) (*user.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*user.User, error)
	Create(ctx context.Context, params user.CreateParams) (*user.User, error)
	RecordLogin(ctx context.Context, id uuid.UUID) error
	RotatePasswordHash(
		ctx context.Context,
		id uuid.UUID,
		hash string,
	) error
}

type OrgProvider interface {
	Create(ctx context.Context, name string) (*org.Organization, error)
}

type Service struct {
	users    UserProvider
	orgs     OrgProvider
	sessions *SessionIssuer
	auditor  audit.Recorder
	logger   *slog.Logger
}

func NewService(
	users UserProvider,
	orgs OrgProvider,
	sessions *SessionIssuer,
	auditor audit.Recorder,
	logger *slog.Logger,
) *Service {
	return &Service{
		users:    users,
		orgs:     orgs,
		sessions: sessions,
		auditor:  auditor,
		logger:   logger,
	}
}

// Login verifies credentials and issues a session. All failure modes
// return ErrInvalidCredentials or ErrAccountDisabled; callers present
// both identically so the response never reveals whether the email is
// registered, the password wrong, or the account disabled.
func (s *Service) Login(
	ctx context.Context,
	req LoginRequest,
	ipAddress string,
) (*AuthResponse, error) {
	u, err := s.users.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			//nolint:errcheck // timing attack prevention - always verify to prevent enumeration
			_, _, _ = core.VerifyPasswordTimingSafe(req.Password, nil)
			s.recordAuthEvent(ctx, nil, "login_failed", ipAddress)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	valid, newHash, err := core.VerifyPasswordTimingSafe(
		req.Password,
		u.PasswordHash,
	)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}

	if !valid {
		s.recordAuthEvent(ctx, u, "login_failed", ipAddress)
		return nil, ErrInvalidCredentials
	}

	if !u.IsActive {
		s.recordAuthEvent(ctx, u, "login_denied_disabled", ipAddress)
		return nil, ErrAccountDisabled
	}

	if newHash != "" {
		//nolint:errcheck // best-effort rehash upgrade
		_ = s.users.RotatePasswordHash(ctx, u.ID, newHash)
	}

	if err := s.users.RecordLogin(ctx, u.ID); err != nil {
		s.logger.Warn("record login timestamp failed",
			"user_id", u.ID,
			"error", err,
		)
	}

	s.recordAuthEvent(ctx, u, "login_succeeded", ipAddress)

	return s.createAuthResponse(u)
}

func (s *Service) Register(
	ctx context.Context,
	req RegisterRequest,
	ipAddress string,
) (*AuthResponse, error) {
	passwordHash, err := core.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	params := user.CreateParams{
		Email:        req.Email,
		PasswordHash: &passwordHash,
		Name:         req.Name,
		Role:         user.RoleUser,
	}

	if req.OrganizationName != "" {
		organization, orgErr := s.orgs.Create(ctx, req.OrganizationName)
		if orgErr != nil {
			return nil, fmt.Errorf("create organization: %w", orgErr)
		}
		params.OrgID = &organization.ID
		params.Role = user.RoleAdmin
	}

	u, err := s.users.Create(ctx, params)
	if err != nil {
		if errors.Is(err, core.ErrDuplicateKey) {
			return nil, ErrEmailExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.recordAuthEvent(ctx, u, "account_registered", ipAddress)

	return s.createAuthResponse(u)
}

func (s *Service) ChangePassword(
	ctx context.Context,
	userID uuid.UUID,
	currentPassword, newPassword string,
) error {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}

	valid, _, err := core.VerifyPasswordTimingSafe(
		currentPassword,
		u.PasswordHash,
	)
	if err != nil {
		return fmt.Errorf("verify password: %w", err)
	}

	if !valid {
		return ErrInvalidCredentials
	}

	newHash, err := core.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if err := s.users.RotatePasswordHash(ctx, userID, newHash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	s.recordAuthEvent(ctx, u, "password_changed", "")

	return nil
}

func (s *Service) GetCurrentUser(
	ctx context.Context,
	userID uuid.UUID,
) (*user.Response, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	resp := user.ToResponse(u)
	return &resp, nil
}

func (s *Service) createAuthResponse(u *user.User) (*AuthResponse, error) {
	token, err := s.sessions.Issue(&middleware.Principal{
		UserID: u.ID,
		Email:  u.Email,
		Role:   u.Role,
		OrgID:  u.OrgID,
	})
	if err != nil {
		return nil, fmt.Errorf("issue session: %w", err)
	}

	ttl := s.sessions.TTL()

	return &AuthResponse{
		User:      user.ToResponse(u),
		Token:     token,
		TokenType: "Bearer",
		ExpiresIn: int(ttl / time.Second),
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}

// recordAuthEvent never blocks or fails the request path.
func (s *Service) recordAuthEvent(
	ctx context.Context,
	u *user.User,
	action, ipAddress string,
) {
	entry := audit.Entry{
		Action:    action,
		IPAddress: ipAddress,
	}
	if u != nil {
		entry.ActorID = &u.ID
		entry.OrgID = u.OrgID
	}

	s.auditor.Record(ctx, entry)
}
