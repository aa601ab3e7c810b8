package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voice4victims/medrecord-access/internal/core/domain"
	"github.com/voice4victims/medrecord-access/internal/core/port"
	"github.com/voice4victims/medrecord-access/internal/infra/security"
	"github.com/voice4victims/medrecord-access/internal/repository"
)

var (
	// ErrGrantMutationDenied indicates the authorization engine refused the
	// grant mutation.
	ErrGrantMutationDenied = errors.New("grant mutation denied")
	// ErrProviderConsentMissing indicates a provider grant was attempted while
	// provider_access consent is revoked.
	ErrProviderConsentMissing = errors.New("provider access consent missing")
	// ErrInvalidGrant indicates the grant request is structurally invalid.
	ErrInvalidGrant = errors.New("invalid grant")
)

// GrantInput carries the caller context and shape of a new grant.
type GrantInput struct {
	Principal       domain.Principal
	SessionID       string
	OriginAddress   string
	ClientSignature string

	GrantedTo   string
	Scope       string
	Role        string
	GrantOrigin domain.GrantOrigin
	Permissions []domain.Permission
	ExpiresAt   *time.Time
	MaxUses     *int
}

// RevokeGrantInput carries the caller context for a grant revocation.
type RevokeGrantInput struct {
	Principal       domain.Principal
	SessionID       string
	OriginAddress   string
	ClientSignature string
	GrantID         string
	Scope           string
}

// GrantManager creates and revokes permission grants. Every mutation runs
// through the engine with the manage_access action on the target scope, so
// only the record owner (or a grantee holding manage_access) can delegate.
type GrantManager struct {
	engine   Authorizer
	grants   port.GrantRepository
	consents port.ConsentRepository
	audit    *AuditService
	logger   *zap.Logger
	now      func() time.Time
}

// NewGrantManager constructs a GrantManager.
func NewGrantManager(engine Authorizer, grants port.GrantRepository, consents port.ConsentRepository, audit *AuditService, logger *zap.Logger) *GrantManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GrantManager{
		engine:   engine,
		grants:   grants,
		consents: consents,
		audit:    audit,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (m *GrantManager) WithClock(clock func() time.Time) *GrantManager {
	if clock != nil {
		m.now = clock
	}
	return m
}

// CreateGrant delegates a permission set to another principal.
func (m *GrantManager) CreateGrant(ctx context.Context, input GrantInput) (*domain.PermissionGrant, error) {
	if err := validateGrantInput(input); err != nil {
		return nil, err
	}

	decision := m.engine.Authorize(ctx, domain.AccessRequest{
		Principal:       input.Principal,
		SessionID:       input.SessionID,
		ResourceType:    domain.ResourceAccessGrant,
		ResourceID:      input.Scope,
		Action:          domain.ActionManageAccess,
		ScopeID:         input.Scope,
		OriginAddress:   input.OriginAddress,
		ClientSignature: input.ClientSignature,
	})
	if !decision.Granted {
		return nil, fmt.Errorf("%w: %s", ErrGrantMutationDenied, decision.Reason)
	}

	// Standing provider grants are gated on the provider_access consent of
	// the granting principal.
	if input.GrantOrigin == domain.GrantOriginProvider {
		consent, err := m.consents.GetConsent(ctx, input.Principal.ID, domain.ConsentProviderAccess)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("check provider consent: %w", err)
		}
		if consent == nil || !consent.Granted {
			return nil, ErrProviderConsentMissing
		}
	}

	grant := domain.PermissionGrant{
		ID:          uuid.NewString(),
		GrantedTo:   input.GrantedTo,
		Scope:       input.Scope,
		Role:        input.Role,
		Origin:      input.GrantOrigin,
		Permissions: input.Permissions,
		GrantedBy:   input.Principal.ID,
		GrantedAt:   m.now(),
		ExpiresAt:   input.ExpiresAt,
		MaxUses:     input.MaxUses,
		Active:      true,
		Version:     1,
	}

	if err := m.grants.Create(ctx, grant); err != nil {
		return nil, fmt.Errorf("create grant: %w", err)
	}

	if m.audit != nil {
		m.audit.Record(ctx, domain.AuditEntry{
			PrincipalID:  input.Principal.ID,
			Action:       "create_grant",
			ResourceType: string(domain.ResourceAccessGrant),
			ResourceID:   grant.ID,
			ScopeID:      grant.Scope,
			Result:       domain.AuditResultGranted,
			Detail:       fmt.Sprintf("granted to %s (%s)", grant.GrantedTo, grant.Origin),
			SessionID:    security.HashToken(input.SessionID),
			Origin:       input.OriginAddress,
		})
	}

	return &grant, nil
}

// RevokeGrant deactivates a grant. Idempotent: revoking an already inactive
// grant succeeds.
func (m *GrantManager) RevokeGrant(ctx context.Context, input RevokeGrantInput) error {
	if strings.TrimSpace(input.GrantID) == "" {
		return fmt.Errorf("%w: grant id is required", ErrInvalidGrant)
	}

	decision := m.engine.Authorize(ctx, domain.AccessRequest{
		Principal:       input.Principal,
		SessionID:       input.SessionID,
		ResourceType:    domain.ResourceAccessGrant,
		ResourceID:      input.Scope,
		Action:          domain.ActionManageAccess,
		ScopeID:         input.Scope,
		OriginAddress:   input.OriginAddress,
		ClientSignature: input.ClientSignature,
	})
	if !decision.Granted {
		return fmt.Errorf("%w: %s", ErrGrantMutationDenied, decision.Reason)
	}

	if err := m.grants.Deactivate(ctx, input.GrantID, "revoked"); err != nil {
		return fmt.Errorf("deactivate grant: %w", err)
	}

	if m.audit != nil {
		m.audit.Record(ctx, domain.AuditEntry{
			PrincipalID:  input.Principal.ID,
			Action:       "revoke_grant",
			ResourceType: string(domain.ResourceAccessGrant),
			ResourceID:   input.GrantID,
			ScopeID:      input.Scope,
			Result:       domain.AuditResultGranted,
			SessionID:    security.HashToken(input.SessionID),
			Origin:       input.OriginAddress,
		})
	}

	return nil
}

// ListGrants returns the active grants held by the principal.
func (m *GrantManager) ListGrants(ctx context.Context, principalID string) ([]domain.PermissionGrant, error) {
	if strings.TrimSpace(principalID) == "" {
		return nil, fmt.Errorf("%w: principal id is required", ErrInvalidGrant)
	}

	grants, err := m.grants.ListActiveForPrincipal(ctx, principalID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list grants: %w", err)
	}
	return grants, nil
}

func validateGrantInput(input GrantInput) error {
	if strings.TrimSpace(input.GrantedTo) == "" {
		return fmt.Errorf("%w: grantee is required", ErrInvalidGrant)
	}
	if input.GrantedTo == input.Principal.ID {
		return fmt.Errorf("%w: cannot grant to self", ErrInvalidGrant)
	}
	if strings.TrimSpace(input.Scope) == "" {
		return fmt.Errorf("%w: scope is required", ErrInvalidGrant)
	}
	if len(input.Permissions) == 0 {
		return fmt.Errorf("%w: permissions are required", ErrInvalidGrant)
	}
	switch input.GrantOrigin {
	case domain.GrantOriginFamily, domain.GrantOriginProvider:
	case domain.GrantOriginTemporary:
		if input.ExpiresAt == nil && input.MaxUses == nil {
			return fmt.Errorf("%w: temporary grants need an expiry or a use budget", ErrInvalidGrant)
		}
	default:
		return fmt.Errorf("%w: unsupported grant origin %q", ErrInvalidGrant, input.GrantOrigin)
	}
	if input.MaxUses != nil && *input.MaxUses <= 0 {
		return fmt.Errorf("%w: max uses must be positive", ErrInvalidGrant)
	}
	return nil
}
