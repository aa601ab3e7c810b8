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
	// ErrConsentMutationDenied indicates the authorization engine refused the
	// consent or deletion mutation.
	ErrConsentMutationDenied = errors.New("consent mutation denied")
	// ErrDeletionRequestNotFound indicates the deletion request does not exist.
	ErrDeletionRequestNotFound = errors.New("deletion request not found")
)

// Authorizer is the engine surface the consent manager routes its own
// mutations through. The consent store is not a side door around
// authorization.
type Authorizer interface {
	Authorize(ctx context.Context, req domain.AccessRequest) domain.AccessDecision
}

// ConsentMutation carries the caller context for a consent change.
type ConsentMutation struct {
	Principal       domain.Principal
	SessionID       string
	OriginAddress   string
	ClientSignature string
	Type            domain.ConsentType
}

// DeletionMutation carries the caller context for a deletion request.
type DeletionMutation struct {
	Principal       domain.Principal
	SessionID       string
	OriginAddress   string
	ClientSignature string
	Scope           string
}

// ConsentManager tracks per-principal consent flags and data-retention
// deletion requests. Every mutation is authorized through the engine before
// it is applied.
type ConsentManager struct {
	engine         Authorizer
	consents       port.ConsentRepository
	audit          *AuditService
	events         port.SecurityEventPublisher
	logger         *zap.Logger
	retentionGrace time.Duration
	now            func() time.Time
}

// NewConsentManager constructs a ConsentManager.
func NewConsentManager(engine Authorizer, consents port.ConsentRepository, audit *AuditService, events port.SecurityEventPublisher, retentionGrace time.Duration, logger *zap.Logger) *ConsentManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retentionGrace <= 0 {
		retentionGrace = 30 * 24 * time.Hour
	}
	return &ConsentManager{
		engine:         engine,
		consents:       consents,
		audit:          audit,
		events:         events,
		logger:         logger,
		retentionGrace: retentionGrace,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (m *ConsentManager) WithClock(clock func() time.Time) *ConsentManager {
	if clock != nil {
		m.now = clock
	}
	return m
}

// GrantConsent flips the consent flag on after the engine approves the
// mutation.
func (m *ConsentManager) GrantConsent(ctx context.Context, mutation ConsentMutation) error {
	return m.setConsent(ctx, mutation, true)
}

// RevokeConsent flips the consent flag off after the engine approves the
// mutation. The next permission resolution reflects the revocation; open
// sessions are not retroactively invalidated.
func (m *ConsentManager) RevokeConsent(ctx context.Context, mutation ConsentMutation) error {
	return m.setConsent(ctx, mutation, false)
}

// RequestDeletion schedules a purge of the supplied scope after the retention
// grace period. Routed through the engine with action=delete, so it requires
// recent authentication and a session-scoped deletion confirmation like any
// other destructive operation.
func (m *ConsentManager) RequestDeletion(ctx context.Context, mutation DeletionMutation) (*domain.DeletionRequest, error) {
	if strings.TrimSpace(mutation.Scope) == "" {
		return nil, fmt.Errorf("deletion scope is required")
	}

	decision := m.engine.Authorize(ctx, domain.AccessRequest{
		Principal:       mutation.Principal,
		SessionID:       mutation.SessionID,
		ResourceType:    domain.ResourceChildData,
		ResourceID:      mutation.Scope,
		Action:          domain.ActionDelete,
		ScopeID:         mutation.Scope,
		OriginAddress:   mutation.OriginAddress,
		ClientSignature: mutation.ClientSignature,
	})
	if !decision.Granted {
		return nil, fmt.Errorf("%w: %s", ErrConsentMutationDenied, decision.Reason)
	}

	now := m.now()
	request := domain.DeletionRequest{
		ID:          uuid.NewString(),
		PrincipalID: mutation.Principal.ID,
		Scope:       mutation.Scope,
		RequestedAt: now,
		PurgeAfter:  now.Add(m.retentionGrace),
		Status:      domain.DeletionStatusPending,
		Version:     1,
	}
	if err := m.consents.CreateDeletionRequest(ctx, request); err != nil {
		return nil, fmt.Errorf("create deletion request: %w", err)
	}

	if m.audit != nil {
		m.audit.Record(ctx, domain.AuditEntry{
			PrincipalID:  mutation.Principal.ID,
			Action:       "request_deletion",
			ResourceType: string(domain.ResourceChildData),
			ResourceID:   mutation.Scope,
			Result:       domain.AuditResultGranted,
			Detail:       fmt.Sprintf("purge scheduled after %s", request.PurgeAfter.Format(time.RFC3339)),
			SessionID:    security.HashToken(mutation.SessionID),
			Severity:     domain.AuditSeverityWarning,
		})
	}

	if m.events != nil {
		event := domain.DeletionRequestedEvent{
			EventID:     uuid.NewString(),
			RequestID:   request.ID,
			PrincipalID: mutation.Principal.ID,
			Scope:       mutation.Scope,
			PurgeAfter:  request.PurgeAfter,
			RequestedAt: now,
		}
		if err := m.events.PublishDeletionRequested(ctx, event); err != nil {
			m.logger.Warn("publish deletion requested failed", zap.Error(err))
		}
	}

	return &request, nil
}

// ConsentStatus returns the current consent flags for the principal.
func (m *ConsentManager) ConsentStatus(ctx context.Context, principalID string) ([]domain.ConsentRecord, error) {
	if strings.TrimSpace(principalID) == "" {
		return nil, fmt.Errorf("principal id is required")
	}
	records, err := m.consents.ListConsents(ctx, principalID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list consents: %w", err)
	}
	return records, nil
}

func (m *ConsentManager) setConsent(ctx context.Context, mutation ConsentMutation, granted bool) error {
	if mutation.Type == "" {
		return fmt.Errorf("consent type is required")
	}

	decision := m.engine.Authorize(ctx, domain.AccessRequest{
		Principal:       mutation.Principal,
		SessionID:       mutation.SessionID,
		ResourceType:    domain.ResourcePrivacySettings,
		ResourceID:      mutation.Principal.ID,
		Action:          domain.ActionModifyPrivacySettings,
		OriginAddress:   mutation.OriginAddress,
		ClientSignature: mutation.ClientSignature,
	})
	if !decision.Granted {
		return fmt.Errorf("%w: %s", ErrConsentMutationDenied, decision.Reason)
	}

	now := m.now()
	record := domain.ConsentRecord{
		PrincipalID: mutation.Principal.ID,
		Type:        mutation.Type,
		Granted:     granted,
		UpdatedAt:   now,
	}
	if err := m.consents.UpsertConsent(ctx, record); err != nil {
		return fmt.Errorf("upsert consent: %w", err)
	}

	action := "revoke_consent"
	if granted {
		action = "grant_consent"
	}
	if m.audit != nil {
		m.audit.Record(ctx, domain.AuditEntry{
			PrincipalID:  mutation.Principal.ID,
			Action:       action,
			ResourceType: string(domain.ResourcePrivacySettings),
			ResourceID:   string(mutation.Type),
			Result:       domain.AuditResultGranted,
			SessionID:    security.HashToken(mutation.SessionID),
		})
	}

	if m.events != nil {
		event := domain.ConsentChangedEvent{
			EventID:     uuid.NewString(),
			PrincipalID: mutation.Principal.ID,
			ConsentType: string(mutation.Type),
			Granted:     granted,
			ChangedAt:   now,
		}
		if err := m.events.PublishConsentChanged(ctx, event); err != nil {
			m.logger.Warn("publish consent changed failed", zap.Error(err))
		}
	}

	return nil
}
