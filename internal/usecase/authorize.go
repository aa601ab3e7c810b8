package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/voice4victims/medrecord-access/internal/core/domain"
	"github.com/voice4victims/medrecord-access/internal/core/port"
	appLogger "github.com/voice4victims/medrecord-access/internal/infra/logger"
	"github.com/voice4victims/medrecord-access/internal/infra/security"
	"github.com/voice4victims/medrecord-access/internal/repository"
)

// EngineConfig tunes the authorization engine.
type EngineConfig struct {
	// ReauthWindow is how recently the principal must have authenticated for
	// sensitive operations.
	ReauthWindow time.Duration
	// DecisionTimeout bounds the whole gate sequence. A dependency that does
	// not answer inside the budget produces a denial, never a pending
	// decision.
	DecisionTimeout time.Duration
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.ReauthWindow <= 0 {
		c.ReauthWindow = 5 * time.Minute
	}
	if c.DecisionTimeout <= 0 {
		c.DecisionTimeout = 5 * time.Second
	}
	return c
}

// AuthorizationEngine renders one decision per access request by running the
// fixed gate sequence: rate limit, session validity, lockout, ownership,
// permission, restriction overlay, sensitive-operation gate. The order is a
// correctness requirement: cheap, attacker-controllable checks run before
// expensive trusted-store lookups, and an unowned request never reaches
// permission logic.
//
// The engine fails secure. Any dependency error, timeout, or panic folds into
// a denied decision with reason SystemError; Authorize never returns an error
// and never panics past its own boundary.
type AuthorizationEngine struct {
	sessions      *SessionManager
	resolver      *PermissionResolver
	limiter       *AccessLimiter
	audit         *AuditService
	records       port.ChildRecordRepository
	confirmations port.DeletionConfirmationStore
	restrictions  *RestrictionSet
	metrics       *EngineMetrics
	logger        *zap.Logger
	cfg           EngineConfig
	now           func() time.Time
}

// NewAuthorizationEngine constructs the engine.
func NewAuthorizationEngine(
	sessions *SessionManager,
	resolver *PermissionResolver,
	limiter *AccessLimiter,
	audit *AuditService,
	records port.ChildRecordRepository,
	confirmations port.DeletionConfirmationStore,
	restrictions *RestrictionSet,
	cfg EngineConfig,
	logger *zap.Logger,
) *AuthorizationEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if restrictions == nil {
		restrictions = NewRestrictionSet()
	}
	return &AuthorizationEngine{
		sessions:      sessions,
		resolver:      resolver,
		limiter:       limiter,
		audit:         audit,
		records:       records,
		confirmations: confirmations,
		restrictions:  restrictions,
		logger:        logger,
		cfg:           cfg.withDefaults(),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (e *AuthorizationEngine) WithClock(clock func() time.Time) *AuthorizationEngine {
	if clock != nil {
		e.now = clock
	}
	return e
}

// WithMetrics attaches decision metrics.
func (e *AuthorizationEngine) WithMetrics(metrics *EngineMetrics) *AuthorizationEngine {
	e.metrics = metrics
	return e
}

// Authorize runs the full gate sequence and always answers. The returned
// decision is a value object: it must be re-derived for every sensitive
// operation and never cached across requests.
func (e *AuthorizationEngine) Authorize(ctx context.Context, req domain.AccessRequest) (decision domain.AccessDecision) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic inside authorize", zap.Any("panic", r))
			decision = e.deny(ctx, req, domain.ReasonSystemError, "internal failure", false)
		}
	}()

	if strings.TrimSpace(req.Principal.ID) == "" {
		return e.deny(ctx, req, domain.ReasonSessionInvalid, "principal missing", false)
	}

	// Bound the whole decision: no authorization is ever left pending.
	ctx, cancel := context.WithTimeout(ctx, e.cfg.DecisionTimeout)
	defer cancel()

	// Gate 1: rate limit.
	allowed, dimension, err := e.limiter.AllowRate(ctx, req.Principal.ID, req.OriginAddress)
	if err != nil {
		return e.systemDeny(ctx, req, "rate limit check", err)
	}
	if !allowed {
		// A rate-limited caller gets no further failure counted against the
		// lockout threshold; the budget itself is already closed.
		return e.deny(ctx, req, domain.ReasonRateLimited, fmt.Sprintf("failed-attempt budget exhausted (%s)", dimension), false)
	}

	// Gate 2: session validity (includes hijack heuristics).
	validation, err := e.sessions.Validate(ctx, req.SessionID, req.Principal.ID, req.OriginAddress, req.ClientSignature)
	if err != nil {
		return e.systemDeny(ctx, req, "session validation", err)
	}
	if !validation.Valid {
		return e.deny(ctx, req, domain.ReasonSessionInvalid, validation.Reason, true)
	}
	session := validation.Session

	// Gate 3: lockout.
	locked, err := e.limiter.CheckLockout(ctx, req.Principal.ID)
	if err != nil {
		return e.systemDeny(ctx, req, "lockout check", err)
	}
	if locked {
		return e.deny(ctx, req, domain.ReasonLocked, "account temporarily locked", false)
	}

	// Gate 4: resource ownership. A valid session must never be usable to
	// reach another principal's resource just because both are authenticated.
	scopeID := req.ScopeID
	if scopeID == "" && !IsSelfScoped(req.ResourceType) {
		scopeID = req.ResourceID
	}

	owned, found, err := e.checkOwnership(ctx, req)
	if err != nil {
		return e.systemDeny(ctx, req, "ownership check", err)
	}

	resolution, err := e.resolver.Resolve(ctx, req.Principal.ID, scopeID)
	if err != nil {
		return e.systemDeny(ctx, req, "permission resolution", err)
	}

	if !found {
		return e.deny(ctx, req, domain.ReasonOwnershipDenied, "resource not found", true)
	}
	if !owned && resolution.Empty() {
		return e.deny(ctx, req, domain.ReasonOwnershipDenied, "no ownership or grant for resource", true)
	}
	if owned && resolution.Origin != domain.GrantOriginOwnership {
		// Self-scoped resources never hit the resolver's ownership path; the
		// owner's set still passes through the same consent gates.
		resolution, err = e.resolver.OwnerResolution(ctx, req.Principal.ID)
		if err != nil {
			return e.systemDeny(ctx, req, "permission resolution", err)
		}
	}

	// Gate 5: permission subset.
	required := RequiredPermissions(req.ResourceType, req.Action)
	if !resolution.HasAll(required) {
		return e.denyWithPermissions(ctx, req, required, resolution.Permissions)
	}

	// Gate 6: restriction overlay.
	activeSessions, err := e.sessions.CountActive(ctx, req.Principal.ID)
	if err != nil {
		return e.systemDeny(ctx, req, "session count", err)
	}
	overlay := e.restrictions.Evaluate(RestrictionContext{
		Request:        req,
		Now:            e.now(),
		ActiveSessions: activeSessions,
	})
	var advisory []string
	for _, status := range overlay {
		if !status.Triggered {
			continue
		}
		if status.Enforced {
			return e.deny(ctx, req, domain.ReasonRestrictionEnforced, status.Name+": "+status.Detail, true)
		}
		advisory = append(advisory, status.Name)
	}

	// Gate 7: sensitive-operation gate.
	if IsSensitiveAction(req.Action) {
		if !session.AuthenticatedWithin(e.cfg.ReauthWindow, e.now()) {
			return e.deny(ctx, req, domain.ReasonReauthRequired, "recent authentication required", true)
		}
		if req.Action == domain.ActionDelete {
			confirmed, err := e.deletionConfirmed(ctx, session.ID)
			if err != nil {
				return e.systemDeny(ctx, req, "deletion confirmation check", err)
			}
			if !confirmed {
				return e.deny(ctx, req, domain.ReasonReauthRequired, "deletion confirmation missing", true)
			}
		}
	}

	// Success path: reset the failure counter, spend a temporary-grant use,
	// log the grant.
	bookCtx, bookCancel := e.bookCtx(ctx)
	defer bookCancel()
	e.limiter.ResetFailures(bookCtx, req.Principal.ID)
	e.resolver.ConsumeUse(bookCtx, resolution)

	decision = domain.AccessDecision{
		Granted:              true,
		Reason:               domain.ReasonAuthorized,
		RequiredPermissions:  required,
		EffectivePermissions: resolution.Permissions,
		Restrictions:         advisory,
	}
	e.recordDecision(ctx, req, decision)
	return decision
}

// checkOwnership resolves whether the principal owns the requested resource.
// Self-scoped resources are owned by the principal they name; child-scoped
// resources consult the record store. The second return reports whether the
// resource exists at all.
func (e *AuthorizationEngine) checkOwnership(ctx context.Context, req domain.AccessRequest) (owned bool, found bool, err error) {
	if req.ResourceID == "" {
		return false, true, nil
	}
	if IsSelfScoped(req.ResourceType) {
		return req.ResourceID == req.Principal.ID, true, nil
	}
	if e.records == nil {
		return false, true, nil
	}

	record, err := e.records.Get(ctx, req.ResourceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, false, nil
		}
		return false, false, err
	}
	return record.IsOwnedBy(req.Principal.ID), true, nil
}

func (e *AuthorizationEngine) deletionConfirmed(ctx context.Context, sessionID string) (bool, error) {
	if e.confirmations == nil {
		return false, nil
	}
	return e.confirmations.Confirmed(ctx, sessionID, e.now())
}

// systemDeny folds a dependency failure into a denial. The caller never sees
// the underlying error; only the audit trail and the log carry it.
func (e *AuthorizationEngine) systemDeny(ctx context.Context, req domain.AccessRequest, stage string, err error) domain.AccessDecision {
	e.logger.Error("authorization dependency failure",
		zap.String("stage", stage),
		zap.String("principal_id", req.Principal.ID),
		zap.String("resource_type", string(req.ResourceType)),
		appLogger.Record(req.ResourceID),
		zap.String("action", string(req.Action)),
		zap.Error(err),
	)
	return e.deny(ctx, req, domain.ReasonSystemError, stage+" failed", false)
}

func (e *AuthorizationEngine) denyWithPermissions(ctx context.Context, req domain.AccessRequest, required, effective []domain.Permission) domain.AccessDecision {
	decision := domain.Denied(domain.ReasonPermissionDenied, "effective permissions insufficient")
	decision.RequiredPermissions = required
	decision.EffectivePermissions = effective
	bookCtx, cancel := e.bookCtx(ctx)
	defer cancel()
	e.limiter.RegisterFailure(bookCtx, req.Principal.ID, string(domain.ReasonPermissionDenied))
	e.recordDecision(ctx, req, decision)
	return decision
}

// deny emits the audit entry, optionally counts the failure against the
// lockout threshold, and returns the denial.
func (e *AuthorizationEngine) deny(ctx context.Context, req domain.AccessRequest, reason domain.DecisionReason, detail string, countFailure bool) domain.AccessDecision {
	if countFailure {
		bookCtx, cancel := e.bookCtx(ctx)
		defer cancel()
		e.limiter.RegisterFailure(bookCtx, req.Principal.ID, string(reason))
	}
	decision := domain.Denied(reason, detail)
	e.recordDecision(ctx, req, decision)
	return decision
}

func (e *AuthorizationEngine) recordDecision(ctx context.Context, req domain.AccessRequest, decision domain.AccessDecision) {
	if e.metrics != nil {
		result := "denied"
		if decision.Granted {
			result = "granted"
		}
		e.metrics.Decisions.WithLabelValues(result, string(decision.Reason)).Inc()
	}

	if e.audit == nil {
		return
	}

	result := domain.AuditResultDenied
	severity := domain.AuditSeverityWarning
	if decision.Granted {
		result = domain.AuditResultGranted
		severity = domain.AuditSeverityInfo
	}
	if decision.Reason == domain.ReasonSystemError {
		severity = domain.AuditSeverityCritical
	}

	sessionRef := ""
	if req.SessionID != "" {
		sessionRef = security.HashToken(req.SessionID)
	}

	e.audit.Record(ctx, domain.AuditEntry{
		PrincipalID:  req.Principal.ID,
		Action:       string(req.Action),
		ResourceType: string(req.ResourceType),
		ResourceID:   req.ResourceID,
		ScopeID:      req.ScopeID,
		Result:       result,
		Reason:       string(decision.Reason),
		Detail:       decision.Detail,
		SessionID:    sessionRef,
		Origin:       req.OriginAddress,
		Severity:     severity,
	})
}

// bookCtx derives a context for post-decision bookkeeping (failure counting,
// use consumption). It survives the decision context so a timeout that caused
// a denial does not also suppress the record of it.
func (e *AuthorizationEngine) bookCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), e.cfg.DecisionTimeout)
}
