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
	"github.com/voice4victims/medrecord-access/internal/repository"
)

// grantOriginRank orders grant origins by descending precedence. Ownership is
// handled before grants are consulted at all.
var grantOriginRank = map[domain.GrantOrigin]int{
	domain.GrantOriginFamily:    0,
	domain.GrantOriginProvider:  1,
	domain.GrantOriginTemporary: 2,
}

// Resolution is the outcome of resolving effective permissions for a
// principal within a scope.
type Resolution struct {
	Permissions []domain.Permission
	Origin      domain.GrantOrigin
	GrantID     string
	MaxUses     *int
	UsesSoFar   int
}

// HasAll reports whether the resolution covers every required permission.
func (r Resolution) HasAll(required []domain.Permission) bool {
	for _, want := range required {
		found := false
		for _, held := range r.Permissions {
			if held == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Empty reports whether the resolution confers nothing.
func (r Resolution) Empty() bool {
	return len(r.Permissions) == 0
}

// PermissionResolver computes effective permission sets: ownership first,
// then standing family grants, standing provider grants, and time-boxed
// temporary grants, in that precedence order. Expired or exhausted temporary
// grants are lazily deactivated as a side effect of the read.
type PermissionResolver struct {
	records  port.ChildRecordRepository
	grants   port.GrantRepository
	consents port.ConsentRepository
	logger   *zap.Logger
	now      func() time.Time
}

// NewPermissionResolver constructs a PermissionResolver.
func NewPermissionResolver(records port.ChildRecordRepository, grants port.GrantRepository, consents port.ConsentRepository, logger *zap.Logger) *PermissionResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PermissionResolver{
		records:  records,
		grants:   grants,
		consents: consents,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (r *PermissionResolver) WithClock(clock func() time.Time) *PermissionResolver {
	if clock != nil {
		r.now = clock
	}
	return r
}

// Resolve computes the effective permission set for the principal within the
// supplied child-record scope. An empty scope resolves family-wide grants
// only. The returned resolution is never nil on a nil error.
func (r *PermissionResolver) Resolve(ctx context.Context, principalID, scopeID string) (*Resolution, error) {
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return nil, fmt.Errorf("principal id is required")
	}

	now := r.now()

	if scopeID != "" && r.records != nil {
		record, err := r.records.Get(ctx, scopeID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("get child record: %w", err)
		}
		if record != nil && record.IsOwnedBy(principalID) {
			return r.OwnerResolution(ctx, principalID)
		}
	}

	if r.grants == nil {
		return &Resolution{}, nil
	}

	all, err := r.grants.ListActiveForPrincipal(ctx, principalID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &Resolution{}, nil
		}
		return nil, fmt.Errorf("list grants: %w", err)
	}

	var best *domain.PermissionGrant
	for i := range all {
		grant := &all[i]
		if !grant.Active {
			continue
		}
		if grant.ExpiredAt(now) || grant.Exhausted() {
			r.lazyDeactivate(ctx, grant, now)
			continue
		}
		if !grant.CoversScope(scopeID) {
			continue
		}
		if best == nil || grantOriginRank[grant.Origin] < grantOriginRank[best.Origin] {
			best = grant
		}
	}

	if best == nil {
		return &Resolution{}, nil
	}

	if best.Origin == domain.GrantOriginProvider {
		allowed, err := r.providerAccessConsented(ctx, bestGrantor(best))
		if err != nil {
			return nil, err
		}
		if !allowed {
			return &Resolution{}, nil
		}
	}

	perms, err := r.applyConsentGates(ctx, bestGrantor(best), best.Permissions)
	if err != nil {
		return nil, err
	}

	return &Resolution{
		Permissions: perms,
		Origin:      best.Origin,
		GrantID:     best.ID,
		MaxUses:     best.MaxUses,
		UsesSoFar:   best.UsesSoFar,
	}, nil
}

// OwnerResolution builds the resolution ownership confers: the full
// permission set, still filtered through the consent gates. Owners are not
// exempt; a revoked research consent strips share_research from them too.
func (r *PermissionResolver) OwnerResolution(ctx context.Context, ownerID string) (*Resolution, error) {
	perms, err := r.applyConsentGates(ctx, ownerID, domain.AdminPermissions())
	if err != nil {
		return nil, err
	}
	return &Resolution{Permissions: perms, Origin: domain.GrantOriginOwnership}, nil
}

// ConsumeUse spends one use of a use-bounded temporary grant after a
// successful access. A lost compare-and-swap means a concurrent request spent
// the use first; the lazy exhaustion check catches it at the next resolution.
func (r *PermissionResolver) ConsumeUse(ctx context.Context, res *Resolution) {
	if res == nil || res.Origin != domain.GrantOriginTemporary || res.MaxUses == nil || res.GrantID == "" {
		return
	}
	if err := r.grants.ConsumeUse(ctx, res.GrantID, res.UsesSoFar); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			r.logger.Warn("grant use consumed concurrently", zap.String("grant_id", res.GrantID))
			return
		}
		r.logger.Error("consume grant use failed", zap.String("grant_id", res.GrantID), zap.Error(err))
	}
}

// lazyDeactivate marks a stale grant inactive as a side effect of the read.
// Self-healing: the periodic sweep is hygiene, not correctness.
func (r *PermissionResolver) lazyDeactivate(ctx context.Context, grant *domain.PermissionGrant, now time.Time) {
	reason := "expired"
	if grant.Exhausted() {
		reason = "exhausted"
	}
	if err := r.grants.Deactivate(ctx, grant.ID, reason); err != nil {
		r.logger.Warn("lazy grant deactivation failed",
			zap.String("grant_id", grant.ID),
			zap.String("reason", reason),
			zap.Error(err),
		)
	}
}

// applyConsentGates strips permissions whose backing consent has been
// revoked. Consent state and permission state must never diverge for more
// than one resolution cycle, so the check runs on every resolve.
func (r *PermissionResolver) applyConsentGates(ctx context.Context, ownerID string, perms []domain.Permission) ([]domain.Permission, error) {
	hasResearch := false
	for _, p := range perms {
		if p == domain.PermissionShareResearch {
			hasResearch = true
			break
		}
	}
	if !hasResearch || r.consents == nil {
		return perms, nil
	}

	consent, err := r.consents.GetConsent(ctx, ownerID, domain.ConsentResearchSharing)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("get research consent: %w", err)
	}

	if consent != nil && consent.Granted {
		return perms, nil
	}

	filtered := make([]domain.Permission, 0, len(perms))
	for _, p := range perms {
		if p != domain.PermissionShareResearch {
			filtered = append(filtered, p)
		}
	}
	return filtered, nil
}

// providerAccessConsented reports whether the granting family still consents
// to provider access. Absent consent records default to allowed; only an
// explicit revocation blocks.
func (r *PermissionResolver) providerAccessConsented(ctx context.Context, grantorID string) (bool, error) {
	if r.consents == nil || grantorID == "" {
		return true, nil
	}
	consent, err := r.consents.GetConsent(ctx, grantorID, domain.ConsentProviderAccess)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return true, nil
		}
		return false, fmt.Errorf("get provider consent: %w", err)
	}
	return consent.Granted, nil
}

func bestGrantor(grant *domain.PermissionGrant) string {
	if grant == nil {
		return ""
	}
	return grant.GrantedBy
}
