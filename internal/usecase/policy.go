package usecase

import (
	"time"

	"github.com/voice4victims/medrecord-access/internal/core/domain"
)

// sensitiveActions require authentication within the trailing re-auth window
// before they pass the final gate.
var sensitiveActions = map[domain.Action]struct{}{
	domain.ActionDelete:                {},
	domain.ActionExport:                {},
	domain.ActionManageAccess:          {},
	domain.ActionModifyPrivacySettings: {},
}

// IsSensitiveAction reports whether the action passes through the
// sensitive-operation gate.
func IsSensitiveAction(action domain.Action) bool {
	_, ok := sensitiveActions[action]
	return ok
}

// requiredPermissionTable is the static mapping from (resourceType, action)
// to the permission set an access request must hold. Missing entries fall
// back to the full admin set: unmodeled resources deny by default.
var requiredPermissionTable = map[domain.ResourceType]map[domain.Action][]domain.Permission{
	domain.ResourceChildData: {
		domain.ActionRead:         {domain.PermissionRead},
		domain.ActionWrite:        {domain.PermissionWrite},
		domain.ActionDelete:       {domain.PermissionDelete},
		domain.ActionExport:       {domain.PermissionRead, domain.PermissionExport},
		domain.ActionManageAccess: {domain.PermissionManageAccess},
	},
	domain.ResourceMedicalRecord: {
		domain.ActionRead:   {domain.PermissionRead},
		domain.ActionWrite:  {domain.PermissionWrite},
		domain.ActionDelete: {domain.PermissionDelete},
		domain.ActionExport: {domain.PermissionRead, domain.PermissionExport},
	},
	domain.ResourceExportArchive: {
		domain.ActionRead:   {domain.PermissionExport},
		domain.ActionExport: {domain.PermissionExport},
		domain.ActionDelete: {domain.PermissionDelete},
	},
	domain.ResourceAccessGrant: {
		domain.ActionRead:         {domain.PermissionManageAccess},
		domain.ActionWrite:        {domain.PermissionManageAccess},
		domain.ActionDelete:       {domain.PermissionManageAccess},
		domain.ActionManageAccess: {domain.PermissionManageAccess},
	},
	domain.ResourcePrivacySettings: {
		domain.ActionRead:                  {domain.PermissionModifyPrivacySettings},
		domain.ActionModifyPrivacySettings: {domain.PermissionModifyPrivacySettings},
		domain.ActionDelete:                {domain.PermissionDelete},
	},
}

// RequiredPermissions resolves the static table with the deny-by-default
// fallback.
func RequiredPermissions(resourceType domain.ResourceType, action domain.Action) []domain.Permission {
	actions, ok := requiredPermissionTable[resourceType]
	if !ok {
		return domain.AdminPermissions()
	}
	perms, ok := actions[action]
	if !ok {
		return domain.AdminPermissions()
	}
	return perms
}

// selfScopedResources are resources whose id is the principal's own id (or
// absent); ownership for them is identity, not a child-record lookup.
var selfScopedResources = map[domain.ResourceType]struct{}{
	domain.ResourcePrivacySettings: {},
	domain.ResourceSession:         {},
}

// IsSelfScoped reports whether the resource type is scoped to the principal
// rather than a child record.
func IsSelfScoped(resourceType domain.ResourceType) bool {
	_, ok := selfScopedResources[resourceType]
	return ok
}

// RestrictionStatus is one evaluated restriction overlay entry.
type RestrictionStatus struct {
	Name      string
	Triggered bool
	Enforced  bool
	Detail    string
}

// RestrictionContext carries the request-time facts the overlay evaluates.
type RestrictionContext struct {
	Request        domain.AccessRequest
	Now            time.Time
	ActiveSessions int
}

// Restriction is a soft, non-identity overlay check. A triggered restriction
// in enforced state blocks the request; registered-but-not-enforced
// restrictions only annotate the decision.
type Restriction struct {
	Name     string
	Enforced bool
	Evaluate func(RestrictionContext) (bool, string)
}

// RestrictionSet evaluates the configured overlay in registration order.
type RestrictionSet struct {
	restrictions []Restriction
}

// NewRestrictionSet builds an empty overlay.
func NewRestrictionSet() *RestrictionSet {
	return &RestrictionSet{}
}

// Register appends a restriction. Nil evaluators are ignored.
func (s *RestrictionSet) Register(r Restriction) *RestrictionSet {
	if r.Evaluate != nil && r.Name != "" {
		s.restrictions = append(s.restrictions, r)
	}
	return s
}

// Evaluate runs every restriction against the context.
func (s *RestrictionSet) Evaluate(rctx RestrictionContext) []RestrictionStatus {
	if s == nil {
		return nil
	}
	results := make([]RestrictionStatus, 0, len(s.restrictions))
	for _, r := range s.restrictions {
		triggered, detail := r.Evaluate(rctx)
		results = append(results, RestrictionStatus{
			Name:      r.Name,
			Triggered: triggered,
			Enforced:  r.Enforced,
			Detail:    detail,
		})
	}
	return results
}

// BusinessHoursRestriction flags destructive actions outside the configured
// local-hour window.
func BusinessHoursRestriction(startHour, endHour int, enforced bool) Restriction {
	return Restriction{
		Name:     "business_hours",
		Enforced: enforced,
		Evaluate: func(rctx RestrictionContext) (bool, string) {
			if rctx.Request.Action != domain.ActionDelete {
				return false, ""
			}
			hour := rctx.Now.Hour()
			if hour >= startHour && hour < endHour {
				return false, ""
			}
			return true, "destructive action outside business hours"
		},
	}
}

// OriginReputationRestriction flags requests from denylisted origin subnets.
func OriginReputationRestriction(flagged map[string]bool, enforced bool, prefix func(string) string) Restriction {
	return Restriction{
		Name:     "origin_reputation",
		Enforced: enforced,
		Evaluate: func(rctx RestrictionContext) (bool, string) {
			origin := rctx.Request.OriginAddress
			if origin == "" || len(flagged) == 0 {
				return false, ""
			}
			key := origin
			if prefix != nil {
				key = prefix(origin)
			}
			if flagged[key] || flagged[origin] {
				return true, "origin address flagged"
			}
			return false, ""
		},
	}
}

// ConcurrentSessionRestriction flags principals running close to the session
// cap while performing sensitive actions.
func ConcurrentSessionRestriction(threshold int, enforced bool) Restriction {
	return Restriction{
		Name:     "concurrent_sessions",
		Enforced: enforced,
		Evaluate: func(rctx RestrictionContext) (bool, string) {
			if !IsSensitiveAction(rctx.Request.Action) {
				return false, ""
			}
			if threshold > 0 && rctx.ActiveSessions >= threshold {
				return true, "multiple concurrent sessions during sensitive action"
			}
			return false, ""
		},
	}
}
