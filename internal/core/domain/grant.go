package domain

import "time"

// Permission defines a named capability over a child record scope.
type Permission string

const (
	PermissionRead                  Permission = "read"
	PermissionWrite                 Permission = "write"
	PermissionDelete                Permission = "delete"
	PermissionExport                Permission = "export"
	PermissionManageAccess          Permission = "manage_access"
	PermissionModifyPrivacySettings Permission = "modify_privacy_settings"
	PermissionShareResearch         Permission = "share_research"
)

// AdminPermissions is the full capability set held by a record owner. Unknown
// resource types resolve to requiring this entire set, so unmodeled resources
// deny by default for everyone but the owner.
func AdminPermissions() []Permission {
	return []Permission{
		PermissionRead,
		PermissionWrite,
		PermissionDelete,
		PermissionExport,
		PermissionManageAccess,
		PermissionModifyPrivacySettings,
		PermissionShareResearch,
	}
}

// GrantOrigin identifies where an effective permission set came from.
// Origins have descending precedence: ownership beats a family grant, which
// beats a provider grant, which beats a temporary grant.
type GrantOrigin string

const (
	GrantOriginOwnership GrantOrigin = "ownership"
	GrantOriginFamily    GrantOrigin = "family"
	GrantOriginProvider  GrantOrigin = "provider"
	GrantOriginTemporary GrantOrigin = "temporary"
)

// ScopeFamily is the grant scope covering every record of the granting family
// rather than a single child record.
const ScopeFamily = "family"

// PermissionGrant confers a permission set from a grantor to a grantee,
// optionally scoped to a single child record and optionally time- or
// use-bounded.
type PermissionGrant struct {
	ID          string
	GrantedTo   string
	Scope       string
	Role        string
	Origin      GrantOrigin
	Permissions []Permission
	GrantedBy   string
	GrantedAt   time.Time
	ExpiresAt   *time.Time
	MaxUses     *int
	UsesSoFar   int
	Active      bool
	Version     int64
}

// CoversScope reports whether the grant applies to the supplied child record
// scope. A family-wide grant covers every scope.
func (g PermissionGrant) CoversScope(scopeID string) bool {
	if g.Scope == ScopeFamily {
		return true
	}
	return scopeID != "" && g.Scope == scopeID
}

// ExpiredAt reports whether a time-boxed grant has passed its expiry.
func (g PermissionGrant) ExpiredAt(at time.Time) bool {
	return g.ExpiresAt != nil && !g.ExpiresAt.After(at)
}

// Exhausted reports whether a use-bounded grant has consumed its budget.
func (g PermissionGrant) Exhausted() bool {
	return g.MaxUses != nil && g.UsesSoFar >= *g.MaxUses
}

// Usable reports whether the grant can confer permissions at the supplied
// moment. Expired and exhausted grants are lazily deactivated by the resolver
// on first read.
func (g PermissionGrant) Usable(at time.Time) bool {
	if !g.Active {
		return false
	}
	if g.ExpiredAt(at) {
		return false
	}
	return !g.Exhausted()
}

// HasPermission reports whether the grant's permission set contains the
// supplied permission.
func (g PermissionGrant) HasPermission(p Permission) bool {
	for _, held := range g.Permissions {
		if held == p {
			return true
		}
	}
	return false
}
