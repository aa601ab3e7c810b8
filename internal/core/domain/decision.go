package domain

// ResourceType names a protected resource class in the static permission
// mapping table.
type ResourceType string

const (
	ResourceChildData       ResourceType = "child_data"
	ResourceMedicalRecord   ResourceType = "medical_record"
	ResourceExportArchive   ResourceType = "export_archive"
	ResourceAccessGrant     ResourceType = "access_grant"
	ResourcePrivacySettings ResourceType = "privacy_settings"
	ResourceSession         ResourceType = "session"
)

// Action names an operation a caller wants to perform on a resource.
type Action string

const (
	ActionRead                  Action = "read"
	ActionWrite                 Action = "write"
	ActionDelete                Action = "delete"
	ActionExport                Action = "export"
	ActionManageAccess          Action = "manage_access"
	ActionModifyPrivacySettings Action = "modify_privacy_settings"
)

// DecisionReason classifies why an authorization decision came out the way it
// did. Denial reasons map one-to-one onto the failure taxonomy; callers only
// ever see the reason inside a denied AccessDecision, never an error.
type DecisionReason string

const (
	ReasonAuthorized          DecisionReason = "authorized"
	ReasonRateLimited         DecisionReason = "rate_limited"
	ReasonSessionInvalid      DecisionReason = "session_invalid"
	ReasonLocked              DecisionReason = "locked"
	ReasonOwnershipDenied     DecisionReason = "ownership_denied"
	ReasonPermissionDenied    DecisionReason = "permission_denied"
	ReasonRestrictionEnforced DecisionReason = "restriction_enforced"
	ReasonReauthRequired      DecisionReason = "reauth_required"
	ReasonSystemError         DecisionReason = "system_error"
)

// AccessRequest carries everything the engine needs to render a decision. The
// principal comes from the identity provider; the session id, origin, and
// client signature come from the transport layer.
type AccessRequest struct {
	Principal       Principal
	SessionID       string
	ResourceType    ResourceType
	ResourceID      string
	Action          Action
	ScopeID         string
	OriginAddress   string
	ClientSignature string
}

// AccessDecision is the single answer the engine produces. It is a value
// object: it is returned synchronously, logged, and never persisted or cached
// across requests.
type AccessDecision struct {
	Granted              bool
	Reason               DecisionReason
	Detail               string
	RequiredPermissions  []Permission
	EffectivePermissions []Permission
	Restrictions         []string
}

// Denied builds a denial with the supplied reason and detail.
func Denied(reason DecisionReason, detail string) AccessDecision {
	return AccessDecision{Granted: false, Reason: reason, Detail: detail}
}
