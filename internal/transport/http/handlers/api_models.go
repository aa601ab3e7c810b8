package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/voice4victims/medrecord-access/internal/core/domain"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	traceID, _ := c.Get("trace_id")
	traceIDStr, _ := traceID.(string)

	return ErrorResponse{
		Error:   errorMsg,
		TraceID: traceIDStr,
	}
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// AuthorizeRequest is the payload for an access decision.
type AuthorizeRequest struct {
	SessionID    string `json:"session_id" binding:"required"`
	ResourceType string `json:"resource_type" binding:"required"`
	ResourceID   string `json:"resource_id"`
	Action       string `json:"action" binding:"required"`
	ScopeID      string `json:"scope_id"`
}

// AuthorizeResponse is the decision rendered for an access request.
type AuthorizeResponse struct {
	Granted              bool     `json:"granted"`
	Reason               string   `json:"reason"`
	Detail               string   `json:"detail,omitempty"`
	RequiredPermissions  []string `json:"required_permissions,omitempty"`
	EffectivePermissions []string `json:"effective_permissions,omitempty"`
	Restrictions         []string `json:"restrictions,omitempty"`
}

// SessionCreateRequest is the payload for issuing a session after the
// identity provider has authenticated the caller.
type SessionCreateRequest struct {
	SecurityLevel string `json:"security_level"`
}

// SessionPayload describes a session view in API responses.
type SessionPayload struct {
	ID              string     `json:"id"`
	PrincipalID     string     `json:"principal_id"`
	CreatedAt       time.Time  `json:"created_at"`
	AuthenticatedAt time.Time  `json:"authenticated_at"`
	LastActivityAt  time.Time  `json:"last_activity_at"`
	ExpiresAt       time.Time  `json:"expires_at"`
	SecurityLevel   string     `json:"security_level"`
	Valid           bool       `json:"valid"`
	InvalidatedAt   *time.Time `json:"invalidated_at,omitempty"`
	IsCurrent       bool       `json:"is_current,omitempty"`
}

// SessionListResponse wraps a principal's active sessions.
type SessionListResponse struct {
	Sessions []SessionPayload `json:"sessions"`
	Total    int              `json:"total"`
}

// SessionRevokeResponse indicates whether the session was revoked.
type SessionRevokeResponse struct {
	Revoked bool `json:"revoked"`
}

// SessionBulkRevokeResponse summarises bulk revocation operations.
type SessionBulkRevokeResponse struct {
	RevokedCount int `json:"revoked_count"`
}

// SessionElevateResponse confirms an elevation and its shortened lifetime.
type SessionElevateResponse struct {
	Elevated      bool   `json:"elevated"`
	SecurityLevel string `json:"security_level"`
}

// DeletionConfirmResponse acknowledges a session-scoped deletion confirmation.
type DeletionConfirmResponse struct {
	Confirmed bool      `json:"confirmed"`
	ValidFor  string    `json:"valid_for"`
	At        time.Time `json:"at"`
}

// GrantCreateRequest is the payload for delegating access.
type GrantCreateRequest struct {
	GrantedTo   string     `json:"granted_to" binding:"required"`
	Scope       string     `json:"scope" binding:"required"`
	Role        string     `json:"role"`
	Origin      string     `json:"origin" binding:"required"`
	Permissions []string   `json:"permissions" binding:"required"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	MaxUses     *int       `json:"max_uses,omitempty"`
}

// GrantPayload describes a permission grant in API responses.
type GrantPayload struct {
	ID          string     `json:"id"`
	GrantedTo   string     `json:"granted_to"`
	Scope       string     `json:"scope"`
	Role        string     `json:"role,omitempty"`
	Origin      string     `json:"origin"`
	Permissions []string   `json:"permissions"`
	GrantedBy   string     `json:"granted_by"`
	GrantedAt   time.Time  `json:"granted_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	MaxUses     *int       `json:"max_uses,omitempty"`
	UsesSoFar   int        `json:"uses_so_far"`
	Active      bool       `json:"active"`
}

// GrantListResponse wraps the grants held by the caller.
type GrantListResponse struct {
	Grants []GrantPayload `json:"grants"`
	Total  int            `json:"total"`
}

// ConsentRequest names the consent flag being granted or revoked.
type ConsentRequest struct {
	Type string `json:"type" binding:"required"`
}

// ConsentPayload describes one consent flag.
type ConsentPayload struct {
	Type      string    `json:"type"`
	Granted   bool      `json:"granted"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConsentListResponse wraps the caller's consent flags.
type ConsentListResponse struct {
	Consents []ConsentPayload `json:"consents"`
}

// DeletionRequestBody is the payload for scheduling a data purge.
type DeletionRequestBody struct {
	Scope string `json:"scope" binding:"required"`
}

// DeletionRequestResponse describes the scheduled purge.
type DeletionRequestResponse struct {
	ID          string    `json:"id"`
	Scope       string    `json:"scope"`
	RequestedAt time.Time `json:"requested_at"`
	PurgeAfter  time.Time `json:"purge_after"`
	Status      string    `json:"status"`
}

// HealthResponse describes the service health payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse describes readiness probe results with dependency checks.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

func newDecisionResponse(decision domain.AccessDecision) AuthorizeResponse {
	return AuthorizeResponse{
		Granted:              decision.Granted,
		Reason:               string(decision.Reason),
		Detail:               decision.Detail,
		RequiredPermissions:  permissionStrings(decision.RequiredPermissions),
		EffectivePermissions: permissionStrings(decision.EffectivePermissions),
		Restrictions:         decision.Restrictions,
	}
}

// newSessionPayload converts a domain session to an API session payload.
func newSessionPayload(session domain.Session, currentID string) SessionPayload {
	payload := SessionPayload{
		ID:              session.ID,
		PrincipalID:     session.PrincipalID,
		CreatedAt:       session.CreatedAt,
		AuthenticatedAt: session.AuthenticatedAt,
		LastActivityAt:  session.LastActivityAt,
		ExpiresAt:       session.ExpiresAt,
		SecurityLevel:   string(session.SecurityLevel),
		Valid:           session.Valid,
		IsCurrent:       currentID != "" && session.ID == currentID,
	}
	if session.InvalidatedAt != nil {
		payload.InvalidatedAt = session.InvalidatedAt
	}
	return payload
}

func newGrantPayload(grant domain.PermissionGrant) GrantPayload {
	return GrantPayload{
		ID:          grant.ID,
		GrantedTo:   grant.GrantedTo,
		Scope:       grant.Scope,
		Role:        grant.Role,
		Origin:      string(grant.Origin),
		Permissions: permissionStrings(grant.Permissions),
		GrantedBy:   grant.GrantedBy,
		GrantedAt:   grant.GrantedAt,
		ExpiresAt:   grant.ExpiresAt,
		MaxUses:     grant.MaxUses,
		UsesSoFar:   grant.UsesSoFar,
		Active:      grant.Active,
	}
}

func newConsentPayload(record domain.ConsentRecord) ConsentPayload {
	return ConsentPayload{
		Type:      string(record.Type),
		Granted:   record.Granted,
		UpdatedAt: record.UpdatedAt,
	}
}

func permissionStrings(permissions []domain.Permission) []string {
	if len(permissions) == 0 {
		return nil
	}
	out := make([]string, len(permissions))
	for i, p := range permissions {
		out[i] = string(p)
	}
	return out
}
