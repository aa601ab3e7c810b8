package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/voice4victims/medrecord-access/internal/core/domain"
	"github.com/voice4victims/medrecord-access/internal/transport/http/middleware"
	"github.com/voice4victims/medrecord-access/internal/usecase"
)

// GrantHandler manages permission grant endpoints.
type GrantHandler struct {
	grants *usecase.GrantManager
	logger *zap.Logger
}

// NewGrantHandler builds a new grant handler instance.
func NewGrantHandler(grants *usecase.GrantManager, logger *zap.Logger) *GrantHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GrantHandler{grants: grants, logger: logger}
}

var grantErrorCases = []ErrorCase{
	{Err: usecase.ErrGrantMutationDenied, Status: http.StatusForbidden, Message: "grant mutation denied"},
	{Err: usecase.ErrProviderConsentMissing, Status: http.StatusConflict, Message: "provider access consent is not granted"},
	{Err: usecase.ErrInvalidGrant, Status: http.StatusBadRequest, Message: "invalid grant request"},
}

// Create delegates a permission set to another principal.
func (h *GrantHandler) Create(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req GrantCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid request payload"))
		return
	}

	permissions := make([]domain.Permission, 0, len(req.Permissions))
	for _, p := range req.Permissions {
		permissions = append(permissions, domain.Permission(p))
	}

	reqCtx := middleware.GetRequestContext(c)
	grant, err := h.grants.CreateGrant(c.Request.Context(), usecase.GrantInput{
		Principal:       principal,
		SessionID:       c.GetHeader("X-Session-ID"),
		OriginAddress:   reqCtx.IP,
		ClientSignature: reqCtx.UserAgent,
		GrantedTo:       req.GrantedTo,
		Scope:           req.Scope,
		Role:            req.Role,
		GrantOrigin:     domain.GrantOrigin(req.Origin),
		Permissions:     permissions,
		ExpiresAt:       req.ExpiresAt,
		MaxUses:         req.MaxUses,
	})
	if err != nil {
		RespondWithMappedError(c, err, grantErrorCases, http.StatusInternalServerError, "failed to create grant")
		return
	}

	c.JSON(http.StatusCreated, newGrantPayload(*grant))
}

// List returns the active grants held by the caller.
func (h *GrantHandler) List(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	grants, err := h.grants.ListGrants(c.Request.Context(), principal.ID)
	if err != nil {
		h.logger.Error("list grants failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to list grants"))
		return
	}

	payloads := make([]GrantPayload, 0, len(grants))
	for _, grant := range grants {
		payloads = append(payloads, newGrantPayload(grant))
	}

	c.JSON(http.StatusOK, GrantListResponse{Grants: payloads, Total: len(payloads)})
}

// Revoke deactivates a grant issued by the caller.
func (h *GrantHandler) Revoke(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	reqCtx := middleware.GetRequestContext(c)
	err := h.grants.RevokeGrant(c.Request.Context(), usecase.RevokeGrantInput{
		Principal:       principal,
		SessionID:       c.GetHeader("X-Session-ID"),
		OriginAddress:   reqCtx.IP,
		ClientSignature: reqCtx.UserAgent,
		GrantID:         c.Param("id"),
		Scope:           c.Query("scope"),
	})
	if err != nil {
		RespondWithMappedError(c, err, grantErrorCases, http.StatusInternalServerError, "failed to revoke grant")
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "grant revoked"})
}
