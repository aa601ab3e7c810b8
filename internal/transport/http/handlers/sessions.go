package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/voice4victims/medrecord-access/internal/core/domain"
	"github.com/voice4victims/medrecord-access/internal/core/port"
	"github.com/voice4victims/medrecord-access/internal/transport/http/middleware"
	"github.com/voice4victims/medrecord-access/internal/usecase"
)

// SessionHandler manages session lifecycle endpoints.
type SessionHandler struct {
	sessions        *usecase.SessionManager
	confirmations   port.DeletionConfirmationStore
	confirmationTTL time.Duration
	logger          *zap.Logger
}

// NewSessionHandler builds a new session handler instance.
func NewSessionHandler(sessions *usecase.SessionManager, confirmations port.DeletionConfirmationStore, confirmationTTL time.Duration, logger *zap.Logger) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if confirmationTTL <= 0 {
		confirmationTTL = 5 * time.Minute
	}
	return &SessionHandler{
		sessions:        sessions,
		confirmations:   confirmations,
		confirmationTTL: confirmationTTL,
		logger:          logger,
	}
}

// Create issues a session for the authenticated principal. The concurrent
// session cap is enforced inside the manager by evicting the least recently
// active session.
func (h *SessionHandler) Create(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req SessionCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid request payload"))
		return
	}

	level := domain.SecurityLevelStandard
	if req.SecurityLevel == string(domain.SecurityLevelElevated) {
		level = domain.SecurityLevelElevated
	}

	reqCtx := middleware.GetRequestContext(c)
	session, err := h.sessions.CreateSession(c.Request.Context(), principal, reqCtx.IP, reqCtx.UserAgent, level)
	if err != nil {
		h.logger.Error("create session failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to create session"))
		return
	}

	c.JSON(http.StatusCreated, newSessionPayload(*session, session.ID))
}

// List returns the caller's active sessions.
func (h *SessionHandler) List(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	sessions, err := h.sessions.ListActive(c.Request.Context(), principal.ID)
	if err != nil {
		h.logger.Error("list sessions failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to list sessions"))
		return
	}

	currentID := c.GetHeader("X-Session-ID")
	payloads := make([]SessionPayload, 0, len(sessions))
	for _, session := range sessions {
		payloads = append(payloads, newSessionPayload(session, currentID))
	}

	c.JSON(http.StatusOK, SessionListResponse{Sessions: payloads, Total: len(payloads)})
}

// Revoke invalidates one session owned by the caller. Invalidation is
// one-way; revoking an already invalid session reports revoked=false.
func (h *SessionHandler) Revoke(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	sessionID := c.Param("id")
	result, err := h.sessions.Validate(c.Request.Context(), sessionID, principal.ID, "", "")
	if err != nil {
		h.logger.Error("validate session failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to revoke session"))
		return
	}
	if result.Reason == usecase.ValidateReasonNotFound {
		c.JSON(http.StatusNotFound, NewErrorResponse(c, "session not found"))
		return
	}
	if result.Reason == usecase.ValidateReasonPrincipalMismatch {
		c.JSON(http.StatusForbidden, NewErrorResponse(c, "session not owned by caller"))
		return
	}

	if err := h.sessions.Invalidate(c.Request.Context(), sessionID, usecase.InvalidateReasonLogout); err != nil {
		RespondWithMappedError(c, err, sessionErrorCases, http.StatusInternalServerError, "failed to revoke session")
		return
	}

	c.JSON(http.StatusOK, SessionRevokeResponse{Revoked: result.Valid})
}

// RevokeAll terminates every active session of the caller. Used when a
// compromise is suspected.
func (h *SessionHandler) RevokeAll(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	count, err := h.sessions.InvalidateAll(c.Request.Context(), principal.ID, usecase.InvalidateReasonCompromise)
	if err != nil {
		h.logger.Error("invalidate all sessions failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to revoke sessions"))
		return
	}

	c.JSON(http.StatusOK, SessionBulkRevokeResponse{RevokedCount: count})
}

// Elevate raises a session to the elevated security level for a
// sensitive-operation flow, shortening its remaining lifetime. The re-auth
// window for sensitive operations reopens only when the identity token was
// issued recently; elevation with a long-held token changes posture without
// counting as authentication.
func (h *SessionHandler) Elevate(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	sessionID := c.Param("id")
	elevated, err := h.sessions.Elevate(c.Request.Context(), sessionID, principal.ID, middleware.GetAuthTime(c))
	if err != nil {
		RespondWithMappedError(c, err, sessionErrorCases, http.StatusInternalServerError, "failed to elevate session")
		return
	}

	c.JSON(http.StatusOK, SessionElevateResponse{
		Elevated:      elevated,
		SecurityLevel: string(domain.SecurityLevelElevated),
	})
}

// ConfirmDeletion records a session-scoped confirmation for a pending
// destructive action. The confirmation expires on its own; a later deletion
// attempt on this session within the window passes the confirmation gate.
func (h *SessionHandler) ConfirmDeletion(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	sessionID := c.Param("id")
	reqCtx := middleware.GetRequestContext(c)
	result, err := h.sessions.Validate(c.Request.Context(), sessionID, principal.ID, reqCtx.IP, reqCtx.UserAgent)
	if err != nil {
		h.logger.Error("validate session failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to confirm deletion"))
		return
	}
	if !result.Valid {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "session is not valid"))
		return
	}

	now := time.Now().UTC()
	if err := h.confirmations.Record(c.Request.Context(), sessionID, now); err != nil {
		h.logger.Error("record deletion confirmation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to confirm deletion"))
		return
	}

	c.JSON(http.StatusOK, DeletionConfirmResponse{
		Confirmed: true,
		ValidFor:  h.confirmationTTL.String(),
		At:        now,
	})
}
