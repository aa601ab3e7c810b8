package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/voice4victims/medrecord-access/internal/core/domain"
	"github.com/voice4victims/medrecord-access/internal/transport/http/middleware"
	"github.com/voice4victims/medrecord-access/internal/usecase"
)

// ConsentHandler manages consent and data-retention endpoints.
type ConsentHandler struct {
	consents *usecase.ConsentManager
	logger   *zap.Logger
}

// NewConsentHandler builds a new consent handler instance.
func NewConsentHandler(consents *usecase.ConsentManager, logger *zap.Logger) *ConsentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConsentHandler{consents: consents, logger: logger}
}

var consentErrorCases = []ErrorCase{
	{Err: usecase.ErrConsentMutationDenied, Status: http.StatusForbidden, Message: "consent mutation denied"},
}

// Grant flips a consent flag on.
func (h *ConsentHandler) Grant(c *gin.Context) {
	h.setConsent(c, true)
}

// Revoke flips a consent flag off. The next permission resolution reflects
// the revocation.
func (h *ConsentHandler) Revoke(c *gin.Context) {
	h.setConsent(c, false)
}

func (h *ConsentHandler) setConsent(c *gin.Context, granted bool) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req ConsentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid request payload"))
		return
	}

	reqCtx := middleware.GetRequestContext(c)
	mutation := usecase.ConsentMutation{
		Principal:       principal,
		SessionID:       c.GetHeader("X-Session-ID"),
		OriginAddress:   reqCtx.IP,
		ClientSignature: reqCtx.UserAgent,
		Type:            domain.ConsentType(req.Type),
	}

	var err error
	if granted {
		err = h.consents.GrantConsent(c.Request.Context(), mutation)
	} else {
		err = h.consents.RevokeConsent(c.Request.Context(), mutation)
	}
	if err != nil {
		RespondWithMappedError(c, err, consentErrorCases, http.StatusInternalServerError, "failed to update consent")
		return
	}

	message := "consent revoked"
	if granted {
		message = "consent granted"
	}
	c.JSON(http.StatusOK, MessageResponse{Message: message})
}

// Status returns the caller's consent flags.
func (h *ConsentHandler) Status(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	records, err := h.consents.ConsentStatus(c.Request.Context(), principal.ID)
	if err != nil {
		h.logger.Error("consent status failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to read consent status"))
		return
	}

	payloads := make([]ConsentPayload, 0, len(records))
	for _, record := range records {
		payloads = append(payloads, newConsentPayload(record))
	}

	c.JSON(http.StatusOK, ConsentListResponse{Consents: payloads})
}

// RequestDeletion schedules a purge of the supplied scope after the retention
// grace period. Requires recent authentication and a session-scoped deletion
// confirmation; both are enforced by the engine.
func (h *ConsentHandler) RequestDeletion(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req DeletionRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid request payload"))
		return
	}

	reqCtx := middleware.GetRequestContext(c)
	request, err := h.consents.RequestDeletion(c.Request.Context(), usecase.DeletionMutation{
		Principal:       principal,
		SessionID:       c.GetHeader("X-Session-ID"),
		OriginAddress:   reqCtx.IP,
		ClientSignature: reqCtx.UserAgent,
		Scope:           req.Scope,
	})
	if err != nil {
		RespondWithMappedError(c, err, consentErrorCases, http.StatusInternalServerError, "failed to request deletion")
		return
	}

	c.JSON(http.StatusAccepted, DeletionRequestResponse{
		ID:          request.ID,
		Scope:       request.Scope,
		RequestedAt: request.RequestedAt,
		PurgeAfter:  request.PurgeAfter,
		Status:      string(request.Status),
	})
}
