package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/voice4victims/medrecord-access/internal/core/domain"
	"github.com/voice4victims/medrecord-access/internal/transport/http/middleware"
	"github.com/voice4victims/medrecord-access/internal/usecase"
)

// AuthorizeHandler renders access decisions.
type AuthorizeHandler struct {
	engine *usecase.AuthorizationEngine
}

// NewAuthorizeHandler builds a new authorize handler instance.
func NewAuthorizeHandler(engine *usecase.AuthorizationEngine) *AuthorizeHandler {
	return &AuthorizeHandler{engine: engine}
}

// Decide evaluates an access request and returns the decision. Denials are
// part of the response body, not HTTP errors; the engine never surfaces an
// error to the caller.
func (h *AuthorizeHandler) Decide(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req AuthorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid request payload"))
		return
	}

	reqCtx := middleware.GetRequestContext(c)
	decision := h.engine.Authorize(c.Request.Context(), domain.AccessRequest{
		Principal:       principal,
		SessionID:       req.SessionID,
		ResourceType:    domain.ResourceType(req.ResourceType),
		ResourceID:      req.ResourceID,
		Action:          domain.Action(req.Action),
		ScopeID:         req.ScopeID,
		OriginAddress:   reqCtx.IP,
		ClientSignature: reqCtx.UserAgent,
	})

	c.JSON(http.StatusOK, newDecisionResponse(decision))
}
