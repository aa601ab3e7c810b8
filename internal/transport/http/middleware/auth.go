package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/voice4victims/medrecord-access/internal/core/domain"
	"github.com/voice4victims/medrecord-access/internal/infra/security"
)

const (
	principalKey = "principal"
	authTimeKey  = "auth_time"
)

// ErrorResponse matches the handlers.ErrorResponse structure
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// newErrorResponse creates an error response with trace ID
func newErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:   errorMsg,
		TraceID: GetTraceID(c),
	}
}

// RequireIdentity validates the identity-provider token in the Authorization
// header. Only the principal id is trusted from the token; roles and
// permissions always come from stored grants.
func RequireIdentity(verifier *security.IdentityVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "missing authorization header"))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "invalid authorization format: expected 'Bearer <token>'"))
			return
		}

		token := strings.TrimSpace(parts[1])
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "missing identity token"))
			return
		}

		claims, err := verifier.Verify(token)
		if err != nil {
			switch {
			case errors.Is(err, security.ErrExpiredIdentityToken):
				c.AbortWithStatusJSON(http.StatusUnauthorized,
					newErrorResponse(c, "identity token expired"))
			case errors.Is(err, security.ErrInvalidIdentityToken):
				c.AbortWithStatusJSON(http.StatusUnauthorized,
					newErrorResponse(c, "invalid identity token"))
			default:
				c.AbortWithStatusJSON(http.StatusInternalServerError,
					newErrorResponse(c, "authentication failed"))
			}
			return
		}

		principal := domain.Principal{
			ID:          claims.PrincipalID,
			DisplayName: claims.DisplayName,
			Email:       claims.Email,
		}

		c.Set(PrincipalIDKey, principal.ID)
		c.Set(principalKey, principal)
		if claims.IssuedAt != nil {
			c.Set(authTimeKey, claims.IssuedAt.Time)
		}

		if reqCtx := GetRequestContext(c); reqCtx != nil {
			reqCtx.PrincipalID = principal.ID
		}

		c.Next()
	}
}

// GetPrincipal retrieves the authenticated principal from context.
func GetPrincipal(c *gin.Context) (domain.Principal, bool) {
	value, exists := c.Get(principalKey)
	if !exists {
		return domain.Principal{}, false
	}

	principal, ok := value.(domain.Principal)
	return principal, ok
}

// GetAuthTime returns when the caller's identity token was issued, which is
// the last demonstrated authentication. Zero when the token carries no issue
// time.
func GetAuthTime(c *gin.Context) time.Time {
	if value, exists := c.Get(authTimeKey); exists {
		if at, ok := value.(time.Time); ok {
			return at
		}
	}
	return time.Time{}
}
