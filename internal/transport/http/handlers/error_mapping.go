package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/voice4victims/medrecord-access/internal/usecase"
)

// ErrorCase maps a sentinel error to an HTTP status code and response message.
type ErrorCase struct {
	Err     error
	Status  int
	Message string
}

// Sentinel-to-status policy for session operations: a session the caller
// does not own answers 403, not 404. Session ids are unguessable, so the
// existence leak is acceptable and the clearer signal helps the portal
// distinguish "log in again" from "wrong account".
var sessionErrorCases = []ErrorCase{
	{Err: usecase.ErrSessionNotFound, Status: http.StatusNotFound, Message: "session not found"},
	{Err: usecase.ErrSessionForbidden, Status: http.StatusForbidden, Message: "session not owned by caller"},
	{Err: usecase.ErrSessionInactive, Status: http.StatusConflict, Message: "session is no longer active"},
}

// RespondWithMappedError resolves the error against the case table, falling
// back to the supplied status. The raw error never reaches the response
// body; clients get the mapped message, the log gets the cause.
func RespondWithMappedError(c *gin.Context, err error, cases []ErrorCase, fallbackStatus int, fallbackMessage string) {
	if err == nil {
		c.Status(http.StatusOK)
		return
	}

	for _, cs := range cases {
		if cs.Err == nil {
			continue
		}
		if errors.Is(err, cs.Err) {
			c.JSON(cs.Status, NewErrorResponse(c, cs.Message))
			return
		}
	}

	c.JSON(fallbackStatus, NewErrorResponse(c, fallbackMessage))
}
