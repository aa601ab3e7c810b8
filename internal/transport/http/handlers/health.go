package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// DependencyChecker reports whether a backing dependency is reachable.
type DependencyChecker func() (bool, string)

// HealthHandler exposes liveness and readiness information.
type HealthHandler struct {
	startedAt time.Time
	checks    map[string]DependencyChecker
}

// NewHealthHandler builds a new health handler instance.
func NewHealthHandler(checks map[string]DependencyChecker) *HealthHandler {
	return &HealthHandler{
		startedAt: time.Now().UTC(),
		checks:    checks,
	}
}

// Status reports liveness.
func (h *HealthHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		StartedAt: h.startedAt,
		Timestamp: time.Now().UTC(),
	})
}

// Ready runs the dependency checks and reports 503 when any fails.
func (h *HealthHandler) Ready(c *gin.Context) {
	status := "ready"
	code := http.StatusOK
	results := make(map[string]string, len(h.checks))

	for name, check := range h.checks {
		ok, detail := check()
		if ok {
			results[name] = "ok"
			continue
		}
		status = "degraded"
		code = http.StatusServiceUnavailable
		if detail == "" {
			detail = "unavailable"
		}
		results[name] = detail
	}

	c.JSON(code, ReadyResponse{
		Status:    status,
		Checks:    results,
		Timestamp: time.Now().UTC(),
	})
}
