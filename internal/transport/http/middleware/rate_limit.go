package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/voice4victims/medrecord-access/internal/infra/security"
)

const (
	rateLimitProblemType  = "https://access.voice4victims.example.com/errors/rate-limit-exceeded"
	rateLimitProblemTitle = "Rate Limit Exceeded"
)

// RateLimitStore is the sliding-window persistence the limiter runs on.
type RateLimitStore interface {
	TrimWindow(ctx context.Context, identifier string, window time.Duration, reference time.Time) error
	CountAttempts(ctx context.Context, identifier string, window time.Duration, reference time.Time) (int, error)
	RecordAttempt(ctx context.Context, identifier string, at time.Time) error
	OldestAttempt(ctx context.Context, identifier string, window time.Duration, reference time.Time) (time.Time, bool, error)
}

// KeyFunc derives the storage key a request is charged against. A false
// return means the budget does not apply to this request.
type KeyFunc func(*gin.Context) (string, bool)

// Budget is one transport-level request budget. Two are wired: a per-origin
// budget keyed on the caller's subnet, applied before identity is known, and
// a per-principal budget applied after. Both sit in front of the engine's
// own per-principal authorization limiter, which has separate accounting.
type Budget struct {
	Name   string
	Limit  int
	Window time.Duration
	Key    KeyFunc
}

// ByOriginSubnet keys a budget on the caller's subnet rather than the exact
// address. A household NAT shares one budget; a guardian and a child on the
// same network cannot multiply it by rotating device addresses.
func ByOriginSubnet() KeyFunc {
	return func(c *gin.Context) (string, bool) {
		prefix := security.SubnetPrefix(c.ClientIP())
		if prefix == "" {
			return "", false
		}
		return "origin:" + prefix, true
	}
}

// ByPrincipal keys a budget on the authenticated principal. Anonymous
// requests are not charged; they only ever see the origin budget.
func ByPrincipal() KeyFunc {
	return func(c *gin.Context) (string, bool) {
		principalID := c.GetString(PrincipalIDKey)
		if principalID == "" {
			return "", false
		}
		return "principal:" + principalID, true
	}
}

// TransportLimiter enforces request budgets at the HTTP edge. Store failures
// fail open: a degraded limiter store must not take guardian access to a
// child's records down with it.
type TransportLimiter struct {
	store  RateLimitStore
	logger *zap.Logger
	now    func() time.Time
}

// NewTransportLimiter builds a limiter over the supplied store.
func NewTransportLimiter(store RateLimitStore, logger *zap.Logger) *TransportLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransportLimiter{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock overrides the limiter clock for deterministic tests.
func (tl *TransportLimiter) WithClock(now func() time.Time) *TransportLimiter {
	if now != nil {
		tl.now = now
	}
	return tl
}

type budgetVerdict struct {
	allowed    bool
	limit      int
	remaining  int
	resetAt    time.Time
	retryAfter time.Duration
}

// Enforce returns a middleware charging requests against the budget. A
// misconfigured budget enforces nothing.
func (tl *TransportLimiter) Enforce(b Budget) gin.HandlerFunc {
	if b.Name == "" {
		b.Name = "default"
	}

	return func(c *gin.Context) {
		if tl.store == nil || b.Key == nil || b.Limit <= 0 || b.Window <= 0 {
			c.Next()
			return
		}

		key, ok := b.Key(c)
		if !ok {
			c.Next()
			return
		}
		key = b.Name + ":" + key

		verdict, err := tl.take(c.Request.Context(), b, key)
		if err != nil {
			tl.logger.Warn("rate budget check failed",
				zap.String("budget", b.Name),
				zap.Error(err),
			)
			c.Next()
			return
		}

		tl.writeHeaders(c, verdict)
		if !verdict.allowed {
			tl.reject(c, verdict)
			return
		}

		c.Next()
	}
}

// take trims the window, counts attempts, and records the new one when the
// budget still has room. A full budget records nothing; blocked requests do
// not extend their own block.
func (tl *TransportLimiter) take(ctx context.Context, b Budget, key string) (budgetVerdict, error) {
	now := tl.now()

	if err := tl.store.TrimWindow(ctx, key, b.Window, now); err != nil {
		return budgetVerdict{}, err
	}

	count, err := tl.store.CountAttempts(ctx, key, b.Window, now)
	if err != nil {
		return budgetVerdict{}, err
	}

	verdict := budgetVerdict{
		limit:   b.Limit,
		resetAt: now.Add(b.Window),
	}
	if oldest, found, err := tl.store.OldestAttempt(ctx, key, b.Window, now); err != nil {
		return budgetVerdict{}, err
	} else if found {
		verdict.resetAt = oldest.Add(b.Window)
	}

	if count >= b.Limit {
		verdict.retryAfter = verdict.resetAt.Sub(now)
		if verdict.retryAfter < 0 {
			verdict.retryAfter = 0
		}
		return verdict, nil
	}

	if err := tl.store.RecordAttempt(ctx, key, now); err != nil {
		return budgetVerdict{}, err
	}

	verdict.allowed = true
	verdict.remaining = b.Limit - count - 1
	return verdict, nil
}

func (tl *TransportLimiter) writeHeaders(c *gin.Context, v budgetVerdict) {
	headers := c.Writer.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(v.limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(v.remaining))
	headers.Set("X-RateLimit-Reset", strconv.FormatInt(v.resetAt.Unix(), 10))
	if !v.allowed {
		headers.Set("Retry-After", strconv.Itoa(retrySeconds(v.retryAfter)))
	}
}

// ProblemDetails is the RFC 9457 payload rejected requests receive.
type ProblemDetails struct {
	Type       string `json:"type"`
	Title      string `json:"title"`
	Status     int    `json:"status"`
	Detail     string `json:"detail"`
	Instance   string `json:"instance"`
	RetryAfter int    `json:"retry_after"`
	TraceID    string `json:"trace_id,omitempty"`
}

func (tl *TransportLimiter) reject(c *gin.Context, v budgetVerdict) {
	seconds := retrySeconds(v.retryAfter)

	instance := c.FullPath()
	if instance == "" {
		instance = c.Request.URL.Path
	}

	c.AbortWithStatusJSON(http.StatusTooManyRequests, ProblemDetails{
		Type:       rateLimitProblemType,
		Title:      rateLimitProblemTitle,
		Status:     http.StatusTooManyRequests,
		Detail:     "Too many requests. Try again in " + strconv.Itoa(seconds) + " seconds.",
		Instance:   instance,
		RetryAfter: seconds,
		TraceID:    GetTraceID(c),
	})
}

func retrySeconds(d time.Duration) int {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds < 0 {
		return 0
	}
	return seconds
}
