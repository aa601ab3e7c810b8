package logger

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	lg   *zap.Logger
	once sync.Once
)

// New returns a singleton zap.Logger configured for structured logging.
func New(env string) (*zap.Logger, error) {
	var err error
	once.Do(func() {
		cfg := zap.NewProductionConfig()
		if env != "production" {
			cfg = zap.NewDevelopmentConfig()
			cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}

		lg, err = cfg.Build()
	})

	return lg, err
}

// WithContext attaches request scoped fields to the logger.
func WithContext(ctx context.Context) *zap.Logger {
	if lg == nil {
		lz, _ := zap.NewDevelopment()
		return lz
	}

	if ctx == nil {
		return lg
	}

	return lg.With(zap.String("request_id", requestIDFromContext(ctx)))
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if val, ok := ctx.Value(RequestIDKey{}).(string); ok {
		return val
	}
	return ""
}

// RequestIDKey is used to store a request identifier on the context.
type RequestIDKey struct{}

// This service logs around minors' medical-record identifiers, guardian
// contact data, session tokens, and caller addresses. None of them may reach
// a log line unmasked; the helpers below are the only way these values enter
// a log field.

// MaskEmail keeps up to three characters of the local part and the domain,
// enough to correlate a support ticket without exposing the mailbox.
// Example: jane.doe@example.com -> jan***@example.com
func MaskEmail(email string) string {
	if email == "" {
		return ""
	}
	local, host, ok := strings.Cut(email, "@")
	if !ok || host == "" {
		return "***"
	}
	if len(local) > 3 {
		local = local[:3]
	}
	return local + "***@" + host
}

// MaskOrigin truncates an origin address to its subnet, matching the
// granularity the hijack heuristics use: the household, not the device.
// Example: 203.0.113.44 -> 203.0.113.*
func MaskOrigin(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}

	if parts := strings.Split(addr, "."); len(parts) == 4 {
		return strings.Join(parts[:3], ".") + ".*"
	}
	if strings.Contains(addr, ":") {
		parts := strings.Split(addr, ":")
		if len(parts) > 4 {
			parts = parts[:4]
		}
		return strings.Join(parts, ":") + ":*"
	}
	return "***"
}

// MaskRecordID hides a child-record identifier beyond a short correlation
// prefix. Example: rec-7f3a9c12 -> rec-***
func MaskRecordID(id string) string {
	if id == "" {
		return ""
	}
	if len(id) <= 4 {
		return "***"
	}
	return id[:4] + "***"
}

// MaskSessionRef shortens a session reference to a correlation prefix. Raw
// session ids must never reach this package; callers pass the hashed
// reference from the audit trail.
func MaskSessionRef(ref string) string {
	if ref == "" {
		return ""
	}
	if len(ref) <= 8 {
		return "***"
	}
	return ref[:8] + "..."
}

// Pre-masked zap fields. Call sites use these instead of zap.String so a new
// log line cannot skip masking by accident.

// Origin is a pre-masked field for a caller's origin address.
func Origin(addr string) zap.Field {
	return zap.String("origin", MaskOrigin(addr))
}

// Email is a pre-masked field for a guardian's email address.
func Email(addr string) zap.Field {
	return zap.String("email", MaskEmail(addr))
}

// Record is a pre-masked field for a child-record identifier.
func Record(id string) zap.Field {
	return zap.String("record_id", MaskRecordID(id))
}

// SessionRef is a pre-masked field for a hashed session reference.
func SessionRef(ref string) zap.Field {
	return zap.String("session_ref", MaskSessionRef(ref))
}
