package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/voice4victims/medrecord-access/internal/core/domain"
	"github.com/voice4victims/medrecord-access/internal/infra/config"
	"github.com/voice4victims/medrecord-access/internal/infra/security"
	"github.com/voice4victims/medrecord-access/internal/repository"
	"github.com/voice4victims/medrecord-access/internal/usecase"
)

const testSecret = "routes-test-secret"

type memorySessionRepo struct {
	sessions map[string]domain.Session
}

func newMemorySessionRepo() *memorySessionRepo {
	return &memorySessionRepo{sessions: make(map[string]domain.Session)}
}

func (r *memorySessionRepo) Create(_ context.Context, session domain.Session) error {
	r.sessions[session.ID] = session
	return nil
}

func (r *memorySessionRepo) Get(_ context.Context, sessionID string) (*domain.Session, error) {
	session, ok := r.sessions[sessionID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := session
	return &copied, nil
}

func (r *memorySessionRepo) ListActiveByPrincipal(_ context.Context, principalID string) ([]domain.Session, error) {
	var out []domain.Session
	for _, session := range r.sessions {
		if session.PrincipalID == principalID && session.Valid {
			out = append(out, session)
		}
	}
	return out, nil
}

func (r *memorySessionRepo) Touch(_ context.Context, sessionID string, at time.Time) error {
	session := r.sessions[sessionID]
	session.LastActivityAt = at
	r.sessions[sessionID] = session
	return nil
}

func (r *memorySessionRepo) ExtendExpiry(_ context.Context, sessionID string, expiresAt, _ time.Time) error {
	session := r.sessions[sessionID]
	session.ExpiresAt = expiresAt
	r.sessions[sessionID] = session
	return nil
}

func (r *memorySessionRepo) Invalidate(_ context.Context, sessionID, reason string, at time.Time) error {
	session := r.sessions[sessionID]
	session.Valid = false
	session.InvalidatedAt = &at
	session.InvalidateReason = &reason
	r.sessions[sessionID] = session
	return nil
}

func (r *memorySessionRepo) InvalidateAllForPrincipal(_ context.Context, principalID, reason string, at time.Time) (int, error) {
	count := 0
	for id, session := range r.sessions {
		if session.PrincipalID == principalID && session.Valid {
			session.Valid = false
			session.InvalidatedAt = &at
			session.InvalidateReason = &reason
			r.sessions[id] = session
			count++
		}
	}
	return count, nil
}

func (r *memorySessionRepo) Elevate(_ context.Context, sessionID string, expiresAt time.Time, authenticatedAt *time.Time, at time.Time) error {
	session := r.sessions[sessionID]
	session.SecurityLevel = domain.SecurityLevelElevated
	session.ExpiresAt = expiresAt
	if authenticatedAt != nil {
		session.AuthenticatedAt = *authenticatedAt
	}
	session.LastActivityAt = at
	r.sessions[sessionID] = session
	return nil
}

func (r *memorySessionRepo) StoreEvent(_ context.Context, _ domain.SessionEvent) error {
	return nil
}

func testRouter(t *testing.T) (http.Handler, *memorySessionRepo) {
	t.Helper()

	verifier, err := security.NewIdentityVerifier(testSecret, "")
	if err != nil {
		t.Fatalf("build verifier: %v", err)
	}

	repo := newMemorySessionRepo()
	sessions := usecase.NewSessionManager(repo, nil, nil, nil, usecase.SessionConfig{}, zap.NewNop())

	cfg := &config.AppConfig{}
	cfg.App.Env = "test"
	cfg.App.AllowedOrigins = []string{"*"}

	return Register(Dependencies{
		Config:   cfg,
		Logger:   zap.NewNop(),
		Services: ServiceSet{Sessions: sessions},
		Verifier: verifier,
	}), repo
}

func signIdentityToken(t *testing.T, principalID string) string {
	t.Helper()

	claims := security.PrincipalClaims{
		PrincipalID: principalID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := testRouter(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d, want 200", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("status = %v, want ok", body["status"])
	}
}

func TestAPIRequiresIdentityToken(t *testing.T) {
	router, _ := testRouter(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want 401", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status with garbage token = %d, want 401", rec.Code)
	}
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	router, _ := testRouter(t)
	token := signIdentityToken(t, "principal-1")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("create session status = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	var created map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create body: %v", err)
	}
	sessionID, _ := created["id"].(string)
	if sessionID == "" {
		t.Fatal("created session has no id")
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("list sessions status = %d, want 200", rec.Code)
	}

	var listed map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode list body: %v", err)
	}
	if total, _ := listed["total"].(float64); total != 1 {
		t.Fatalf("total = %v, want 1", listed["total"])
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodDelete, "/api/v1/sessions/"+sessionID, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("revoke session status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
}

func TestSessionElevateDoesNotCountAsAuthentication(t *testing.T) {
	router, repo := testRouter(t)
	token := signIdentityToken(t, "principal-1")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("create session status = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	var created map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create body: %v", err)
	}
	sessionID, _ := created["id"].(string)
	loginAt := repo.sessions[sessionID].AuthenticatedAt

	// The token carries no issue time, so elevation raises posture without
	// reopening the sensitive-operation window.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/sessions/"+sessionID+"/elevate", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("elevate status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	stored := repo.sessions[sessionID]
	if stored.SecurityLevel != domain.SecurityLevelElevated {
		t.Fatalf("security level = %s, want elevated", stored.SecurityLevel)
	}
	if !stored.AuthenticatedAt.Equal(loginAt) {
		t.Fatalf("authenticated at = %v, want the login time %v untouched", stored.AuthenticatedAt, loginAt)
	}
}
