package router

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/medpoint/telecare-platform/internal/accounts"
	"github.com/medpoint/telecare-platform/internal/auth"
	httpmiddleware "github.com/medpoint/telecare-platform/internal/http/middleware"
	"github.com/medpoint/telecare-platform/pkg/logging"
)

const testSecret = "router-test-secret"

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	cfg := &Config{
		Logger:          logging.Default(),
		AccountsHandler: accounts.NewHandler(nil, logging.Default()),
		AuthJWTSecret:   testSecret,
	}
	return New(cfg)
}

func accessTokenFor(t *testing.T, role accounts.Role) string {
	t.Helper()
	issuer := auth.NewTokenIssuer(testSecret, 15*time.Minute, time.Hour)
	pair, _, _, err := issuer.Issue(&accounts.Account{
		ID:    uuid.New(),
		Email: "test@example.com",
		Role:  role,
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return pair.AccessToken
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode health response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", resp["status"])
	}
}

func TestAPIRequiresToken(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected %d without a token, got %d", http.StatusUnauthorized, rr.Code)
	}
}

func TestAPIRejectsGarbageToken(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected %d for a bad token, got %d", http.StatusUnauthorized, rr.Code)
	}
}

func TestValidTokenReachesHandler(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+accessTokenFor(t, accounts.RolePatient))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	// The store is nil so the handler fails, but auth must have passed.
	if rr.Code == http.StatusUnauthorized {
		t.Fatalf("valid token was rejected: %d", rr.Code)
	}
}

func TestAdminDisabledWithoutSecret(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected %d when admin console is not configured, got %d", http.StatusNotFound, rr.Code)
	}
}

func TestFakePaymentsDisabledByDefault(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost,
		"/payments/fake/"+uuid.NewString()+"/complete", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected %d when fake payments are off, got %d", http.StatusNotFound, rr.Code)
	}
}

func TestAdminJWTGate(t *testing.T) {
	// A configured admin secret turns the console on but still requires a
	// token, even without a database the middleware answers first.
	cfg := &Config{
		Logger:         logging.Default(),
		AuthJWTSecret:  testSecret,
		AdminJWTSecret: "admin-secret",
	}
	router := New(cfg)

	req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	// Without a DB the console is not mounted at all.
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected %d, got %d", http.StatusNotFound, rr.Code)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	router := newTestRouter(t)

	claims := httpmiddleware.UserClaims{
		Role: httpmiddleware.RolePatient,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected %d for an expired token, got %d", http.StatusUnauthorized, rr.Code)
	}
}
