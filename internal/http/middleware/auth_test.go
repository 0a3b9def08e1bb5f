package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func signTestToken(t *testing.T, role Role, subject string, secret string, expiry time.Duration) string {
	t.Helper()
	claims := UserClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestAuthRejectsMissingHeader(t *testing.T) {
	h := Auth(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be reached")
	}))

	r := httptest.NewRequest("GET", "/api/me/profile", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestAuthRejectsExpiredToken(t *testing.T) {
	h := Auth(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be reached")
	}))

	r := httptest.NewRequest("GET", "/api/me/profile", nil)
	r.Header.Set("Authorization", "Bearer "+signTestToken(t, RolePatient, "p1", testSecret, -time.Minute))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestAuthRejectsWrongSecret(t *testing.T) {
	h := Auth(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be reached")
	}))

	r := httptest.NewRequest("GET", "/api/me/profile", nil)
	r.Header.Set("Authorization", "Bearer "+signTestToken(t, RolePatient, "p1", "other-secret", time.Minute))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestAuthPutsClaimsInContext(t *testing.T) {
	var gotID string
	var gotRole Role
	h := Auth(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := UserClaimsFromContext(r.Context())
		if !ok {
			t.Fatal("claims missing from context")
		}
		gotID = claims.Subject
		gotRole = claims.Role
	}))

	r := httptest.NewRequest("GET", "/api/me/profile", nil)
	r.Header.Set("Authorization", "Bearer "+signTestToken(t, RoleClinician, "c42", testSecret, time.Minute))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if gotID != "c42" || gotRole != RoleClinician {
		t.Errorf("claims = (%q, %q), want (c42, clinician)", gotID, gotRole)
	}
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name     string
		tokenAs  Role
		requires Role
		want     int
	}{
		{"patient on patient route", RolePatient, RolePatient, http.StatusOK},
		{"patient on clinician route", RolePatient, RoleClinician, http.StatusForbidden},
		{"clinician on clinician route", RoleClinician, RoleClinician, http.StatusOK},
		{"admin passes any gate", RoleAdmin, RoleClinician, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
			h := Auth(testSecret)(RequireRole(tt.requires)(inner))

			r := httptest.NewRequest("GET", "/", nil)
			r.Header.Set("Authorization", "Bearer "+signTestToken(t, tt.tokenAs, "u1", testSecret, time.Minute))
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestRateLimiterAllowsBurstThenBlocks(t *testing.T) {
	rl := NewRateLimiter(0.0001, 3)
	ip := "10.0.0.1"
	for i := 0; i < 3; i++ {
		if !rl.Allow(ip) {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.Allow(ip) {
		t.Error("4th request should be blocked")
	}
	// Other IPs keep their own bucket.
	if !rl.Allow("10.0.0.2") {
		t.Error("different ip should be allowed")
	}
}
