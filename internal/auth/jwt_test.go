package auth

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"huddle/internal/config"
	"huddle/pkg/types"
)

func newTestManager(t *testing.T) *TokenManager {
	t.Helper()
	m, err := NewTokenManager(config.AuthConfig{
		JWTSecret: "test-secret-with-enough-length",
		Issuer:    "huddle-test",
		TokenTTL:  time.Hour,
	})
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}
	return m
}

func TestIssueAndValidate(t *testing.T) {
	m := newTestManager(t)

	token, err := m.Issue("alice")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := m.Validate(token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.UserID != "alice" || claims.Subject != "alice" {
		t.Errorf("unexpected claims %+v", claims)
	}

	userID, err := m.Authenticate(token)
	if err != nil || userID != "alice" {
		t.Errorf("Authenticate = %q, %v", userID, err)
	}
}

func TestIssueRejectsInvalidUserID(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.Issue("bad id!"); !errors.Is(err, types.ErrInvalidUserID) {
		t.Fatalf("expected ErrInvalidUserID, got %v", err)
	}
}

func TestValidateFailures(t *testing.T) {
	m := newTestManager(t)
	good, _ := m.Issue("alice")

	other, _ := NewTokenManager(config.AuthConfig{JWTSecret: "another-secret-of-enough-length", Issuer: "huddle-test"})
	foreign, _ := other.Issue("alice")

	wrongIssuer, _ := NewTokenManager(config.AuthConfig{JWTSecret: "test-secret-with-enough-length", Issuer: "someone-else"})
	misissued, _ := wrongIssuer.Issue("alice")

	expiredMgr := newTestManager(t)
	expiredMgr.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _ := expiredMgr.Issue("alice")

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UserID: "alice"})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not.a.token"},
		{"tampered", good + "x"},
		{"wrong secret", foreign},
		{"wrong issuer", misissued},
		{"expired", expired},
		{"alg none", unsigned},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Validate(tt.token)
			if !errors.Is(err, types.ErrAuth) {
				t.Fatalf("expected ErrAuth, got %v", err)
			}
		})
	}
}

func TestTokenFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		target string
		header string
		want   string
	}{
		{"bearer header", "/ws", "Bearer abc", "abc"},
		{"lowercase scheme", "/ws", "bearer abc", "abc"},
		{"query param", "/ws?token=qq", "", "qq"},
		{"header wins", "/ws?token=qq", "Bearer hh", "hh"},
		{"basic ignored", "/ws?token=qq", "Basic xyz", "qq"},
		{"none", "/ws", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.target, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			if got := TokenFromRequest(r); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
