package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/stagepass/stagepass-backend/pkg/config"
	"github.com/stagepass/stagepass-backend/pkg/logger"
)

func newAuthedHandler(cfg config.JWTConfig, gotUser, gotEmail *string) http.Handler {
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*gotUser = UserIDFromContext(r.Context())
		*gotEmail = BuyerEmailFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	return OptionalAuth(cfg, logg)(inner)
}

func mintToken(t *testing.T, secret, issuer, subject, email string, expires time.Time) string {
	t.Helper()
	claims := buyerClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestOptionalAuthPassesThroughWithoutHeader(t *testing.T) {
	t.Parallel()

	var user, email string
	handler := newAuthedHandler(config.JWTConfig{Secret: "s3cret", Issuer: "stagepass"}, &user, &email)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/checkout/tok", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if user != "" || email != "" {
		t.Fatalf("identity seeded without token: user=%q email=%q", user, email)
	}
}

func TestOptionalAuthSeedsBuyerIdentity(t *testing.T) {
	t.Parallel()

	cfg := config.JWTConfig{Secret: "s3cret", Issuer: "stagepass"}
	var user, email string
	handler := newAuthedHandler(cfg, &user, &email)

	token := mintToken(t, cfg.Secret, cfg.Issuer, "user-42", "grace@example.com", time.Now().Add(time.Hour))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/checkout/tok", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if user != "user-42" || email != "grace@example.com" {
		t.Fatalf("identity not seeded: user=%q email=%q", user, email)
	}
}

func TestOptionalAuthRejectsForgedToken(t *testing.T) {
	t.Parallel()

	cfg := config.JWTConfig{Secret: "s3cret", Issuer: "stagepass"}
	var user, email string
	handler := newAuthedHandler(cfg, &user, &email)

	forged := mintToken(t, "wrong-secret", cfg.Issuer, "user-42", "", time.Now().Add(time.Hour))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/checkout/tok", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestOptionalAuthRejectsExpiredToken(t *testing.T) {
	t.Parallel()

	cfg := config.JWTConfig{Secret: "s3cret", Issuer: "stagepass"}
	var user, email string
	handler := newAuthedHandler(cfg, &user, &email)

	expired := mintToken(t, cfg.Secret, cfg.Issuer, "user-42", "", time.Now().Add(-time.Minute))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/checkout/tok", nil)
	req.Header.Set("Authorization", "Bearer "+expired)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}
