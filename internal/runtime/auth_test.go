package runtime

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/trendwatch/config"
)

func TestSignAndParseToken(t *testing.T) {
	secret := []byte("s3cret")
	tok, err := SignJWT("a@example.com", secret, time.Hour, ScopeUnsubscribe)
	if err != nil {
		t.Fatalf("SignJWT: %v", err)
	}
	sub, err := ParseToken(tok, secret, ScopeUnsubscribe)
	if err != nil || sub != "a@example.com" {
		t.Fatalf("ParseToken: %q %v", sub, err)
	}
	if _, err := ParseToken(tok, secret, ScopeAdmin); err != ErrMissingScope {
		t.Fatalf("expected ErrMissingScope, got %v", err)
	}
	if _, err := ParseToken(tok, []byte("other"), ""); err == nil {
		t.Fatalf("expected signature failure")
	}
	expired, _ := SignJWT("a@example.com", secret, -time.Minute)
	if _, err := ParseToken(expired, secret, ""); err == nil {
		t.Fatalf("expected expired token to fail")
	}
}

func TestEchoAuthMiddleware(t *testing.T) {
	secret := []byte("s3cret")
	e := echo.New()
	h := EchoAuthMiddleware(secret, ScopeAdmin)(func(c echo.Context) error {
		sub, _ := SubjectFromContext(c.Request().Context())
		return c.String(http.StatusOK, sub)
	})

	cases := []struct {
		name   string
		scopes []string
		header bool
		want   int
	}{
		{"no token", nil, false, http.StatusUnauthorized},
		{"wrong scope", []string{ScopeUnsubscribe}, true, http.StatusForbidden},
		{"admin", []string{ScopeAdmin}, true, http.StatusOK},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.header {
			tok, _ := SignJWT("admin@example.com", secret, time.Hour, tc.scopes...)
			req.Header.Set("Authorization", "Bearer "+tok)
		}
		rec := httptest.NewRecorder()
		err := h(e.NewContext(req, rec))
		code := rec.Code
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
		}
		if code != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, code)
		}
	}
}

func TestEmptySecretRejectsTokens(t *testing.T) {
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":    "attacker",
		"exp":    time.Now().Add(time.Hour).Unix(),
		"scopes": []string{ScopeAdmin},
	}).SignedString([]byte{})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if sub, err := ParseToken(forged, []byte(""), ScopeAdmin); err != ErrNoSecret {
		t.Fatalf("expected ErrNoSecret, got sub=%q err=%v", sub, err)
	}
	if _, err := SignJWT("a@example.com", nil, time.Hour); err != ErrNoSecret {
		t.Fatalf("expected ErrNoSecret from SignJWT, got %v", err)
	}

	e := echo.New()
	called := false
	h := EchoAuthMiddleware(nil, ScopeAdmin)(func(c echo.Context) error {
		called = true
		return nil
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	err = h(e.NewContext(req, httptest.NewRecorder()))
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusServiceUnavailable || called {
		t.Fatalf("expected 503 without reaching handler, got %v called=%t", err, called)
	}
}

func TestBuildPostgresDSN(t *testing.T) {
	cfg := &config.Config{}
	cfg.Storage.Postgres = config.PostgresConfig{Host: "db", User: "tw", Password: "p@ss", DBName: "trendwatch"}
	dsn, err := BuildPostgresDSN(cfg)
	if err != nil {
		t.Fatalf("BuildPostgresDSN: %v", err)
	}
	if dsn != "postgres://tw:p%40ss@db:5432/trendwatch?sslmode=disable" {
		t.Fatalf("unexpected dsn %q", dsn)
	}
	cfg.Storage.Postgres = config.PostgresConfig{Host: "db"}
	if _, err := BuildPostgresDSN(cfg); err == nil {
		t.Fatalf("expected error for missing dbname")
	}
}
