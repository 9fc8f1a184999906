package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func validClaims(sub string) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			Issuer:    "consult",
			Audience:  jwt.ClaimStrings{"consult-api"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Role: "doctor",
	}
}

func TestJWTVerifier_ValidToken(t *testing.T) {
	id := uuid.New()
	v := NewJWTVerifier(JWTConfig{SigningKey: testSigningKey, Issuer: "consult", Audience: "consult-api"})

	got, err := v.Verify(context.Background(), createTestToken(t, validClaims(id.String()), testSigningKey))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != id {
		t.Errorf("expected %s, got %s", id, got)
	}
}

func TestJWTVerifier_Rejects(t *testing.T) {
	id := uuid.New().String()

	expired := validClaims(id)
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))

	noExpiry := validClaims(id)
	noExpiry.ExpiresAt = nil

	wrongIssuer := validClaims(id)
	wrongIssuer.Issuer = "someone-else"

	wrongAudience := validClaims(id)
	wrongAudience.Audience = jwt.ClaimStrings{"other-api"}

	tests := []struct {
		name  string
		token string
	}{
		{"expired", createTestToken(t, expired, testSigningKey)},
		{"no expiry", createTestToken(t, noExpiry, testSigningKey)},
		{"wrong issuer", createTestToken(t, wrongIssuer, testSigningKey)},
		{"wrong audience", createTestToken(t, wrongAudience, testSigningKey)},
		{"wrong key", createTestToken(t, validClaims(id), []byte("another-key"))},
		{"subject not a uuid", createTestToken(t, validClaims("alice"), testSigningKey)},
		{"garbage", "not.a.jwt"},
	}

	v := NewJWTVerifier(JWTConfig{SigningKey: testSigningKey, Issuer: "consult", Audience: "consult-api"})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), tt.token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestJWTVerifier_NoKeyConfigured(t *testing.T) {
	v := NewJWTVerifier(JWTConfig{})
	if _, err := v.Verify(context.Background(), createTestToken(t, validClaims(uuid.NewString()), testSigningKey)); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestJWTVerifier_JWKS(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(jwksResponse{Keys: []jwksKey{{
			Kty: "RSA",
			Kid: "k1",
			Alg: "RS256",
			N:   base64.RawURLEncoding.EncodeToString(priv.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(priv.E)).Bytes()),
		}}})
	}))
	defer srv.Close()

	id := uuid.New()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, validClaims(id.String()))
	token.Header["kid"] = "k1"
	signed, err := token.SignedString(priv)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	v := NewJWTVerifier(JWTConfig{JWKSURL: srv.URL})
	got, err := v.Verify(context.Background(), signed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != id {
		t.Errorf("expected %s, got %s", id, got)
	}

	token.Header["kid"] = "unknown"
	signed, _ = token.SignedString(priv)
	if _, err := v.Verify(context.Background(), signed); err == nil {
		t.Error("expected unknown kid to fail")
	}
}

func TestDevVerifier(t *testing.T) {
	id := uuid.New()
	got, err := DevVerifier{}.Verify(context.Background(), id.String())
	if err != nil || got != id {
		t.Fatalf("expected %s, got %s (%v)", id, got, err)
	}
	if _, err := (DevVerifier{}).Verify(context.Background(), "nobody"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}
