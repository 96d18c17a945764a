package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "super-secret-jwt-token-with-at-least-32-characters"
	testKeyID  = "test-key"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func signHS256(t *testing.T, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func validClaims(subject string) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Audience:  jwt.ClaimStrings{"authenticated"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Role: "authenticated",
	}
}

func newSecretVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier(context.Background(), Config{JWTSecret: testSecret, Audience: "authenticated"}, testLogger())
	require.NoError(t, err)
	return v
}

func TestVerifier_HS256(t *testing.T) {
	v := newSecretVerifier(t)

	userID, err := v.Verify(context.Background(), signHS256(t, validClaims("u1")))
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)
}

func TestVerifier_Rejects(t *testing.T) {
	v := newSecretVerifier(t)

	expired := validClaims("u1")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))

	noExp := validClaims("u1")
	noExp.ExpiresAt = nil

	noSubject := validClaims("")

	wrongAudience := validClaims("u1")
	wrongAudience.Audience = jwt.ClaimStrings{"anon"}

	otherSecret, err := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims("u1")).SignedString([]byte("another-secret-another-secret-xx"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"garbage", "not-a-jwt"},
		{"expired", signHS256(t, expired)},
		{"missing exp", signHS256(t, noExp)},
		{"missing subject", signHS256(t, noSubject)},
		{"wrong audience", signHS256(t, wrongAudience)},
		{"wrong secret", otherSecret},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), tt.token)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrUnauthenticated)
		})
	}
}

func buildJWKSetJSON(pub *rsa.PublicKey, kid string) json.RawMessage {
	jwks := map[string]any{
		"keys": []map[string]any{
			{
				"kty": "RSA",
				"kid": kid,
				"use": "sig",
				"alg": "RS256",
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			},
		},
	}
	data, _ := json.Marshal(jwks)
	return data
}

func TestVerifier_JWKS(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	kf, err := keyfunc.NewJWKSetJSON(buildJWKSetJSON(&key.PublicKey, testKeyID))
	require.NoError(t, err)

	v := NewVerifierWithKeyfunc(kf.Keyfunc, []string{"RS256"}, Config{}, testLogger())

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, validClaims("u-rsa"))
	token.Header["kid"] = testKeyID
	signed, err := token.SignedString(key)
	require.NoError(t, err)

	userID, err := v.Verify(context.Background(), signed)
	require.NoError(t, err)
	assert.Equal(t, "u-rsa", userID)

	// An HS256 token must not be accepted by an RS256-only verifier
	_, err = v.Verify(context.Background(), signHS256(t, validClaims("u1")))
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestNewVerifier_RequiresKeyMaterial(t *testing.T) {
	_, err := NewVerifier(context.Background(), Config{}, testLogger())
	require.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{"valid", "Bearer abc.def.ghi", "abc.def.ghi", false},
		{"lowercase scheme", "bearer abc", "abc", false},
		{"missing", "", "", true},
		{"basic scheme", "Basic dXNlcjpwYXNz", "", true},
		{"no token", "Bearer ", "", true},
		{"no separator", "Bearer", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BearerToken(tt.header)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrUnauthenticated)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
