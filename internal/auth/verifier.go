// Package auth verifies bearer credentials and yields the caller's user id.
// Tokens are JWTs signed either with a shared HMAC secret (the hosted
// auth provider's project secret) or with keys published on a JWKS endpoint.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthenticated is returned for a missing, malformed or invalid credential
var ErrUnauthenticated = errors.New("unauthenticated")

// Claims is the subset of token claims we rely on
type Claims struct {
	jwt.RegisteredClaims
	Role  string `json:"role,omitempty"`
	Email string `json:"email,omitempty"`
}

// Config holds credential verification settings
type Config struct {
	JWTSecret       string
	JWKSURL         string
	Issuer          string
	Audience        string
	Leeway          time.Duration
	RefreshInterval time.Duration
	ClientTimeout   time.Duration
}

// Verifier validates bearer tokens
type Verifier struct {
	keyfunc jwt.Keyfunc
	methods []string
	options []jwt.ParserOption
	logger  *slog.Logger
}

// NewVerifier creates a verifier from config. JWKSURL takes precedence over JWTSecret.
func NewVerifier(ctx context.Context, cfg Config, logger *slog.Logger) (*Verifier, error) {
	logger = logger.With(slog.String("component", "auth"))

	switch {
	case cfg.JWKSURL != "":
		storage, err := jwkset.NewStorageFromHTTP(cfg.JWKSURL, jwkset.HTTPClientStorageOptions{
			Client:                    &http.Client{Timeout: cfg.ClientTimeout},
			Ctx:                       ctx,
			NoErrorReturnFirstHTTPReq: true,
			RefreshInterval:           cfg.RefreshInterval,
			RefreshErrorHandler: func(_ context.Context, err error) {
				logger.Error("Failed to refresh JWKS",
					slog.String("error", err.Error()),
					slog.String("url", cfg.JWKSURL),
				)
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create JWKS storage: %w", err)
		}
		k, err := keyfunc.New(keyfunc.Options{Ctx: ctx, Storage: storage})
		if err != nil {
			return nil, fmt.Errorf("failed to create keyfunc: %w", err)
		}
		return NewVerifierWithKeyfunc(k.Keyfunc, []string{"RS256", "ES256"}, cfg, logger), nil

	case cfg.JWTSecret != "":
		secret := []byte(cfg.JWTSecret)
		kf := func(*jwt.Token) (any, error) { return secret, nil }
		return NewVerifierWithKeyfunc(kf, []string{"HS256"}, cfg, logger), nil

	default:
		return nil, errors.New("auth requires jwt_secret or jwks_url")
	}
}

// NewVerifierWithKeyfunc creates a verifier around an explicit key function
func NewVerifierWithKeyfunc(kf jwt.Keyfunc, methods []string, cfg Config, logger *slog.Logger) *Verifier {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(methods),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &Verifier{
		keyfunc: kf,
		methods: methods,
		options: opts,
		logger:  logger,
	}
}

// Verify validates a raw token and returns its subject
func (v *Verifier) Verify(_ context.Context, token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("%w: empty token", ErrUnauthenticated)
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, v.keyfunc, v.options...)
	if err != nil {
		v.logger.Debug("Token validation failed", slog.String("error", err.Error()))
		return "", fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if !parsed.Valid {
		return "", fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrUnauthenticated)
	}

	return subject, nil
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header value
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", fmt.Errorf("%w: missing authorization header", ErrUnauthenticated)
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", fmt.Errorf("%w: expected bearer token", ErrUnauthenticated)
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", fmt.Errorf("%w: empty bearer token", ErrUnauthenticated)
	}
	return token, nil
}
