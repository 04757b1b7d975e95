package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"notify-gateway/internal/common/errors"
	"notify-gateway/internal/common/logging"
)

const bearerPrefix = "Bearer "

// Claims is the verified payload of a caller's bearer token. Derived
// transiently per request, never persisted.
type Claims struct {
	Subject   string
	Role      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type tokenClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Gate verifies bearer tokens against the shared signing secret.
type Gate struct {
	secret []byte
	logger logging.Logger
}

func NewGate(secret string, logger logging.Logger) *Gate {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Gate{
		secret: []byte(secret),
		logger: logger,
	}
}

// ExtractToken pulls a bearer credential from the request. Header lookup is
// case-insensitive, and the "Bearer " prefix is optional.
func ExtractToken(r *http.Request) string {
	value := r.Header.Get("Authorization")
	if value == "" {
		// Non-canonical casings set directly on the header map bypass
		// textproto canonicalization, so scan for them explicitly.
		for _, name := range []string{"authorization", "AUTHORIZATION"} {
			if vals, ok := r.Header[name]; ok && len(vals) > 0 {
				value = vals[0]
				break
			}
		}
	}
	if value == "" {
		return ""
	}

	if len(value) > len(bearerPrefix) && strings.EqualFold(value[:len(bearerPrefix)], bearerPrefix) {
		return strings.TrimSpace(value[len(bearerPrefix):])
	}
	return strings.TrimSpace(value)
}

// ValidateToken verifies the token signature and expiry. It fails closed:
// any misconfiguration or malformed token yields an authentication error,
// never a panic. Signature internals are logged, not surfaced.
func (g *Gate) ValidateToken(token string) (*Claims, error) {
	if len(g.secret) == 0 {
		g.logger.Error("token validation attempted without signing secret", nil)
		return nil, errors.AuthError("authentication unavailable")
	}

	parsed, err := jwt.ParseWithClaims(token, &tokenClaims{}, func(t *jwt.Token) (interface{}, error) {
		return g.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		g.logger.Warn("token validation failed", logging.Err(err))
		return nil, errors.AuthError("invalid or expired token")
	}

	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid {
		g.logger.Warn("token carried unexpected claims payload")
		return nil, errors.AuthError("invalid or expired token")
	}

	result := &Claims{
		Subject: claims.Subject,
		Role:    claims.Role,
	}
	if claims.IssuedAt != nil {
		result.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		result.ExpiresAt = claims.ExpiresAt.Time
	}

	return result, nil
}

// Authenticate extracts and validates the request's bearer token.
func (g *Gate) Authenticate(r *http.Request) (*Claims, error) {
	token := ExtractToken(r)
	if token == "" {
		return nil, errors.AuthError("missing bearer token")
	}
	return g.ValidateToken(token)
}

// Sign issues an HS256 token for the given subject and role. Used by
// operational tooling and tests; the gateway itself never issues tokens to
// callers.
func (g *Gate) Sign(subject, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString(g.secret)
}
