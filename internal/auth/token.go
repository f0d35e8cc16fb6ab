package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ncecere/usage_dashboard/internal/rbac"
)

var (
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrMissingClaim = errors.New("token missing required claim")
)

// TokenManager verifies HS256 bearer tokens issued by the surrounding
// identity provider. Token issuance is out of scope for this service; the
// Generate helper exists for the mktoken dev tool and tests.
type TokenManager struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

func NewTokenManager(secret, issuer string, ttl time.Duration) (*TokenManager, error) {
	if secret == "" {
		return nil, errors.New("token secret required")
	}
	if ttl <= 0 {
		return nil, errors.New("token ttl must be > 0")
	}
	return &TokenManager{secret: []byte(secret), issuer: issuer, ttl: ttl}, nil
}

// Authorize validates the token and extracts the caller's identity from the
// sub and role claims.
func (tm *TokenManager) Authorize(token string) (rbac.Identity, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return tm.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return rbac.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return rbac.Identity{}, ErrInvalidToken
	}

	if tm.issuer != "" {
		if iss, _ := claims["iss"].(string); iss != tm.issuer {
			return rbac.Identity{}, fmt.Errorf("%w: issuer %q", ErrInvalidToken, iss)
		}
	}

	sub, _ := claims["sub"].(string)
	if strings.TrimSpace(sub) == "" {
		return rbac.Identity{}, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	roleClaim, _ := claims["role"].(string)
	role, ok := rbac.ParseRole(roleClaim)
	if !ok {
		return rbac.Identity{}, fmt.Errorf("%w: role", ErrMissingClaim)
	}

	return rbac.Identity{UserID: sub, Role: role}, nil
}

// Generate signs a token for the given principal.
func (tm *TokenManager) Generate(userID string, role rbac.Role) (string, time.Time, error) {
	now := time.Now()
	expires := now.Add(tm.ttl)
	claims := jwt.MapClaims{
		"sub":  userID,
		"role": string(role),
		"iat":  now.Unix(),
		"exp":  expires.Unix(),
		"jti":  uuid.NewString(),
	}
	if tm.issuer != "" {
		claims["iss"] = tm.issuer
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(tm.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}
