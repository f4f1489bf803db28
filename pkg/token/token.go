// Package token issues and verifies the signed bearer credentials that
// authenticate API callers. Tokens are stateless: identity is recomputed from
// the claims on every request and never cached.
package token

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role is the coarse authorization level carried inside an access token.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// Identity is the trusted view of a caller derived from a verified token.
// Request-scoped; never persisted.
type Identity struct {
	UserID uint
	Email  string
	Role   Role
}

var (
	ErrExpired      = errors.New("token expired")
	ErrMalformed    = errors.New("token malformed")
	ErrBadSignature = errors.New("token signature invalid")
	ErrWrongType    = errors.New("token type mismatch")
	ErrEmptyClaims  = errors.New("token claims empty")
)

const refreshType = "refresh"

type accessClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

type refreshClaims struct {
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// Manager holds the process-wide signing secret and token lifetimes.
type Manager struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// Option adjusts a Manager at construction time.
type Option func(*Manager)

// WithClock substitutes the time source used for issuance and validation.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager fails on a missing secret rather than signing with an empty key.
func NewManager(secret string, accessTTL, refreshTTL time.Duration, opts ...Option) (*Manager, error) {
	if secret == "" {
		return nil, errors.New("token: signing secret is required")
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, fmt.Errorf("token: lifetimes must be positive (access=%s refresh=%s)", accessTTL, refreshTTL)
	}
	m := &Manager{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// IssueAccessToken signs a short-lived credential embedding the identity.
func (m *Manager) IssueAccessToken(id Identity) (string, error) {
	now := m.now()
	claims := accessClaims{
		Email: id.Email,
		Role:  string(id.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(id.UserID), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.accessTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// IssueRefreshToken signs a longer-lived credential that authorizes only
// re-issuance. It carries no email or role on purpose.
func (m *Manager) IssueRefreshToken(userID uint) (string, error) {
	now := m.now()
	claims := refreshClaims{
		TokenType: refreshType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(userID), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.refreshTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// Verify checks signature and expiry and returns the embedded identity.
// Refresh tokens are rejected here; they never grant direct API access.
func (m *Manager) Verify(raw string) (Identity, error) {
	claims := &accessClaims{}
	if err := m.parse(raw, claims); err != nil {
		return Identity{}, err
	}
	if claims.Subject == "" {
		return Identity{}, ErrEmptyClaims
	}
	userID, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: bad subject %q", ErrMalformed, claims.Subject)
	}
	role := Role(claims.Role)
	if role != RoleUser && role != RoleAdmin {
		return Identity{}, fmt.Errorf("%w: unknown role %q", ErrEmptyClaims, claims.Role)
	}
	return Identity{UserID: uint(userID), Email: claims.Email, Role: role}, nil
}

// VerifyRefresh checks a refresh token and returns the subject user ID.
func (m *Manager) VerifyRefresh(raw string) (uint, error) {
	claims := &refreshClaims{}
	if err := m.parse(raw, claims); err != nil {
		return 0, err
	}
	if claims.TokenType != refreshType {
		return 0, ErrWrongType
	}
	if claims.Subject == "" {
		return 0, ErrEmptyClaims
	}
	userID, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad subject %q", ErrMalformed, claims.Subject)
	}
	return uint(userID), nil
}

// Validate reports whether raw is a currently usable access token.
func (m *Manager) Validate(raw string) bool {
	_, err := m.Verify(raw)
	return err == nil
}

func (m *Manager) parse(raw string, claims jwt.Claims) error {
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(m.now))
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return ErrExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return ErrBadSignature
		case errors.Is(err, jwt.ErrTokenMalformed):
			return ErrMalformed
		default:
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	if !tok.Valid {
		return ErrMalformed
	}
	return nil
}
