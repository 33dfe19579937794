// Package jwt mints and verifies the signed access/refresh token pair. Access
// and refresh tokens carry a type discriminator and are signed with distinct
// secrets; verification rejects a token presented for the wrong use.
package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenType discriminates the two token uses.
type TokenType string

const (
	// TypeAccess marks short-lived API credentials.
	TypeAccess TokenType = "access"
	// TypeRefresh marks the longer-lived rotation credential.
	TypeRefresh TokenType = "refresh"
)

var (
	// ErrInvalid covers malformed tokens, bad signatures, and wrong-type tokens.
	ErrInvalid = errors.New("invalid token")
	// ErrExpired is returned for structurally valid but expired tokens.
	ErrExpired = errors.New("token expired")
)

// Config controls issuance. Secrets must be distinct per token type.
type Config struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
	Leeway        time.Duration
}

// Claims is the payload carried by both token types.
type Claims struct {
	UserID    string   `json:"uid"`
	Email     string   `json:"email"`
	Roles     []string `json:"roles,omitempty"`
	TokenType string   `json:"typ"`
	jwt.RegisteredClaims
}

// Manager signs and parses token pairs. Safe for concurrent use.
type Manager struct {
	config Config
}

// NewManager validates cfg and returns a ready Manager.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.AccessSecret) == 0 || len(cfg.RefreshSecret) == 0 {
		return nil, errors.New("access and refresh secrets required")
	}
	if string(cfg.AccessSecret) == string(cfg.RefreshSecret) {
		return nil, errors.New("access and refresh secrets must differ")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	return &Manager{config: cfg}, nil
}

// IssueAccess mints a signed access token. Returns the token and its expiry.
func (m *Manager) IssueAccess(userID, email string, roles []string, now time.Time) (string, time.Time, error) {
	return m.issue(TypeAccess, userID, email, roles, now)
}

// IssueRefresh mints a signed refresh token. The returned jti keys the
// refresh-token ledger entry.
func (m *Manager) IssueRefresh(userID, email string, roles []string, now time.Time) (token, jti string, expiresAt time.Time, err error) {
	jti = uuid.NewString()
	expiresAt = now.Add(m.config.RefreshTTL)

	claims := Claims{
		UserID:    userID,
		Email:     email,
		Roles:     roles,
		TokenType: string(TypeRefresh),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.config.RefreshSecret)
	if err != nil {
		return "", "", time.Time{}, err
	}
	return token, jti, expiresAt, nil
}

func (m *Manager) issue(typ TokenType, userID, email string, roles []string, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(m.config.AccessTTL)
	claims := Claims{
		UserID:    userID,
		Email:     email,
		Roles:     roles,
		TokenType: string(typ),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.config.AccessSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// Parse verifies signature and expiry with the secret belonging to expect and
// rejects tokens whose type discriminator does not match.
func (m *Manager) Parse(tokenStr string, expect TokenType) (*Claims, error) {
	secret := m.config.AccessSecret
	if expect == TypeRefresh {
		secret = m.config.RefreshSecret
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrInvalid
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalid
	}
	if claims.TokenType != string(expect) {
		return nil, ErrInvalid
	}
	return claims, nil
}
