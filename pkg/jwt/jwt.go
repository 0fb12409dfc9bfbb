package jwt

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
	ErrSigningKey   = errors.New("no signing key configured")
)

// Claims represents the access token claims issued by the auth service.
type Claims struct {
	jwt.RegisteredClaims
	UserID   string `json:"user_id"`
	Email    string `json:"email,omitempty"`
	Username string `json:"username"`
	Type     string `json:"type"` // "access" or "refresh"
}

// Config selects the verification key. PublicKeyPEM takes precedence over
// Secret; with a PEM key the manager only verifies and cannot sign.
type Config struct {
	Secret       string        `mapstructure:"secret"`
	PublicKeyPEM string        `mapstructure:"public_key_pem"`
	Issuer       string        `mapstructure:"issuer"`
	AccessTTL    time.Duration `mapstructure:"access_ttl"`
}

// Manager verifies (and for HMAC keys, issues) access tokens.
type Manager struct {
	secret    []byte
	publicKey *rsa.PublicKey
	issuer    string
	accessTTL time.Duration
	now       func() time.Time
}

// NewManager creates a manager from cfg.
func NewManager(cfg Config) (*Manager, error) {
	m := &Manager{
		issuer:    cfg.Issuer,
		accessTTL: cfg.AccessTTL,
		now:       time.Now,
	}
	if m.accessTTL <= 0 {
		m.accessTTL = 15 * time.Minute
	}

	switch {
	case cfg.PublicKeyPEM != "":
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cfg.PublicKeyPEM))
		if err != nil {
			return nil, fmt.Errorf("parse rsa public key: %w", err)
		}
		m.publicKey = key
	case cfg.Secret != "":
		m.secret = []byte(cfg.Secret)
	default:
		return nil, ErrSigningKey
	}

	return m, nil
}

// GenerateAccessToken signs an access token for the given user. Only
// available for secret-based managers.
func (m *Manager) GenerateAccessToken(userID, email, username string) (string, error) {
	if m.secret == nil {
		return "", ErrSigningKey
	}

	now := m.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.accessTTL)),
		},
		UserID:   userID,
		Email:    email,
		Username: username,
		Type:     "access",
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// ValidateToken validates an access token and returns its claims.
func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithTimeFunc(m.now)}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, m.keyFunc, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Type != "" && claims.Type != "access" {
		return nil, ErrInvalidToken
	}
	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	if claims.UserID == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

func (m *Manager) keyFunc(token *jwt.Token) (interface{}, error) {
	if m.publicKey != nil {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, ErrInvalidToken
		}
		return m.publicKey, nil
	}
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, ErrInvalidToken
	}
	return m.secret, nil
}
