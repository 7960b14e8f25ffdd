package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Config holds the signing parameters. The validity window is fixed here by
// configuration; callers never choose a TTL per token.
type Config struct {
	SigningKey []byte
	AccessTTL  time.Duration
	Issuer     string
	Leeway     time.Duration
}

// Claims is the token payload issued after a completed login.
//
// MFACompleted is deliberately a first-class claim: a principal can hold a
// syntactically valid token without having finished the MFA stage, and every
// protected surface must check the marker, not just token validity.
type Claims struct {
	Email        string `json:"email,omitempty"`
	Name         string `json:"name,omitempty"`
	Role         string `json:"role,omitempty"`
	SessionID    string `json:"sid,omitempty"`
	MFACompleted bool   `json:"mfa"`
	jwt.RegisteredClaims
}

// Manager signs and validates access tokens.
type Manager struct {
	config Config
}

// ErrInvalidToken is returned for tokens failing signature or claim checks.
var ErrInvalidToken = errors.New("invalid token")

func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.SigningKey) == 0 {
		return nil, errors.New("signing key required")
	}
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	return &Manager{config: cfg}, nil
}

// Issue signs a token for the principal. The returned time is the token's
// expiry.
func (m *Manager) Issue(principalID, email, name, role, sessionID string, mfaCompleted bool) (string, time.Time, error) {
	now := time.Now()
	expires := now.Add(m.config.AccessTTL)

	claims := Claims{
		Email:        email,
		Name:         name,
		Role:         role,
		SessionID:    sessionID,
		MFACompleted: mfaCompleted,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principalID,
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.config.SigningKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

// Parse validates signature, method, issuer, and time claims, and returns
// the decoded claims.
func (m *Manager) Parse(tokenStr string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return m.config.SigningKey, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Expiry extracts the expiry of a token without trusting the rest of it.
// Used to size revocation entries for tokens that may already fail full
// validation.
func (m *Manager) Expiry(tokenStr string) (time.Time, bool) {
	claims := &Claims{}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	if _, _, err := parser.ParseUnverified(tokenStr, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
