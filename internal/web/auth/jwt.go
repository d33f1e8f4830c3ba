// Package auth issues and verifies the bearer tokens that carry the caller's
// identity and roles.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/conduit-lang/crudkit/internal/orm/security"
)

// ErrInvalidToken is returned for tokens that fail verification or carry
// no subject
var ErrInvalidToken = errors.New("invalid token")

// Claims is the payload of a crudkit token
type Claims struct {
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// AuthService provides JWT token generation and validation
type AuthService struct {
	secretKey []byte
	tokenTTL  time.Duration
	now       func() time.Time
}

// NewAuthService creates a new AuthService with the given secret key and token TTL
func NewAuthService(secretKey string, tokenTTL time.Duration) *AuthService {
	return &AuthService{
		secretKey: []byte(secretKey),
		tokenTTL:  tokenTTL,
		now:       time.Now,
	}
}

// TokenTTL returns how long issued tokens stay valid
func (s *AuthService) TokenTTL() time.Duration {
	return s.tokenTTL
}

// GenerateToken generates an HS256 token for userID with roles
func (s *AuthService) GenerateToken(userID string, roles []string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("%w: empty subject", ErrInvalidToken)
	}
	now := s.now()
	claims := Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secretKey)
}

// ValidateToken validates a token and returns its claims
func (s *AuthService) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return s.secretKey, nil
	},
		// Verify exact signing method to prevent algorithm confusion attacks
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Principal validates tokenString and returns the user it names
func (s *AuthService) Principal(tokenString string) (security.Principal, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	return security.NewUser(claims.Subject, claims.Roles...), nil
}
