package wsapi

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned by an [Authenticator] when the presented
// bearer token does not validate.
var ErrInvalidToken = errors.New("wsapi: invalid token")

// Claims is what a bearer token must yield on validation (§6.4): "It is
// opaque to the core but must yield {user_id, email?, is_admin?}".
type Claims struct {
	UserID  string
	Email   string
	IsAdmin bool
}

// Authenticator validates an opaque bearer token into Claims. JWT
// verification itself is explicitly a dependency of the core, not a
// responsibility it owns (§1 Non-goals: "Credential issuance... is a
// dependency, not a responsibility here") — this interface is the seam.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (Claims, error)
}

// jwtClaims is the expected payload shape of tokens this runtime accepts.
type jwtClaims struct {
	UserID  string `json:"user_id"`
	Email   string `json:"email,omitempty"`
	IsAdmin bool   `json:"is_admin,omitempty"`
	jwt.RegisteredClaims
}

// HMACAuthenticator validates HS256 tokens against a shared secret. It is
// the default [Authenticator]; a deployment fronting the session endpoint
// with its own identity provider can substitute a different implementation
// without touching the rest of the runtime.
type HMACAuthenticator struct {
	secret []byte
}

// NewHMACAuthenticator creates an HMACAuthenticator over secret. secret must
// be non-empty.
func NewHMACAuthenticator(secret string) (*HMACAuthenticator, error) {
	if secret == "" {
		return nil, fmt.Errorf("wsapi: hmac authenticator requires a non-empty secret")
	}
	return &HMACAuthenticator{secret: []byte(secret)}, nil
}

// Authenticate implements [Authenticator].
func (a *HMACAuthenticator) Authenticate(ctx context.Context, token string) (Claims, error) {
	claims := &jwtClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.UserID == "" {
		return Claims{}, fmt.Errorf("%w: missing user_id claim", ErrInvalidToken)
	}
	return Claims{UserID: claims.UserID, Email: claims.Email, IsAdmin: claims.IsAdmin}, nil
}

var _ Authenticator = (*HMACAuthenticator)(nil)
