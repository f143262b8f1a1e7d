// Package identity adapts the external identity provider. The core performs
// no authentication of its own: it validates tokens the provider issued and
// trusts the user id and role they carry.
package identity

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/servana/backend/internal/models"
)

// ErrInvalidToken is returned for missing, malformed or expired tokens.
var ErrInvalidToken = errors.New("invalid token")

// Principal is the authenticated caller as asserted by the identity provider.
type Principal struct {
	UserID uuid.UUID
	Role   string
}

func (p *Principal) IsAdmin() bool {
	return p != nil && p.Role == models.RoleAdmin
}

type contextKey string

const ctxPrincipalKey contextKey = "principal"

// FromCtx returns the authenticated principal or nil.
func FromCtx(ctx context.Context) *Principal {
	p, _ := ctx.Value(ctxPrincipalKey).(*Principal)
	return p
}

// WithPrincipal returns a context carrying the given principal.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxPrincipalKey, p)
}

type claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Verifier validates provider-issued HS256 tokens.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates a token, returning the principal it asserts.
func (v *Verifier) Verify(token string) (*Principal, error) {
	var c claims
	tok, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	})
	if err != nil || !tok.Valid {
		return nil, ErrInvalidToken
	}
	userID, err := uuid.Parse(c.Subject)
	if err != nil {
		return nil, ErrInvalidToken
	}
	switch c.Role {
	case models.RoleClient, models.RoleProfessional, models.RoleAdmin:
	default:
		return nil, ErrInvalidToken
	}
	return &Principal{UserID: userID, Role: c.Role}, nil
}

// IssueToken signs a token the way the identity provider does. Used by tests
// and local tooling only; production tokens come from the provider.
func (v *Verifier) IssueToken(userID uuid.UUID, role string, ttl time.Duration) (string, error) {
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Role: role,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(v.secret)
}
