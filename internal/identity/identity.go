// Package identity turns bearer tokens into principals and answers block queries.
package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/freetalk/messaging/internal/apperr"
	"github.com/freetalk/messaging/internal/model"
	"github.com/freetalk/messaging/internal/store"
)

// Claims are the JWT claims issued by the identity subsystem.
// The user id is carried in sub, or in userId by older issuers.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"userId,omitempty"`
}

// Principal is an authenticated user.
type Principal struct {
	UserID string
	User   *model.User
}

// Suspended reports whether the principal may only read.
func (p *Principal) Suspended() bool {
	return p.User != nil && p.User.Suspended
}

// Resolver verifies tokens against a shared secret and loads the user record.
type Resolver struct {
	secret []byte
	users  store.Users
}

// NewResolver creates a resolver.
func NewResolver(secret string, users store.Users) *Resolver {
	return &Resolver{secret: []byte(secret), users: users}
}

// ParseToken verifies the signature and expiry of token and returns the user id.
func (r *Resolver) ParseToken(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", apperr.Unauthenticated("missing token")
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return r.secret, nil
	})
	if err != nil || !parsed.Valid {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", apperr.Wrap(apperr.KindUnauthenticated, err, "token expired")
		}
		return "", apperr.Wrap(apperr.KindUnauthenticated, err, "invalid token")
	}

	userID := claims.Subject
	if userID == "" {
		userID = claims.UserID
	}
	if userID == "" {
		return "", apperr.Unauthenticated("token has no subject")
	}
	return userID, nil
}

// Resolve verifies token and loads the user it names.
func (r *Resolver) Resolve(ctx context.Context, token string) (*Principal, error) {
	userID, err := r.ParseToken(token)
	if err != nil {
		return nil, err
	}
	user, err := r.users.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.Unauthenticated("user not found")
		}
		return nil, apperr.Unavailable(err, "identity lookup failed")
	}
	return &Principal{UserID: userID, User: user}, nil
}

// Blocked reports whether either of a and b blocks the other.
func (r *Resolver) Blocked(ctx context.Context, a, b string) (bool, error) {
	users, err := r.users.GetMany(ctx, []string{a, b})
	if err != nil {
		return false, apperr.Unavailable(err, "identity lookup failed")
	}
	return model.MutualBlock(users[a], users[b]), nil
}

// RequireWritable rejects suspended principals.
func RequireWritable(p *Principal) error {
	if p.Suspended() {
		return apperr.Forbidden("account suspended")
	}
	return nil
}

// BearerToken extracts the token of an "Authorization: Bearer <token>" header value.
func BearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

// IssueToken signs an HS256 token for userID. Used by tooling and tests.
func IssueToken(secret, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored by WithPrincipal.
func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}
