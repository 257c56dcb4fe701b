// Package auth resolves the loan owner from an HS256 bearer token.
package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type (
	ctxKey  struct{}
	roleKey struct{}
)

// Role is the caller's privilege level. Tokens without a role are plain owners.
type Role string

const (
	RoleOwner Role = "owner"
	RoleAdmin Role = "admin"
)

// Claims represents JWT claims used by this service. The subject is the owner id.
type Claims struct {
	Name string `json:"name,omitempty"`
	Role Role   `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// ParseJWT validates a JWT and returns claims.
func ParseJWT(tokenString string, secret []byte) (*Claims, error) {
	if tokenString == "" {
		return nil, errors.New("auth: empty token")
	}
	if len(secret) == 0 {
		return nil, errors.New("auth: empty secret")
	}

	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &Claims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("auth: invalid signing method")
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("auth: invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("auth: missing subject")
	}
	switch claims.Role {
	case "":
		claims.Role = RoleOwner
	case RoleOwner, RoleAdmin:
	default:
		return nil, errors.New("auth: unknown role")
	}
	return claims, nil
}

// IssueToken signs an HS256 owner token for ownerID valid for ttl.
func IssueToken(ownerID string, secret []byte, ttl time.Duration) (string, error) {
	return IssueRoleToken(ownerID, RoleOwner, secret, ttl)
}

// IssueRoleToken signs an HS256 token for ownerID with the given role.
func IssueRoleToken(ownerID string, role Role, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   ownerID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// WithOwner returns a context carrying ownerID.
func WithOwner(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, ownerID)
}

// OwnerFromContext returns the authenticated owner id, or "" when auth is disabled.
func OwnerFromContext(ctx context.Context) string {
	owner, _ := ctx.Value(ctxKey{}).(string)
	return owner
}

// WithRole returns a context carrying the caller's role.
func WithRole(ctx context.Context, role Role) context.Context {
	return context.WithValue(ctx, roleKey{}, role)
}

// RoleFromContext returns the caller's role, or "" when auth is disabled.
func RoleFromContext(ctx context.Context) Role {
	role, _ := ctx.Value(roleKey{}).(Role)
	return role
}

// IsAdmin reports whether the caller may act across owners. With auth disabled
// there is no owner in the context and every caller is trusted.
func IsAdmin(ctx context.Context) bool {
	return OwnerFromContext(ctx) == "" || RoleFromContext(ctx) == RoleAdmin
}
