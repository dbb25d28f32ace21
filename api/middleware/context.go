package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/tidecrate/storefront/pkg/enums"
)

// Principal is the authenticated caller Auth resolved from the bearer token.
type Principal struct {
	UserID    uuid.UUID
	Role      enums.AppRole
	SessionID string
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext reports false on unauthenticated routes.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok && p.UserID != uuid.Nil
}

func UserIDFromContext(ctx context.Context) string {
	if p, ok := PrincipalFromContext(ctx); ok {
		return p.UserID.String()
	}
	return ""
}

func RoleFromContext(ctx context.Context) string {
	p, _ := PrincipalFromContext(ctx)
	return string(p.Role)
}

// SessionIDFromContext returns the jti the request was made with.
func SessionIDFromContext(ctx context.Context) string {
	p, _ := PrincipalFromContext(ctx)
	return p.SessionID
}
