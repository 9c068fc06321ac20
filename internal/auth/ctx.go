package auth

import (
	"context"

	"github.com/gofrs/uuid/v5"
)

type ctxKey string

const principalKey ctxKey = "rv.principal"

// WithPrincipal stores the authenticated caller in context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// WithUser stores a plain user caller in context.
func WithUser(ctx context.Context, id uuid.UUID) context.Context {
	return WithPrincipal(ctx, Principal{UserID: id})
}

// PrincipalFromCtx fetches the caller from context.
func PrincipalFromCtx(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// UserFromCtx fetches the caller's user ID from context.
func UserFromCtx(ctx context.Context) (uuid.UUID, bool) {
	p, ok := PrincipalFromCtx(ctx)
	if !ok || p.UserID == uuid.Nil {
		return uuid.Nil, false
	}
	return p.UserID, true
}
