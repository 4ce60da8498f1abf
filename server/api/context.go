package api

import (
	"context"

	"github.com/GoCodeAlone/tally/auth"
)

type contextKey int

const ctxKeyClaims contextKey = 0

// WithClaims attaches the verified token claims to ctx.
func WithClaims(ctx context.Context, c *auth.Claims) context.Context {
	return context.WithValue(ctx, ctxKeyClaims, c)
}

// ClaimsFrom returns the claims set by the auth middleware, or nil.
func ClaimsFrom(ctx context.Context) *auth.Claims {
	c, _ := ctx.Value(ctxKeyClaims).(*auth.Claims)
	return c
}

// callerFrom returns the authenticated uid, or "" when there is none.
func callerFrom(ctx context.Context) string {
	if c := ClaimsFrom(ctx); c != nil {
		return c.Subject
	}
	return ""
}
