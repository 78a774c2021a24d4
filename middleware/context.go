package middleware

import (
	"context"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/upb/auth0-gateway/auth0"
)

// Context key type to avoid collisions
type contextKey string

const (
	// PrincipalKey is the context key for the authenticated PrincipalSet
	PrincipalKey contextKey = "principal"

	// AuthorizationKey is the context key for the caller's raw Authorization header
	AuthorizationKey contextKey = "authorization"
)

// GetRequestIDFromContext retrieves the request ID set by chi's RequestID middleware
func GetRequestIDFromContext(ctx context.Context) string {
	return middleware.GetReqID(ctx)
}

// GetPrincipalFromContext retrieves the PrincipalSet from context
func GetPrincipalFromContext(ctx context.Context) *auth0.PrincipalSet {
	if val := ctx.Value(PrincipalKey); val != nil {
		if principal, ok := val.(*auth0.PrincipalSet); ok {
			return principal
		}
	}
	return nil
}

// WithPrincipal adds a PrincipalSet to the context
func WithPrincipal(ctx context.Context, principal *auth0.PrincipalSet) context.Context {
	return context.WithValue(ctx, PrincipalKey, principal)
}

// GetAuthorizationFromContext retrieves the Authorization header value that
// authenticated the request
func GetAuthorizationFromContext(ctx context.Context) string {
	if val := ctx.Value(AuthorizationKey); val != nil {
		if authorization, ok := val.(string); ok {
			return authorization
		}
	}
	return ""
}

// WithAuthorization adds the Authorization header value to the context
func WithAuthorization(ctx context.Context, authorization string) context.Context {
	return context.WithValue(ctx, AuthorizationKey, authorization)
}
