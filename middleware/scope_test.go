package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/auth0-gateway/auth0"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func principalWith(sub string, claims ...auth0.Claim) *auth0.PrincipalSet {
	p := testPrincipal(sub)
	p.Identities[0].Claims = append(p.Identities[0].Claims, claims...)
	return p
}

func TestRequireScope(t *testing.T) {
	const scope = "read:audit_events"

	tests := []struct {
		name      string
		principal *auth0.PrincipalSet
		scope     string
		allowed   bool
	}{
		{
			name:      "scope claim contains the scope",
			principal: principalWith("admin", auth0.Claim{Type: "scope", Value: "openid read:audit_events profile"}),
			scope:     scope,
			allowed:   true,
		},
		{
			name:      "permissions claim contains the scope",
			principal: principalWith("admin", auth0.Claim{Type: "permissions", Value: "write:things"}, auth0.Claim{Type: "permissions", Value: scope}),
			scope:     scope,
			allowed:   true,
		},
		{
			name:      "no scope claims",
			principal: principalWith("mallory"),
			scope:     scope,
		},
		{
			name:      "prefix of a granted scope does not match",
			principal: principalWith("mallory", auth0.Claim{Type: "scope", Value: "read:audit_events_archive"}),
			scope:     scope,
		},
		{
			name: "scope on a secondary identity is ignored",
			principal: &auth0.PrincipalSet{Identities: []auth0.Identity{
				principalWith("mallory").Identities[0],
				{Source: auth0.SecondarySource(0), Claims: []auth0.Claim{{Type: "scope", Value: scope}}},
			}},
			scope: scope,
		},
		{
			name:      "empty required scope denies",
			principal: principalWith("admin", auth0.Claim{Type: "scope", Value: "openid"}),
			scope:     "",
		},
		{
			name:  "missing principal",
			scope: scope,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gateway := NewAuthGateway(new(MockAuthenticator), nil, GatewayConfig{}, zap.NewNop())

			var called bool
			handler := gateway.RequireScope(tt.scope)(okHandler(t, &called))

			req := httptest.NewRequest(http.MethodGet, "/audit/events", nil)
			if tt.principal != nil {
				req = req.WithContext(WithPrincipal(req.Context(), tt.principal))
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.allowed, called)
			if tt.allowed {
				assert.Equal(t, http.StatusOK, w.Code)
			} else {
				body := w.Body.String()
				assertForbidden(t, w, false)
				assert.JSONEq(t, `{"error":"forbidden","message":"Access forbidden"}`, body)
			}
		})
	}
}

func TestRequireScopeLogsDenial(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	gateway := NewAuthGateway(new(MockAuthenticator), nil, GatewayConfig{}, zap.New(core))

	var called bool
	handler := gateway.RequireScope("read:audit_events")(okHandler(t, &called))

	req := httptest.NewRequest(http.MethodGet, "/audit/events", nil)
	req = req.WithContext(WithPrincipal(req.Context(), principalWith("mallory")))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.False(t, called)
	entries := logs.FilterMessage("insufficient permissions").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "mallory", entries[0].ContextMap()["sub"])
	assert.Equal(t, "read:audit_events", entries[0].ContextMap()["required_scope"])
}
