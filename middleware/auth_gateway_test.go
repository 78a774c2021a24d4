package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/auth0-gateway/auth0"
	"github.com/upb/auth0-gateway/auth0/auth0test"
	"github.com/upb/auth0-gateway/models"
	"github.com/upb/auth0-gateway/utils"
	"go.uber.org/zap"
)

// MockAuthenticator is a mock implementation of Authenticator
type MockAuthenticator struct {
	mock.Mock
}

func (m *MockAuthenticator) Authenticate(ctx context.Context, primary string, secondary []string) (*auth0.PrincipalSet, error) {
	args := m.Called(ctx, primary, secondary)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth0.PrincipalSet), args.Error(1)
}

// recordingRecorder captures audit events
type recordingRecorder struct {
	mu     sync.Mutex
	events []*models.AuthEvent
}

func (r *recordingRecorder) Record(event *models.AuthEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingRecorder) last() *models.AuthEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return nil
	}
	return r.events[len(r.events)-1]
}

func testPrincipal(sub string) *auth0.PrincipalSet {
	return &auth0.PrincipalSet{Identities: []auth0.Identity{{
		Source: auth0.SourcePrimary,
		Claims: []auth0.Claim{
			{Type: "iss", Value: "https://example.auth0.com/"},
			{Type: "sub", Value: sub},
		},
	}}}
}

func okHandler(t *testing.T, called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	})
}

func assertForbidden(t *testing.T, w *httptest.ResponseRecorder, challenge bool) {
	t.Helper()
	assert.Equal(t, http.StatusForbidden, w.Code)
	if challenge {
		assert.Equal(t, `Bearer token_type="JWT"`, w.Header().Get("WWW-Authenticate"))
	} else {
		assert.Empty(t, w.Header().Get("WWW-Authenticate"))
	}

	var response utils.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "forbidden", response.Error)
	assert.Equal(t, "Access forbidden", response.Message)
	assert.Nil(t, response.Details)
}

func TestRequireAuth(t *testing.T) {
	logger := zap.NewNop()

	t.Run("valid bearer token allows request", func(t *testing.T) {
		authn := new(MockAuthenticator)
		recorder := &recordingRecorder{}
		gateway := NewAuthGateway(authn, recorder, GatewayConfig{}, logger)

		principal := testPrincipal("user1")
		authn.On("Authenticate", mock.Anything, "valid-token", []string(nil)).Return(principal, nil)

		handler := gateway.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Same(t, principal, GetPrincipalFromContext(r.Context()))
			assert.Equal(t, "bearer valid-token", GetAuthorizationFromContext(r.Context()))
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/hello", nil)
		req.Header.Set("Authorization", "bearer valid-token")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		authn.AssertExpectations(t)

		event := recorder.last()
		require.NotNil(t, event)
		assert.Equal(t, models.AuthResultAllowed, event.Result)
		assert.Equal(t, "ok", event.Reason)
		assert.Equal(t, "user1", event.Subject)
		assert.Equal(t, "https://example.auth0.com/", event.Issuer)
		assert.Equal(t, 1, event.TokenCount)
	})

	t.Run("secondary tokens keep header order", func(t *testing.T) {
		authn := new(MockAuthenticator)
		gateway := NewAuthGateway(authn, nil, GatewayConfig{}, logger)

		authn.On("Authenticate", mock.Anything, "p", []string{"s1", "s2", "s3"}).Return(testPrincipal("user1"), nil)

		called := false
		req := httptest.NewRequest(http.MethodGet, "/hello", nil)
		req.Header.Set("Authorization", "Bearer p")
		req.Header.Add("X-Additional-Token", "s1, s2")
		req.Header.Add("x-additional-token", "s3")
		w := httptest.NewRecorder()

		gateway.RequireAuth(okHandler(t, &called)).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.True(t, called)
		authn.AssertExpectations(t)
	})

	t.Run("missing authorization header", func(t *testing.T) {
		authn := new(MockAuthenticator)
		recorder := &recordingRecorder{}
		gateway := NewAuthGateway(authn, recorder, GatewayConfig{}, logger)

		called := false
		req := httptest.NewRequest(http.MethodGet, "/hello", nil)
		w := httptest.NewRecorder()

		gateway.RequireAuth(okHandler(t, &called)).ServeHTTP(w, req)

		assertForbidden(t, w, true)
		assert.False(t, called)
		authn.AssertNotCalled(t, "Authenticate", mock.Anything, mock.Anything, mock.Anything)
		assert.Equal(t, "missing_token", recorder.last().Reason)
		assert.Equal(t, models.AuthResultDenied, recorder.last().Result)
	})

	t.Run("malformed authorization headers", func(t *testing.T) {
		for _, value := range []string{"Basic dXNlcjpwYXNz", "Bearer", "Bearer    ", "token-without-scheme"} {
			authn := new(MockAuthenticator)
			recorder := &recordingRecorder{}
			gateway := NewAuthGateway(authn, recorder, GatewayConfig{}, logger)

			called := false
			req := httptest.NewRequest(http.MethodGet, "/hello", nil)
			req.Header.Set("Authorization", value)
			w := httptest.NewRecorder()

			gateway.RequireAuth(okHandler(t, &called)).ServeHTTP(w, req)

			assertForbidden(t, w, true)
			assert.False(t, called, "header %q", value)
			assert.Equal(t, "malformed_header", recorder.last().Reason)
		}
	})

	t.Run("primary rejection sets challenge", func(t *testing.T) {
		authn := new(MockAuthenticator)
		gateway := NewAuthGateway(authn, nil, GatewayConfig{}, logger)

		cause := &auth0.ValidationError{Kind: auth0.KindBadAudience, Message: "no accepted audience"}
		authn.On("Authenticate", mock.Anything, "p", []string(nil)).
			Return(nil, auth0.NewAuthError(auth0.AuthPrimaryRejected, cause))

		called := false
		req := httptest.NewRequest(http.MethodGet, "/hello", nil)
		req.Header.Set("Authorization", "Bearer p")
		w := httptest.NewRecorder()

		gateway.RequireAuth(okHandler(t, &called)).ServeHTTP(w, req)

		assertForbidden(t, w, true)
		assert.NotContains(t, w.Body.String(), "audience")
		assert.False(t, called)
	})

	t.Run("secondary rejection has no challenge", func(t *testing.T) {
		authn := new(MockAuthenticator)
		gateway := NewAuthGateway(authn, nil, GatewayConfig{}, logger)

		authn.On("Authenticate", mock.Anything, "p", []string{"s1"}).
			Return(nil, auth0.NewSecondaryAuthError(auth0.AuthSecondaryRejected, 0, auth0.ErrExpired))

		called := false
		req := httptest.NewRequest(http.MethodGet, "/hello", nil)
		req.Header.Set("Authorization", "Bearer p")
		req.Header.Set("X-Additional-Token", "s1")
		w := httptest.NewRecorder()

		gateway.RequireAuth(okHandler(t, &called)).ServeHTTP(w, req)

		assertForbidden(t, w, false)
		assert.False(t, called)
	})

	t.Run("empty secondary element", func(t *testing.T) {
		authn := new(MockAuthenticator)
		gateway := NewAuthGateway(authn, nil, GatewayConfig{}, logger)

		called := false
		req := httptest.NewRequest(http.MethodGet, "/hello", nil)
		req.Header.Set("Authorization", "Bearer p")
		req.Header.Set("X-Additional-Token", "s1,,s2")
		w := httptest.NewRecorder()

		gateway.RequireAuth(okHandler(t, &called)).ServeHTTP(w, req)

		assertForbidden(t, w, false)
		authn.AssertNotCalled(t, "Authenticate", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("too many secondary tokens", func(t *testing.T) {
		authn := new(MockAuthenticator)
		gateway := NewAuthGateway(authn, nil, GatewayConfig{MaxSecondaryTokens: 2}, logger)

		called := false
		req := httptest.NewRequest(http.MethodGet, "/hello", nil)
		req.Header.Set("Authorization", "Bearer p")
		req.Header.Set("X-Additional-Token", "s1,s2,s3")
		w := httptest.NewRecorder()

		gateway.RequireAuth(okHandler(t, &called)).ServeHTTP(w, req)

		assertForbidden(t, w, false)
		assert.False(t, called)
	})

	t.Run("custom secondary header", func(t *testing.T) {
		authn := new(MockAuthenticator)
		gateway := NewAuthGateway(authn, nil, GatewayConfig{SecondaryHeader: "x-id-token"}, logger)

		authn.On("Authenticate", mock.Anything, "p", []string{"id"}).Return(testPrincipal("user1"), nil)

		called := false
		req := httptest.NewRequest(http.MethodGet, "/hello", nil)
		req.Header.Set("Authorization", "Bearer p")
		req.Header.Set("X-Id-Token", "id")
		req.Header.Set("X-Additional-Token", "ignored")
		w := httptest.NewRecorder()

		gateway.RequireAuth(okHandler(t, &called)).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		authn.AssertExpectations(t)
	})

	t.Run("non auth error is treated as primary rejection", func(t *testing.T) {
		authn := new(MockAuthenticator)
		gateway := NewAuthGateway(authn, nil, GatewayConfig{}, logger)

		authn.On("Authenticate", mock.Anything, "p", []string(nil)).Return(nil, errors.New("boom"))

		called := false
		req := httptest.NewRequest(http.MethodGet, "/hello", nil)
		req.Header.Set("Authorization", "Bearer p")
		w := httptest.NewRecorder()

		gateway.RequireAuth(okHandler(t, &called)).ServeHTTP(w, req)

		assertForbidden(t, w, true)
	})
}

func TestRequireAuthWithIssuer(t *testing.T) {
	issuer := auth0test.NewIssuer(t, "api://orders")

	keys, err := auth0.NewKeySource(auth0.KeySourceConfig{Issuer: issuer.Issuer(), HTTPClient: issuer.Client()}, zap.NewNop())
	require.NoError(t, err)
	validator, err := auth0.NewValidator(auth0.Policy{Issuer: issuer.Issuer(), Audiences: []string{"api://orders"}})
	require.NoError(t, err)
	gateway := NewAuthGateway(auth0.NewAuthenticator(keys, validator, zap.NewNop()), nil, GatewayConfig{}, zap.NewNop())

	var got *auth0.PrincipalSet
	handler := gateway.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetPrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("primary and secondary", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/hello", nil)
		req.Header.Set("Authorization", "Bearer "+issuer.CreateToken("user1"))
		req.Header.Set("X-Additional-Token", issuer.CreateToken("user2"))
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		require.Equal(t, http.StatusNoContent, w.Code)
		require.Len(t, got.Identities, 2)
		assert.Equal(t, "user1", got.Identities[0].Name())
		assert.Equal(t, "user2", got.Identities[1].Name())
		assert.Equal(t, "secondary[0]", got.Identities[1].Source)
	})

	t.Run("wrong audience", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/hello", nil)
		req.Header.Set("Authorization", "Bearer "+issuer.Sign(
			auth0test.F("iss", issuer.Issuer()),
			auth0test.F("aud", []string{"api://billing"}),
			auth0test.F("sub", "user1"),
			auth0test.F("exp", 4102444800),
		))
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assertForbidden(t, w, true)
	})
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, GetPrincipalFromContext(ctx))
	assert.Empty(t, GetAuthorizationFromContext(ctx))
	assert.Empty(t, GetRequestIDFromContext(ctx))

	principal := testPrincipal("user1")
	ctx = WithPrincipal(ctx, principal)
	ctx = WithAuthorization(ctx, "Bearer x")
	assert.Same(t, principal, GetPrincipalFromContext(ctx))
	assert.Equal(t, "Bearer x", GetAuthorizationFromContext(ctx))
}
