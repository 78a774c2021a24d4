package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/upb/auth0-gateway/auth0"
	"github.com/upb/auth0-gateway/internal/observability"
	"github.com/upb/auth0-gateway/models"
	"github.com/upb/auth0-gateway/services/audit"
	"github.com/upb/auth0-gateway/utils"
	"go.uber.org/zap"
)

const (
	// DefaultSecondaryHeader carries additional tokens, repeated or comma-separated
	DefaultSecondaryHeader = "X-Additional-Token"

	// DefaultMaxSecondaryTokens bounds the number of secondary tokens per request
	DefaultMaxSecondaryTokens = 8

	challengeHeader = `Bearer token_type="JWT"`
	reasonOK        = "ok"
)

// Authenticator defines the interface for authenticating a request's tokens
type Authenticator interface {
	Authenticate(ctx context.Context, primary string, secondary []string) (*auth0.PrincipalSet, error)
}

// GatewayConfig configures header extraction
type GatewayConfig struct {
	SecondaryHeader    string
	MaxSecondaryTokens int
}

// AuthGateway is the HTTP boundary in front of protected handlers
type AuthGateway struct {
	authenticator   Authenticator
	recorder        audit.Recorder
	logger          *zap.Logger
	secondaryHeader string
	maxSecondary    int
}

// NewAuthGateway creates a new AuthGateway. A nil recorder disables the audit trail.
func NewAuthGateway(authenticator Authenticator, recorder audit.Recorder, cfg GatewayConfig, logger *zap.Logger) *AuthGateway {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	if cfg.SecondaryHeader == "" {
		cfg.SecondaryHeader = DefaultSecondaryHeader
	}
	if cfg.MaxSecondaryTokens <= 0 {
		cfg.MaxSecondaryTokens = DefaultMaxSecondaryTokens
	}
	return &AuthGateway{
		authenticator:   authenticator,
		recorder:        recorder,
		logger:          logger,
		secondaryHeader: http.CanonicalHeaderKey(cfg.SecondaryHeader),
		maxSecondary:    cfg.MaxSecondaryTokens,
	}
}

// RequireAuth is a middleware that requires a valid bearer token and valid
// secondary tokens. Every failure is a 403 with a generic body.
func (g *AuthGateway) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		principal, err := g.authenticate(r)
		if err == nil && principal.Primary() == nil {
			err = auth0.NewAuthError(auth0.AuthPrimaryRejected, errors.New("empty principal"))
		}
		if err != nil {
			g.reject(w, r, requestID, err)
			return
		}

		primary := principal.Primary()
		subject := claimOrEmpty(primary, "sub")
		observability.RecordAuthentication(reasonOK, nil)
		g.recorder.Record(models.NewAuthEvent(models.AuthResultAllowed, reasonOK).
			WithPrincipal(subject, claimOrEmpty(primary, "iss"), len(principal.Identities)).
			WithRequest(requestID, r.RemoteAddr, r.UserAgent()))

		g.logger.Debug("authentication successful",
			zap.String("request_id", requestID),
			zap.String("sub", subject),
			zap.Int("identities", len(principal.Identities)))

		ctx = WithPrincipal(ctx, principal)
		ctx = WithAuthorization(ctx, r.Header.Get("Authorization"))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (g *AuthGateway) authenticate(r *http.Request) (*auth0.PrincipalSet, error) {
	primary, err := extractBearerToken(r)
	if err != nil {
		return nil, err
	}
	secondary, err := extractSecondaryTokens(r, g.secondaryHeader, g.maxSecondary)
	if err != nil {
		return nil, err
	}
	return g.authenticator.Authenticate(r.Context(), primary, secondary)
}

func (g *AuthGateway) reject(w http.ResponseWriter, r *http.Request, requestID string, err error) {
	var authErr *auth0.AuthError
	if !errors.As(err, &authErr) {
		authErr = auth0.NewAuthError(auth0.AuthPrimaryRejected, err)
	}

	reason := string(authErr.Kind)
	observability.RecordAuthentication(reason, authErr)
	g.recorder.Record(models.NewAuthEvent(models.AuthResultDenied, reason).
		WithRequest(requestID, r.RemoteAddr, r.UserAgent()))

	fields := []zap.Field{
		zap.String("request_id", requestID),
		zap.String("reason", reason),
		zap.Error(authErr),
	}
	if authErr.Index >= 0 {
		fields = append(fields, zap.Int("secondary_index", authErr.Index))
	}
	g.logger.Warn("authorization failed", fields...)

	if authErr.Challenge() {
		w.Header().Set("WWW-Authenticate", challengeHeader)
	}
	if err := utils.WriteForbidden(w, ""); err != nil {
		g.logger.Error("failed to write forbidden response", zap.Error(err))
	}
}

// extractBearerToken extracts the Bearer token from the Authorization header.
// The scheme is matched case-insensitively.
func extractBearerToken(r *http.Request) (string, error) {
	values := r.Header.Values("Authorization")
	if len(values) == 0 {
		return "", auth0.NewAuthError(auth0.AuthMissingToken, nil)
	}
	if len(values) > 1 {
		return "", auth0.NewAuthError(auth0.AuthMalformedHeader, errors.New("multiple authorization headers"))
	}

	parts := strings.SplitN(strings.TrimSpace(values[0]), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", auth0.NewAuthError(auth0.AuthMalformedHeader, errors.New("authorization scheme is not bearer"))
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", auth0.NewAuthError(auth0.AuthMalformedHeader, errors.New("empty bearer token"))
	}
	return token, nil
}

// extractSecondaryTokens reads every value of header in order, splitting
// comma-separated lists.
func extractSecondaryTokens(r *http.Request, header string, limit int) ([]string, error) {
	var tokens []string
	for _, value := range r.Header.Values(header) {
		for _, part := range strings.Split(value, ",") {
			token := strings.TrimSpace(part)
			if token == "" {
				return nil, auth0.NewSecondaryAuthError(auth0.AuthMalformedHeader, len(tokens), errors.New("empty secondary token"))
			}
			if len(tokens) == limit {
				return nil, auth0.NewSecondaryAuthError(auth0.AuthMalformedHeader, limit, errors.New("too many secondary tokens"))
			}
			tokens = append(tokens, token)
		}
	}
	return tokens, nil
}

func claimOrEmpty(identity *auth0.Identity, claimType string) string {
	value, _ := identity.FindFirst(claimType)
	return value
}
