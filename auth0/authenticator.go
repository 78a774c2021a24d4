package auth0

import (
	"context"
	"time"

	"github.com/upb/auth0-gateway/internal/observability"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// KeyProvider supplies the signing key configuration. *KeySource implements it.
type KeyProvider interface {
	Config(ctx context.Context, now time.Time) (*SigningKeyConfig, error)
	RequestRefresh(now time.Time) bool
}

// Authenticator validates a primary bearer token plus any secondary tokens
// and merges them into a PrincipalSet.
//
// Merge rule: the primary identity comes first, then one identity per
// secondary token in the order given. Any failure rejects the whole attempt.
type Authenticator struct {
	keys      KeyProvider
	validator *Validator
	logger    *zap.Logger
	now       func() time.Time

	// validate runs for each token; index 0 is the primary.
	validate func(index int, token string, cfg *SigningKeyConfig, now time.Time) (*Identity, error)
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithClock overrides the time source used for key freshness and token
// expiry checks.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) {
		a.now = now
	}
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(keys KeyProvider, validator *Validator, logger *zap.Logger, opts ...Option) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Authenticator{
		keys:      keys,
		validator: validator,
		logger:    logger,
		now:       time.Now,
	}
	a.validate = func(_ int, token string, cfg *SigningKeyConfig, now time.Time) (*Identity, error) {
		identity, _, err := a.validator.Validate(token, cfg, now)
		return identity, err
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authenticate returns the PrincipalSet for primary and secondary, or an
// *AuthError. Cancellation of ctx yields kind AuthCanceled.
func (a *Authenticator) Authenticate(ctx context.Context, primary string, secondary []string) (*PrincipalSet, error) {
	if primary == "" {
		return nil, NewAuthError(AuthMissingToken, nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, NewAuthError(AuthCanceled, err)
	}

	now := a.now()
	cfg, err := a.keys.Config(ctx, now)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, NewAuthError(AuthCanceled, ctxErr)
		}
		return nil, NewAuthError(AuthPrimaryRejected, err)
	}

	start := time.Now()
	tokens := make([]string, 0, 1+len(secondary))
	tokens = append(tokens, primary)
	tokens = append(tokens, secondary...)

	identities := make([]Identity, len(tokens))
	errs := make([]error, len(tokens))

	// One goroutine per token; the gateway caps the secondary count.
	var g errgroup.Group
	for i, token := range tokens {
		i, token := i, token
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			identity, err := a.validate(i, token, cfg, now)
			if err != nil {
				errs[i] = err
				return nil
			}
			identities[i] = *identity
			return nil
		})
	}
	waitErr := g.Wait()
	observability.ValidationDuration.Observe(time.Since(start).Seconds())

	if waitErr != nil || ctx.Err() != nil {
		cause := ctx.Err()
		if cause == nil {
			cause = waitErr
		}
		return nil, NewAuthError(AuthCanceled, cause)
	}

	for i, err := range errs {
		if err == nil {
			continue
		}
		if kind, _ := ValidationKindOf(err); kind == KindUnknownKey {
			a.keys.RequestRefresh(now)
		}
		if i == 0 {
			return nil, NewAuthError(AuthPrimaryRejected, err)
		}
		return nil, NewSecondaryAuthError(AuthSecondaryRejected, i-1, err)
	}

	identities[0].Source = SourcePrimary
	for i := 1; i < len(identities); i++ {
		identities[i].Source = SecondarySource(i - 1)
	}

	a.logger.Debug("authentication succeeded",
		zap.String("subject", identities[0].Token.Subject),
		zap.Int("identities", len(identities)))

	return &PrincipalSet{Identities: identities}, nil
}
