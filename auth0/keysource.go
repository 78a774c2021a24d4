package auth0

import (
	"context"
	"crypto"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/upb/auth0-gateway/internal/observability"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultRefreshInterval    = 24 * time.Hour
	DefaultFetchTimeout       = 10 * time.Second
	DefaultRetryBackoff       = 30 * time.Second
	DefaultMinRefreshInterval = 5 * time.Minute
)

// PublicKey is one verification key from the provider's key set.
type PublicKey struct {
	KeyID     string
	Algorithm string // empty when the JWK does not declare one
	Key       crypto.PublicKey
}

// SigningKeyConfig is an immutable snapshot of the provider's discovery
// metadata and keys. It is replaced wholesale on refresh.
type SigningKeyConfig struct {
	Issuer    string
	JWKSURI   string
	Keys      []PublicKey
	FetchedAt time.Time

	byID map[string]int
}

func newSigningKeyConfig(issuer, jwksURI string, keys []PublicKey) *SigningKeyConfig {
	cfg := &SigningKeyConfig{
		Issuer:  issuer,
		JWKSURI: jwksURI,
		Keys:    keys,
		byID:    make(map[string]int, len(keys)),
	}
	for i, k := range keys {
		// first key wins on duplicate kids
		if _, ok := cfg.byID[k.KeyID]; !ok {
			cfg.byID[k.KeyID] = i
		}
	}
	return cfg
}

// Key looks up a key by key id.
func (c *SigningKeyConfig) Key(kid string) (PublicKey, bool) {
	i, ok := c.byID[kid]
	if !ok {
		return PublicKey{}, false
	}
	return c.Keys[i], true
}

// KeySourceConfig configures a KeySource. Zero durations take the defaults.
type KeySourceConfig struct {
	Issuer             string
	HTTPClient         *http.Client
	RefreshInterval    time.Duration
	FetchTimeout       time.Duration
	RetryBackoff       time.Duration
	MinRefreshInterval time.Duration
}

// keyState is what the atomic cell holds. cfg may be nil until the first
// successful fetch.
type keyState struct {
	cfg      *SigningKeyConfig
	due      time.Time
	lastErr  error
	lastTry  time.Time
	fetches  int64
	failures int64
}

// KeySource fetches and caches the provider's SigningKeyConfig.
type KeySource struct {
	client             *discoveryClient
	refreshInterval    time.Duration
	fetchTimeout       time.Duration
	retryBackoff       time.Duration
	minRefreshInterval time.Duration
	logger             *zap.Logger

	state atomic.Pointer[keyState]
	group singleflight.Group
}

// NewKeySource creates a KeySource. Nothing is fetched until the first
// Config call.
func NewKeySource(cfg KeySourceConfig, logger *zap.Logger) (*KeySource, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultFetchTimeout}
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	if cfg.MinRefreshInterval <= 0 {
		cfg.MinRefreshInterval = DefaultMinRefreshInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &KeySource{
		client:             &discoveryClient{issuer: cfg.Issuer, httpClient: cfg.HTTPClient},
		refreshInterval:    cfg.RefreshInterval,
		fetchTimeout:       cfg.FetchTimeout,
		retryBackoff:       cfg.RetryBackoff,
		minRefreshInterval: cfg.MinRefreshInterval,
		logger:             logger,
	}, nil
}

// Config returns the cached SigningKeyConfig while it is fresh and fetches a
// new one otherwise. A failed refresh is returned to the caller that
// triggered it while the previous config stays cached for later calls.
//
// At most one fetch is in flight. Waiters return early when ctx is done; the
// fetch itself runs detached from any one caller, bounded by FetchTimeout.
func (s *KeySource) Config(ctx context.Context, now time.Time) (*SigningKeyConfig, error) {
	if st := s.state.Load(); st != nil && st.cfg != nil && now.Before(st.due) {
		return st.cfg, nil
	}

	ch := s.group.DoChan("config", func() (interface{}, error) {
		// a flight that finished while we were queuing may have refreshed already
		if st := s.state.Load(); st != nil && st.cfg != nil && now.Before(st.due) {
			return st.cfg, nil
		}

		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.fetchTimeout)
		defer cancel()
		return s.refresh(fetchCtx, now)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*SigningKeyConfig), nil
	}
}

func (s *KeySource) refresh(ctx context.Context, now time.Time) (*SigningKeyConfig, error) {
	prev := s.state.Load()
	next := &keyState{lastTry: now}
	if prev != nil {
		next.cfg = prev.cfg
		next.fetches = prev.fetches
		next.failures = prev.failures
	}
	next.fetches++

	start := time.Now()
	cfg, err := s.client.fetch(ctx)
	observability.RecordKeyFetch(err, time.Since(start).Seconds())

	if err != nil {
		next.failures++
		next.lastErr = err
		next.due = now.Add(s.retryBackoff)
		s.state.Store(next)

		fields := []zap.Field{zap.Error(err), zap.Duration("retry_in", s.retryBackoff)}
		if next.cfg != nil {
			fields = append(fields, zap.Time("cached_fetched_at", next.cfg.FetchedAt))
		}
		s.logger.Warn("signing key refresh failed", fields...)
		return nil, err
	}

	cfg.FetchedAt = now
	next.cfg = cfg
	next.due = now.Add(s.refreshInterval)
	s.state.Store(next)

	s.logger.Info("signing keys refreshed",
		zap.String("issuer", cfg.Issuer),
		zap.String("jwks_uri", cfg.JWKSURI),
		zap.Int("keys", len(cfg.Keys)),
		zap.Duration("took", time.Since(start)))

	return cfg, nil
}

// RequestRefresh marks the cached config as due so the next Config call
// refetches. Used when a token names a key id we have not seen; ignored when
// the cached config is younger than MinRefreshInterval.
func (s *KeySource) RequestRefresh(now time.Time) bool {
	for {
		st := s.state.Load()
		if st == nil || st.cfg == nil {
			return false
		}
		if now.Sub(st.lastTry) < s.minRefreshInterval || !now.Before(st.due) {
			return false
		}

		next := *st
		next.due = now
		if s.state.CompareAndSwap(st, &next) {
			s.logger.Debug("signing key refresh requested")
			return true
		}
	}
}

// KeySourceStats is a point-in-time view of the cache.
type KeySourceStats struct {
	HasConfig   bool      `json:"has_config"`
	KeyCount    int       `json:"key_count"`
	FetchedAt   time.Time `json:"fetched_at"`
	NextRefresh time.Time `json:"next_refresh"`
	Fetches     int64     `json:"fetches"`
	Failures    int64     `json:"failures"`
	LastError   string    `json:"last_error,omitempty"`
}

// Stats returns cache statistics.
func (s *KeySource) Stats() KeySourceStats {
	st := s.state.Load()
	if st == nil {
		return KeySourceStats{}
	}

	stats := KeySourceStats{
		NextRefresh: st.due,
		Fetches:     st.fetches,
		Failures:    st.failures,
	}
	if st.cfg != nil {
		stats.HasConfig = true
		stats.KeyCount = len(st.cfg.Keys)
		stats.FetchedAt = st.cfg.FetchedAt
	}
	if st.lastErr != nil {
		stats.LastError = st.lastErr.Error()
	}
	return stats
}
