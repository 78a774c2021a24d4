package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// ResultSuccess indicates a successful operation
	ResultSuccess = "success"
	// ResultError indicates a failed operation
	ResultError = "error"
)

var (
	// KeyFetchTotal counts discovery + JWKS fetch attempts
	KeyFetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_gateway_key_fetch_total",
			Help: "Total number of signing key configuration fetches",
		},
		[]string{"result"}, // result: success, error
	)

	// KeyFetchDuration is a histogram for signing key fetch duration
	KeyFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "auth_gateway_key_fetch_duration_seconds",
			Help:    "Duration of signing key configuration fetches in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"result"},
	)

	// AuthenticationsTotal counts gateway outcomes
	AuthenticationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_gateway_authentications_total",
			Help: "Total number of authentication attempts by outcome",
		},
		[]string{"result", "reason"}, // reason: ok, missing_token, primary_rejected, ...
	)

	// ValidationDuration tracks token validation time per authentication attempt
	ValidationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "auth_gateway_validation_duration_seconds",
			Help:    "Duration of token validation per authentication attempt in seconds",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
		},
	)
)

// RecordKeyFetch records one signing key fetch attempt.
func RecordKeyFetch(err error, seconds float64) {
	result := ResultSuccess
	if err != nil {
		result = ResultError
	}
	KeyFetchTotal.WithLabelValues(result).Inc()
	KeyFetchDuration.WithLabelValues(result).Observe(seconds)
}

// RecordAuthentication records one gateway outcome.
func RecordAuthentication(reason string, err error) {
	result := ResultSuccess
	if err != nil {
		result = ResultError
	}
	AuthenticationsTotal.WithLabelValues(result, reason).Inc()
}
