package util

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jefdiesel/appchain-ens/log"
	"github.com/jefdiesel/appchain-ens/metrics"
)

const (
	// defaultMaxAttempts is the total number of attempts made for a
	// rate-limited operation before its last error is surfaced.
	defaultMaxAttempts = 5

	defaultInitialDelay = 500 * time.Millisecond
	defaultMaximumDelay = 8 * time.Second
)

// rateLimitMarkers are substrings that identify a rate-limited RPC response.
// The provider signals bursts with HTTP 429 errors; go-ethereum surfaces
// them as plain error text.
var rateLimitMarkers = []string{
	"429",
	"too many requests",
	"rate limit",
}

// IsRateLimited reports whether the error is a transient rate-limit failure
// worth backing off and retrying. Timed-out calls are treated the same way.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range rateLimitMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Retrier applies a single bounded-exponential-backoff policy to every
// rate-limited RPC operation in the engine. Fatal errors are surfaced
// immediately; transient ones are retried up to the attempt bound.
type Retrier struct {
	maxAttempts  int
	initialDelay time.Duration
	maximumDelay time.Duration

	logger  *log.Logger
	metrics *metrics.OracleMetrics
}

// NewRetrier returns a retrier with the default policy. The metrics handle
// may be nil, in which case retries are not instrumented.
func NewRetrier(logger *log.Logger, oracleMetrics *metrics.OracleMetrics) *Retrier {
	return &Retrier{
		maxAttempts:  defaultMaxAttempts,
		initialDelay: defaultInitialDelay,
		maximumDelay: defaultMaximumDelay,
		logger:       logger,
		metrics:      oracleMetrics,
	}
}

// NewRetrierWithPolicy returns a retrier with an explicit policy.
func NewRetrierWithPolicy(logger *log.Logger, oracleMetrics *metrics.OracleMetrics, maxAttempts int, initialDelay, maximumDelay time.Duration) *Retrier {
	return &Retrier{
		maxAttempts:  maxAttempts,
		initialDelay: initialDelay,
		maximumDelay: maximumDelay,
		logger:       logger,
		metrics:      oracleMetrics,
	}
}

// WithRetry attempts `op`, retrying rate-limited failures with exponential
// backoff under the retrier's policy. The last error is returned once the
// attempt bound is exceeded; fatal errors return without delay.
func WithRetry[T any](ctx context.Context, r *Retrier, label string, op func(context.Context) (T, error)) (T, error) {
	var zero T

	backoff, err := NewBackoff(r.initialDelay, r.maximumDelay)
	if err != nil {
		return zero, fmt.Errorf("%s: configuring backoff: %w", label, err)
	}

	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		res, err := op(ctx)
		if err == nil {
			return res, nil
		}
		if !IsRateLimited(err) {
			return zero, err
		}
		lastErr = err
		if attempt == r.maxAttempts {
			break
		}
		r.logger.Warn("rate limited, backing off",
			"operation", label,
			"attempt", attempt,
			"delay", backoff.Timeout(),
			"err", err,
		)
		if r.metrics != nil {
			r.metrics.RetryCounts.WithLabelValues(label).Inc()
		}
		if err := backoff.Wait(ctx); err != nil {
			return zero, err
		}
	}

	return zero, fmt.Errorf("%s: retries exhausted after %d attempts: %w", label, r.maxAttempts, lastErr)
}
