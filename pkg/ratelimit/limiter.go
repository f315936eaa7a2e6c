// Package ratelimit paces outgoing API requests and honors the server's
// maxlag protection.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Prometheus metrics for rate limiting.
var (
	wikiLimiterWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wiki_limiter_wait_seconds",
		Help:    "Time requests spent waiting on the rate limiter",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 10, 30},
	})

	wikiMaxlagBackoffsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wiki_maxlag_backoffs_total",
		Help: "Total number of maxlag backoff windows armed",
	})
)

// Limiter combines a local token bucket with a cooldown window armed by
// maxlag rejections. All methods are safe for concurrent use.
type Limiter struct {
	bucket  *rate.Limiter
	backoff time.Duration
	logger  zerolog.Logger

	mu            sync.Mutex
	cooldownUntil time.Time
}

// NewLimiter creates a limiter pacing requests at requestsPerSecond with
// the given maxlag cooldown duration.
func NewLimiter(requestsPerSecond float64, backoff time.Duration, logger zerolog.Logger) *Limiter {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 10
	}
	if backoff <= 0 {
		backoff = 5 * time.Second
	}

	burst := int(requestsPerSecond)
	if burst < 1 {
		burst = 1
	}

	return &Limiter{
		bucket:  rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
		backoff: backoff,
		logger:  logger,
	}
}

// Wait blocks until the next request may be sent; it honors context
// cancellation during both the cooldown and the bucket wait.
func (l *Limiter) Wait(ctx context.Context) error {
	start := time.Now()

	l.mu.Lock()
	until := l.cooldownUntil
	l.mu.Unlock()

	if wait := time.Until(until); wait > 0 {
		l.logger.Debug().Dur("wait", wait).Msg("Waiting out maxlag cooldown")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	if err := l.bucket.Wait(ctx); err != nil {
		return err
	}

	wikiLimiterWaitSeconds.Observe(time.Since(start).Seconds())
	return nil
}

// Backoff arms the cooldown window after a maxlag rejection. Overlapping
// rejections extend the window to at most one full backoff from now.
func (l *Limiter) Backoff() {
	l.mu.Lock()
	defer l.mu.Unlock()

	until := time.Now().Add(l.backoff)
	if until.After(l.cooldownUntil) {
		l.cooldownUntil = until
		wikiMaxlagBackoffsTotal.Inc()
		l.logger.Warn().
			Time("until", until).
			Msg("Maxlag backoff armed")
	}
}

// CooldownRemaining reports how long until requests flow again; zero
// means the limiter is healthy.
func (l *Limiter) CooldownRemaining() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	remaining := time.Until(l.cooldownUntil)
	if remaining < 0 {
		return 0
	}
	return remaining
}
