package connectors

import (
	"context"
	"fmt"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

// BreakerConfig mirrors the teacher-adjacent CircuitBreakerConfig shape
// (cartographus's internal/eventprocessor/config.go), generalized from
// one breaker per media-event table to one breaker per source.
type BreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

// DefaultBreakerConfig returns the same trip/reset shape the teacher's
// DefaultCircuitBreakerConfig uses for its own per-table breakers.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      3,
		Interval:         30 * time.Second,
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
	}
}

// Fetcher dispatches a source's Fetch call through a per-source rate
// limiter and circuit breaker, so one persistently failing source
// cannot stall or exhaust the ingest stage's budget on every run.
type Fetcher struct {
	registry *Registry
	limiters *RateLimiters
	cfg      BreakerConfig

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[FetchResult]
}

// NewFetcher wires a registry, a rate-limiter pool, and a breaker
// config into one call surface for the ingest stage.
func NewFetcher(registry *Registry, limiters *RateLimiters, cfg BreakerConfig) *Fetcher {
	return &Fetcher{
		registry: registry,
		limiters: limiters,
		cfg:      cfg,
		breakers: make(map[string]*gobreaker.CircuitBreaker[FetchResult]),
	}
}

// Fetch waits for sourceID's rate-limit token, then runs the
// registered connector's Fetch through sourceID's breaker. A tripped
// breaker fails fast with gobreaker.ErrOpenState without touching the
// network or the limiter.
func (f *Fetcher) Fetch(ctx context.Context, sourceType, sourceID string, params FetchParams) (FetchResult, error) {
	conn, err := f.registry.Get(sourceType)
	if err != nil {
		return FetchResult{}, err
	}
	if err := f.limiters.Wait(ctx, sourceID); err != nil {
		return FetchResult{}, fmt.Errorf("rate limit wait for source %s: %w", sourceID, err)
	}

	cb := f.breakerFor(sourceID)
	return cb.Execute(func() (FetchResult, error) {
		return conn.Fetch(ctx, params)
	})
}

// Connector exposes the registered connector for sourceType so callers
// can invoke Normalize on raw items returned by Fetch.
func (f *Fetcher) Connector(sourceType string) (Connector, error) {
	return f.registry.Get(sourceType)
}

func (f *Fetcher) breakerFor(sourceID string) *gobreaker.CircuitBreaker[FetchResult] {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cb, ok := f.breakers[sourceID]; ok {
		return cb
	}
	settings := gobreaker.Settings{
		Name:        sourceID,
		MaxRequests: f.cfg.MaxRequests,
		Interval:    f.cfg.Interval,
		Timeout:     f.cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= f.cfg.FailureThreshold
		},
	}
	cb := gobreaker.NewCircuitBreaker[FetchResult](settings)
	f.breakers[sourceID] = cb
	return cb
}
