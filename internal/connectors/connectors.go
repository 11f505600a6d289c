// Package connectors defines the Fetch/Normalize contract the ingest
// stage runs against every enabled source, a type-keyed registry, and
// per-source rate limiting. Adapted from the teacher's
// feeds.FeedManager (conditional-GET caching, date parsing) and
// internal/relay's per-key rate limiter.
package connectors

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/lamosty/aharadar-go/internal/storage"
)

// paidSourceTypes is the configurable set of source types the budget
// engine must gate: their fetch calls are presumed to cost credits.
var paidSourceTypes = map[string]bool{
	"signal":  true,
	"x_posts": true,
}

// IsPaid reports whether sourceType draws from the paid-connector budget.
func IsPaid(sourceType string) bool { return paidSourceTypes[sourceType] }

// FetchParams bounds one Fetch call: the source's persisted config and
// cursor, plus the caller's limits and ingest window.
type FetchParams struct {
	Config      map[string]any
	Cursor      map[string]any
	MaxItems    int
	WindowStart time.Time
	WindowEnd   time.Time
}

// ProviderCallDraft is the provider-call accounting a connector reports
// back from its own Fetch (paid connectors only).
type ProviderCallDraft struct {
	Provider            string
	Model               string
	InputTokens         int
	OutputTokens        int
	CostEstimateCredits float64
}

// FetchResult is one connector invocation's raw output.
type FetchResult struct {
	RawItems      []any
	NextCursor    map[string]any
	ProviderCalls []ProviderCallDraft
	NotModified   bool
}

// Connector fetches from one external source type and normalizes raw
// items into a storage.ContentItemDraft.
type Connector interface {
	// Type is the source.type string this connector handles (e.g. "rss").
	Type() string
	// Fetch pulls new items since params.Cursor, honoring ctx
	// cancellation and any conditional-GET caching the type supports.
	Fetch(ctx context.Context, params FetchParams) (FetchResult, error)
	// Normalize converts one raw item from a prior FetchResult into a
	// draft content item ready for upsert.
	Normalize(ctx context.Context, raw any, params FetchParams) (storage.ContentItemDraft, error)
}

// Registry dispatches a Source to its Connector by source.Type.
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]Connector
}

// NewRegistry returns an empty connector registry.
func NewRegistry() *Registry {
	return &Registry{connectors: make(map[string]Connector)}
}

// Register adds c under its own Type(), overwriting any existing
// registration for that type.
func (r *Registry) Register(c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors[c.Type()] = c
}

// Get returns the connector registered for sourceType, or an error if
// none is registered.
func (r *Registry) Get(sourceType string) (Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[sourceType]
	if !ok {
		return nil, fmt.Errorf("no connector registered for source type %q", sourceType)
	}
	return c, nil
}

// RateLimiters hands out one token-bucket limiter per source, evicting
// limiters unused for 10 minutes. Grounded on the teacher's per-IP
// RateLimiter in internal/relay/bandwidth.go.
type RateLimiters struct {
	mu       sync.Mutex
	limiters map[string]*sourceLimiter
	rps      rate.Limit
	burst    int
}

type sourceLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiters creates a registry of per-source limiters sharing one
// (requestsPerSecond, burst) policy and starts its eviction loop. The
// loop exits when ctx is cancelled.
func NewRateLimiters(ctx context.Context, requestsPerSecond float64, burst int) *RateLimiters {
	rl := &RateLimiters{
		limiters: make(map[string]*sourceLimiter),
		rps:      rate.Limit(requestsPerSecond),
		burst:    burst,
	}
	go rl.evictLoop(ctx)
	return rl
}

func (rl *RateLimiters) evictLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.mu.Lock()
			for id, l := range rl.limiters {
				if time.Since(l.lastSeen) > 10*time.Minute {
					delete(rl.limiters, id)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// Wait blocks until sourceID's bucket has a token available or ctx is
// cancelled.
func (rl *RateLimiters) Wait(ctx context.Context, sourceID string) error {
	rl.mu.Lock()
	l, ok := rl.limiters[sourceID]
	if !ok {
		l = &sourceLimiter{lim: rate.NewLimiter(rl.rps, rl.burst)}
		rl.limiters[sourceID] = l
	}
	l.lastSeen = time.Now()
	lim := l.lim
	rl.mu.Unlock()

	return lim.Wait(ctx)
}
