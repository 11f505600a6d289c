// Package budget implements the credits budget gate: whether paid
// provider calls are allowed for a run, and the warning level to
// surface to the scheduler and digest output. Generalized from the
// teacher's internal/services/cost_controller.go (local JSON-file
// daily-budget tracking, ShouldUseCloud gating) into a
// database-backed monthly+daily credits model with a short-TTL cache.
package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/lamosty/aharadar-go/internal/core"
	"github.com/lamosty/aharadar-go/internal/storage"
)

// WarningLevel classifies how close a user is to exhausting their
// credits for the current period.
type WarningLevel string

const (
	WarningNone        WarningLevel = "none"
	WarningApproaching WarningLevel = "approaching"
	WarningCritical    WarningLevel = "critical"
)

const (
	approachingThresholdDefault = 0.80
	criticalThresholdDefault    = 0.95
)

// CreditsStatus is the full result of a ComputeCreditsStatus call.
type CreditsStatus struct {
	MonthlyUsed      float64
	MonthlyLimit     float64
	MonthlyRemaining float64
	DailyUsed        float64
	DailyLimit       *float64
	DailyRemaining   *float64
	PaidCallsAllowed bool
	WarningLevel     WarningLevel
}

// Thresholds configures where the approaching/critical warning bands
// start; both are fractions of the relevant limit.
type Thresholds struct {
	Approaching float64
	Critical    float64
}

// DefaultThresholds returns the spec's default 80%/95% bands.
func DefaultThresholds() Thresholds {
	return Thresholds{Approaching: approachingThresholdDefault, Critical: criticalThresholdDefault}
}

// Engine computes credits status against the storage gateway, with an
// optional cache fronting the aggregate queries.
type Engine struct {
	gw         storage.Gateway
	thresholds Thresholds
	cache      Cache
	cacheTTL   time.Duration
}

// Cache is satisfied by a Redis-backed short-TTL cache (see cache.go);
// a nil Cache disables caching entirely.
type Cache interface {
	Get(ctx context.Context, key string) (CreditsStatus, bool, error)
	Set(ctx context.Context, key string, status CreditsStatus, ttl time.Duration) error
}

// NewEngine wires the storage gateway and an optional cache behind one
// budget-gate surface.
func NewEngine(gw storage.Gateway, thresholds Thresholds, cache Cache, cacheTTL time.Duration) *Engine {
	if thresholds.Approaching == 0 && thresholds.Critical == 0 {
		thresholds = DefaultThresholds()
	}
	if cacheTTL == 0 {
		cacheTTL = 30 * time.Second
	}
	return &Engine{gw: gw, thresholds: thresholds, cache: cache, cacheTTL: cacheTTL}
}

// ComputeCreditsStatus implements spec.md's computeCreditsStatus
// contract: monthly/daily aggregation of ok ProviderCall cost minus
// BudgetReset offsets, as of referenceInstant.
func (e *Engine) ComputeCreditsStatus(ctx context.Context, userID string, monthlyCredits float64, dailyThrottleCredits *float64, referenceInstant time.Time) (CreditsStatus, error) {
	cacheKey := fmt.Sprintf("%s:%d", userID, referenceInstant.Unix()/30)
	if e.cache != nil {
		if cached, ok, err := e.cache.Get(ctx, cacheKey); err == nil && ok {
			return cached, nil
		}
	}

	monthStart := time.Date(referenceInstant.Year(), referenceInstant.Month(), 1, 0, 0, 0, 0, time.UTC)
	dayStart := time.Date(referenceInstant.Year(), referenceInstant.Month(), referenceInstant.Day(), 0, 0, 0, 0, time.UTC)

	monthlySpent, err := e.gw.ProviderCalls().SumCreditsSince(ctx, userID, monthStart)
	if err != nil {
		return CreditsStatus{}, fmt.Errorf("sum monthly provider call credits: %w", err)
	}
	monthlyResets, err := e.gw.BudgetResets().SumSince(ctx, userID, core.BudgetResetMonthly, monthStart)
	if err != nil {
		return CreditsStatus{}, fmt.Errorf("sum monthly budget resets: %w", err)
	}
	monthlyUsed := maxFloat(0, monthlySpent-monthlyResets)
	monthlyRemaining := monthlyCredits - monthlyUsed

	dailySpent, err := e.gw.ProviderCalls().SumCreditsSince(ctx, userID, dayStart)
	if err != nil {
		return CreditsStatus{}, fmt.Errorf("sum daily provider call credits: %w", err)
	}
	dailyResets, err := e.gw.BudgetResets().SumSince(ctx, userID, core.BudgetResetDaily, dayStart)
	if err != nil {
		return CreditsStatus{}, fmt.Errorf("sum daily budget resets: %w", err)
	}
	dailyUsed := maxFloat(0, dailySpent-dailyResets)

	var dailyLimit, dailyRemaining *float64
	if dailyThrottleCredits != nil && *dailyThrottleCredits > 0 {
		limit := *dailyThrottleCredits
		remaining := limit - dailyUsed
		dailyLimit = &limit
		dailyRemaining = &remaining
	}

	paidCallsAllowed := monthlyRemaining > 0 && (dailyRemaining == nil || *dailyRemaining > 0)

	status := CreditsStatus{
		MonthlyUsed:      monthlyUsed,
		MonthlyLimit:     monthlyCredits,
		MonthlyRemaining: monthlyRemaining,
		DailyUsed:        dailyUsed,
		DailyLimit:       dailyLimit,
		DailyRemaining:   dailyRemaining,
		PaidCallsAllowed: paidCallsAllowed,
		WarningLevel:     e.warningLevel(monthlyUsed, monthlyCredits, dailyUsed, dailyLimit),
	}

	if e.cache != nil {
		_ = e.cache.Set(ctx, cacheKey, status, e.cacheTTL)
	}
	return status, nil
}

func (e *Engine) warningLevel(monthlyUsed, monthlyLimit, dailyUsed float64, dailyLimit *float64) WarningLevel {
	level := e.levelForRatio(ratio(monthlyUsed, monthlyLimit))
	if dailyLimit != nil {
		if dailyLevel := e.levelForRatio(ratio(dailyUsed, *dailyLimit)); worseLevel(dailyLevel, level) {
			level = dailyLevel
		}
	}
	return level
}

func (e *Engine) levelForRatio(r float64) WarningLevel {
	switch {
	case r >= e.thresholds.Critical:
		return WarningCritical
	case r >= e.thresholds.Approaching:
		return WarningApproaching
	default:
		return WarningNone
	}
}

func worseLevel(a, b WarningLevel) bool {
	rank := map[WarningLevel]int{WarningNone: 0, WarningApproaching: 1, WarningCritical: 2}
	return rank[a] > rank[b]
}

func ratio(used, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	return used / limit
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
