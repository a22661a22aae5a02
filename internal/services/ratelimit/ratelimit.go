package ratelimit

import (
	"math"
	"time"

	"github.com/solstream/keygate/internal/models"
)

// Result is one rate decision. ResetAt is the moment the monthly window
// rolls over; RetryAfterSeconds is populated only when the call is denied.
type Result struct {
	Allowed           bool      `json:"allowed"`
	Limit             int64     `json:"limit"`
	Remaining         int64     `json:"remaining"`
	ResetAt           time.Time `json:"reset_at"`
	RetryAfterSeconds int       `json:"retry_after_seconds,omitempty"`
}

// Limiter computes rate decisions from a key's tier and counters. It holds
// no state of its own: the counters live on the key record and advance
// through the usage logger's atomic increment.
type Limiter struct {
	budgets map[models.RateLimitTier]int64
}

// Built-in tier budgets, used when configuration does not override them.
var defaultBudgets = map[models.RateLimitTier]int64{
	models.TierStandard:   1000,
	models.TierPremium:    5000,
	models.TierEnterprise: 25000,
}

// NewLimiter lays the supplied budgets over the built-in table, so a partial
// override never leaves a tier with a zero budget.
func NewLimiter(budgets map[models.RateLimitTier]int64) *Limiter {
	merged := make(map[models.RateLimitTier]int64, len(defaultBudgets))
	for tier, budget := range defaultBudgets {
		merged[tier] = budget
	}
	for tier, budget := range budgets {
		merged[tier] = budget
	}
	return &Limiter{budgets: merged}
}

// Budget returns the monthly request budget for a tier. Unknown tiers fall
// back to the standard budget.
func (l *Limiter) Budget(tier models.RateLimitTier) int64 {
	if budget, ok := l.budgets[tier]; ok {
		return budget
	}
	return l.budgets[models.TierStandard]
}

// Check is a pure read of the key's quota position at time now. When the
// reset boundary has already passed, the window counts as fresh even though
// the stored counter only rolls over on the next increment.
func (l *Limiter) Check(key *models.APIKey, now time.Time) Result {
	limit := l.Budget(key.RateLimitTier)

	used := key.MonthlyUsageCount
	resetAt := key.MonthlyUsageResetDate
	if !now.Before(resetAt) {
		used = 0
		resetAt = models.NextMonthStart(now)
	}

	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}

	result := Result{
		Allowed:   remaining > 0,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}

	if !result.Allowed {
		result.RetryAfterSeconds = RetryAfter(now, resetAt)
	}

	return result
}

// RetryAfter returns the whole seconds until the window resets, at least 1.
func RetryAfter(now, resetAt time.Time) int {
	secs := int(math.Ceil(resetAt.Sub(now).Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
