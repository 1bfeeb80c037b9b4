package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/askdex/internal/domain"
	"github.com/kailas-cloud/askdex/internal/metrics"
)

// BudgetAction defines behavior when a token budget is exceeded.
type BudgetAction string

const (
	// BudgetActionWarn logs a warning but lets the call through.
	BudgetActionWarn BudgetAction = "warn"
	// BudgetActionReject fails the call, which makes the gateway try the fallback.
	BudgetActionReject BudgetAction = "reject"
)

// BudgetStore persists budget counters. IncrBy returns the new total.
type BudgetStore interface {
	IncrBy(ctx context.Context, key string, val int64) (int64, error)
	Get(ctx context.Context, key string) (int64, error)
}

// BudgetTracker is a per-provider token budget. Check is in-memory only;
// Record updates memory first and then writes behind to the store.
type BudgetTracker struct {
	mu             sync.Mutex
	dailyUsed      int64
	monthlyUsed    int64
	dailyCalls     int64
	monthlyCalls   int64
	dailyLimit     int64
	monthlyLimit   int64
	action         BudgetAction
	provider       string
	lastDayReset   time.Time
	lastMonthReset time.Time
	store          BudgetStore
	now            func() time.Time
	logger         *zap.Logger
}

// BudgetReport is a snapshot of one provider budget.
type BudgetReport struct {
	Provider         string       `json:"provider"`
	Action           BudgetAction `json:"action"`
	DailyLimit       int64        `json:"daily_limit"`
	DailyUsed        int64        `json:"daily_used"`
	DailyRemaining   int64        `json:"daily_remaining"`
	DailyRequests    int64        `json:"daily_requests"`
	MonthlyLimit     int64        `json:"monthly_limit"`
	MonthlyUsed      int64        `json:"monthly_used"`
	MonthlyRemaining int64        `json:"monthly_remaining"`
	MonthlyRequests  int64        `json:"monthly_requests"`
	Exhausted        bool         `json:"exhausted"`
}

// NewBudgetTracker creates a tracker. A zero limit means unlimited.
func NewBudgetTracker(
	provider string, dailyLimit, monthlyLimit int64,
	action BudgetAction, logger *zap.Logger,
) *BudgetTracker {
	if action == "" {
		action = BudgetActionWarn
	}
	b := &BudgetTracker{
		dailyLimit:   dailyLimit,
		monthlyLimit: monthlyLimit,
		action:       action,
		provider:     provider,
		now:          func() time.Time { return time.Now().UTC() },
		logger:       logger,
	}
	now := b.now()
	b.lastDayReset = truncateToDay(now)
	b.lastMonthReset = truncateToMonth(now)
	return b
}

// WithStore attaches persistence and loads the current period's counters.
func (b *BudgetTracker) WithStore(ctx context.Context, store BudgetStore) *BudgetTracker {
	b.store = store

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if val, err := store.Get(ctx, b.dailyKey(now)); err == nil {
		b.dailyUsed = val
	} else {
		b.logger.Warn("Failed to load daily budget", zap.String("provider", b.provider), zap.Error(err))
	}
	if val, err := store.Get(ctx, b.monthlyKey(now)); err == nil {
		b.monthlyUsed = val
	} else {
		b.logger.Warn("Failed to load monthly budget", zap.String("provider", b.provider), zap.Error(err))
	}
	b.publish()
	return b
}

func (b *BudgetTracker) dailyKey(t time.Time) string {
	return fmt.Sprintf("%sbudget:%s:daily:%s", domain.KeyPrefix, b.provider, t.Format("2006-01-02"))
}

func (b *BudgetTracker) monthlyKey(t time.Time) string {
	return fmt.Sprintf("%sbudget:%s:monthly:%s", domain.KeyPrefix, b.provider, t.Format("2006-01"))
}

// Check reports whether a new call may go out.
func (b *BudgetTracker) Check(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.resetIfNeeded()
	if !b.exhausted() {
		return nil
	}
	if b.action == BudgetActionReject {
		return fmt.Errorf("provider %s: %w", b.provider, domain.ErrBudgetExceeded)
	}
	b.logger.Warn("Token budget exceeded",
		zap.String("provider", b.provider),
		zap.Int64("daily_used", b.dailyUsed),
		zap.Int64("daily_limit", b.dailyLimit),
		zap.Int64("monthly_used", b.monthlyUsed),
		zap.Int64("monthly_limit", b.monthlyLimit),
	)
	return nil
}

// Record counts one served call and adds its tokens.
func (b *BudgetTracker) Record(tokens int64) {
	b.mu.Lock()
	b.resetIfNeeded()
	b.dailyCalls++
	b.monthlyCalls++
	if tokens <= 0 {
		b.mu.Unlock()
		return
	}
	b.dailyUsed += tokens
	b.monthlyUsed += tokens
	b.publish()
	store := b.store
	now := b.now()
	dailyKey, monthlyKey := b.dailyKey(now), b.monthlyKey(now)
	b.mu.Unlock()

	if store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := store.IncrBy(ctx, dailyKey, tokens); err != nil {
		b.logger.Warn("Failed to persist daily budget", zap.String("key", dailyKey), zap.Error(err))
	}
	if _, err := store.IncrBy(ctx, monthlyKey, tokens); err != nil {
		b.logger.Warn("Failed to persist monthly budget", zap.String("key", monthlyKey), zap.Error(err))
	}
}

// Report returns the current state.
func (b *BudgetTracker) Report() BudgetReport {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetIfNeeded()
	return BudgetReport{
		Provider:         b.provider,
		Action:           b.action,
		DailyLimit:       b.dailyLimit,
		DailyUsed:        b.dailyUsed,
		DailyRemaining:   remaining(b.dailyLimit, b.dailyUsed),
		DailyRequests:    b.dailyCalls,
		MonthlyLimit:     b.monthlyLimit,
		MonthlyUsed:      b.monthlyUsed,
		MonthlyRemaining: remaining(b.monthlyLimit, b.monthlyUsed),
		MonthlyRequests:  b.monthlyCalls,
		Exhausted:        b.exhausted(),
	}
}

func (b *BudgetTracker) exhausted() bool {
	return (b.dailyLimit > 0 && b.dailyUsed >= b.dailyLimit) ||
		(b.monthlyLimit > 0 && b.monthlyUsed >= b.monthlyLimit)
}

// publish updates the remaining-budget gauges. Caller holds mu.
func (b *BudgetTracker) publish() {
	metrics.BudgetTokensRemaining.WithLabelValues(b.provider, "daily").Set(float64(remaining(b.dailyLimit, b.dailyUsed)))
	metrics.BudgetTokensRemaining.WithLabelValues(b.provider, "monthly").Set(float64(remaining(b.monthlyLimit, b.monthlyUsed)))
}

// resetIfNeeded zeroes counters when the day or month rolls over.
func (b *BudgetTracker) resetIfNeeded() {
	now := b.now()
	today := truncateToDay(now)
	thisMonth := truncateToMonth(now)

	if today.After(b.lastDayReset) {
		b.dailyUsed = 0
		b.dailyCalls = 0
		b.lastDayReset = today
	}
	if thisMonth.After(b.lastMonthReset) {
		b.monthlyUsed = 0
		b.monthlyCalls = 0
		b.lastMonthReset = thisMonth
	}
}

// remaining is -1 for unlimited budgets.
func remaining(limit, used int64) int64 {
	if limit == 0 {
		return -1
	}
	if r := limit - used; r > 0 {
		return r
	}
	return 0
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func truncateToMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
