// Package usage counts generations per user and gates them by plan.
package usage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"appraise/pkg/domain"
	"appraise/pkg/store"
)

// Caps per plan. Both apply to the same day-reset counter, so the plus cap
// is never actually reached in a month-long window.
const (
	FreeDailyLimit   = 2
	PlusMonthlyLimit = 200
)

// DateLayout is the stored lastResetDate format.
const DateLayout = "2006-01-02"

// Limiter is safe for concurrent use.
type Limiter struct {
	mu     sync.Mutex
	repo   store.UsageRepository
	userID string
	now    func() time.Time
	stats  domain.UsageStats
}

// Option customises a Limiter.
type Option func(*Limiter)

// WithClock injects the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// Open loads the user's stored stats.
func Open(ctx context.Context, repo store.UsageRepository, userID string, opts ...Option) (*Limiter, error) {
	l := &Limiter{repo: repo, userID: userID, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	stats, err := repo.GetUsage(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load usage: %w", err)
	}
	l.stats = stats
	return l, nil
}

// Limit returns the cap for plan.
func Limit(plan domain.Plan) int {
	if plan == domain.PlanPlus {
		return PlusMonthlyLimit
	}
	return FreeDailyLimit
}

// Stats returns the effective stats: a counter stored on another day reads
// as zero for today. Nothing is written until the next Increment.
func (l *Limiter) Stats() domain.UsageStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.effectiveLocked()
}

// IsLimitReached reports whether the effective count has reached the plan's cap.
func (l *Limiter) IsLimitReached(plan domain.Plan) bool {
	return l.Stats().Count >= Limit(plan)
}

// Remaining is how many generations the plan still allows today.
func (l *Limiter) Remaining(plan domain.Plan) int {
	return max(Limit(plan)-l.Stats().Count, 0)
}

// Increment applies the day reset, adds one and persists.
func (l *Limiter) Increment(ctx context.Context) (domain.UsageStats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := l.effectiveLocked()
	next.Count++
	if err := l.repo.SaveUsage(ctx, l.userID, next); err != nil {
		return l.stats, fmt.Errorf("save usage: %w", err)
	}
	l.stats = next
	return next, nil
}

func (l *Limiter) effectiveLocked() domain.UsageStats {
	today := l.now().Format(DateLayout)
	if l.stats.LastResetDate != today {
		return domain.UsageStats{Count: 0, LastResetDate: today}
	}
	return l.stats
}
