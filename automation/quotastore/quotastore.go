// Package quotastore tracks plan-scoped usage counters for quota-bearing
// actions. All implementations provide a single atomic check-and-increment:
// two workers racing a near-exhausted quota can never both pass.
package quotastore

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	PeriodDay   = "day"
	PeriodMonth = "month"
	PeriodTotal = "total"
)

type QuotaStore interface {
	// CheckAndIncrement atomically increments the (user, usageKey, period)
	// counter iff the current value is below limit. Returns false (denied)
	// when the limit is already reached; the counter is left unchanged.
	// A negative limit means unlimited.
	CheckAndIncrement(ctx context.Context, userID, usageKey, period string, limit int) (bool, error)
	GetUsage(ctx context.Context, userID, usageKey, period string) (int, error)
	// Reset clears the current period's counter, starting a new period.
	Reset(ctx context.Context, userID, usageKey, period string) error
}

// periodBucket maps a (user, usageKey, period) to the storage key for the
// current period window.
func periodBucket(userID, usageKey, period string) string {
	switch period {
	case PeriodTotal:
		return fmt.Sprintf("%s/%s", userID, usageKey)
	case PeriodDay:
		t := time.Now().UTC().Format(time.DateOnly)
		return fmt.Sprintf("%s/%s/%s", userID, usageKey, t)
	case PeriodMonth:
		t := time.Now().UTC().Format("2006-01")
		return fmt.Sprintf("%s/%s/%s", userID, usageKey, t)
	default:
		slog.Warn("unhandled quota period", "period", period)
		return fmt.Sprintf("%s/%s", userID, usageKey)
	}
}

// retention for period-bucketed keys in stores that support expiry
func periodTTL(period string) time.Duration {
	switch period {
	case PeriodDay:
		return 48 * time.Hour
	case PeriodMonth:
		return 62 * 24 * time.Hour
	default:
		return 0
	}
}
