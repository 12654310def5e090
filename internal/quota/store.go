package quota

import (
	"context"
	"time"
)

// Usage is a read-only snapshot of one identity's consumption for the
// current calendar day (process-local timezone).
type Usage struct {
	Identity  string
	Count     int64
	Limit     int64
	Remaining int64
	ResetsAt  time.Time
}

// Decision is the outcome of a consume attempt.
type Decision struct {
	Allowed bool
	Usage   Usage
}

// Store tracks per-identity daily usage counters. CheckAndConsume increments
// the day's counter atomically and reverts the increment when the result
// exceeds the limit, so concurrent callers never need an external lock.
// Storage errors surface to the caller, which owns the fail-open policy.
type Store interface {
	CheckAndConsume(ctx context.Context, identity string) (Decision, error)
	Usage(ctx context.Context, identity string) (Usage, error)
	Reset(ctx context.Context, identity string) error
}

func dayKey(now time.Time) string {
	return now.Format("2006-01-02")
}

func nextMidnight(now time.Time) time.Time {
	year, month, day := now.Date()
	return time.Date(year, month, day+1, 0, 0, 0, 0, now.Location())
}

func remaining(count, limit int64) int64 {
	if count >= limit {
		return 0
	}
	return limit - count
}
