// Package budget enforces the monthly post-consumption cap. Reaching the cap
// is fatal to the current run: the crawl stops issuing fetches rather than
// spending budget it does not have.
package budget

import (
	"context"
	"errors"
	"time"

	"accountscout/internal/logging"
	"accountscout/internal/metrics"
	"accountscout/internal/store/usagedb"
)

// ErrMonthlyCapExceeded terminates the run; it is never retried.
var ErrMonthlyCapExceeded = errors.New("monthly post cap reached")

const warnRatio = 0.9

// Meter tracks post consumption against the calendar-month cap, backed by
// the ledger so the count survives restarts within the month.
type Meter struct {
	db  *usagedb.DB
	cap int

	now func() time.Time
}

func NewMeter(db *usagedb.DB, monthlyCap int) *Meter {
	return &Meter{db: db, cap: monthlyCap, now: time.Now}
}

// WithClock pins the meter's clock; used by tests.
func (m *Meter) WithClock(now func() time.Time) *Meter {
	m.now = now
	return m
}

func monthBounds(now time.Time) (time.Time, time.Time) {
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// Used returns this month's consumption so far.
func (m *Meter) Used(ctx context.Context) (int, error) {
	start, end := monthBounds(m.now().UTC())
	return m.db.PostsUsedWithin(ctx, start, end)
}

// Spend records posts consumed by one call and checks the cap. Returns
// ErrMonthlyCapExceeded once consumption reaches the cap.
func (m *Meter) Spend(ctx context.Context, endpoint string, posts int) error {
	if posts > 0 {
		if err := m.db.RecordUsage(ctx, m.now().UTC(), endpoint, posts); err != nil {
			return err
		}
		metrics.PostsConsumed.Add(float64(posts))
	}
	return m.Check(ctx)
}

// Check verifies remaining budget without recording anything.
func (m *Meter) Check(ctx context.Context) error {
	if m.cap <= 0 {
		return nil
	}
	used, err := m.Used(ctx)
	if err != nil {
		return err
	}
	if used >= m.cap {
		logging.Error("monthly_post_cap_reached", map[string]any{"used": used, "cap": m.cap})
		return ErrMonthlyCapExceeded
	}
	if float64(used) >= float64(m.cap)*warnRatio {
		logging.Warn("approaching_monthly_post_cap", map[string]any{"used": used, "cap": m.cap})
	}
	return nil
}
