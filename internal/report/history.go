package report

import (
	"context"
	"sort"
	"time"

	"accountscout/internal/store/usagedb"
)

// DailyDecisions aggregates ledger decisions into per-day buckets keyed by
// outcome.
func DailyDecisions(ctx context.Context, db *usagedb.DB, start, end time.Time) (map[time.Time]map[string]int, error) {
	decisions, err := db.DecisionsRange(ctx, start, end)
	if err != nil {
		return nil, err
	}
	buckets := make(map[time.Time]map[string]int)
	for _, d := range decisions {
		key := time.Date(d.TS.Year(), d.TS.Month(), d.TS.Day(), 0, 0, 0, 0, time.UTC)
		if _, ok := buckets[key]; !ok {
			buckets[key] = make(map[string]int)
		}
		buckets[key][d.Outcome]++
	}
	return buckets, nil
}

// SortedBucketKeys returns the bucket days in ascending order.
func SortedBucketKeys(m map[time.Time]map[string]int) []time.Time {
	keys := make([]time.Time, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })
	return keys
}
