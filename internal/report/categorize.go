// Package report maintains the reporting-side derived data: per-category
// relevance counters on relevant accounts, and daily summaries of
// classification decisions. Rendering (documents, dashboards) sits outside
// this repo; these passes only keep the counters current.
package report

import (
	"context"
	"time"

	"accountscout/internal/classifier"
	"accountscout/internal/config"
	"accountscout/internal/logging"
	"accountscout/internal/store"
	"accountscout/internal/textutil"
)

// Summary aggregates one categorize pass.
type Summary struct {
	TweetsScanned int
	// PerCategory counts tweets that crossed the report threshold per label.
	PerCategory map[string]int
}

// Categorize scores every archived tweet of every relevant account against
// the report labels at the stricter report threshold, incrementing each
// account's relevance_count per matching category. A tweet can count toward
// several categories at once.
func Categorize(ctx context.Context, cls classifier.Classifier, accounts *store.AccountStore,
	tweets *store.TweetStore, cfg config.Config) (Summary, error) {
	sum := Summary{PerCategory: make(map[string]int)}
	now := time.Now().UTC().Format(time.RFC3339)

	for _, acc := range accounts.Relevant() {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		archived := tweets.Tweets(acc.Username)
		if len(archived) == 0 {
			continue
		}
		texts := make([]string, 0, len(archived))
		for _, t := range archived {
			texts = append(texts, textutil.CleanTweet(t.Text))
		}
		sum.TweetsScanned += len(texts)

		perTweet, err := cls.Classify(ctx, texts, cfg.Classifier.ReportLabels, cfg.Classifier.ReportTemplate)
		if err != nil {
			// Fail closed: an account whose batch cannot be scored gains no
			// counters this pass.
			logging.Error("categorize_classify_failed", map[string]any{
				"username": acc.Username, "tweets": len(texts), "error": err.Error(),
			})
			continue
		}

		matched := false
		for _, scores := range perTweet {
			for _, label := range cfg.Classifier.ReportLabels {
				if scores[label] >= cfg.Thresholds.ReportThreshold {
					if acc.RelevanceCount == nil {
						acc.RelevanceCount = initCounters(cfg.Classifier.ReportLabels)
					}
					acc.RelevanceCount[label]++
					sum.PerCategory[label]++
					matched = true
				}
			}
		}
		if matched {
			acc.LastChecked = now
			if err := accounts.Update(acc); err != nil {
				return sum, err
			}
		}
	}
	return sum, nil
}

func initCounters(labels []string) map[string]int {
	m := make(map[string]int, len(labels))
	for _, l := range labels {
		m[l] = 0
	}
	return m
}
