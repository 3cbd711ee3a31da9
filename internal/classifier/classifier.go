// Package classifier wraps the zero-shot model behind a small interface and
// reduces its label scores into the boolean and ratio verdicts the pipeline
// consumes. The model itself is an external capability; nothing in here
// knows how inference works.
package classifier

import (
	"context"
	"time"

	"accountscout/internal/logging"
	"accountscout/internal/metrics"
	"accountscout/internal/model"
)

// Classifier scores each text against every candidate label independently.
// Scores are multi-label, not a softmax across labels.
type Classifier interface {
	Classify(ctx context.Context, texts, labels []string, hypothesisTemplate string) ([]model.Scores, error)
}

// AnyAbove reports whether any label's confidence exceeds threshold.
func AnyAbove(s model.Scores, threshold float64) bool {
	for _, v := range s {
		if v > threshold {
			return true
		}
	}
	return false
}

// RelevantByRatio applies the account-level rule: the fraction of texts with
// any label above threshold must meet ratio. Boundary inclusive: 2 of 5 at
// ratio 0.4 qualifies.
func RelevantByRatio(perText []model.Scores, threshold, ratio float64) bool {
	if len(perText) == 0 {
		return false
	}
	relevant := 0
	for _, s := range perText {
		if AnyAbove(s, threshold) {
			relevant++
		}
	}
	return float64(relevant) >= float64(len(perText))*ratio
}

// ScreenTweets runs the whole-account relevance check. Any classifier error
// is treated as "not relevant": fail-closed is the deliberate policy, so an
// outage can never promote an account.
func ScreenTweets(ctx context.Context, c Classifier, texts, labels []string, tmpl string, threshold, ratio float64) bool {
	if len(texts) == 0 {
		return false
	}
	start := time.Now()
	perText, err := c.Classify(ctx, texts, labels, tmpl)
	metrics.ObserveClassifyDuration(start)
	if err != nil {
		logging.Error("classification_error", map[string]any{"error": err.Error(), "texts": len(texts)})
		return false
	}
	return RelevantByRatio(perText, threshold, ratio)
}
