// Package pipeline implements the account classification state machine:
// metric gate, activity gate, content gate, immediate persistence, and the
// fixed pacing that keeps the crawl under the platform's rate budget.
package pipeline

import (
	"context"
	"errors"
	"time"

	"accountscout/internal/budget"
	"accountscout/internal/classifier"
	"accountscout/internal/config"
	"accountscout/internal/logging"
	"accountscout/internal/metrics"
	"accountscout/internal/model"
	"accountscout/internal/store"
	"accountscout/internal/store/usagedb"
	"accountscout/internal/xclient"
)

// Outcome is the terminal of one pipeline pass over an account.
type Outcome string

const (
	OutcomeRelevant             Outcome = "relevant"
	OutcomeIrrelevant           Outcome = "irrelevant"
	OutcomeIrrelevantPermanent  Outcome = "permanently_irrelevant"
	OutcomeIrrelevantMetrics    Outcome = "irrelevant_metrics"
	OutcomeSkippedNoRecentPosts Outcome = "skipped_no_recent_posts"
)

const (
	stageMetrics  = "metrics"
	stageActivity = "activity"
	stageContent  = "content"
)

// Pipeline wires the fetch client, classifier, stores, and budget meter.
type Pipeline struct {
	Client     xclient.XClient
	Classifier classifier.Classifier
	Accounts   *store.AccountStore
	Tweets     *store.TweetStore
	Meter      *budget.Meter
	Ledger     *usagedb.DB
	Cfg        config.Config

	// Sleep and Now are swapped out in tests so pacing is assertable
	// without wall-clock waits.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

func New(client xclient.XClient, cls classifier.Classifier, accounts *store.AccountStore,
	tweets *store.TweetStore, meter *budget.Meter, ledger *usagedb.DB, cfg config.Config) *Pipeline {
	return &Pipeline{
		Client:     client,
		Classifier: cls,
		Accounts:   accounts,
		Tweets:     tweets,
		Meter:      meter,
		Ledger:     ledger,
		Cfg:        cfg,
		Sleep:      sleepCtx,
		Now:        time.Now,
	}
}

// MeetsMetricThresholds is the inline prefilter: small enough to matter,
// active enough to classify.
func (p *Pipeline) MeetsMetricThresholds(acc model.Account) bool {
	return acc.Metrics.FollowersCount < p.Cfg.Thresholds.MaxFollowers &&
		acc.Metrics.TweetCount > p.Cfg.Thresholds.MinTweets
}

// ProcessUser runs one account through the full state machine. Every
// decision persists immediately; a crash loses at most the in-flight
// account. A pacing delay follows every exit path.
//
// Only budget exhaustion propagates as an error; fetch and classification
// failures degrade to conservative outcomes for this cycle.
func (p *Pipeline) ProcessUser(ctx context.Context, acc model.Account) (Outcome, error) {
	// Metric gate dominates content classification. Follower overflow is
	// the sticky, permanent case.
	if !p.MeetsMetricThresholds(acc) {
		permanent := acc.Metrics.FollowersCount >= p.Cfg.Thresholds.MaxFollowers
		if err := p.Accounts.Demote(acc, permanent); err != nil {
			return "", err
		}
		outcome := OutcomeIrrelevantMetrics
		if permanent {
			outcome = OutcomeIrrelevantPermanent
		}
		p.recordDecision(ctx, acc, outcome, stageMetrics)
		logging.Info("metric_gate_failed", map[string]any{
			"user_id": acc.ID, "followers": acc.Metrics.FollowersCount,
			"tweet_count": acc.Metrics.TweetCount, "permanent": permanent,
		})
		return outcome, p.pace(ctx, p.Cfg.Pacing.UserDelay())
	}

	// Activity gate: no qualifying original posts in the lookback window
	// means undecided; try again later. Nothing is written.
	texts, err := p.fetchRecentTexts(ctx, acc.ID)
	if err != nil {
		return "", err
	}
	if len(texts) == 0 {
		p.recordDecision(ctx, acc, OutcomeSkippedNoRecentPosts, stageActivity)
		logging.Info("no_recent_posts", map[string]any{"user_id": acc.ID, "username": acc.Username})
		return OutcomeSkippedNoRecentPosts, p.pace(ctx, p.Cfg.Pacing.SkipDelay())
	}

	// Content gate: classify and apply the ratio rule. Classifier failures
	// fail closed inside ScreenTweets.
	relevant := classifier.ScreenTweets(ctx, p.Classifier, texts,
		p.Cfg.Classifier.Labels, p.Cfg.Classifier.HypothesisTemplate,
		p.Cfg.Thresholds.ClassifyThreshold, p.Cfg.Thresholds.RelevantTweetRatio)

	var outcome Outcome
	if relevant {
		if err := p.Accounts.Promote(acc); err != nil {
			return "", err
		}
		outcome = OutcomeRelevant
	} else {
		if err := p.Accounts.Demote(acc, false); err != nil {
			return "", err
		}
		outcome = OutcomeIrrelevant
	}
	p.recordDecision(ctx, acc, outcome, stageContent)
	logging.Info("account_classified", map[string]any{
		"user_id": acc.ID, "username": acc.Username, "outcome": string(outcome), "tweets": len(texts),
	})
	return outcome, p.pace(ctx, p.Cfg.Pacing.UserDelay())
}

// fetchRecentTexts pulls up to the configured number of recent original
// tweets from the lookback window. Transport and rate-limit failures are
// downgraded to "no posts this cycle"; only spending against an exhausted
// budget is an error.
func (p *Pipeline) fetchRecentTexts(ctx context.Context, userID string) ([]string, error) {
	since := p.Now().UTC().AddDate(0, 0, -p.Cfg.Search.LookbackDays)
	tweets, err := p.Client.GetUserTweets(ctx, userID, since, p.Cfg.Search.TweetsPerUser*2)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logging.Error("fetch_user_tweets_failed", map[string]any{"user_id": userID, "error": err.Error()})
		return nil, nil
	}
	if err := p.Meter.Spend(ctx, "/users/:id/tweets", len(tweets)); err != nil {
		if errors.Is(err, budget.ErrMonthlyCapExceeded) {
			return nil, err
		}
		logging.Error("usage_ledger_error", map[string]any{"user_id": userID, "error": err.Error()})
	}
	if len(tweets) > p.Cfg.Search.TweetsPerUser {
		tweets = tweets[:p.Cfg.Search.TweetsPerUser]
	}
	texts := make([]string, 0, len(tweets))
	for _, t := range tweets {
		texts = append(texts, t.Text)
	}
	return texts, nil
}

func (p *Pipeline) recordDecision(ctx context.Context, acc model.Account, outcome Outcome, stage string) {
	metrics.IncClassification(string(outcome))
	if p.Ledger == nil {
		return
	}
	if err := p.Ledger.RecordDecision(ctx, p.Now().UTC(), acc.ID, acc.Username, string(outcome), stage); err != nil {
		logging.Error("decision_ledger_error", map[string]any{"user_id": acc.ID, "error": err.Error()})
	}
}

func (p *Pipeline) pace(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	return p.Sleep(ctx, d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
