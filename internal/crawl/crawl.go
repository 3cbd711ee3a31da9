// Package crawl drives the pipeline against the API: keyword discovery on a
// bounded page budget, and the unbounded per-account tweet crawl that
// advances the archive cursor forward in time.
package crawl

import (
	"context"
	"errors"

	"accountscout/internal/budget"
	"accountscout/internal/logging"
	"accountscout/internal/metrics"
	"accountscout/internal/model"
	"accountscout/internal/pipeline"

	"github.com/samber/lo"
)

// Crawler sequences work strictly: one keyword at a time, one page at a
// time, one account at a time. No parallel fetches, so the platform's rate
// budget is consumed deterministically.
type Crawler struct {
	Pipe *pipeline.Pipeline
}

func New(p *pipeline.Pipeline) *Crawler { return &Crawler{Pipe: p} }

// RunDiscovery iterates the configured keywords, collects candidate accounts
// from search results, and submits each to the pipeline. Budget exhaustion
// is fatal to the run; everything else is logged and skipped.
func (c *Crawler) RunDiscovery(ctx context.Context) error {
	metrics.CrawlRuns.Inc()
	for _, keyword := range c.Pipe.Cfg.Search.Keywords {
		logging.Info("processing_keyword", map[string]any{"keyword": keyword})
		candidates, err := c.searchKeyword(ctx, keyword)
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			logging.Warn("no_candidates_for_keyword", map[string]any{"keyword": keyword})
			if err := c.Pipe.Sleep(ctx, c.Pipe.Cfg.Pacing.PageDelay()); err != nil {
				return err
			}
			continue
		}
		logging.Info("keyword_candidates", map[string]any{"keyword": keyword, "users": len(candidates)})
		for _, acc := range candidates {
			if _, err := c.Pipe.ProcessUser(ctx, acc); err != nil {
				if errors.Is(err, budget.ErrMonthlyCapExceeded) {
					metrics.CrawlErrors.Inc()
				}
				return err
			}
		}
		if err := c.Pipe.Sleep(ctx, c.Pipe.Cfg.Pacing.KeywordDelay()); err != nil {
			return err
		}
	}
	return nil
}

// searchKeyword paginates recent search for the keyword up to the page
// bound, prefiltering embedded user objects through the metric gate before
// the pipeline ever sees them. Candidates are deduplicated by id across
// pages. The page token persists in the ledger, so a run cut short by the
// budget or a crash resumes mid-keyword instead of refetching from page one.
func (c *Crawler) searchKeyword(ctx context.Context, keyword string) ([]model.Account, error) {
	candidates := make(map[string]model.Account)
	token := c.loadPageToken(ctx, keyword)
	for page := 0; page < c.Pipe.Cfg.Search.MaxPages; page++ {
		if err := c.Pipe.Meter.Check(ctx); err != nil {
			return nil, err
		}
		result, err := c.Pipe.Client.SearchRecentTweets(ctx, keyword, token)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// Not fatal: classify whatever this keyword yielded so far.
			logging.Error("search_failed", map[string]any{"keyword": keyword, "page": page, "error": err.Error()})
			break
		}
		if err := c.Pipe.Meter.Spend(ctx, "/tweets/search/recent", len(result.Tweets)); err != nil {
			if errors.Is(err, budget.ErrMonthlyCapExceeded) {
				return nil, err
			}
			logging.Error("usage_ledger_error", map[string]any{"keyword": keyword, "error": err.Error()})
		}
		for _, u := range result.Users {
			if c.Pipe.MeetsMetricThresholds(u) {
				candidates[u.ID] = u
			} else {
				logging.Info("prefilter_rejected_user", map[string]any{
					"user_id": u.ID, "followers": u.Metrics.FollowersCount, "tweet_count": u.Metrics.TweetCount,
				})
			}
		}
		token = result.NextToken
		c.savePageToken(ctx, keyword, token)
		if token == "" {
			break
		}
		if err := c.Pipe.Sleep(ctx, c.Pipe.Cfg.Pacing.PageDelay()); err != nil {
			return nil, err
		}
	}
	return lo.Values(candidates), nil
}

func searchCursorKey(keyword string) string { return "search:" + keyword }

func (c *Crawler) loadPageToken(ctx context.Context, keyword string) string {
	if c.Pipe.Ledger == nil {
		return ""
	}
	token, err := c.Pipe.Ledger.LoadCursor(ctx, searchCursorKey(keyword))
	if err != nil {
		logging.Error("cursor_load_failed", map[string]any{"keyword": keyword, "error": err.Error()})
		return ""
	}
	return token
}

func (c *Crawler) savePageToken(ctx context.Context, keyword, token string) {
	if c.Pipe.Ledger == nil {
		return
	}
	if err := c.Pipe.Ledger.SaveCursor(ctx, searchCursorKey(keyword), token); err != nil {
		logging.Error("cursor_save_failed", map[string]any{"keyword": keyword, "error": err.Error()})
	}
}
