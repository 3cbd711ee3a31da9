package crawl

import (
	"context"
	"errors"

	"accountscout/internal/budget"
	"accountscout/internal/logging"
)

// RunTweetCrawl is the "crawl forever" mode: it loops over the relevant
// accounts, fetching only tweets newer than each account's archive cursor,
// until the context is cancelled or the monthly budget runs out. The cursor
// advances only forward in time per account.
func (c *Crawler) RunTweetCrawl(ctx context.Context) error {
	if err := c.Pipe.Tweets.Cleanup(); err != nil {
		return err
	}
	logging.Info("tweet_crawl_initial_pause", map[string]any{
		"seconds": c.Pipe.Cfg.Pacing.InitialPause().Seconds(),
	})
	if err := c.Pipe.Sleep(ctx, c.Pipe.Cfg.Pacing.InitialPause()); err != nil {
		return err
	}
	for {
		if err := c.crawlRelevantOnce(ctx); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// CrawlRelevantOnce makes one pass over the relevant accounts. Exported for
// one-shot invocation and tests; RunTweetCrawl loops it.
func (c *Crawler) CrawlRelevantOnce(ctx context.Context) error {
	return c.crawlRelevantOnce(ctx)
}

func (c *Crawler) crawlRelevantOnce(ctx context.Context) error {
	accounts := c.Pipe.Accounts.Relevant()
	if len(accounts) == 0 {
		logging.Warn("no_relevant_accounts_to_crawl", nil)
	}
	for _, acc := range accounts {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := c.Pipe.Meter.Check(ctx); err != nil {
			return err
		}
		since, ok := c.Pipe.Tweets.LatestTimestamp(acc.Username)
		if !ok {
			since = c.Pipe.Now().UTC().AddDate(0, 0, -c.Pipe.Cfg.Search.LookbackDays)
		}
		tweets, err := c.Pipe.Client.GetUserTweets(ctx, acc.ID, since, c.Pipe.Cfg.Search.TweetsPerUser)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logging.Error("tweet_crawl_fetch_failed", map[string]any{
				"user_id": acc.ID, "username": acc.Username, "error": err.Error(),
			})
		} else if len(tweets) > 0 {
			if err := c.Pipe.Meter.Spend(ctx, "/users/:id/tweets", len(tweets)); err != nil {
				if errors.Is(err, budget.ErrMonthlyCapExceeded) {
					return err
				}
				logging.Error("usage_ledger_error", map[string]any{"user_id": acc.ID, "error": err.Error()})
			}
			added, err := c.Pipe.Tweets.Merge(acc.Username, tweets)
			if err != nil {
				return err
			}
			logging.Info("tweets_merged", map[string]any{
				"username": acc.Username, "fetched": len(tweets), "new": added,
			})
		} else {
			logging.Info("no_new_tweets", map[string]any{"username": acc.Username})
		}
		if err := c.Pipe.Sleep(ctx, c.Pipe.Cfg.Pacing.TweetCrawlDelay()); err != nil {
			return err
		}
	}
	return nil
}
