package pipeline

import (
	"context"
	"errors"
	"time"

	"accountscout/internal/logging"
	"accountscout/internal/model"
	"accountscout/internal/xclient"
)

const (
	stageReevaluateActivity  = "reevaluate_activity"
	stageReevaluateFollowers = "reevaluate_followers"
)

// ReevaluateRelevant applies the demotion rules to every currently-relevant
// account: no archived tweets in the demotion window, or a follower count
// that has since crossed the threshold both demote, even from Relevant.
// Metrics are refreshed from the API; tweet activity comes from the archive.
func (p *Pipeline) ReevaluateRelevant(ctx context.Context) error {
	now := p.Now().UTC()
	windowDays := p.Cfg.Thresholds.IrrelevantDecayDays
	cutoff := now.AddDate(0, 0, -windowDays)

	for _, acc := range p.Accounts.Relevant() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		recent := p.recentArchivedTweets(acc.Username, cutoff)

		fresh, err := p.Client.GetUserByID(ctx, acc.ID)
		if err != nil {
			logging.Error("reevaluate_fetch_failed", map[string]any{"user_id": acc.ID, "error": err.Error()})
		} else {
			acc.Metrics = fresh.Metrics
			acc.Username = fresh.Username
		}

		// A missing or unparsable last check counts as the epoch, so an
		// account with an empty archive is purged on the first pass.
		lastChecked, _ := parseAccountTime(acc.LastCheckedAt)
		acc.LastRelevantTweetCount = len(recent)
		acc.LastCheckedAt = now.Format(time.RFC3339)

		switch {
		case acc.Metrics.FollowersCount >= p.Cfg.Thresholds.MaxFollowers:
			if err := p.Accounts.Demote(acc, true); err != nil {
				return err
			}
			p.recordDecision(ctx, acc, OutcomeIrrelevantPermanent, stageReevaluateFollowers)
			logging.Info("relevant_account_demoted", map[string]any{
				"user_id": acc.ID, "username": acc.Username, "reason": "too many followers",
			})
		case len(recent) == 0 && now.Sub(lastChecked) > time.Duration(windowDays)*24*time.Hour:
			if err := p.Accounts.Demote(acc, false); err != nil {
				return err
			}
			p.recordDecision(ctx, acc, OutcomeIrrelevant, stageReevaluateActivity)
			logging.Info("relevant_account_demoted", map[string]any{
				"user_id": acc.ID, "username": acc.Username, "reason": "no recent tweets",
			})
		default:
			if err := p.Accounts.Update(acc); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReevaluateIrrelevant re-runs the full pipeline over non-permanent
// irrelevant accounts with freshly fetched metrics and posts, allowing
// promotion back to relevant. Permanently irrelevant accounts are skipped;
// only a fresh follower re-check inside ProcessUser can ever clear that flag.
func (p *Pipeline) ReevaluateIrrelevant(ctx context.Context) error {
	for _, acc := range p.Accounts.Irrelevant() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if acc.TooManyFollowers {
			logging.Info("skipping_permanent_account", map[string]any{"user_id": acc.ID})
			continue
		}
		fresh, err := p.Client.GetUserByID(ctx, acc.ID)
		if err != nil {
			if errors.Is(err, xclient.ErrUserNotFound) {
				logging.Warn("reevaluate_user_missing", map[string]any{"user_id": acc.ID})
				continue
			}
			logging.Error("reevaluate_fetch_failed", map[string]any{"user_id": acc.ID, "error": err.Error()})
			continue
		}
		fresh.ID = acc.ID
		if _, err := p.ProcessUser(ctx, fresh); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) recentArchivedTweets(username string, cutoff time.Time) []model.Tweet {
	var out []model.Tweet
	for _, t := range p.Tweets.Tweets(username) {
		ts, ok := t.CreatedTime()
		if !ok {
			continue
		}
		if ts.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

func parseAccountTime(s string) (time.Time, bool) {
	a := model.Account{ClassifiedAt: s}
	return a.ClassifiedTime()
}
