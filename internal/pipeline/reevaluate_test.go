package pipeline

import (
	"context"
	"testing"
	"time"

	"accountscout/internal/model"
)

func TestReevaluateRelevantDemotesInactiveAccount(t *testing.T) {
	env := newTestEnv(t)
	acc := smallActiveAccount("u1", "alice")
	// Last checked 40 days ago, no archived tweets in the window.
	acc.LastCheckedAt = env.now.AddDate(0, 0, -40).Format(time.RFC3339)
	if err := env.pipe.Accounts.Promote(acc); err != nil {
		t.Fatal(err)
	}
	env.client.usersByID["u1"] = acc

	if err := env.pipe.ReevaluateRelevant(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := env.pipe.Accounts.State("u1"); got != model.StateIrrelevant {
		t.Fatalf("inactive relevant account must be demoted, got %v", got)
	}
}

func TestReevaluateRelevantKeepsActiveAccount(t *testing.T) {
	env := newTestEnv(t)
	acc := smallActiveAccount("u1", "alice")
	acc.LastCheckedAt = env.now.AddDate(0, 0, -40).Format(time.RFC3339)
	if err := env.pipe.Accounts.Promote(acc); err != nil {
		t.Fatal(err)
	}
	env.client.usersByID["u1"] = acc
	// A recent archived tweet keeps the account relevant.
	recent := model.Tweet{ID: "t1", Text: "hot take", CreatedAt: env.now.AddDate(0, 0, -2).Format(time.RFC3339)}
	if _, err := env.pipe.Tweets.Merge("alice", []model.Tweet{recent}); err != nil {
		t.Fatal(err)
	}

	if err := env.pipe.ReevaluateRelevant(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := env.pipe.Accounts.State("u1"); got != model.StateRelevant {
		t.Fatalf("active account must stay relevant, got %v", got)
	}
	rel := env.pipe.Accounts.Relevant()
	if rel[0].LastRelevantTweetCount != 1 {
		t.Fatalf("recent tweet count not recorded: %+v", rel[0])
	}
	if rel[0].LastCheckedAt != env.now.Format(time.RFC3339) {
		t.Fatalf("check timestamp not advanced: %q", rel[0].LastCheckedAt)
	}
}

func TestReevaluateRelevantPurgesEmptyArchiveOnFirstPass(t *testing.T) {
	env := newTestEnv(t)
	acc := smallActiveAccount("u1", "alice")
	// No LastCheckedAt and nothing archived: the missing check counts as the
	// epoch, so the very first pass demotes.
	if err := env.pipe.Accounts.Promote(acc); err != nil {
		t.Fatal(err)
	}
	env.client.usersByID["u1"] = acc

	if err := env.pipe.ReevaluateRelevant(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := env.pipe.Accounts.State("u1"); got != model.StateIrrelevant {
		t.Fatalf("empty archive with no prior check must demote, got %v", got)
	}
}

func TestReevaluateRelevantEmptyArchiveWithinWindowRetained(t *testing.T) {
	env := newTestEnv(t)
	acc := smallActiveAccount("u1", "alice")
	// Checked recently: an empty archive alone is not enough to demote.
	acc.LastCheckedAt = env.now.AddDate(0, 0, -5).Format(time.RFC3339)
	if err := env.pipe.Accounts.Promote(acc); err != nil {
		t.Fatal(err)
	}
	env.client.usersByID["u1"] = acc

	if err := env.pipe.ReevaluateRelevant(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := env.pipe.Accounts.State("u1"); got != model.StateRelevant {
		t.Fatalf("recently checked account must stay relevant, got %v", got)
	}
}

func TestReevaluateRelevantFollowerGrowthDemotesPermanently(t *testing.T) {
	env := newTestEnv(t)
	acc := smallActiveAccount("u1", "alice")
	if err := env.pipe.Accounts.Promote(acc); err != nil {
		t.Fatal(err)
	}
	grown := acc
	grown.Metrics.FollowersCount = 50_000
	env.client.usersByID["u1"] = grown

	if err := env.pipe.ReevaluateRelevant(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := env.pipe.Accounts.State("u1"); got != model.StatePermanentlyIrrelevant {
		t.Fatalf("follower overflow must demote permanently, got %v", got)
	}
}

func TestReevaluateIrrelevantSkipsPermanentAccounts(t *testing.T) {
	env := newTestEnv(t)
	acc := smallActiveAccount("u1", "blocked")
	if err := env.pipe.Accounts.Demote(acc, true); err != nil {
		t.Fatal(err)
	}
	env.client.usersByID["u1"] = acc
	env.client.tweetsByID["u1"] = tweetsOf("hot one", "hot two")

	if err := env.pipe.ReevaluateIrrelevant(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := env.pipe.Accounts.State("u1"); got != model.StatePermanentlyIrrelevant {
		t.Fatalf("permanent account must be untouched, got %v", got)
	}
	if env.cls.calls != 0 {
		t.Fatal("permanent account must not be reclassified")
	}
}

func TestReevaluateIrrelevantPromotesOnFreshRelevantContent(t *testing.T) {
	env := newTestEnv(t)
	acc := smallActiveAccount("u1", "alice")
	if err := env.pipe.Accounts.Demote(acc, false); err != nil {
		t.Fatal(err)
	}
	env.client.usersByID["u1"] = acc
	env.client.tweetsByID["u1"] = tweetsOf("hot one", "hot two")

	if err := env.pipe.ReevaluateIrrelevant(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := env.pipe.Accounts.State("u1"); got != model.StateRelevant {
		t.Fatalf("fresh relevant content must promote, got %v", got)
	}
}

func TestReevaluateIrrelevantSkipsMissingUsers(t *testing.T) {
	env := newTestEnv(t)
	acc := smallActiveAccount("u1", "ghost")
	if err := env.pipe.Accounts.Demote(acc, false); err != nil {
		t.Fatal(err)
	}
	// No entry in usersByID: the lookup returns not-found.

	if err := env.pipe.ReevaluateIrrelevant(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := env.pipe.Accounts.State("u1"); got != model.StateIrrelevant {
		t.Fatalf("missing user must remain untouched, got %v", got)
	}
}
