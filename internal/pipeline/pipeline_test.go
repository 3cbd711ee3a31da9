package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"accountscout/internal/budget"
	"accountscout/internal/config"
	"accountscout/internal/model"
	"accountscout/internal/store"
	"accountscout/internal/store/usagedb"
	"accountscout/internal/xclient"
)

// fakeXClient serves canned users and tweets and records what was asked.
type fakeXClient struct {
	usersByID   map[string]model.Account
	tweetsByID  map[string][]model.Tweet
	tweetsErr   error
	userErr     error
	searchPages []xclient.SearchPage
	searchErr   error
	searchCalls int
}

func (f *fakeXClient) SearchRecentTweets(ctx context.Context, keyword, pageToken string) (xclient.SearchPage, error) {
	if f.searchErr != nil {
		return xclient.SearchPage{}, f.searchErr
	}
	if f.searchCalls >= len(f.searchPages) {
		return xclient.SearchPage{}, nil
	}
	page := f.searchPages[f.searchCalls]
	f.searchCalls++
	return page, nil
}

func (f *fakeXClient) GetUserByUsername(ctx context.Context, username string) (model.Account, error) {
	for _, u := range f.usersByID {
		if u.Username == username {
			return u, nil
		}
	}
	return model.Account{}, xclient.ErrUserNotFound
}

func (f *fakeXClient) GetUserByID(ctx context.Context, userID string) (model.Account, error) {
	if f.userErr != nil {
		return model.Account{}, f.userErr
	}
	u, ok := f.usersByID[userID]
	if !ok {
		return model.Account{}, xclient.ErrUserNotFound
	}
	return u, nil
}

func (f *fakeXClient) GetUserTweets(ctx context.Context, userID string, since time.Time, max int) ([]model.Tweet, error) {
	if f.tweetsErr != nil {
		return nil, f.tweetsErr
	}
	ts := f.tweetsByID[userID]
	if len(ts) > max {
		ts = ts[:max]
	}
	return ts, nil
}

// scriptedClassifier marks texts containing "hot" as highly relevant.
type scriptedClassifier struct {
	err   error
	calls int
}

func (s *scriptedClassifier) Classify(ctx context.Context, texts, labels []string, tmpl string) ([]model.Scores, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := make([]model.Scores, len(texts))
	for i, txt := range texts {
		score := 0.1
		if len(txt) >= 3 && txt[:3] == "hot" {
			score = 0.95
		}
		out[i] = model.Scores{"artificial intelligence": score}
	}
	return out, nil
}

type testEnv struct {
	pipe   *Pipeline
	client *fakeXClient
	cls    *scriptedClassifier
	sleeps *[]time.Duration
	now    time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.DataDir = t.TempDir()

	accounts, err := store.OpenAccounts(cfg.Storage.DataDir, cfg.Thresholds.IrrelevantDecayDays)
	if err != nil {
		t.Fatal(err)
	}
	tweets, err := store.OpenTweets(cfg.Storage.DataDir, 0)
	if err != nil {
		t.Fatal(err)
	}
	db, err := usagedb.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	now := time.Date(2025, 8, 15, 12, 0, 0, 0, time.UTC)
	client := &fakeXClient{usersByID: map[string]model.Account{}, tweetsByID: map[string][]model.Tweet{}}
	cls := &scriptedClassifier{}
	sleeps := &[]time.Duration{}

	p := New(client, cls, accounts, tweets, budget.NewMeter(db, cfg.Budget.MonthlyPostCap).WithClock(func() time.Time { return now }), db, cfg)
	p.Sleep = func(ctx context.Context, d time.Duration) error {
		*sleeps = append(*sleeps, d)
		return nil
	}
	p.Now = func() time.Time { return now }
	return &testEnv{pipe: p, client: client, cls: cls, sleeps: sleeps, now: now}
}

func smallActiveAccount(id, username string) model.Account {
	return model.Account{
		ID: id, Username: username,
		Metrics: model.PublicMetrics{FollowersCount: 500, TweetCount: 1000},
	}
}

func tweetsOf(texts ...string) []model.Tweet {
	out := make([]model.Tweet, len(texts))
	for i, txt := range texts {
		out[i] = model.Tweet{ID: txt, Text: txt, CreatedAt: "2025-08-14T10:00:00Z"}
	}
	return out
}

func TestMetricGateFollowerOverflowIsPermanent(t *testing.T) {
	env := newTestEnv(t)
	acc := model.Account{ID: "u1", Username: "big",
		Metrics: model.PublicMetrics{FollowersCount: 2000, TweetCount: 5000}}

	outcome, err := env.pipe.ProcessUser(context.Background(), acc)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeIrrelevantPermanent {
		t.Fatalf("outcome: %v", outcome)
	}
	if got := env.pipe.Accounts.State("u1"); got != model.StatePermanentlyIrrelevant {
		t.Fatalf("state: %v", got)
	}
	if env.cls.calls != 0 {
		t.Fatal("metric gate must dominate; the classifier must not run")
	}
	if len(*env.sleeps) != 1 || (*env.sleeps)[0] != env.pipe.Cfg.Pacing.UserDelay() {
		t.Fatalf("pacing: %v", *env.sleeps)
	}
}

func TestMetricGateLowActivityIsNonPermanent(t *testing.T) {
	env := newTestEnv(t)
	acc := model.Account{ID: "u1", Username: "quiet",
		Metrics: model.PublicMetrics{FollowersCount: 100, TweetCount: 300}}

	outcome, err := env.pipe.ProcessUser(context.Background(), acc)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeIrrelevantMetrics {
		t.Fatalf("outcome: %v", outcome)
	}
	if got := env.pipe.Accounts.State("u1"); got != model.StateIrrelevant {
		t.Fatalf("state: %v, want plain irrelevant", got)
	}
}

func TestActivityGateSkipWritesNothing(t *testing.T) {
	env := newTestEnv(t)
	acc := smallActiveAccount("u1", "silent")
	// No tweets registered in the fake: empty fetch result.

	outcome, err := env.pipe.ProcessUser(context.Background(), acc)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeSkippedNoRecentPosts {
		t.Fatalf("outcome: %v", outcome)
	}
	if got := env.pipe.Accounts.State("u1"); got != model.StateUnseen {
		t.Fatalf("skip must not persist a classification: %v", got)
	}
	if len(*env.sleeps) != 1 || (*env.sleeps)[0] != env.pipe.Cfg.Pacing.SkipDelay() {
		t.Fatalf("skip must use the longer delay: %v", *env.sleeps)
	}
}

func TestContentGatePromotesAtRatioBoundary(t *testing.T) {
	env := newTestEnv(t)
	acc := smallActiveAccount("u1", "alice")
	env.client.tweetsByID["u1"] = tweetsOf("hot one", "hot two", "cold", "cold2", "cold3")

	outcome, err := env.pipe.ProcessUser(context.Background(), acc)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeRelevant {
		t.Fatalf("2 of 5 relevant must promote, got %v", outcome)
	}
	if got := env.pipe.Accounts.State("u1"); got != model.StateRelevant {
		t.Fatalf("state: %v", got)
	}
}

func TestContentGateDemotesBelowRatio(t *testing.T) {
	env := newTestEnv(t)
	acc := smallActiveAccount("u1", "alice")
	env.client.tweetsByID["u1"] = tweetsOf("hot one", "cold", "cold2", "cold3", "cold4")

	outcome, err := env.pipe.ProcessUser(context.Background(), acc)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeIrrelevant {
		t.Fatalf("1 of 5 relevant must demote, got %v", outcome)
	}
	if got := env.pipe.Accounts.State("u1"); got != model.StateIrrelevant {
		t.Fatalf("state: %v", got)
	}
}

func TestClassifierOutageFailsClosed(t *testing.T) {
	env := newTestEnv(t)
	env.cls.err = errors.New("inference server down")
	acc := smallActiveAccount("u1", "alice")
	env.client.tweetsByID["u1"] = tweetsOf("hot one", "hot two", "hot three")

	outcome, err := env.pipe.ProcessUser(context.Background(), acc)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeIrrelevant {
		t.Fatalf("outage must demote, got %v", outcome)
	}
}

func TestFetchFailureDegradesToSkip(t *testing.T) {
	env := newTestEnv(t)
	env.client.tweetsErr = errors.New("network down")
	acc := smallActiveAccount("u1", "alice")

	outcome, err := env.pipe.ProcessUser(context.Background(), acc)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeSkippedNoRecentPosts {
		t.Fatalf("fetch failure must skip, got %v", outcome)
	}
	if got := env.pipe.Accounts.State("u1"); got != model.StateUnseen {
		t.Fatalf("fetch failure must not persist anything: %v", got)
	}
}

func TestMonthlyCapPropagatesAsFatal(t *testing.T) {
	env := newTestEnv(t)
	env.pipe.Cfg.Budget.MonthlyPostCap = 3
	env.pipe.Meter = newCappedMeter(t, 3, env.now)
	acc := smallActiveAccount("u1", "alice")
	env.client.tweetsByID["u1"] = tweetsOf("hot one", "hot two", "hot three")

	_, err := env.pipe.ProcessUser(context.Background(), acc)
	if !errors.Is(err, budget.ErrMonthlyCapExceeded) {
		t.Fatalf("got %v, want ErrMonthlyCapExceeded", err)
	}
}

func newCappedMeter(t *testing.T, cap int, now time.Time) *budget.Meter {
	t.Helper()
	db, err := usagedb.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return budget.NewMeter(db, cap).WithClock(func() time.Time { return now })
}

func TestProcessUserTruncatesToConfiguredSample(t *testing.T) {
	env := newTestEnv(t)
	acc := smallActiveAccount("u1", "alice")
	// Ten tweets, all relevant after truncation to the first five.
	env.client.tweetsByID["u1"] = tweetsOf(
		"hot 1", "hot 2", "hot 3", "hot 4", "hot 5",
		"cold 6", "cold 7", "cold 8", "cold 9", "cold 10")

	outcome, err := env.pipe.ProcessUser(context.Background(), acc)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeRelevant {
		t.Fatalf("outcome: %v", outcome)
	}
}

func TestDecisionLedgerRecordsOutcome(t *testing.T) {
	env := newTestEnv(t)
	acc := smallActiveAccount("u1", "alice")
	env.client.tweetsByID["u1"] = tweetsOf("hot one", "hot two")

	if _, err := env.pipe.ProcessUser(context.Background(), acc); err != nil {
		t.Fatal(err)
	}
	decisions, err := env.pipe.Ledger.DecisionsRange(context.Background(),
		env.now.Add(-time.Hour), env.now.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(decisions) != 1 {
		t.Fatalf("decisions: %d", len(decisions))
	}
	d := decisions[0]
	if d.UserID != "u1" || d.Outcome != string(OutcomeRelevant) || d.Stage != "content" {
		t.Fatalf("decision: %+v", d)
	}
}
