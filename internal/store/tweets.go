package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"accountscout/internal/model"

	"github.com/samber/lo"
	"github.com/samber/oops"
)

const allTweetsFileName = "all_tweets.json"

// TweetStore is the per-account tweet archive: a map from username to the
// tweets collected for that account, in insertion order. Dedup is by tweet
// id, not recency.
type TweetStore struct {
	mu   sync.Mutex
	path string
	// maxPerUser bounds each account's archive; 0 means unlimited.
	maxPerUser int

	tweets map[string][]model.Tweet
}

// OpenTweets loads the archive from dataDir, failing fast on an unparsable
// file.
func OpenTweets(dataDir string, maxPerUser int) (*TweetStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, oops.With("data_dir", dataDir).Wrap(err)
	}
	s := &TweetStore{
		path:       filepath.Join(dataDir, allTweetsFileName),
		maxPerUser: maxPerUser,
		tweets:     make(map[string][]model.Tweet),
	}
	b, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, oops.With("path", s.path).Wrap(err)
	}
	if err := json.Unmarshal(b, &s.tweets); err != nil {
		return nil, &CorruptStoreError{Path: s.path, Err: err}
	}
	return s, nil
}

// LatestTimestamp returns the max created_at among stored tweets for the
// username; ok is false when nothing is collected yet. This is the
// incremental fetch cursor.
func (s *TweetStore) LatestTimestamp(username string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest time.Time
	found := false
	for _, t := range s.tweets[username] {
		ts, ok := t.CreatedTime()
		if !ok {
			continue
		}
		if !found || ts.After(latest) {
			latest = ts
			found = true
		}
	}
	return latest, found
}

// Merge appends tweets not already stored for the username (by id) and
// persists. Returns how many were new. Merging the same tweets twice is a
// no-op the second time.
func (s *TweetStore) Merge(username string, tweets []model.Tweet) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := lo.SliceToMap(s.tweets[username], func(t model.Tweet) (string, struct{}) {
		return t.ID, struct{}{}
	})
	added := 0
	for _, t := range tweets {
		if _, seen := existing[t.ID]; seen {
			continue
		}
		existing[t.ID] = struct{}{}
		s.tweets[username] = append(s.tweets[username], t)
		added++
	}
	trimmed := false
	if s.maxPerUser > 0 && len(s.tweets[username]) > s.maxPerUser {
		// Drop the oldest-inserted entries to honor the retention cap.
		overflow := len(s.tweets[username]) - s.maxPerUser
		s.tweets[username] = s.tweets[username][overflow:]
		trimmed = true
	}
	if added == 0 && !trimmed {
		return 0, nil
	}
	return added, s.persistLocked()
}

// Tweets returns the stored tweets for the username, in insertion order.
func (s *TweetStore) Tweets(username string) []model.Tweet {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Tweet, len(s.tweets[username]))
	copy(out, s.tweets[username])
	return out
}

// Usernames lists accounts with at least one stored tweet.
func (s *TweetStore) Usernames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := lo.Keys(lo.PickBy(s.tweets, func(_ string, ts []model.Tweet) bool { return len(ts) > 0 }))
	return names
}

// Cleanup drops accounts whose collections are empty and persists, keeping
// the file from accumulating empty entries.
func (s *TweetStore) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := len(s.tweets)
	s.tweets = lo.PickBy(s.tweets, func(_ string, ts []model.Tweet) bool { return len(ts) > 0 })
	if len(s.tweets) == before {
		return nil
	}
	return s.persistLocked()
}

func (s *TweetStore) persistLocked() error {
	data, err := json.MarshalIndent(s.tweets, "", "  ")
	if err != nil {
		return oops.With("path", s.path).Wrap(err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return oops.With("path", s.path).Wrap(err)
	}
	return nil
}
