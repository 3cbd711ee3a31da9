// Package store owns the JSON-file persistence for accounts and tweets.
// All mutation goes through promote/demote/merge so the in-memory maps and
// the files on disk never drift apart. Single-writer: the lock file guards
// against concurrent processes, and a mutex guards in-process access.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"accountscout/internal/logging"
	"accountscout/internal/model"

	"github.com/samber/lo"
	"github.com/samber/oops"
)

const (
	relevantFileName   = "accounts_relevant.json"
	irrelevantFileName = "accounts_irrelevant.json"
)

// CorruptStoreError refuses startup rather than silently discarding state.
type CorruptStoreError struct {
	Path string
	Err  error
}

func (e *CorruptStoreError) Error() string {
	return fmt.Sprintf("corrupt store file %s: %v", e.Path, e.Err)
}

func (e *CorruptStoreError) Unwrap() error { return e.Err }

// AccountStore holds the relevant and irrelevant account collections. An
// account id is a member of at most one collection at any time.
type AccountStore struct {
	mu             sync.Mutex
	relevantPath   string
	irrelevantPath string
	decayAfter     time.Duration

	relevant   map[string]model.Account
	irrelevant map[string]model.Account

	now func() time.Time
}

// AccountOption adjusts store construction; used by tests to pin the clock.
type AccountOption func(*AccountStore)

func WithClock(now func() time.Time) AccountOption {
	return func(s *AccountStore) { s.now = now }
}

// OpenAccounts loads both collections from dataDir and applies the decay
// pass: non-permanent irrelevant accounts classified more than decayDays ago
// are forgotten, making them eligible for re-discovery.
func OpenAccounts(dataDir string, decayDays int, opts ...AccountOption) (*AccountStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, oops.With("data_dir", dataDir).Wrap(err)
	}
	s := &AccountStore{
		relevantPath:   filepath.Join(dataDir, relevantFileName),
		irrelevantPath: filepath.Join(dataDir, irrelevantFileName),
		decayAfter:     time.Duration(decayDays) * 24 * time.Hour,
		relevant:       make(map[string]model.Account),
		irrelevant:     make(map[string]model.Account),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	var err error
	if s.relevant, err = readAccountFile(s.relevantPath); err != nil {
		return nil, err
	}
	if s.irrelevant, err = readAccountFile(s.irrelevantPath); err != nil {
		return nil, err
	}
	s.decay()
	return s, nil
}

func readAccountFile(path string) (map[string]model.Account, error) {
	out := make(map[string]model.Account)
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return out, nil
	}
	if err != nil {
		return nil, oops.With("path", path).Wrap(err)
	}
	var accounts []model.Account
	if err := json.Unmarshal(b, &accounts); err != nil {
		return nil, &CorruptStoreError{Path: path, Err: err}
	}
	for _, acc := range accounts {
		out[acc.ID] = acc
	}
	return out, nil
}

// decay drops stale non-permanent irrelevant accounts. Accounts with a
// missing or unparsable classified_at are conservatively retained.
func (s *AccountStore) decay() {
	if s.decayAfter <= 0 {
		return
	}
	now := s.now().UTC()
	for id, acc := range s.irrelevant {
		if acc.TooManyFollowers {
			continue
		}
		classified, ok := acc.ClassifiedTime()
		if !ok {
			continue
		}
		if now.Sub(classified) > s.decayAfter {
			delete(s.irrelevant, id)
			logging.Info("irrelevant_account_expired", map[string]any{"user_id": id, "username": acc.Username})
		}
	}
}

// State reports which collection, if any, the account id belongs to.
func (s *AccountStore) State(id string) model.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acc, ok := s.irrelevant[id]; ok {
		if acc.TooManyFollowers {
			return model.StatePermanentlyIrrelevant
		}
		return model.StateIrrelevant
	}
	if _, ok := s.relevant[id]; ok {
		return model.StateRelevant
	}
	return model.StateUnseen
}

// Relevant returns a snapshot of the relevant collection, ordered by username
// for stable iteration.
func (s *AccountStore) Relevant() []model.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedAccounts(s.relevant)
}

// Irrelevant returns a snapshot of the irrelevant collection.
func (s *AccountStore) Irrelevant() []model.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedAccounts(s.irrelevant)
}

func sortedAccounts(m map[string]model.Account) []model.Account {
	out := lo.Values(m)
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// Promote moves an account into the relevant collection, clearing the sticky
// flag and stamping classified_at. Both files are rewritten.
func (s *AccountStore) Promote(acc model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.irrelevant, acc.ID)
	acc.TooManyFollowers = false
	acc.ClassifiedAt = s.now().UTC().Format(time.RFC3339)
	s.relevant[acc.ID] = acc
	return s.persistLocked()
}

// Demote moves an account into the irrelevant collection. If permanent, the
// sticky too_many_followers flag exempts it from decay; only a later Promote
// clears it.
func (s *AccountStore) Demote(acc model.Account, permanent bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.relevant, acc.ID)
	if permanent {
		acc.TooManyFollowers = true
	}
	acc.ClassifiedAt = s.now().UTC().Format(time.RFC3339)
	s.irrelevant[acc.ID] = acc
	return s.persistLocked()
}

// Update rewrites an account in place in whichever collection holds it,
// without changing its state. Used by reporting passes that only touch
// counters.
func (s *AccountStore) Update(acc model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.relevant[acc.ID]; ok {
		s.relevant[acc.ID] = acc
	} else if _, ok := s.irrelevant[acc.ID]; ok {
		s.irrelevant[acc.ID] = acc
	}
	return s.persistLocked()
}

// Persist rewrites both collections. Whole-file rewrite is deliberate:
// account counts are small and restart consistency matters more than write
// throughput.
func (s *AccountStore) Persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked()
}

func (s *AccountStore) persistLocked() error {
	if err := writeAccountFile(s.relevantPath, s.relevant); err != nil {
		return err
	}
	return writeAccountFile(s.irrelevantPath, s.irrelevant)
}

func writeAccountFile(path string, m map[string]model.Account) error {
	data, err := json.MarshalIndent(sortedAccounts(m), "", "  ")
	if err != nil {
		return oops.With("path", path).Wrap(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return oops.With("path", path).Wrap(err)
	}
	return nil
}
