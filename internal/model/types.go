package model

import "time"

// State is an account's classification state.
type State int

const (
	StateUnseen State = iota
	StateRelevant
	StateIrrelevant
	StatePermanentlyIrrelevant
)

func (s State) String() string {
	switch s {
	case StateRelevant:
		return "relevant"
	case StateIrrelevant:
		return "irrelevant"
	case StatePermanentlyIrrelevant:
		return "permanently_irrelevant"
	default:
		return "unseen"
	}
}

// PublicMetrics is the metrics snapshot captured at last fetch.
type PublicMetrics struct {
	FollowersCount int `json:"followers_count"`
	FollowingCount int `json:"following_count,omitempty"`
	TweetCount     int `json:"tweet_count"`
	ListedCount    int `json:"listed_count,omitempty"`
}

// Account is one tracked X account. The JSON field names are stable: the
// store files are shared with earlier runs and external tooling.
type Account struct {
	ID          string        `json:"id"`
	Username    string        `json:"username"`
	Name        string        `json:"name,omitempty"`
	Description string        `json:"description,omitempty"`
	CreatedAt   string        `json:"created_at,omitempty"`
	Metrics     PublicMetrics `json:"public_metrics"`

	// ClassifiedAt is RFC 3339. Kept as a string so an unparsable timestamp
	// degrades to "retain" instead of failing the whole file on load.
	ClassifiedAt     string `json:"classified_at,omitempty"`
	TooManyFollowers bool   `json:"too_many_followers,omitempty"`

	// Reporting fields maintained by the categorize and reevaluate passes.
	RelevanceCount         map[string]int `json:"relevance_count,omitempty"`
	LastChecked            string         `json:"last_checked,omitempty"`
	LastCheckedAt          string         `json:"last_checked_at,omitempty"`
	LastRelevantTweetCount int            `json:"last_relevant_tweet_count,omitempty"`
}

// ClassifiedTime parses ClassifiedAt; ok is false when missing or unparsable.
func (a Account) ClassifiedTime() (time.Time, bool) {
	return parseTime(a.ClassifiedAt)
}

// Tweet is a single post in the archive. Never mutated after creation.
type Tweet struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"`
}

// CreatedTime parses CreatedAt in the formats the API emits.
func (t Tweet) CreatedTime() (time.Time, bool) {
	return parseTime(t.CreatedAt)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000Z",
	"2006-01-02T15:04:05",
}

func parseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

// Scores maps a candidate label to its independent confidence in [0,1].
// Multi-label: several labels may exceed a threshold at once.
type Scores map[string]float64
