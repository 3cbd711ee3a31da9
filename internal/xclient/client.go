package xclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"accountscout/internal/model"

	"golang.org/x/time/rate"
)

// XClient defines the X API surface the crawler consumes.
type XClient interface {
	SearchRecentTweets(ctx context.Context, keyword, pageToken string) (SearchPage, error)
	GetUserByUsername(ctx context.Context, username string) (model.Account, error)
	GetUserByID(ctx context.Context, userID string) (model.Account, error)
	GetUserTweets(ctx context.Context, userID string, since time.Time, max int) ([]model.Tweet, error)
}

// SearchPage is one page of recent-search results with the user objects the
// API embeds alongside them.
type SearchPage struct {
	Tweets    []model.Tweet
	Users     []model.Account
	NextToken string
}

// HTTPClient is a bearer-token client for X API v2 with rate-limit-aware
// retries.
type HTTPClient struct {
	baseURL     string
	bearerToken string
	httpClient  *http.Client
	limiter     *rate.Limiter
	maxAttempts int
	baseBackoff time.Duration

	// sleep and now are swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func NewHTTPClient(bearerToken string) *HTTPClient {
	return &HTTPClient{
		baseURL:     "https://api.twitter.com/2",
		bearerToken: bearerToken,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		limiter:     newDefaultLimiter(),
		maxAttempts: getEnvInt("X_API_MAX_ATTEMPTS", 3),
		baseBackoff: time.Duration(getEnvInt("X_API_BASE_BACKOFF_MS", 1000)) * time.Millisecond,
		sleep:       sleepCtx,
		now:         time.Now,
	}
}

func (c *HTTPClient) auth(req *http.Request) {
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "accountscout/1.0")
}

type rawUser struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Username      string `json:"username"`
	CreatedAt     string `json:"created_at"`
	Description   string `json:"description"`
	PublicMetrics struct {
		FollowersCount int `json:"followers_count"`
		FollowingCount int `json:"following_count"`
		TweetCount     int `json:"tweet_count"`
		ListedCount    int `json:"listed_count"`
	} `json:"public_metrics"`
}

func (r rawUser) account() model.Account {
	return model.Account{
		ID:          r.ID,
		Username:    r.Username,
		Name:        r.Name,
		Description: r.Description,
		CreatedAt:   r.CreatedAt,
		Metrics: model.PublicMetrics{
			FollowersCount: r.PublicMetrics.FollowersCount,
			FollowingCount: r.PublicMetrics.FollowingCount,
			TweetCount:     r.PublicMetrics.TweetCount,
			ListedCount:    r.PublicMetrics.ListedCount,
		},
	}
}

// SearchRecentTweets fetches one page of original English tweets matching the
// keyword, plus the embedded author objects.
func (c *HTTPClient) SearchRecentTweets(ctx context.Context, keyword, pageToken string) (SearchPage, error) {
	q := url.Values{}
	q.Set("query", keyword+" -is:retweet -is:reply lang:en")
	q.Set("max_results", strconv.Itoa(clamp(getEnvInt("X_SEARCH_PAGE_SIZE", 50), 10, 100)))
	q.Set("tweet.fields", "author_id,created_at")
	q.Set("expansions", "author_id")
	q.Set("user.fields", "public_metrics,description,created_at")
	if pageToken != "" {
		q.Set("next_token", pageToken)
	}
	u := fmt.Sprintf("%s/tweets/search/recent?%s", c.baseURL, q.Encode())

	var page SearchPage
	body, err := c.get(ctx, u, "/tweets/search/recent")
	if err != nil {
		return page, err
	}
	var raw struct {
		Data []struct {
			ID        string `json:"id"`
			Text      string `json:"text"`
			CreatedAt string `json:"created_at"`
			AuthorID  string `json:"author_id"`
		} `json:"data"`
		Includes struct {
			Users []rawUser `json:"users"`
		} `json:"includes"`
		Meta struct {
			NextToken string `json:"next_token"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return page, fmt.Errorf("decode search response: %w", err)
	}
	for _, d := range raw.Data {
		page.Tweets = append(page.Tweets, model.Tweet{ID: d.ID, Text: d.Text, CreatedAt: d.CreatedAt})
	}
	for _, ru := range raw.Includes.Users {
		page.Users = append(page.Users, ru.account())
	}
	page.NextToken = raw.Meta.NextToken
	return page, nil
}

func (c *HTTPClient) GetUserByUsername(ctx context.Context, username string) (model.Account, error) {
	var out model.Account
	if username == "" {
		return out, errors.New("empty username")
	}
	u := fmt.Sprintf("%s/users/by/username/%s?user.fields=public_metrics,description,created_at",
		c.baseURL, url.PathEscape(username))
	return c.getUser(ctx, u, "/users/by/username")
}

func (c *HTTPClient) GetUserByID(ctx context.Context, userID string) (model.Account, error) {
	var out model.Account
	if userID == "" {
		return out, errors.New("empty user id")
	}
	u := fmt.Sprintf("%s/users/%s?user.fields=public_metrics,description,created_at",
		c.baseURL, url.PathEscape(userID))
	return c.getUser(ctx, u, "/users/:id")
}

func (c *HTTPClient) getUser(ctx context.Context, u, endpoint string) (model.Account, error) {
	var out model.Account
	body, err := c.get(ctx, u, endpoint)
	if err != nil {
		return out, err
	}
	var raw struct {
		Data rawUser `json:"data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return out, fmt.Errorf("decode user response: %w", err)
	}
	if raw.Data.ID == "" {
		return out, ErrUserNotFound
	}
	return raw.Data.account(), nil
}

// GetUserTweets returns up to max recent original tweets for a user, starting
// at since. Retweets and replies are excluded server-side.
func (c *HTTPClient) GetUserTweets(ctx context.Context, userID string, since time.Time, max int) ([]model.Tweet, error) {
	q := url.Values{}
	q.Set("max_results", strconv.Itoa(clamp(max, 5, 100)))
	q.Set("tweet.fields", "text,created_at")
	q.Set("exclude", "retweets,replies")
	if !since.IsZero() {
		q.Set("start_time", since.UTC().Format("2006-01-02T15:04:05Z"))
	}
	u := fmt.Sprintf("%s/users/%s/tweets?%s", c.baseURL, url.PathEscape(userID), q.Encode())
	body, err := c.get(ctx, u, "/users/:id/tweets")
	if err != nil {
		return nil, err
	}
	var raw struct {
		Data []struct {
			ID        string `json:"id"`
			Text      string `json:"text"`
			CreatedAt string `json:"created_at"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode tweets response: %w", err)
	}
	out := make([]model.Tweet, 0, len(raw.Data))
	for _, d := range raw.Data {
		out = append(out, model.Tweet{ID: d.ID, Text: d.Text, CreatedAt: d.CreatedAt})
	}
	return out, nil
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if i, err := strconv.Atoi(v); err == nil && i > 0 {
		return i
	}
	return def
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
