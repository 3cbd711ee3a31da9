package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the application's configuration model. It captures credentials,
// the search universe, classification thresholds, pacing, and storage paths.
type Config struct {
	Credentials CredentialsConfig `yaml:"credentials"`
	Search      SearchConfig      `yaml:"search"`
	Thresholds  ThresholdsConfig  `yaml:"thresholds"`
	Classifier  ClassifierConfig  `yaml:"classifier"`
	Budget      BudgetConfig      `yaml:"budget"`
	Pacing      PacingConfig      `yaml:"pacing"`
	Storage     StorageConfig     `yaml:"storage"`
	MetricsAddr string            `yaml:"metricsAddr"`
}

type CredentialsConfig struct {
	// X API bearer token. If empty, read from env X_BEARER_TOKEN.
	BearerToken string `yaml:"bearerToken"`
}

type SearchConfig struct {
	Keywords      []string `yaml:"keywords"`
	TweetsPerPage int      `yaml:"tweetsPerPage"`
	MaxPages      int      `yaml:"maxPages"`
	// TweetsPerUser is how many recent original tweets are classified per account.
	TweetsPerUser int `yaml:"tweetsPerUser"`
	LookbackDays  int `yaml:"lookbackDays"`
}

type ThresholdsConfig struct {
	// MaxFollowers is the "small account" ceiling; at or above it an account
	// is permanently irrelevant.
	MaxFollowers int `yaml:"maxFollowers"`
	// MinTweets is the minimum lifetime tweet count for an active account.
	MinTweets int `yaml:"minTweets"`
	// ClassifyThreshold is the per-label confidence needed for a tweet to count
	// as relevant during account screening.
	ClassifyThreshold float64 `yaml:"classifyThreshold"`
	// RelevantTweetRatio is the fraction of classified tweets that must be
	// relevant for the account to be relevant. Boundary inclusive.
	RelevantTweetRatio float64 `yaml:"relevantTweetRatio"`
	// ReportThreshold is the stricter confidence used by the categorize pass.
	ReportThreshold float64 `yaml:"reportThreshold"`
	// IrrelevantDecayDays ages non-permanent irrelevant accounts out of the store.
	IrrelevantDecayDays int `yaml:"irrelevantDecayDays"`
}

type ClassifierConfig struct {
	// Endpoint of the zero-shot inference server. If empty, read from env
	// CLASSIFIER_ENDPOINT.
	Endpoint string `yaml:"endpoint"`
	Model    string `yaml:"model"`
	// Labels scored during account screening.
	Labels []string `yaml:"labels"`
	// ReportLabels scored by the categorize pass; keys of relevance_count.
	ReportLabels       []string `yaml:"reportLabels"`
	HypothesisTemplate string   `yaml:"hypothesisTemplate"`
	ReportTemplate     string   `yaml:"reportTemplate"`
}

type BudgetConfig struct {
	MonthlyPostCap int `yaml:"monthlyPostCap"`
}

type PacingConfig struct {
	UserDelaySeconds       int `yaml:"userDelaySeconds"`
	SkipDelaySeconds       int `yaml:"skipDelaySeconds"`
	PageDelaySeconds       int `yaml:"pageDelaySeconds"`
	KeywordDelaySeconds    int `yaml:"keywordDelaySeconds"`
	TweetCrawlDelaySeconds int `yaml:"tweetCrawlDelaySeconds"`
	InitialPauseSeconds    int `yaml:"initialPauseSeconds"`
}

func (p PacingConfig) UserDelay() time.Duration       { return secs(p.UserDelaySeconds) }
func (p PacingConfig) SkipDelay() time.Duration       { return secs(p.SkipDelaySeconds) }
func (p PacingConfig) PageDelay() time.Duration       { return secs(p.PageDelaySeconds) }
func (p PacingConfig) KeywordDelay() time.Duration    { return secs(p.KeywordDelaySeconds) }
func (p PacingConfig) TweetCrawlDelay() time.Duration { return secs(p.TweetCrawlDelaySeconds) }
func (p PacingConfig) InitialPause() time.Duration    { return secs(p.InitialPauseSeconds) }

func secs(n int) time.Duration { return time.Duration(n) * time.Second }

type StorageConfig struct {
	DataDir string `yaml:"dataDir"`
	// LedgerPath is the SQLite usage/decision ledger.
	LedgerPath string `yaml:"ledgerPath"`
	LockFile   string `yaml:"lockFile"`
	// TweetsPerUserCap bounds the archive per account; 0 means unlimited.
	TweetsPerUserCap int `yaml:"tweetsPerUserCap"`
}

// Default returns the configuration matching the original crawl parameters.
func Default() Config {
	return Config{
		Credentials: CredentialsConfig{BearerToken: ""},
		Search: SearchConfig{
			Keywords:      []string{"web3", "AI"},
			TweetsPerPage: 50,
			MaxPages:      5,
			TweetsPerUser: 5,
			LookbackDays:  7,
		},
		Thresholds: ThresholdsConfig{
			MaxFollowers:        2000,
			MinTweets:           300,
			ClassifyThreshold:   0.8,
			RelevantTweetRatio:  0.4,
			ReportThreshold:     0.9,
			IrrelevantDecayDays: 30,
		},
		Classifier: ClassifierConfig{
			Endpoint: "",
			Model:    "facebook/bart-large-mnli",
			Labels: []string{
				"web3", "blockchain", "defi", "stablecoins", "cryptocurrency",
				"nft", "smart contracts", "depin", "artificial intelligence",
				"machine learning", "neural networks", "metaverse", "dao",
				"layer 2", "tokenomics", "distributed ledger", "digital identity",
				"gamefi", "staking",
			},
			ReportLabels:       []string{"marketing", "AI", "Crypto"},
			HypothesisTemplate: "This tweet discusses {}.",
			ReportTemplate:     "This tweet is about {}.",
		},
		Budget: BudgetConfig{MonthlyPostCap: 15000},
		Pacing: PacingConfig{
			UserDelaySeconds:       30,
			SkipDelaySeconds:       120,
			PageDelaySeconds:       60,
			KeywordDelaySeconds:    300,
			TweetCrawlDelaySeconds: 45,
			InitialPauseSeconds:    300,
		},
		Storage: StorageConfig{
			DataDir:          "./data",
			LedgerPath:       "./accountscout.db",
			LockFile:         "./accountscout.lock",
			TweetsPerUserCap: 0,
		},
		MetricsAddr: "",
	}
}

// ResolveEnv fills in config fields from environment variables if not set.
func (c *Config) ResolveEnv() {
	if c.Credentials.BearerToken == "" {
		c.Credentials.BearerToken = os.Getenv("X_BEARER_TOKEN")
	}
	if c.Classifier.Endpoint == "" {
		c.Classifier.Endpoint = os.Getenv("CLASSIFIER_ENDPOINT")
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = os.Getenv("METRICS_ADDR")
	}
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	cfg.ResolveEnv()
	return cfg, nil
}

// Save writes YAML config to path, creating directories as needed.
func Save(path string, cfg Config) error {
	if path == "" {
		return errors.New("empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
