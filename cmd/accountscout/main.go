package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"accountscout/internal/budget"
	"accountscout/internal/classifier"
	"accountscout/internal/cmdlog"
	"accountscout/internal/config"
	"accountscout/internal/crawl"
	"accountscout/internal/lockfile"
	"accountscout/internal/metrics"
	"accountscout/internal/pipeline"
	"accountscout/internal/report"
	"accountscout/internal/store"
	"accountscout/internal/store/usagedb"
	"accountscout/internal/theme"
	"accountscout/internal/xclient"
)

func main() {
	cmd := ""
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}
	switch cmd {
	case "init":
		cmdInit()
	case "crawl":
		runLocked("crawl", func(ctx context.Context, app *app) error {
			return crawl.New(app.pipe).RunDiscovery(ctx)
		})
	case "tweets":
		runLocked("tweets", func(ctx context.Context, app *app) error {
			return crawl.New(app.pipe).RunTweetCrawl(ctx)
		})
	case "reevaluate-relevant":
		runLocked("reevaluate_relevant", func(ctx context.Context, app *app) error {
			return app.pipe.ReevaluateRelevant(ctx)
		})
	case "reevaluate-irrelevant":
		runLocked("reevaluate_irrelevant", func(ctx context.Context, app *app) error {
			return app.pipe.ReevaluateIrrelevant(ctx)
		})
	case "classify":
		cmdClassify()
	case "categorize":
		runLocked("categorize", func(ctx context.Context, app *app) error {
			sum, err := report.Categorize(ctx, app.pipe.Classifier, app.pipe.Accounts, app.pipe.Tweets, app.cfg)
			if err != nil {
				return err
			}
			fmt.Printf("Scanned %d tweets\n", sum.TweetsScanned)
			for label, n := range sum.PerCategory {
				fmt.Printf("  %-12s %d\n", label, n)
			}
			return nil
		})
	case "history":
		cmdHistory()
	default:
		printHelp()
	}
}

func printHelp() {
	theme.PrintBanner()
	fmt.Println("Usage: accountscout <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  init                   Create a config file at ./accountscout.yaml")
	fmt.Println("  crawl                  Discover and classify accounts by keyword search")
	fmt.Println("  tweets                 Continuously archive tweets of relevant accounts")
	fmt.Println("  reevaluate-relevant    Demote stale or oversized relevant accounts")
	fmt.Println("  reevaluate-irrelevant  Re-run the pipeline over irrelevant accounts")
	fmt.Println("  classify <user>...     Classify specific usernames on demand")
	fmt.Println("  categorize             Update per-category relevance counters")
	fmt.Println("  history                Show classification decisions per day")
}

// app bundles everything a subcommand needs after boot.
type app struct {
	cfg    config.Config
	pipe   *pipeline.Pipeline
	ledger *usagedb.DB
}

func (a *app) close() {
	if a.ledger != nil {
		_ = a.ledger.Close()
	}
}

func boot(cfg config.Config) (*app, error) {
	if cfg.Credentials.BearerToken == "" {
		fmt.Println("warning: missing X_BEARER_TOKEN; API calls will fail")
	}
	// Corrupt store files refuse startup here rather than losing data later.
	accounts, err := store.OpenAccounts(cfg.Storage.DataDir, cfg.Thresholds.IrrelevantDecayDays)
	if err != nil {
		return nil, err
	}
	tweets, err := store.OpenTweets(cfg.Storage.DataDir, cfg.Storage.TweetsPerUserCap)
	if err != nil {
		return nil, err
	}
	ledger, err := usagedb.Open(cfg.Storage.LedgerPath)
	if err != nil {
		return nil, fmt.Errorf("open usage ledger: %w", err)
	}
	client := xclient.NewHTTPClient(cfg.Credentials.BearerToken)
	cls := classifier.NewHTTPZeroShot(cfg.Classifier.Endpoint, cfg.Classifier.Model)
	meter := budget.NewMeter(ledger, cfg.Budget.MonthlyPostCap)
	pipe := pipeline.New(client, cls, accounts, tweets, meter, ledger, cfg)
	metrics.StartServer(cfg.MetricsAddr)
	return &app{cfg: cfg, pipe: pipe, ledger: ledger}, nil
}

// runLocked boots the app under the single-instance lock and runs fn with a
// signal-cancelled context.
func runLocked(name string, fn func(ctx context.Context, app *app) error) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	cfgPath := fs.String("config", "./accountscout.yaml", "config path")
	_ = fs.Parse(os.Args[2:])

	err := cmdlog.Run(name, func() error {
		cfg, err := config.Load(*cfgPath)
		if err != nil {
			return err
		}
		if err := lockfile.Acquire(cfg.Storage.LockFile); err != nil {
			return err
		}
		defer lockfile.Release(cfg.Storage.LockFile)

		app, err := boot(cfg)
		if err != nil {
			return err
		}
		defer app.close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return fn(ctx, app)
	})
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func cmdInit() {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	path := fs.String("path", "./accountscout.yaml", "path to write config")
	_ = fs.Parse(os.Args[2:])
	cfg := config.Default()
	if err := config.Save(*path, cfg); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
	abs, _ := filepath.Abs(*path)
	theme.PrintBanner()
	fmt.Println("Config written to:", abs)
}

func cmdClassify() {
	fs := flag.NewFlagSet("classify", flag.ExitOnError)
	cfgPath := fs.String("config", "./accountscout.yaml", "config path")
	_ = fs.Parse(os.Args[2:])
	usernames := fs.Args()
	if len(usernames) == 0 {
		fmt.Println("usage: accountscout classify [options] <username>...")
		os.Exit(2)
	}

	err := cmdlog.Run("classify", func() error {
		cfg, err := config.Load(*cfgPath)
		if err != nil {
			return err
		}
		if err := lockfile.Acquire(cfg.Storage.LockFile); err != nil {
			return err
		}
		defer lockfile.Release(cfg.Storage.LockFile)

		app, err := boot(cfg)
		if err != nil {
			return err
		}
		defer app.close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		for _, username := range usernames {
			username = trimHandle(username)
			if username == "" {
				continue
			}
			acc, err := app.pipe.Client.GetUserByUsername(ctx, username)
			if err != nil {
				fmt.Printf("@%s: lookup failed: %v\n", username, err)
				continue
			}
			outcome, err := app.pipe.ProcessUser(ctx, acc)
			if err != nil {
				return err
			}
			fmt.Printf("@%s: %s\n", username, outcome)
		}
		return nil
	})
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func trimHandle(s string) string {
	for len(s) > 0 && s[0] == '@' {
		s = s[1:]
	}
	return s
}

func cmdHistory() {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	cfgPath := fs.String("config", "./accountscout.yaml", "config path")
	days := fs.Int("days", 30, "how many days back to summarize")
	_ = fs.Parse(os.Args[2:])

	err := cmdlog.Run("history", func() error {
		cfg, err := config.Load(*cfgPath)
		if err != nil {
			return err
		}
		ledger, err := usagedb.Open(cfg.Storage.LedgerPath)
		if err != nil {
			return err
		}
		defer ledger.Close()

		now := time.Now().UTC()
		buckets, err := report.DailyDecisions(context.Background(), ledger, now.AddDate(0, 0, -*days), now)
		if err != nil {
			return err
		}
		for _, day := range report.SortedBucketKeys(buckets) {
			fmt.Printf("%s:", day.Format("2006-01-02"))
			for outcome, n := range buckets[day] {
				fmt.Printf(" %s=%d", outcome, n)
			}
			fmt.Println()
		}
		return nil
	})
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}
