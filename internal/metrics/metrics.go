package metrics

import (
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CrawlRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "accountscout_crawl_runs_total",
		Help: "Total discovery crawl runs",
	})
	CrawlErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "accountscout_crawl_errors_total",
		Help: "Total discovery crawl errors",
	})
	Classifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "accountscout_classifications_total",
		Help: "Account classification decisions by outcome",
	}, []string{"outcome"})
	ClassifyDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "accountscout_classify_duration_seconds",
		Help:    "Zero-shot classification call duration seconds",
		Buckets: prometheus.DefBuckets,
	})
	APIRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "accountscout_api_retries_total",
		Help: "Total API retry attempts",
	}, []string{"endpoint"})
	RateLimitWaits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "accountscout_rate_limit_waits_total",
		Help: "Total waits caused by HTTP 429 responses",
	})
	PostsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "accountscout_posts_consumed_total",
		Help: "Posts counted against the monthly consumption cap",
	})
	CommandRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "accountscout_command_runs_total",
		Help: "CLI command invocations",
	}, []string{"command"})
	CommandErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "accountscout_command_errors_total",
		Help: "CLI command failures",
	}, []string{"command"})
)

func init() {
	prometheus.MustRegister(CrawlRuns, CrawlErrors, Classifications, ClassifyDuration,
		APIRetries, RateLimitWaits, PostsConsumed, CommandRuns, CommandErrors)
}

// StartServer starts a metrics HTTP server on addr (e.g., ":9090").
func StartServer(addr string) {
	if addr == "" {
		addr = os.Getenv("METRICS_ADDR")
	}
	if addr == "" {
		return
	}
	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	go func() { _ = http.ListenAndServe(addr, nil) }()
}

// ObserveClassifyDuration records one classification call duration.
func ObserveClassifyDuration(start time.Time) {
	ClassifyDuration.Observe(time.Since(start).Seconds())
}

// IncClassification increments the decision counter for an outcome.
func IncClassification(outcome string) { Classifications.WithLabelValues(outcome).Inc() }

// IncAPIRetry increments the retry counter for an endpoint.
func IncAPIRetry(endpoint string) { APIRetries.WithLabelValues(endpoint).Inc() }

func IncCommandRun(cmd string)   { CommandRuns.WithLabelValues(cmd).Inc() }
func IncCommandError(cmd string) { CommandErrors.WithLabelValues(cmd).Inc() }
