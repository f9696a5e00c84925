package module

import (
	"fmt"
	"os"
	"time"

	"hubgrep/internal/platform/config"
)

// Options holds the crawl worker configuration
type Options struct {
	IndexerURL    string
	IndexerAPIKey string
	UserAgent     string

	SleepNoBlock time.Duration
	MaxErrors    int

	HTTPTimeout time.Duration
	MaxRetries  int
	RetryBase   time.Duration

	Throttle     time.Duration
	EmptyPageMax int

	GitHubAbuseSleep     time.Duration
	GitHubAbuseRetryMax  int
	GitHubRateLimitSleep time.Duration

	OpsAddr string
	PidFile string
}

// FromConfig reads the worker options with CRAWLER_ prefix.
// The user agent gets a per-machine suffix so hoster operators can tell
// workers of one fleet apart
func FromConfig(cfg config.Conf) Options {
	cr := cfg.Prefix("CRAWLER_")

	ua := cr.MayString("USER_AGENT", "hubgrep-crawler")
	if host, err := os.Hostname(); err == nil {
		ua = fmt.Sprintf("%s (%s)", ua, host)
	}

	return Options{
		IndexerURL:    cr.MustString("INDEXER_URL"),
		IndexerAPIKey: cr.MayString("INDEXER_API_KEY", ""),
		UserAgent:     ua,

		SleepNoBlock: cr.MayDuration("SLEEP_NO_BLOCK", 10*time.Second),
		MaxErrors:    cr.MayInt("MAX_ERRORS", 10),

		HTTPTimeout: cr.MayDuration("HTTP_TIMEOUT", 30*time.Second),
		MaxRetries:  cr.MayInt("HTTP_RETRIES", 3),
		RetryBase:   cr.MayDuration("HTTP_RETRY_BASE", 10*time.Second),

		Throttle:     cr.MayDuration("THROTTLE", 100*time.Millisecond),
		EmptyPageMax: cr.MayInt("EMPTY_PAGE_MAX", 10),

		GitHubAbuseSleep:     cr.MayDuration("GITHUB_ABUSE_SLEEP", 3*time.Second),
		GitHubAbuseRetryMax:  cr.MayInt("GITHUB_ABUSE_RETRY_MAX", 5),
		GitHubRateLimitSleep: cr.MayDuration("GITHUB_RATELIMIT_SLEEP", 30*time.Second),

		OpsAddr: cr.MayString("OPS_ADDR", ""),
		PidFile: cr.MayString("PID_FILE", defaultPidFile()),
	}
}

func defaultPidFile() string {
	return os.TempDir() + "/hubgrep-crawler.pid"
}
