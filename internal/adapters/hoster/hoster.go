// Package hoster selects and configures the per-hoster crawl adapters.
// Every adapter implements domain.Crawler; this package owns the type
// registry and the pagination rules shared by the page-based hosters
package hoster

import (
	"time"

	perr "hubgrep/internal/platform/errors"
	"hubgrep/internal/services/crawl/domain"

	"hubgrep/internal/adapters/hoster/bitbucket"
	"hubgrep/internal/adapters/hoster/gitea"
	"hubgrep/internal/adapters/hoster/github"
	"hubgrep/internal/adapters/hoster/gitlab"
	"hubgrep/internal/adapters/hoster/shared"
)

// Config carries the knobs shared by all adapters plus the github-specific
// abuse handling bounds
type Config struct {
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
	RetryBase  time.Duration

	// Throttle is the default inter-chunk sleep when a hoster exposes no
	// rate-limit signal of its own
	Throttle time.Duration

	// EmptyPageMax stops a run after this many consecutive all-empty chunks.
	// A heuristic for sparse ID spaces; tunable, default 10
	EmptyPageMax int

	GitHubAbuseSleep     time.Duration
	GitHubAbuseRetryMax  int
	GitHubRateLimitSleep time.Duration
}

func (c Config) shared() shared.Config {
	return shared.Config{
		UserAgent:    c.UserAgent,
		Timeout:      c.Timeout,
		MaxRetries:   c.MaxRetries,
		RetryBase:    c.RetryBase,
		Throttle:     c.Throttle,
		EmptyPageMax: c.EmptyPageMax,
	}
}

// NewFactory returns the type-dispatching adapter factory used by the runner
func NewFactory(cfg Config) domain.CrawlerFactory {
	return func(hs domain.HostingService) (domain.Crawler, error) {
		switch hs.Type {
		case github.TypeName:
			return github.New(hs, cfg.shared(), github.Abuse{
				Sleep:          cfg.GitHubAbuseSleep,
				RetryMax:       cfg.GitHubAbuseRetryMax,
				RateLimitSleep: cfg.GitHubRateLimitSleep,
			})
		case gitea.TypeName:
			return gitea.New(hs, cfg.shared())
		case gitlab.TypeName:
			return gitlab.New(hs, cfg.shared())
		case bitbucket.TypeName:
			return bitbucket.New(hs, cfg.shared())
		default:
			return nil, perr.InvalidArgf("unknown hoster type %q", hs.Type)
		}
	}
}
