// Package metrics registers the crawl pipeline counters on the default
// prometheus registry; the ops server serves them on /metrics
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BlocksTotal counts processed blocks by hoster type and outcome
	BlocksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hubgrep_crawler_blocks_total",
		Help: "Blocks processed, by hoster type and result (ok, skipped, sleep, failed)",
	}, []string{"hoster", "result"})

	// ChunksTotal counts adapter chunks by hoster type and success flag
	ChunksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hubgrep_crawler_chunks_total",
		Help: "Adapter chunks yielded, by hoster type and ok flag",
	}, []string{"hoster", "ok"})

	// RecordsTotal counts repository records aggregated per hoster type
	RecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hubgrep_crawler_records_total",
		Help: "Repository records aggregated, by hoster type",
	}, []string{"hoster"})

	// HTTPRetries counts transient-status and transport retries
	HTTPRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hubgrep_crawler_http_retries_total",
		Help: "Outbound HTTP retries on transient statuses or transport errors",
	})

	// RateLimitSleeps counts rate-limit waits by hoster type
	RateLimitSleeps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hubgrep_crawler_ratelimit_sleeps_total",
		Help: "Rate limit waits observed, by hoster type",
	}, []string{"hoster"})
)
