// Package gitlab crawls the GitLab projects API in ascending id order
package gitlab

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"hubgrep/internal/adapters/hoster/shared"
	perr "hubgrep/internal/platform/errors"
	"hubgrep/internal/platform/logger"
	"hubgrep/internal/platform/metrics"
	"hubgrep/internal/platform/net/httpc"
	"hubgrep/internal/services/crawl/domain"
)

// TypeName is the hosting_service type this adapter serves
const TypeName = "gitlab"

// PerPageMax is the page size GitLab allows on /projects
const PerPageMax = 100

const (
	maxChunkFailures = 3
	bodyLimit        = 8 << 20
)

// Crawler implements domain.Crawler for GitLab
type Crawler struct {
	cfg         shared.Config
	projectsURL string
	session     *httpc.Client
	log         logger.Logger
	now         func() time.Time
	sleep       func(time.Duration)
}

// New builds the adapter. A configured token is sent as PRIVATE-TOKEN
func New(hs domain.HostingService, cfg shared.Config) (*Crawler, error) {
	if tok, ok := hs.APIKey.Credential().(domain.BearerToken); ok && tok.Token != "" {
		// copy before inserting so the block's header map stays untouched
		headers := make(map[string]string, len(hs.CrawlerRequestHeaders)+1)
		for k, v := range hs.CrawlerRequestHeaders {
			headers[k] = v
		}
		headers["PRIVATE-TOKEN"] = tok.Token
		hs.CrawlerRequestHeaders = headers
	}
	c := &Crawler{
		cfg:         cfg.Normalize(),
		projectsURL: shared.JoinURL(hs.APIURL, "api/v4/projects"),
		log:         *logger.Named("gitlab"),
		now:         time.Now,
		sleep:       time.Sleep,
	}
	c.session = c.cfg.SessionFor(hs, "")
	return c, nil
}

// WithClock swaps the time seams for tests
func (c *Crawler) WithClock(now func() time.Time, sleep func(time.Duration)) *Crawler {
	c.now = now
	c.sleep = sleep
	return c
}

// Type implements domain.Crawler
func (c *Crawler) Type() string { return TypeName }

// StateFromBlock implements domain.Crawler
func (c *Crawler) StateFromBlock(b *domain.BlockDescriptor) domain.State {
	return domain.StateFromBlock(b)
}

// SetState implements domain.Crawler
func (c *Crawler) SetState(s domain.State) domain.State {
	return shared.SetPagedState(s, PerPageMax)
}

// HasNext implements domain.Crawler
func (c *Crawler) HasNext(s domain.State) bool {
	return shared.HasNextPaged(s, c.cfg.EmptyPageMax)
}

// Crawl implements domain.Crawler
func (c *Crawler) Crawl(ctx context.Context, s domain.State) domain.ChunkReader {
	return &reader{c: c, state: s}
}

type reader struct {
	c     *Crawler
	state domain.State
	fails int
}

// Next fetches one projects page. Short pages end the run; the
// RateLimit-Remaining/RateLimit-Reset headers gate the pace
func (r *reader) Next(ctx context.Context) (domain.Chunk, bool) {
	if r.fails >= maxChunkFailures || !r.c.HasNext(r.state) {
		return domain.Chunk{}, false
	}

	params := url.Values{
		"order_by": {"id"},
		"sort":     {"asc"},
		"page":     {strconv.FormatInt(r.state.Page, 10)},
		"per_page": {strconv.FormatInt(r.state.PerPage, 10)},
	}
	resp, err := r.c.session.Get(ctx, r.c.projectsURL, params)
	if err != nil {
		return r.fail(err), true
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return r.fail(perr.Newf(perr.ErrorCodeUnknown, "gitlab status %d", resp.StatusCode)), true
	}

	header := resp.Header
	var repos []domain.Record
	if err := httpc.ReadJSON(resp, bodyLimit, func(b []byte) error {
		return json.Unmarshal(b, &repos)
	}); err != nil {
		return r.fail(err), true
	}

	next := r.state
	next.IsDone = int64(len(repos)) != next.PerPage
	if len(repos) == 0 {
		next.EmptyPageCount++
	}
	next.Page++
	next = r.c.SetState(next)

	r.fails = 0
	chunk := domain.Chunk{OK: true, Records: repos, State: next}
	r.state = next

	r.c.handleRateLimit(header)
	return chunk, true
}

func (r *reader) fail(err error) domain.Chunk {
	r.fails++
	r.c.log.Error().Err(err).Int64("page", r.state.Page).Msg("gitlab chunk failed")
	return domain.Chunk{OK: false, State: r.state}
}

// handleRateLimit sleeps until the advertised reset when the remaining budget
// hits zero, and otherwise applies the default throttle
func (c *Crawler) handleRateLimit(h http.Header) {
	remaining, remErr := strconv.Atoi(h.Get("RateLimit-Remaining"))
	resetSec, rstErr := strconv.ParseInt(h.Get("RateLimit-Reset"), 10, 64)
	if remErr == nil && rstErr == nil && remaining < 1 {
		if wait := time.Unix(resetSec, 0).Sub(c.now()); wait > 0 {
			metrics.RateLimitSleeps.WithLabelValues(TypeName).Inc()
			c.log.Warn().Dur("sleep", wait).Msg("rate limit exhausted, sleeping until reset")
			c.sleep(wait)
			return
		}
	}
	c.sleep(c.cfg.Throttle)
}
