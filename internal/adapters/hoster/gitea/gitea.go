// Package gitea crawls the Gitea repo search API page by page
package gitea

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"hubgrep/internal/adapters/hoster/shared"
	perr "hubgrep/internal/platform/errors"
	"hubgrep/internal/platform/logger"
	"hubgrep/internal/platform/net/httpc"
	"hubgrep/internal/services/crawl/domain"
)

// TypeName is the hosting_service type this adapter serves
const TypeName = "gitea"

// PerPageMax is the page size Gitea allows on repos/search
const PerPageMax = 50

const (
	maxChunkFailures = 3
	bodyLimit        = 8 << 20
)

// Crawler implements domain.Crawler for Gitea
type Crawler struct {
	cfg       shared.Config
	searchURL string
	topicsURL string // format template: owner, name
	session   *httpc.Client
	log       logger.Logger
	sleep     func(time.Duration)
}

// New builds the adapter. Gitea instances are commonly crawled anonymously;
// a bearer token is attached when configured
func New(hs domain.HostingService, cfg shared.Config) (*Crawler, error) {
	auth := ""
	if tok, ok := hs.APIKey.Credential().(domain.BearerToken); ok {
		auth = "token " + tok.Token
	}
	c := &Crawler{
		cfg:       cfg.Normalize(),
		searchURL: shared.JoinURL(hs.APIURL, "api/v1/repos/search"),
		topicsURL: shared.JoinURL(hs.APIURL, "api/v1/repos/%s/%s/topics"),
		log:       *logger.Named("gitea"),
		sleep:     time.Sleep,
	}
	c.session = c.cfg.SessionFor(hs, auth)
	return c, nil
}

// WithSleep swaps the sleep seam for tests
func (c *Crawler) WithSleep(fn func(time.Duration)) *Crawler {
	c.sleep = fn
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

type searchResponse struct {
	Data []domain.Record `json:"data"`
}

// Next fetches one search page. A page shorter than per_page marks the run
// done; request or parse trouble fails the chunk without advancing state
func (r *reader) Next(ctx context.Context) (domain.Chunk, bool) {
	if r.fails >= maxChunkFailures || !r.c.HasNext(r.state) {
		return domain.Chunk{}, false
	}

	params := url.Values{
		"sort":  {"created"},
		"limit": {strconv.FormatInt(r.state.PerPage, 10)},
		"page":  {strconv.FormatInt(r.state.Page, 10)},
	}
	resp, err := r.c.session.Get(ctx, r.c.searchURL, params)
	if err != nil {
		return r.fail(err), true
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return r.fail(perr.Newf(perr.ErrorCodeUnknown, "gitea status %d", resp.StatusCode)), true
	}

	var out searchResponse
	if err := httpc.ReadJSON(resp, bodyLimit, func(b []byte) error {
		return json.Unmarshal(b, &out)
	}); err != nil {
		return r.fail(err), true
	}

	if !r.state.ExcludeTopics {
		for _, rec := range out.Data {
			rec["topics"] = r.topics(ctx, rec)
		}
	}

	next := r.state
	next.IsDone = int64(len(out.Data)) != next.PerPage
	if len(out.Data) == 0 {
		next.EmptyPageCount++
	}
	next.Page++
	next = r.c.SetState(next)

	r.fails = 0
	chunk := domain.Chunk{OK: true, Records: out.Data, State: next}
	r.state = next

	// no rate limit signal on gitea; default throttle between pages
	r.c.sleep(r.c.cfg.Throttle)
	return chunk, true
}

func (r *reader) fail(err error) domain.Chunk {
	r.fails++
	r.c.log.Error().Err(err).Int64("page", r.state.Page).Msg("gitea chunk failed")
	return domain.Chunk{OK: false, State: r.state}
}

// topics fetches the per-repo topic list; failures skip quietly because
// topics are a nice-to-have on top of the search payload
func (r *reader) topics(ctx context.Context, rec domain.Record) []any {
	owner, ok := rec["owner"].(map[string]any)
	if !ok {
		return nil
	}
	login, _ := owner["login"].(string)
	name, _ := rec["name"].(string)
	if login == "" || name == "" {
		return nil
	}

	resp, err := r.c.session.Get(ctx, fmt.Sprintf(r.c.topicsURL, url.PathEscape(login), url.PathEscape(name)), nil)
	if err != nil {
		r.c.log.Warn().Err(err).Str("repo", login+"/"+name).Msg("skipping repo topics")
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		r.c.log.Warn().Int("status", resp.StatusCode).Str("repo", login+"/"+name).Msg("skipping repo topics")
		return nil
	}
	var out struct {
		Topics []any `json:"topics"`
	}
	if err := httpc.ReadJSON(resp, 1<<20, func(b []byte) error {
		return json.Unmarshal(b, &out)
	}); err != nil {
		r.c.log.Warn().Err(err).Str("repo", login+"/"+name).Msg("skipping repo topics")
		return nil
	}
	return out.Topics
}
