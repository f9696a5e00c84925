// Package bitbucket crawls the Bitbucket Cloud repositories API by following
// the response's next cursor, authenticating via the OAuth client-credentials
// flow with lazy token refresh
package bitbucket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"hubgrep/internal/adapters/hoster/shared"
	perr "hubgrep/internal/platform/errors"
	"hubgrep/internal/platform/logger"
	"hubgrep/internal/platform/net/httpc"
	"hubgrep/internal/services/crawl/domain"
)

// TypeName is the hosting_service type this adapter serves
const TypeName = "bitbucket"

// DefaultTokenURL is the Bitbucket Cloud OAuth token endpoint
const DefaultTokenURL = "https://bitbucket.org/site/oauth2/access_token"

// startPath is the first page when a block carries no cursor
const startPath = "/2.0/repositories/?pagelen=100&sort=-created_on"

const (
	maxChunkFailures = 3
	bodyLimit        = 8 << 20
)

// Crawler implements domain.Crawler for Bitbucket
type Crawler struct {
	cfg      shared.Config
	baseURL  string
	tokenURL string
	creds    domain.OAuthClientCreds
	session  *httpc.Client
	log      logger.Logger
	now      func() time.Time
	sleep    func(time.Duration)

	// token cache; lives for the adapter instance only
	accessToken string
	expiresAt   time.Time
}

// New builds the adapter. Bitbucket requires OAuth client credentials;
// construction fails without them
func New(hs domain.HostingService, cfg shared.Config) (*Crawler, error) {
	creds, ok := hs.APIKey.Credential().(domain.OAuthClientCreds)
	if !ok || creds.ClientID == "" || creds.ClientSecret == "" {
		return nil, perr.InvalidArgf("bitbucket adapter requires oauth client credentials")
	}
	c := &Crawler{
		cfg:      cfg.Normalize(),
		baseURL:  strings.TrimRight(hs.APIURL, "/"),
		tokenURL: DefaultTokenURL,
		creds:    creds,
		log:      *logger.Named("bitbucket"),
		now:      time.Now,
		sleep:    time.Sleep,
	}
	c.session = c.cfg.SessionFor(hs, "")
	return c, nil
}

// WithTokenURL overrides the OAuth endpoint; tests point it at a stub
func (c *Crawler) WithTokenURL(u string) *Crawler {
	c.tokenURL = u
	return c
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

// SetState fills the cursor default; bitbucket paginates by link, not page
// numbers
func (c *Crawler) SetState(s domain.State) domain.State {
	s.Iter++
	if s.CursorURL == "" && !s.IsDone {
		s.CursorURL = startPath
	}
	return s
}

// HasNext implements domain.Crawler
func (c *Crawler) HasNext(s domain.State) bool {
	return !s.IsDone && s.CursorURL != ""
}

// Crawl implements domain.Crawler
func (c *Crawler) Crawl(ctx context.Context, s domain.State) domain.ChunkReader {
	return &reader{c: c, state: s}
}

type reader struct {
	c        *Crawler
	state    domain.State
	fails    int
	sentinel bool
	done     bool
}

type pageResponse struct {
	Values []domain.Record `json:"values"`
	Next   string          `json:"next"`
}

// Next fetches the page at the current cursor. When the response carries no
// next link, one final chunk with empty records and zero state asks the
// consumer to discard any stored cursor
func (r *reader) Next(ctx context.Context) (domain.Chunk, bool) {
	if r.done || r.fails >= maxChunkFailures {
		return domain.Chunk{}, false
	}
	if r.sentinel {
		r.done = true
		return domain.Chunk{OK: true, State: domain.State{IsDone: true}}, true
	}
	if !r.c.HasNext(r.state) {
		return domain.Chunk{}, false
	}

	pageURL := r.state.CursorURL
	if strings.HasPrefix(pageURL, "/") {
		pageURL = r.c.baseURL + pageURL
	}
	resp, err := r.c.request(ctx, pageURL)
	if err != nil {
		return r.fail(err), true
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return r.fail(perr.Newf(perr.ErrorCodeUnknown, "bitbucket status %d", resp.StatusCode)), true
	}

	var out pageResponse
	if err := httpc.ReadJSON(resp, bodyLimit, func(b []byte) error {
		return json.Unmarshal(b, &out)
	}); err != nil {
		return r.fail(err), true
	}

	chunkState := domain.State{CursorURL: r.state.CursorURL, Iter: r.state.Iter}
	chunk := domain.Chunk{OK: true, Records: out.Values, State: chunkState}

	if out.Next == "" {
		// finished; the follow-up sentinel chunk resets stored state
		r.sentinel = true
	} else {
		next := r.state
		next.CursorURL = out.Next
		next = r.c.SetState(next)
		r.state = next
	}

	r.fails = 0
	r.c.sleep(r.c.cfg.Throttle)
	return chunk, true
}

func (r *reader) fail(err error) domain.Chunk {
	r.fails++
	r.c.log.Error().Err(err).Str("cursor", r.state.CursorURL).Msg("bitbucket chunk failed")
	return domain.Chunk{OK: false, State: r.state}
}

// request issues an authenticated GET, refreshing the cached token first when
// it is missing or past expiry
func (c *Crawler) request(ctx context.Context, rawURL string) (*http.Response, error) {
	if err := c.ensureToken(ctx); err != nil {
		return nil, err
	}
	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+c.accessToken)
	return c.session.Do(ctx, http.MethodGet, rawURL, nil, "", hdr)
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (c *Crawler) ensureToken(ctx context.Context) error {
	if c.accessToken != "" && c.now().Before(c.expiresAt) {
		return nil
	}
	form := url.Values{"grant_type": {"client_credentials"}}
	resp, err := c.session.PostForm(ctx, c.tokenURL, form, c.creds.ClientID, c.creds.ClientSecret)
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeUnauthorized, "bitbucket token request failed")
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return perr.Newf(perr.ErrorCodeUnauthorized, "bitbucket token endpoint status %d", resp.StatusCode)
	}
	var tok tokenResponse
	if err := httpc.ReadJSON(resp, 1<<20, func(b []byte) error {
		return json.Unmarshal(b, &tok)
	}); err != nil {
		return err
	}
	if tok.AccessToken == "" {
		return perr.Newf(perr.ErrorCodeUnauthorized, "bitbucket token endpoint returned no token")
	}
	c.accessToken = tok.AccessToken
	c.expiresAt = c.now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	c.log.Debug().Time("expires_at", c.expiresAt).Msg("bitbucket token refreshed")
	return nil
}
