// Package github crawls the GitHub GraphQL API by guessing repository node
// ids: each chunk asks for a batch of up to 100 encoded ids at once
package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
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
const TypeName = "github"

// BatchMax is the id-batch limit the GitHub API imposes
const BatchMax = 100

const (
	defaultAbuseSleep     = 3 * time.Second
	defaultAbuseRetryMax  = 5
	defaultRateLimitSleep = 30 * time.Second
	maxChunkFailures      = 3
	bodyLimit             = 8 << 20
)

// Abuse bounds the 403 abuse-detection backoff and the RATE_LIMITED retry
type Abuse struct {
	Sleep          time.Duration
	RetryMax       int
	RateLimitSleep time.Duration
}

func (a Abuse) normalize() Abuse {
	if a.Sleep <= 0 {
		a.Sleep = defaultAbuseSleep
	}
	if a.RetryMax <= 0 {
		a.RetryMax = defaultAbuseRetryMax
	}
	if a.RateLimitSleep <= 0 {
		a.RateLimitSleep = defaultRateLimitSleep
	}
	return a
}

// Crawler implements domain.Crawler for GitHub
type Crawler struct {
	cfg      shared.Config
	abuse    Abuse
	queryURL string
	session  *httpc.Client
	log      logger.Logger

	now   func() time.Time
	sleep func(time.Duration)
}

// New builds the adapter. GitHub requires a bearer token; construction fails
// without one
func New(hs domain.HostingService, cfg shared.Config, abuse Abuse) (*Crawler, error) {
	tok, ok := hs.APIKey.Credential().(domain.BearerToken)
	if !ok || tok.Token == "" {
		return nil, perr.InvalidArgf("github adapter requires a bearer token")
	}
	c := &Crawler{
		cfg:      cfg.Normalize(),
		abuse:    abuse.normalize(),
		queryURL: shared.JoinURL(hs.APIURL, "graphql"),
		log:      *logger.Named("github"),
		now:      time.Now,
		sleep:    time.Sleep,
	}
	c.session = c.cfg.SessionFor(hs, "Bearer "+tok.Token)
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

// SetState fills the id-batch defaults. The Iter counter doubles as the batch
// index: batch k covers ids[k*100:(k+1)*100] or [from_id+k*100, +100)
func (c *Crawler) SetState(s domain.State) domain.State {
	s.Iter++
	if s.PerPage == 0 {
		s.PerPage = BatchMax
	}
	if s.Page == 0 {
		s.Page = 1
	}
	if s.PageEnd == 0 {
		s.PageEnd = domain.ToIDUnbounded
	}
	return s
}

// HasNext implements domain.Crawler. Exhaustion of the id window is derived
// from Iter so the check stays a pure function of state
func (c *Crawler) HasNext(s domain.State) bool {
	if s.IsDone || s.EmptyPageCount >= c.emptyPageMax() {
		return false
	}
	k := int64(s.Iter)
	if k < 0 {
		k = 0
	}
	if len(s.IDs) > 0 {
		return k*BatchMax < int64(len(s.IDs))
	}
	if s.ToID > 0 {
		return s.FromID+k*BatchMax <= s.ToID
	}
	return true
}

func (c *Crawler) emptyPageMax() int {
	if c.cfg.EmptyPageMax > 0 {
		return c.cfg.EmptyPageMax
	}
	return shared.DefaultEmptyPageMax
}

// EncodeID produces the GraphQL node id for a numeric repository id:
// base64("010:Repository<N>")
func EncodeID(n int64) string {
	return base64.StdEncoding.EncodeToString([]byte("010:Repository" + strconv.FormatInt(n, 10)))
}

// batchIDs computes the encoded node ids for batch index k of s
func batchIDs(s domain.State) []string {
	k := int64(s.Iter)
	if k < 0 {
		k = 0
	}
	out := make([]string, 0, BatchMax)
	if len(s.IDs) > 0 {
		lo := k * BatchMax
		hi := min(lo+BatchMax, int64(len(s.IDs)))
		for _, id := range s.IDs[lo:hi] {
			out = append(out, EncodeID(id))
		}
		return out
	}
	start := s.FromID + k*BatchMax
	for id := start; id < start+BatchMax; id++ {
		out = append(out, EncodeID(id))
	}
	return out
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

type gqlRateLimit struct {
	Remaining int    `json:"remaining"`
	ResetAt   string `json:"resetAt"`
}

type gqlResponse struct {
	Data struct {
		Nodes     []domain.Record `json:"nodes"`
		RateLimit *gqlRateLimit   `json:"rateLimit"`
	} `json:"data"`
	Errors []struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"errors"`
}

// Next runs one id-batch query. 403 responses back off and retry as abuse
// suspicion; a RATE_LIMITED error entry sleeps and retries once; anything
// else unexpected fails the chunk without advancing state
func (r *reader) Next(ctx context.Context) (domain.Chunk, bool) {
	if r.fails >= maxChunkFailures || !r.c.HasNext(r.state) {
		return domain.Chunk{}, false
	}

	payload, err := json.Marshal(map[string]any{
		"query":     repoBatchQuery,
		"variables": map[string]any{"ids": batchIDs(r.state)},
	})
	if err != nil {
		return r.fail(err), true
	}

	rlRetried := false
	for abuseAttempt := 0; ; {
		select {
		case <-ctx.Done():
			return domain.Chunk{}, false
		default:
		}

		resp, err := r.c.session.PostJSON(ctx, r.c.queryURL, payload)
		if err != nil {
			return r.fail(err), true
		}
		if resp.StatusCode == http.StatusForbidden {
			_ = resp.Body.Close()
			if abuseAttempt >= r.c.abuse.RetryMax {
				return r.fail(perr.Forbiddenf("abuse detection persisted after %d retries", abuseAttempt)), true
			}
			abuseAttempt++
			r.c.log.Warn().Int("attempt", abuseAttempt).Dur("sleep", r.c.abuse.Sleep).
				Msg("403 from github, backing off")
			r.c.sleep(r.c.abuse.Sleep)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			_ = resp.Body.Close()
			return r.fail(perr.Newf(perr.ErrorCodeUnknown, "github status %d", resp.StatusCode)), true
		}

		var out gqlResponse
		if err := httpc.ReadJSON(resp, bodyLimit, func(b []byte) error {
			return json.Unmarshal(b, &out)
		}); err != nil {
			return r.fail(err), true
		}

		if rl := rateLimitedError(out); rl != "" {
			if rlRetried {
				return r.fail(perr.Newf(perr.ErrorCodeTooManyRequests, "github rate limited: %s", rl)), true
			}
			rlRetried = true
			metrics.RateLimitSleeps.WithLabelValues(TypeName).Inc()
			r.c.log.Warn().Dur("sleep", r.c.abuse.RateLimitSleep).Msg("RATE_LIMITED response, retrying once")
			r.c.sleep(r.c.abuse.RateLimitSleep)
			continue
		}

		records := make([]domain.Record, 0, len(out.Data.Nodes))
		for _, n := range out.Data.Nodes {
			if n != nil {
				records = append(records, n)
			}
		}

		next := r.state
		if len(records) == 0 {
			next.EmptyPageCount++
		}
		next = r.c.SetState(next)

		r.fails = 0
		chunk := domain.Chunk{OK: true, Records: records, State: next}
		r.state = next

		r.c.handleRateLimit(out.Data.RateLimit)
		return chunk, true
	}
}

func (r *reader) fail(err error) domain.Chunk {
	r.fails++
	r.c.log.Error().Err(err).Int64("from_id", r.state.FromID).Int("i", r.state.Iter).
		Msg("github chunk failed")
	return domain.Chunk{OK: false, State: r.state}
}

// handleRateLimit sleeps until resetAt plus a one second cushion when the
// query budget is exhausted, and otherwise applies the default throttle
func (c *Crawler) handleRateLimit(rl *gqlRateLimit) {
	if rl != nil && rl.Remaining < 1 {
		if resetAt, err := time.Parse(time.RFC3339, rl.ResetAt); err == nil {
			if wait := resetAt.Sub(c.now()) + time.Second; wait > 0 {
				metrics.RateLimitSleeps.WithLabelValues(TypeName).Inc()
				c.log.Warn().Dur("sleep", wait).Msg("rate limit exhausted, sleeping until reset")
				c.sleep(wait)
				return
			}
		}
	}
	c.sleep(c.cfg.Throttle)
}

func rateLimitedError(out gqlResponse) string {
	for _, e := range out.Errors {
		if e.Type == "RATE_LIMITED" {
			if e.Message != "" {
				return e.Message
			}
			return "RATE_LIMITED"
		}
	}
	return ""
}
