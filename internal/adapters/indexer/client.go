// Package indexer is the wire client for the block-dealing indexer service.
// Unlike hoster calls, repeated failures here escalate: after max consecutive
// errors the worker process is expected to exit nonzero
package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	perr "hubgrep/internal/platform/errors"
	"hubgrep/internal/platform/logger"
	"hubgrep/internal/platform/net/httpc"
	"hubgrep/internal/platform/validate"
	"hubgrep/internal/services/crawl/domain"
)

const bodyLimit = 32 << 20

// ErrUnreachable marks the escalated give-up after max consecutive failures
var ErrUnreachable = perr.New(perr.ErrorCodeUnavailable, "indexer unreachable")

// Options configures the Client
type Options struct {
	// BaseURL is the indexer root, e.g. https://indexer.example.com
	BaseURL string

	// APIKey, when set, is sent as "Authorization: Basic <key>"
	APIKey string

	UserAgent string
	Timeout   time.Duration

	// MaxErrors bounds consecutive communication failures before escalation
	MaxErrors int
}

// Client implements domain.IndexerPort
type Client struct {
	opts   Options
	http   *httpc.Client
	log    logger.Logger
	consec atomic.Int32
}

// New creates the indexer client
func New(o Options) *Client {
	if o.MaxErrors <= 0 {
		o.MaxErrors = 10
	}
	auth := ""
	if o.APIKey != "" {
		auth = "Basic " + o.APIKey
	}
	return &Client{
		opts: o,
		http: httpc.New(httpc.Options{
			UserAgent:     o.UserAgent,
			Authorization: auth,
			Timeout:       o.Timeout,
		}),
		log: *logger.Named("indexer"),
	}
}

// BlockURL derives the per-hoster block endpoint
func (c *Client) BlockURL(hosterID int64) string {
	return fmt.Sprintf("%s/api/v1/hosters/%d/block", c.opts.BaseURL, hosterID)
}

// LoadBalancedBlockURL derives the per-type load balanced endpoint
func (c *Client) LoadBalancedBlockURL(hosterType string) string {
	return fmt.Sprintf("%s/api/v1/hosters/%s/loadbalanced_block", c.opts.BaseURL, hosterType)
}

// Hosters implements domain.IndexerPort
func (c *Client) Hosters(ctx context.Context) ([]domain.Hoster, error) {
	resp, err := c.http.Get(ctx, c.opts.BaseURL+"/api/v1/hosters", nil)
	if err != nil {
		return nil, c.noteFailure(err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, c.noteFailure(perr.Newf(perr.ErrorCodeUnavailable, "hosters listing status %d", resp.StatusCode))
	}
	var out []domain.Hoster
	if err := httpc.ReadJSON(resp, bodyLimit, func(b []byte) error {
		return json.Unmarshal(b, &out)
	}); err != nil {
		return nil, c.noteFailure(err)
	}
	c.consec.Store(0)
	return out, nil
}

// FetchBlock implements domain.IndexerPort
func (c *Client) FetchBlock(ctx context.Context, blockURL string) (*domain.BlockDescriptor, error) {
	resp, err := c.http.Get(ctx, blockURL, nil)
	if err != nil {
		return nil, c.noteFailure(err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, c.noteFailure(perr.Newf(perr.ErrorCodeUnavailable, "block fetch status %d", resp.StatusCode))
	}
	var block domain.BlockDescriptor
	if err := httpc.ReadJSON(resp, bodyLimit, func(b []byte) error {
		return json.Unmarshal(b, &block)
	}); err != nil {
		return nil, c.noteFailure(err)
	}
	if err := validate.Struct(&block); err != nil {
		// a malformed block is the indexer's fault; escalates like any other
		// communication failure
		return nil, c.noteFailure(err)
	}
	c.consec.Store(0)
	return &block, nil
}

// PushResults implements domain.IndexerPort
func (c *Client) PushResults(ctx context.Context, callbackURL string, records []domain.Record) error {
	body, err := json.Marshal(records)
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeJSON, "encode results")
	}
	resp, err := c.http.PutJSON(ctx, callbackURL, body)
	if err != nil {
		return c.noteFailure(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.noteFailure(perr.Newf(perr.ErrorCodeUnavailable, "callback status %d", resp.StatusCode))
	}
	c.consec.Store(0)
	c.log.Info().Int("records", len(records)).Str("callback", callbackURL).Msg("results delivered")
	return nil
}

// noteFailure counts consecutive failures and swaps in ErrUnreachable once
// the threshold is crossed
func (c *Client) noteFailure(err error) error {
	n := c.consec.Add(1)
	c.log.Warn().Err(err).Int32("consecutive", n).Msg("indexer communication failed")
	if int(n) >= c.opts.MaxErrors {
		return perr.Wrapf(ErrUnreachable, perr.ErrorCodeUnavailable, "%d consecutive failures", n)
	}
	return err
}
