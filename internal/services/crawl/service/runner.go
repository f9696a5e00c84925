// Package service implements the block runner and the worker loop around the
// hoster adapters
package service

import (
	"context"
	"time"

	"hubgrep/internal/platform/logger"
	"hubgrep/internal/platform/metrics"
	"hubgrep/internal/services/crawl/domain"
)

// Runner drives one block to exhaustion and aggregates its records.
// Failed chunks are swallowed here: they contribute nothing to the aggregate
// and never reach the indexer, so a flaky page cannot masquerade as a
// completed range
type Runner struct {
	factory domain.CrawlerFactory
	log     logger.Logger

	now   func() time.Time
	sleep func(time.Duration)

	// onChunk is an optional observation hook for status reporting
	onChunk func(ok bool, records int)
}

// NewRunner constructs the runner over the adapter factory
func NewRunner(factory domain.CrawlerFactory) *Runner {
	return &Runner{
		factory: factory,
		log:     *logger.Named("runner"),
		now:     time.Now,
		sleep:   time.Sleep,
	}
}

// WithClock swaps the time seams for tests
func (r *Runner) WithClock(now func() time.Time, sleep func(time.Duration)) *Runner {
	r.now = now
	r.sleep = sleep
	return r
}

// WithChunkHook registers a per-chunk observation callback
func (r *Runner) WithChunkHook(fn func(ok bool, records int)) *Runner {
	r.onChunk = fn
	return r
}

// RunBlock implements domain.RunnerPort
func (r *Runner) RunBlock(ctx context.Context, b *domain.BlockDescriptor) ([]domain.Record, error) {
	hosterType := b.HostingService.Type

	if b.Sleeping() {
		wait := b.RetryAtTime().Sub(r.now())
		if wait < 0 {
			wait = 0
		}
		r.log.Info().Str("uid", b.UID).Dur("wait", wait).Msg("indexer asked to sleep")
		metrics.BlocksTotal.WithLabelValues(hosterType, "sleep").Inc()
		r.sleep(wait)
		return nil, nil
	}

	if b.CallbackURL == "" {
		r.log.Warn().Str("uid", b.UID).Msg("block without callback_url, skipping")
		metrics.BlocksTotal.WithLabelValues(hosterType, "skipped").Inc()
		return nil, nil
	}

	crawler, err := r.factory(b.HostingService)
	if err != nil {
		r.log.Error().Err(err).Str("uid", b.UID).Str("type", hosterType).
			Msg("adapter construction failed, skipping block")
		metrics.BlocksTotal.WithLabelValues(hosterType, "failed").Inc()
		return nil, err
	}

	clog := logger.C(ctx)
	state := crawler.SetState(crawler.StateFromBlock(b))
	clog.Info().Str("type", hosterType).
		Int64("from_id", state.FromID).Int64("to_id", state.ToID).Int("ids", len(state.IDs)).
		Msg("starting block")

	var aggregate []domain.Record
	chunkErrors := 0

	rd := crawler.Crawl(ctx, state)
	for {
		chunk, more := rd.Next(ctx)
		if !more {
			break
		}
		if !chunk.OK {
			// never forward a failed chunk; an empty result would let the
			// indexer misread the range as complete and reset it
			chunkErrors++
			metrics.ChunksTotal.WithLabelValues(hosterType, "false").Inc()
			if r.onChunk != nil {
				r.onChunk(false, 0)
			}
			continue
		}
		aggregate = append(aggregate, chunk.Records...)
		metrics.ChunksTotal.WithLabelValues(hosterType, "true").Inc()
		metrics.RecordsTotal.WithLabelValues(hosterType).Add(float64(len(chunk.Records)))
		if r.onChunk != nil {
			r.onChunk(true, len(chunk.Records))
		}
	}

	clog.Info().Int("records", len(aggregate)).Int("chunk_errors", chunkErrors).
		Msg("block finished")
	metrics.BlocksTotal.WithLabelValues(hosterType, "ok").Inc()
	return aggregate, nil
}
