package service

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"hubgrep/internal/adapters/indexer"
	perr "hubgrep/internal/platform/errors"
	"hubgrep/internal/platform/logger"
	"hubgrep/internal/services/crawl/domain"
)

// Worker is the outermost loop: fetch a block, run it, deliver the results,
// repeat until stopped. All three run modes share the same inner cycle and
// differ only in where block URLs come from
type Worker struct {
	indexer domain.IndexerPort
	runner  *Runner
	log     logger.Logger

	sleepNoBlock time.Duration
	sleep        func(time.Duration)

	running atomic.Bool

	mu     sync.Mutex
	status domain.StatusSnapshot
}

// NewWorker wires the loop over the indexer client and the block runner
func NewWorker(idx domain.IndexerPort, runner *Runner, sleepNoBlock time.Duration) *Worker {
	w := &Worker{
		indexer:      idx,
		runner:       runner,
		log:          *logger.Named("worker"),
		sleepNoBlock: sleepNoBlock,
		sleep:        time.Sleep,
	}
	runner.WithChunkHook(w.noteChunk)
	return w
}

// WithSleep swaps the no-block backoff seam for tests
func (w *Worker) WithSleep(fn func(time.Duration)) *Worker {
	w.sleep = fn
	return w
}

// Stop flips the running flag; the loop exits after the in-flight block
func (w *Worker) Stop() {
	if w.running.CompareAndSwap(true, false) {
		w.log.Info().Msg("stop requested, finishing current block")
	}
}

// Snapshot implements domain.StatusPort
func (w *Worker) Snapshot() domain.StatusSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.status
	s.Running = w.running.Load()
	return s
}

// RunBlockURL implements domain.WorkerPort: loop on a single block endpoint
func (w *Worker) RunBlockURL(ctx context.Context, blockURL string) error {
	w.running.Store(true)
	defer w.running.Store(false)

	for w.active(ctx) {
		if err := w.cycle(ctx, blockURL); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// RunType implements domain.WorkerPort: loop on the load-balanced endpoint of
// one hoster type
func (w *Worker) RunType(ctx context.Context, hosterType string) error {
	return w.RunBlockURL(ctx, w.indexer.LoadBalancedBlockURL(hosterType))
}

// RunHosterDomains implements domain.WorkerPort: resolve the given API domains
// against the indexer's hoster listing and round-robin their block endpoints
func (w *Worker) RunHosterDomains(ctx context.Context, apiDomains []string) error {
	hosters, err := w.indexer.Hosters(ctx)
	if err != nil {
		return err
	}

	var urls []string
	for _, d := range apiDomains {
		h, ok := matchHoster(hosters, d)
		if !ok {
			return perr.InvalidArgf("no hoster registered for api domain %q", d)
		}
		urls = append(urls, w.indexer.BlockURL(h.ID))
	}

	w.running.Store(true)
	defer w.running.Store(false)

	for w.active(ctx) {
		for _, u := range urls {
			if !w.active(ctx) {
				break
			}
			if err := w.cycle(ctx, u); err != nil {
				return err
			}
		}
	}
	return ctx.Err()
}

// cycle is one fetch/run/deliver round. Only an unreachable indexer or a
// cancelled context aborts the loop; everything else logs and backs off
func (w *Worker) cycle(ctx context.Context, blockURL string) error {
	block, err := w.indexer.FetchBlock(ctx, blockURL)
	if err != nil {
		if errors.Is(err, indexer.ErrUnreachable) || ctx.Err() != nil {
			return err
		}
		w.log.Warn().Err(err).Str("url", blockURL).Dur("sleep", w.sleepNoBlock).
			Msg("no block received, backing off")
		w.sleep(w.sleepNoBlock)
		return nil
	}

	w.noteBlock(block)
	bctx := logger.WithRequest(ctx, "", block.UID)
	records, err := w.runner.RunBlock(bctx, block)
	if err != nil {
		// adapter construction failures are the indexer's configuration problem;
		// skip the block rather than spin on it
		w.sleep(w.sleepNoBlock)
		return nil
	}

	if len(records) == 0 || block.CallbackURL == "" {
		w.noteDone()
		return nil
	}
	if err := w.indexer.PushResults(ctx, block.CallbackURL, records); err != nil {
		if errors.Is(err, indexer.ErrUnreachable) || ctx.Err() != nil {
			return err
		}
		w.log.Error().Err(err).Str("uid", block.UID).Msg("result delivery failed, dropping block")
	}
	w.noteDone()
	return nil
}

func (w *Worker) active(ctx context.Context) bool {
	return w.running.Load() && ctx.Err() == nil
}

func (w *Worker) noteBlock(b *domain.BlockDescriptor) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status.BlockUID = b.UID
	w.status.HosterType = b.HostingService.Type
	w.status.Records = 0
	w.status.ChunkErrors = 0
}

func (w *Worker) noteChunk(ok bool, records int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if ok {
		w.status.Records += records
	} else {
		w.status.ChunkErrors++
	}
}

func (w *Worker) noteDone() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status.BlocksDone++
	w.status.BlockUID = ""
	w.status.HosterType = ""
}

// matchHoster finds the listing entry whose api_url host matches domain,
// tolerating a bare host with or without scheme
func matchHoster(hosters []domain.Hoster, apiDomain string) (domain.Hoster, bool) {
	want := strings.TrimSuffix(apiDomain, "/")
	if u, err := url.Parse(want); err == nil && u.Host != "" {
		want = u.Host
	}
	for _, h := range hosters {
		if u, err := url.Parse(h.APIURL); err == nil && u.Host == want {
			return h, true
		}
		if strings.Contains(h.APIURL, want) {
			return h, true
		}
	}
	return domain.Hoster{}, false
}
