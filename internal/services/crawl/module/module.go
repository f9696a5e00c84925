// Package module wires the crawl worker: indexer client, hoster adapter
// factory, block runner, and the worker loop
package module

import (
	stdhttp "net/http"

	"hubgrep/internal/adapters/hoster"
	"hubgrep/internal/adapters/indexer"
	"hubgrep/internal/modkit"
	phttp "hubgrep/internal/platform/net/http"
	"hubgrep/internal/services/crawl/domain"
	"hubgrep/internal/services/crawl/service"
)

// Ports defines the crawl module ports
type Ports struct {
	Worker  domain.WorkerPort
	Indexer domain.IndexerPort
	Status  domain.StatusPort
}

// Module implements the crawl module
type Module struct {
	deps  modkit.Deps
	opts  Options
	ports Ports
}

var _ modkit.Module = (*Module)(nil)

// New constructs the crawl module, wiring all adapters from deps.Cfg
func New(deps modkit.Deps) *Module {
	opts := FromConfig(deps.Cfg)

	idx := indexer.New(indexer.Options{
		BaseURL:   opts.IndexerURL,
		APIKey:    opts.IndexerAPIKey,
		UserAgent: opts.UserAgent,
		Timeout:   opts.HTTPTimeout,
		MaxErrors: opts.MaxErrors,
	})

	factory := hoster.NewFactory(hoster.Config{
		UserAgent:            opts.UserAgent,
		Timeout:              opts.HTTPTimeout,
		MaxRetries:           opts.MaxRetries,
		RetryBase:            opts.RetryBase,
		Throttle:             opts.Throttle,
		EmptyPageMax:         opts.EmptyPageMax,
		GitHubAbuseSleep:     opts.GitHubAbuseSleep,
		GitHubAbuseRetryMax:  opts.GitHubAbuseRetryMax,
		GitHubRateLimitSleep: opts.GitHubRateLimitSleep,
	})

	runner := service.NewRunner(factory)
	worker := service.NewWorker(idx, runner, opts.SleepNoBlock)

	return &Module{
		deps: deps,
		opts: opts,
		ports: Ports{
			Worker:  worker,
			Indexer: idx,
			Status:  worker,
		},
	}
}

// Name returns the module name
func (m *Module) Name() string { return "crawl" }

// MountRoutes exposes the worker's live crawl status on the given router
func (m *Module) MountRoutes(r phttp.Router) {
	r.Get("/status", phttp.Handle(func(*stdhttp.Request) phttp.Response {
		return phttp.OK(m.ports.Status.Snapshot())
	}))
}

// Ports returns the module ports
func (m *Module) Ports() any { return m.ports }

// Options returns the resolved configuration
func (m *Module) Options() Options { return m.opts }
