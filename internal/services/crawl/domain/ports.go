package domain

import "context"

// Crawler is the capability set every hoster adapter implements.
// For a given (adapter, state) the next request is a pure function of state:
// an adapter may be destroyed and recreated with the last emitted state and
// will produce the same next chunk
type Crawler interface {
	// Type returns the hosting_service type this adapter serves
	Type() string

	// StateFromBlock derives deterministic initial state from a block
	StateFromBlock(b *BlockDescriptor) State

	// SetState normalizes state, filling adapter defaults and derived paging
	// fields. Idempotent except for the monotonic Iter counter
	SetState(s State) State

	// HasNext reports whether the block still has work left in s
	HasNext(s State) bool

	// Crawl returns a pull-based chunk sequence starting from s.
	// The consumer may stop reading at any point without leaking resources
	Crawl(ctx context.Context, s State) ChunkReader
}

// ChunkReader is the lazy chunk sequence of one block run
type ChunkReader interface {
	// Next produces the next chunk; the second return is false once the
	// sequence is exhausted
	Next(ctx context.Context) (Chunk, bool)
}

// CrawlerFactory builds the adapter for a hosting service, failing early when
// required credentials are missing
type CrawlerFactory func(hs HostingService) (Crawler, error)

// RunnerPort drives a single block to completion and returns the aggregate
type RunnerPort interface {
	RunBlock(ctx context.Context, b *BlockDescriptor) ([]Record, error)
}

// WorkerPort is the outermost control loop
type WorkerPort interface {
	RunBlockURL(ctx context.Context, blockURL string) error
	RunHosterDomains(ctx context.Context, apiDomains []string) error
	RunType(ctx context.Context, hosterType string) error
	Stop()
}

// IndexerPort is the wire contract with the indexer service
type IndexerPort interface {
	// Hosters lists the indexer's registered hosting services
	Hosters(ctx context.Context) ([]Hoster, error)

	// FetchBlock GETs and validates a block descriptor from blockURL
	FetchBlock(ctx context.Context, blockURL string) (*BlockDescriptor, error)

	// PushResults PUTs the aggregated records to the block's callback URL
	PushResults(ctx context.Context, callbackURL string, records []Record) error

	// BlockURL and LoadBalancedBlockURL derive per-hoster block endpoints
	BlockURL(hosterID int64) string
	LoadBalancedBlockURL(hosterType string) string
}

// StatusSnapshot is the read-only view served by the ops endpoint
type StatusSnapshot struct {
	Running     bool   `json:"running"`
	BlockUID    string `json:"block_uid,omitempty"`
	HosterType  string `json:"hoster_type,omitempty"`
	Records     int    `json:"records"`
	ChunkErrors int    `json:"chunk_errors"`
	BlocksDone  int64  `json:"blocks_done"`
}

// StatusPort exposes the worker's current snapshot
type StatusPort interface {
	Snapshot() StatusSnapshot
}
