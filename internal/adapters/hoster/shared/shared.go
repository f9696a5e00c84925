// Package shared holds the pagination state rules and the HTTP session setup
// common to all hoster adapters
package shared

import (
	"strings"
	"time"

	"hubgrep/internal/platform/net/httpc"
	"hubgrep/internal/services/crawl/domain"
)

// DefaultThrottle is the self-imposed pause between chunks when a hoster has
// no rate-limit signal of its own
const DefaultThrottle = 100 * time.Millisecond

// DefaultEmptyPageMax bounds consecutive empty chunks before a run gives up
const DefaultEmptyPageMax = 10

// Config is the adapter-agnostic slice of the crawler configuration
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxRetries   int
	RetryBase    time.Duration
	Throttle     time.Duration
	EmptyPageMax int
}

// Normalize fills the zero values with defaults
func (c Config) Normalize() Config {
	if c.Throttle <= 0 {
		c.Throttle = DefaultThrottle
	}
	if c.EmptyPageMax <= 0 {
		c.EmptyPageMax = DefaultEmptyPageMax
	}
	return c
}

// SessionFor builds the per-hoster HTTP session: configured user agent,
// optional Authorization value, and the block's extra request headers merged
// last
func (c Config) SessionFor(hs domain.HostingService, authorization string) *httpc.Client {
	return httpc.New(httpc.Options{
		UserAgent:     c.UserAgent,
		Authorization: authorization,
		Timeout:       c.Timeout,
		MaxRetries:    c.MaxRetries,
		RetryBase:     c.RetryBase,
		Headers:       hs.CrawlerRequestHeaders,
	})
}

// SetPagedState applies the ascending-pagination defaults shared by the
// page-based adapters. Idempotent except for the Iter bump: per_page gets the
// adapter maximum, the starting page is derived from from_id, and page_end
// from to_id (-1 when the range is unbounded)
func SetPagedState(s domain.State, perPageMax int64) domain.State {
	s.Iter++
	if s.PerPage == 0 {
		s.PerPage = perPageMax
	}
	if s.Page == 0 {
		if s.FromID > 0 {
			s.Page = ceilDiv(s.FromID, s.PerPage)
		} else {
			s.Page = 1
		}
	}
	if s.PageEnd == 0 {
		if s.ToID > 0 {
			s.PageEnd = ceilDiv(s.ToID, s.PerPage)
		} else {
			s.PageEnd = domain.ToIDUnbounded
		}
	}
	return s
}

// HasNextPaged reports whether the paged run still has work: not done, the
// page window not exhausted, and the empty-chunk heuristic not tripped
func HasNextPaged(s domain.State, emptyPageMax int) bool {
	if emptyPageMax <= 0 {
		emptyPageMax = DefaultEmptyPageMax
	}
	inRange := s.PageEnd == domain.ToIDUnbounded || s.Page <= s.PageEnd
	return !s.IsDone && inRange && s.EmptyPageCount < emptyPageMax
}

// JoinURL joins a base API URL and a path without doubling slashes
func JoinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

func ceilDiv(a, b int64) int64 {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
