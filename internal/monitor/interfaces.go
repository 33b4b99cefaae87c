package monitor

import (
	"context"
	"time"
)

// Response is the result of one page fetch.
type Response struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// Fetcher obtains pages from the watched source through a long-lived
// session that can pass the site's bot-mitigation challenge.
type Fetcher interface {
	// EnsureValid re-acquires the session if it has been invalidated.
	EnsureValid(ctx context.Context) error
	// Get fetches url after a human-like delay. Implementations return
	// ErrChallenged when mitigation markers are detected.
	Get(ctx context.Context, url string) (Response, error)
	// Invalidate flags the session for re-acquisition on the next call.
	Invalidate()
}

// Notifier delivers a formatted message to the external endpoint.
// It fails closed: false on missing credentials, transport errors, or a
// non-success response, never a panic or an error escaping the boundary.
type Notifier interface {
	Notify(ctx context.Context, text string) bool
}

// Formatter renders a matched item into the outbound message text.
type Formatter func(item Item, keywords []string) string

// MemSampler reports the process resident set size in bytes.
type MemSampler func() (uint64, error)

// Restarter performs the policy-driven process restart.
type Restarter func() error
