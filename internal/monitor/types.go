// Package monitor implements the poll pipeline: content extraction,
// keyword matching, deduplication, and the supervising scheduler.
package monitor

// Item is one candidate content entry recovered from the list page.
// Link is always absolute by the time an Item leaves the extractor.
type Item struct {
	Title  string
	Link   string
	PostID string
}

// Key returns the stable dedup identity: the numeric post ID when one was
// recovered from the link, otherwise the link itself.
func (it Item) Key() string {
	if it.PostID != "" {
		return "post_" + it.PostID
	}
	return it.Link
}

// Health carries the transient per-process counters the supervisor tracks.
// It is reset on every restart and never persisted.
type Health struct {
	ConsecutiveErrors int
	CyclesSinceStart  int
	TotalErrors       int
	MitigationErrors  int
	LastSuccessUnix   int64
	ResidentBytes     uint64
}
