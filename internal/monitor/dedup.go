package monitor

import (
	"strings"
	"time"

	"github.com/nodewatch/nodewatch/internal/state"
)

// Dedup time windows. A title suppresses look-alikes for titleWindow;
// title records older than titleTTL are purged outright.
const (
	titleWindow = 2 * time.Hour
	titleTTL    = 24 * time.Hour
)

// History is the rolling deduplication record for one evaluation pass.
// It is hydrated from a state snapshot at cycle start and written back on
// completion, so the scheduler owns when disk I/O happens.
type History struct {
	notified map[string]state.NotifyEntry
	titles   map[string]state.TitleEntry
}

// NewHistory hydrates a History from a state record snapshot.
func NewHistory(rec state.Record) *History {
	h := &History{
		notified: make(map[string]state.NotifyEntry, len(rec.NotifiedEntries)),
		titles:   make(map[string]state.TitleEntry, len(rec.TitleNotifications)),
	}
	for k, v := range rec.NotifiedEntries {
		h.notified[k] = v
	}
	for k, v := range rec.TitleNotifications {
		h.titles[k] = v
	}
	return h
}

func normalizeTitle(title string) string {
	return strings.ToLower(strings.TrimSpace(title))
}

// IsNovel reports whether the item passes both dedup gates: its identity
// key is unseen AND no live title record within the 2-hour window equals,
// contains, or is contained by its normalized title. Title records past
// their 24-hour TTL are purged before the check.
func (h *History) IsNovel(item Item, now time.Time) bool {
	h.purgeExpired(now)

	if h.titleSuppressed(normalizeTitle(item.Title), now) {
		return false
	}
	if _, seen := h.notified[item.Key()]; seen {
		return false
	}
	return true
}

func (h *History) purgeExpired(now time.Time) {
	for key, entry := range h.titles {
		if now.Sub(entry.Time) > titleTTL {
			delete(h.titles, key)
		}
	}
}

// titleSuppressed applies the containment heuristic in both directions.
// The asymmetry (a short title suppresses longer ones that embed it, and
// vice versa) is deliberate and matches long-standing behavior.
func (h *History) titleSuppressed(normalized string, now time.Time) bool {
	for key, entry := range h.titles {
		if key != normalized &&
			!strings.Contains(key, normalized) &&
			!strings.Contains(normalized, key) {
			continue
		}
		if now.Sub(entry.Time) < titleWindow {
			return true
		}
	}
	return false
}

// Commit records a delivered notification under both gates.
func (h *History) Commit(item Item, matched []string, now time.Time) {
	h.titles[normalizeTitle(item.Title)] = state.TitleEntry{
		Title: item.Title,
		Link:  item.Link,
		Time:  now,
	}
	h.notified[item.Key()] = state.NotifyEntry{
		Title:    item.Title,
		Link:     item.Link,
		Keywords: append([]string(nil), matched...),
		Time:     now,
	}
}

// Rollback removes only the identity record after a failed delivery. The
// title record stays: suppressing title-repeat spam outranks the delivery
// guarantee, and the item regains identity-based eligibility for a later
// cycle.
func (h *History) Rollback(item Item) {
	delete(h.notified, item.Key())
}

// Trim enforces the history size caps, evicting oldest timestamps first.
func (h *History) Trim() {
	trimOldest(h.notified, state.MaxNotifiedEntries, func(e state.NotifyEntry) time.Time { return e.Time })
	trimOldest(h.titles, state.MaxTitleEntries, func(e state.TitleEntry) time.Time { return e.Time })
}

func trimOldest[V any](m map[string]V, limit int, at func(V) time.Time) {
	for len(m) > limit {
		var oldestKey string
		var oldest time.Time
		first := true
		for k, v := range m {
			if t := at(v); first || t.Before(oldest) {
				oldestKey, oldest, first = k, t, false
			}
		}
		delete(m, oldestKey)
	}
}

// Apply writes the histories back onto a state record.
func (h *History) Apply(rec *state.Record) {
	rec.NotifiedEntries = make(map[string]state.NotifyEntry, len(h.notified))
	for k, v := range h.notified {
		rec.NotifiedEntries[k] = v
	}
	rec.TitleNotifications = make(map[string]state.TitleEntry, len(h.titles))
	for k, v := range h.titles {
		rec.TitleNotifications[k] = v
	}
}

// Sizes returns the current store sizes, for logging and metrics.
func (h *History) Sizes() (notified, titles int) {
	return len(h.notified), len(h.titles)
}
