package monitor

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nodewatch/nodewatch/internal/state"
)

func TestHistory_IdentityGate(t *testing.T) {
	t.Parallel()
	h := NewHistory(state.NewRecord())
	now := time.Now()
	item := Item{Title: "出一台洛杉矶 VPS", Link: "https://example.com/post/1", PostID: "1"}

	require.True(t, h.IsNovel(item, now))
	h.Commit(item, []string{"vps"}, now)
	require.False(t, h.IsNovel(item, now))

	// Same identity far outside the title window is still suppressed.
	require.False(t, h.IsNovel(item, now.Add(3*time.Hour)))
}

func TestHistory_TitleContainmentWindow(t *testing.T) {
	t.Parallel()
	h := NewHistory(state.NewRecord())
	now := time.Now()
	original := Item{Title: "出一台独服", Link: "https://example.com/post/1", PostID: "1"}
	h.Commit(original, []string{"独服"}, now)

	// Different identity, equal title.
	repost := Item{Title: "出一台独服", Link: "https://example.com/post/2", PostID: "2"}
	require.False(t, h.IsNovel(repost, now.Add(time.Hour)))

	// New title embedding an already-seen one.
	longer := Item{Title: "【优惠】出一台独服,价格好谈", Link: "https://example.com/post/3", PostID: "3"}
	require.False(t, h.IsNovel(longer, now.Add(time.Hour)))

	// Seen title embedding the new, shorter one.
	shorter := Item{Title: "独服", Link: "https://example.com/post/4", PostID: "4"}
	require.False(t, h.IsNovel(shorter, now.Add(time.Hour)))

	// Window elapsed: look-alike titles become novel again.
	require.True(t, h.IsNovel(repost, now.Add(titleWindow+time.Minute)))
}

func TestHistory_TitleCaseInsensitive(t *testing.T) {
	t.Parallel()
	h := NewHistory(state.NewRecord())
	now := time.Now()
	h.Commit(Item{Title: "Cheap VPS Deal", Link: "https://example.com/post/1", PostID: "1"}, nil, now)

	dup := Item{Title: "  cheap vps deal ", Link: "https://example.com/post/2", PostID: "2"}
	require.False(t, h.IsNovel(dup, now.Add(time.Minute)))
}

func TestHistory_TitleTTLPurge(t *testing.T) {
	t.Parallel()
	rec := state.NewRecord()
	rec.TitleNotifications["stale title"] = state.TitleEntry{
		Title: "stale title",
		Time:  time.Now().Add(-25 * time.Hour),
	}
	h := NewHistory(rec)

	item := Item{Title: "stale title", Link: "https://example.com/post/9", PostID: "9"}
	require.True(t, h.IsNovel(item, time.Now()))
	_, titles := h.Sizes()
	require.Zero(t, titles)
}

func TestHistory_RollbackReleasesIdentityOnly(t *testing.T) {
	t.Parallel()
	h := NewHistory(state.NewRecord())
	now := time.Now()
	item := Item{Title: "出 CN2 小鸡", Link: "https://example.com/post/5", PostID: "5"}

	h.Commit(item, []string{"cn2"}, now)
	h.Rollback(item)

	notified, titles := h.Sizes()
	require.Zero(t, notified)
	require.Equal(t, 1, titles)

	// Identity is free again, but the title record still suppresses it
	// inside the window.
	require.False(t, h.IsNovel(item, now.Add(time.Minute)))
	require.True(t, h.IsNovel(item, now.Add(titleWindow+time.Minute)))
}

func TestHistory_TrimEvictsOldestFirst(t *testing.T) {
	t.Parallel()
	h := NewHistory(state.NewRecord())
	base := time.Now().Add(-time.Hour)
	for i := 0; i < state.MaxNotifiedEntries+5; i++ {
		item := Item{
			Title:  fmt.Sprintf("distinct title %d", i),
			Link:   fmt.Sprintf("https://example.com/post/%d", i),
			PostID: fmt.Sprintf("%d", i),
		}
		h.Commit(item, nil, base.Add(time.Duration(i)*time.Second))
	}

	h.Trim()
	notified, titles := h.Sizes()
	require.Equal(t, state.MaxNotifiedEntries, notified)
	require.LessOrEqual(t, titles, state.MaxTitleEntries)

	// The oldest identities are the evicted ones.
	require.NotContains(t, h.notified, "post_0")
	require.Contains(t, h.notified, fmt.Sprintf("post_%d", state.MaxNotifiedEntries+4))
}

func TestHistory_ApplyRoundTrip(t *testing.T) {
	t.Parallel()
	h := NewHistory(state.NewRecord())
	now := time.Now()
	item := Item{Title: "标题", Link: "https://example.com/post/1", PostID: "1"}
	h.Commit(item, []string{"标"}, now)

	rec := state.NewRecord()
	h.Apply(&rec)
	require.Len(t, rec.NotifiedEntries, 1)
	require.Len(t, rec.TitleNotifications, 1)

	rehydrated := NewHistory(rec)
	require.False(t, rehydrated.IsNovel(item, now.Add(time.Minute)))
}
