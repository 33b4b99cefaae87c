package monitor

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestExtractor(t *testing.T) *Extractor {
	t.Helper()
	e, err := NewExtractor("https://www.nodeseek.com", zap.NewNop())
	require.NoError(t, err)
	return e
}

func listPage(items string) string {
	return `<html><head><title>NodeSeek - 社区</title></head><body>
<div class="navbar">nav</div>
<div class="post-list">` + items + `</div>
</body></html>`
}

func postItem(id int, title string) string {
	return fmt.Sprintf(
		`<div class="post-item"><a class="post-title" href="/post/%d">%s</a></div>`,
		id, title,
	)
}

func TestNewExtractor_RejectsRelativeRoot(t *testing.T) {
	t.Parallel()
	_, err := NewExtractor("/not/absolute", zap.NewNop())
	require.Error(t, err)
}

func TestExtract_StructuredList(t *testing.T) {
	t.Parallel()
	e := newTestExtractor(t)

	var b strings.Builder
	for i := 1; i <= 6; i++ {
		b.WriteString(postItem(i, fmt.Sprintf("出 VPS 闲置机器 %d", i)))
	}

	items, err := e.Extract([]byte(listPage(b.String())))
	require.NoError(t, err)
	require.Len(t, items, 6)
	require.Equal(t, "出 VPS 闲置机器 1", items[0].Title)
	require.Equal(t, "https://www.nodeseek.com/post/1", items[0].Link)
	require.Equal(t, "1", items[0].PostID)
	require.Equal(t, "post_1", items[0].Key())
}

func TestExtract_StructureMismatch(t *testing.T) {
	t.Parallel()
	e := newTestExtractor(t)

	page := `<html><head><title>Totally Different Site</title></head><body><p>nothing</p></body></html>`
	_, err := e.Extract([]byte(page))
	require.ErrorIs(t, err, ErrStructureMismatch)
}

func TestExtract_NoItems(t *testing.T) {
	t.Parallel()
	e := newTestExtractor(t)

	page := `<html><head><title>NodeSeek</title></head><body><p>maintenance</p></body></html>`
	_, err := e.Extract([]byte(page))
	require.ErrorIs(t, err, ErrNoItems)
}

func TestExtract_ContentLinkFallback(t *testing.T) {
	t.Parallel()
	e := newTestExtractor(t)

	// Too few nodes for any structural strategy; the anchors themselves
	// carry recognizable content paths.
	page := `<html><head><title>NodeSeek</title></head><body>
<a href="/topic/77">求购流量小鸡</a>
<a href="/topic/78">出一台独服</a>
</body></html>`
	items, err := e.Extract([]byte(page))
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "求购流量小鸡", items[0].Title)
	require.Equal(t, "https://www.nodeseek.com/topic/77", items[0].Link)
	require.Equal(t, "77", items[0].PostID)
}

func TestExtract_TableRowFallbackSkipsHeader(t *testing.T) {
	t.Parallel()
	e := newTestExtractor(t)

	page := `<html><head><title>NodeSeek</title></head><body>
<table>
<tr><th>Subject</th></tr>
<tr><td><a href="viewtopic.php?id=5">第一个帖子标题</a></td></tr>
<tr><td><a href="viewtopic.php?id=6">第二个帖子标题</a></td></tr>
</table>
</body></html>`
	items, err := e.Extract([]byte(page))
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "第一个帖子标题", items[0].Title)
	require.Equal(t, "https://www.nodeseek.com/viewtopic.php?id=5", items[0].Link)
	require.Empty(t, items[0].PostID)
	require.Equal(t, items[0].Link, items[0].Key())
}

func TestExtract_SkipsUnusableItems(t *testing.T) {
	t.Parallel()
	e := newTestExtractor(t)

	var b strings.Builder
	b.WriteString(postItem(1, "正常的帖子标题"))
	// profile link, not a post
	b.WriteString(`<div class="post-item"><a class="post-title" href="/space/42">某用户</a></div>`)
	// title below the minimum length
	b.WriteString(`<div class="post-item"><a class="post-title" href="/post/3">x</a></div>`)
	// no link at all
	b.WriteString(`<div class="post-item"><span class="post-title">孤立的标题文本</span></div>`)
	b.WriteString(postItem(5, "另一个正常帖子"))

	items, err := e.Extract([]byte(listPage(b.String())))
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "1", items[0].PostID)
	require.Equal(t, "5", items[1].PostID)
}

func TestExtract_CapsItemCount(t *testing.T) {
	t.Parallel()
	e := newTestExtractor(t)

	var b strings.Builder
	for i := 0; i < maxItems+10; i++ {
		b.WriteString(postItem(i+1, fmt.Sprintf("帖子标题编号 %d", i+1)))
	}
	items, err := e.Extract([]byte(listPage(b.String())))
	require.NoError(t, err)
	require.Len(t, items, maxItems)
}

func TestExtract_TitleFallsBackToNodeText(t *testing.T) {
	t.Parallel()
	e := newTestExtractor(t)

	long := strings.Repeat("很长的文字", 20)
	var b strings.Builder
	for i := 1; i <= 5; i++ {
		b.WriteString(fmt.Sprintf(
			`<div class="post-item">%s<a href="/post/%d"><img src="x.png"/></a></div>`,
			long, i,
		))
	}
	items, err := e.Extract([]byte(listPage(b.String())))
	require.NoError(t, err)
	require.Len(t, items, 5)
	require.True(t, strings.HasSuffix(items[0].Title, "..."))
	require.Equal(t, maxFallbackTitle+3, len([]rune(items[0].Title)))
}

func TestExtractPostID(t *testing.T) {
	t.Parallel()
	cases := []struct {
		link string
		want string
	}{
		{"https://www.nodeseek.com/post/12345", "12345"},
		{"https://www.nodeseek.com/topic/9", "9"},
		{"https://www.nodeseek.com/thread/31#comment", "31"},
		{"https://www.nodeseek.com/discussion/7?page=2", "7"},
		{"https://www.nodeseek.com/categories/trade", ""},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, extractPostID(tc.link), tc.link)
	}
}
