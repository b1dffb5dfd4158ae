package crawl

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/rednote/pkg/browser"
	"github.com/entrhq/rednote/pkg/browser/static"
	"github.com/entrhq/rednote/pkg/login"
	"github.com/entrhq/rednote/pkg/selector"
	"github.com/entrhq/rednote/pkg/session"
	"github.com/entrhq/rednote/pkg/types"
)

const searchPattern = "https://www.xiaohongshu.com/search_result*"

const resultsPage = `<html><body>
<ul class="side-bar"><li class="user side-bar-component"><a href="/user/profile/me">Me</a></li></ul>
<div class="page-count">about 4 results</div>
<div class="feeds-container">
  <section class="note-item">
    <a class="cover ld mask" href="/search_result/64a1b2c3000000001e03a1f2?xsec_token=abc"><img src="https://sns-img.example/cover1.jpg"></a>
    <div class="footer">
      <a class="title"><span>Weekend coffee guide</span></a>
      <div class="card-bottom-wrapper">
        <a class="author" href="/user/profile/5f0e9d8c0000000001006a7b?xsec_source=pc_search"><img class="author-avatar"><span class="name">Barista Lin</span></a>
        <span class="like-wrapper"><span class="count">1.2万</span></span>
      </div>
    </div>
  </section>
  <section class="note-item">
    <div class="cover-missing"></div>
    <a href="/explore/65b000000000000000000002">open</a>
    <a class="title"><span>Pour over basics</span></a>
  </section>
  <section class="note-item">
    <div class="ad">sponsored</div>
  </section>
</div>
</body></html>`

type harness struct {
	driver  *static.Driver
	store   *session.FileStore
	crawler *Crawler
}

func newHarness(t *testing.T, d *static.Driver, opts Options) *harness {
	t.Helper()
	store, err := session.NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)
	manager := browser.NewManager(d.Launcher(), browser.ManagerOptions{}, nil)
	t.Cleanup(func() { _ = manager.Shutdown() })

	set := selector.Defaults()
	resolver := selector.NewResolver(nil).WithPollInterval(5 * time.Millisecond)
	status := login.NewStatusChecker(resolver, set, 5*time.Millisecond, 50*time.Millisecond)
	if opts.ContainerTimeout == 0 {
		opts.ContainerTimeout = 20 * time.Millisecond
	}
	return &harness{
		driver:  d,
		store:   store,
		crawler: New(manager, store, status, set, resolver, opts, nil),
	}
}

func (h *harness) seed(t *testing.T, userID string, active bool) {
	t.Helper()
	s := &session.UserSession{UserID: userID, Active: active}
	if active {
		s.Cookies = []types.Cookie{{Name: "web_session", Value: "v", Domain: ".xiaohongshu.com", Path: "/"}}
	}
	require.NoError(t, h.store.Save(context.Background(), s))
}

type progressStep struct {
	current, total int
}

func recordingReporter() (*types.Reporter, *[]progressStep, *[]string) {
	var steps []progressStep
	var logs []string
	rep := types.NewReporter(0, types.Listener{
		OnLog:      func(m string) { logs = append(logs, m) },
		OnProgress: func(cur, total int, _ string) { steps = append(steps, progressStep{cur, total}) },
	}, nil)
	return rep, &steps, &logs
}

func TestSearchExtractsSummaries(t *testing.T) {
	d := static.New().MustAddPage(searchPattern, resultsPage)
	h := newHarness(t, d, Options{Headless: true})
	h.seed(t, "user_42", true)

	var streamed []types.NoteSummary
	res, err := h.crawler.Search(context.Background(), "user_42", "coffee beans", nil, func(n types.NoteSummary) {
		streamed = append(streamed, n)
	})
	require.NoError(t, err)
	require.Len(t, res.Notes, 2, "items without a note link are dropped")
	assert.Equal(t, res.Notes, streamed)
	assert.Equal(t, 4, res.Estimated)
	assert.Equal(t, "coffee beans", res.Keyword)

	first := res.Notes[0]
	assert.Equal(t, "64a1b2c3000000001e03a1f2", first.NoteID)
	assert.Equal(t, "https://www.xiaohongshu.com/search_result/64a1b2c3000000001e03a1f2?xsec_token=abc", first.NoteURL)
	assert.Equal(t, "https://sns-img.example/cover1.jpg", first.CoverImageURL)
	assert.Equal(t, "Weekend coffee guide", first.Title)
	assert.Equal(t, "5f0e9d8c0000000001006a7b", first.AuthorID)
	assert.Equal(t, "https://www.xiaohongshu.com/user/profile/5f0e9d8c0000000001006a7b?xsec_source=pc_search", first.AuthorURL)
	assert.Equal(t, "Barista Lin", first.AuthorName)
	assert.Equal(t, "1.2万", first.LikeCount)

	second := res.Notes[1]
	assert.Equal(t, "65b000000000000000000002", second.NoteID)
	assert.Equal(t, "Pour over basics", second.Title)
	assert.Equal(t, "", second.AuthorName)
	assert.Equal(t, "0", second.LikeCount)

	pages := d.Pages()
	require.Len(t, pages, 1)
	assert.Equal(t, "https://www.xiaohongshu.com/search_result?keyword=coffee+beans", pages[0].URL())
	assert.True(t, pages[0].IsClosed())
}

func TestSearchProgressIsMonotonicAndEndsAtTotal(t *testing.T) {
	d := static.New().MustAddPage(searchPattern, resultsPage)
	h := newHarness(t, d, Options{})
	h.seed(t, "user_42", true)

	rep, steps, _ := recordingReporter()
	_, err := h.crawler.Search(context.Background(), "user_42", "coffee", rep, nil)
	require.NoError(t, err)

	var values []int
	for _, s := range *steps {
		assert.Equal(t, 100, s.total)
		values = append(values, s.current)
	}
	assert.Equal(t, []int{0, 10, 20, 30, 45, 60, 100}, values)
}

func TestSearchInactiveSessionIsLoginExpired(t *testing.T) {
	d := static.New().MustAddPage(searchPattern, resultsPage)
	h := newHarness(t, d, Options{})
	h.seed(t, "user_42", false)

	var streamed int
	_, err := h.crawler.Search(context.Background(), "user_42", "coffee", nil, func(types.NoteSummary) { streamed++ })
	assert.ErrorIs(t, err, login.ErrLoginExpired)
	assert.Zero(t, streamed)
	assert.Empty(t, d.Contexts(), "no browser work for an inactive session")

	_, err = h.crawler.Search(context.Background(), "nobody", "coffee", nil, nil)
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestSearchLoggedOutMarksSessionExpired(t *testing.T) {
	page := `<html><body><div class="side-bar-component login-btn">登录</div><div class="feeds-container"></div></body></html>`
	d := static.New().MustAddPage(searchPattern, page)
	h := newHarness(t, d, Options{})
	h.seed(t, "user_42", true)

	_, err := h.crawler.Search(context.Background(), "user_42", "coffee", nil, nil)
	assert.ErrorIs(t, err, login.ErrLoginExpired)

	stored, err := h.store.Load(context.Background(), "user_42")
	require.NoError(t, err)
	assert.False(t, stored.Active)
	assert.Empty(t, stored.Cookies)
}

func TestSearchExternalCloseIsInterrupted(t *testing.T) {
	d := static.New().
		MustAddPage(searchPattern, resultsPage).
		OnNavigate(searchPattern, func(p *static.Page, _ string) { p.CloseExternally() })
	h := newHarness(t, d, Options{})
	h.seed(t, "user_42", true)

	_, err := h.crawler.Search(context.Background(), "user_42", "coffee", nil, nil)
	assert.ErrorIs(t, err, browser.ErrInterrupted)
}

func TestSearchWithoutContainerReturnsEmpty(t *testing.T) {
	page := `<html><body><li class="user">me</li><div class="empty">no results</div></body></html>`
	d := static.New().MustAddPage(searchPattern, page)
	h := newHarness(t, d, Options{})
	h.seed(t, "user_42", true)

	res, err := h.crawler.Search(context.Background(), "user_42", "nothing", nil, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Notes)
	assert.Equal(t, DefaultEstimate, res.Estimated)
}

func TestSearchHonoursMaxItems(t *testing.T) {
	d := static.New().MustAddPage(searchPattern, resultsPage)
	h := newHarness(t, d, Options{MaxItems: 1})
	h.seed(t, "user_42", true)

	res, err := h.crawler.Search(context.Background(), "user_42", "coffee", nil, nil)
	require.NoError(t, err)
	assert.Len(t, res.Notes, 1)
}

func TestItemProgress(t *testing.T) {
	tests := []struct {
		n, estimate, want int
	}{
		{1, 20, 33},
		{10, 20, 60},
		{20, 20, 90},
		{40, 20, 90},
		{1, 0, 90},
		{1, 4, 45},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ItemProgress(tt.n, tt.estimate), "n=%d est=%d", tt.n, tt.estimate)
	}
}

func TestLinkParsing(t *testing.T) {
	assert.Equal(t, "abc", NoteID("/search_result/abc?xsec_token=1"))
	assert.Equal(t, "def", NoteID("https://www.xiaohongshu.com/explore/def#comments"))
	assert.Equal(t, "", NoteID("/user/profile/abc"))
	assert.Equal(t, "u1", AuthorID("/user/profile/u1/collect"))
	assert.Equal(t, "", AuthorID("/explore/x"))
	assert.Equal(t, "https://www.xiaohongshu.com/explore/x", Absolute("/explore/x"))
	assert.Equal(t, "https://www.xiaohongshu.com/explore/x", Absolute("explore/x"))
	assert.Equal(t, "https://cdn.example/x", Absolute("https://cdn.example/x"))
}
