package selector

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/rednote/pkg/browser"
	"github.com/entrhq/rednote/pkg/browser/static"
)

const fixture = `<html><body>
<div class="feeds-container-v2">
  <section class="note-item-x"><a class="cover" href="/search_result/1"></a></section>
  <section class="note-item-x"><a href="/search_result/2"></a></section>
</div>
<div class="banner" style="display:none">hidden banner</div>
<div class="banner-visible">shown</div>
</body></html>`

func loadPage(t *testing.T) (*static.Page, browser.Page) {
	t.Helper()
	d := static.New().MustAddPage("https://example.test/", fixture)
	c, err := d.NewContext(browser.Profile{})
	require.NoError(t, err)
	p, err := c.NewPage()
	require.NoError(t, err)
	require.NoError(t, p.Goto("https://example.test/", time.Second))
	return p.(*static.Page), p
}

func TestDefaultsCoverEveryField(t *testing.T) {
	s := Defaults()
	assert.GreaterOrEqual(t, s.Version, 1)
	require.NoError(t, s.Validate(
		"login.needs_auth", "login.logged_in", "login.logged_out", "login.profile_link",
		"search.container", "search.item", "search.cover_link", "search.title",
		"detail.title", "detail.content", "detail.tags", "detail.slide",
		"publish.upload_input", "publish.submit", "publish.success",
	))
	assert.Equal(t, []string{"div.feeds-container", "div[class*='feeds-container']"}, s.Get("search.container"))

	err := s.Validate("search.container", "does.not.exist")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does.not.exist")
}

func TestLoadOverridesFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "selectors.yaml")
	doc := "version: 99\nfields:\n  search.title:\n    - \"h3.new-title\"\n    - \"a.title span\"\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 99, s.Version)
	assert.Equal(t, []string{"h3.new-title", "a.title span"}, s.Get("search.title"))
	assert.Equal(t, Defaults().Get("search.item"), s.Get("search.item"))

	s, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults(), s)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestResolveFallsBackInOrder(t *testing.T) {
	_, p := loadPage(t)
	r := NewResolver(nil)
	ctx := context.Background()

	el, matched, err := r.Resolve(ctx, p, []string{"div.feeds-container", "div[class*='feeds-container']"}, 0, false)
	require.NoError(t, err)
	require.NotNil(t, el)
	assert.Equal(t, "div[class*='feeds-container']", matched)

	_, _, err = r.Resolve(ctx, p, []string{"div.nope", "span.nope"}, 0, false)
	assert.ErrorIs(t, err, ErrNotResolved)
}

func TestResolveVisibility(t *testing.T) {
	_, p := loadPage(t)
	r := NewResolver(nil)
	ctx := context.Background()

	_, _, err := r.Resolve(ctx, p, []string{"div.banner"}, 0, true)
	assert.ErrorIs(t, err, ErrNotResolved)

	el, _, err := r.Resolve(ctx, p, []string{"div.banner"}, 0, false)
	require.NoError(t, err)
	assert.NotNil(t, el)

	ok, err := r.Visible(ctx, p, []string{"div.banner", "div.banner-visible"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestResolveWaitsWithinBudget(t *testing.T) {
	sp, p := loadPage(t)
	r := NewResolver(nil).WithPollInterval(5 * time.Millisecond)

	go func() {
		time.Sleep(30 * time.Millisecond)
		sp.SetHTML(`<html><body><div class="success-container">ok</div></body></html>`)
	}()

	start := time.Now()
	el, _, err := r.Resolve(context.Background(), p, []string{"div.success-container"}, 2*time.Second, true)
	require.NoError(t, err)
	assert.NotNil(t, el)
	assert.Less(t, time.Since(start), time.Second)

	start = time.Now()
	_, _, err = r.Resolve(context.Background(), p, []string{"div.never"}, 50*time.Millisecond, true)
	assert.ErrorIs(t, err, ErrNotResolved)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestResolveStopsOnClosedPage(t *testing.T) {
	sp, p := loadPage(t)
	sp.CloseExternally()

	_, _, err := NewResolver(nil).Resolve(context.Background(), p, []string{"div.nope"}, time.Second, false)
	assert.ErrorIs(t, err, browser.ErrTargetClosed)
}

func TestResolveHonoursContextCause(t *testing.T) {
	_, p := loadPage(t)
	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(browser.ErrInterrupted)

	_, _, err := NewResolver(nil).Resolve(ctx, p, []string{"div.nope"}, time.Second, false)
	assert.ErrorIs(t, err, browser.ErrInterrupted)
}

func TestAllAndAttr(t *testing.T) {
	_, p := loadPage(t)
	r := NewResolver(nil)
	ctx := context.Background()

	items, matched, err := r.All(ctx, p, []string{"section.note-item", "section[class*='note-item']"})
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, "section[class*='note-item']", matched)

	href, err := r.Attr(ctx, items[0], []string{"a.cover", "a"}, "href")
	require.NoError(t, err)
	assert.Equal(t, "/search_result/1", href)

	href, err = r.Attr(ctx, items[1], []string{"a.cover", "a[href*='/search_result/']"}, "href")
	require.NoError(t, err)
	assert.Equal(t, "/search_result/2", href)

	_, err = r.Attr(ctx, items[1], []string{"a"}, "data-missing")
	assert.ErrorIs(t, err, ErrNotResolved)
}

func TestWaitSplitsBudget(t *testing.T) {
	_, p := loadPage(t)
	r := NewResolver(nil)

	el, matched, err := r.Wait(context.Background(), p, []string{"div.absent", "div.banner-visible"}, 40*time.Millisecond, browser.StateVisible)
	require.NoError(t, err)
	assert.NotNil(t, el)
	assert.Equal(t, "div.banner-visible", matched)

	_, _, err = r.Wait(context.Background(), p, []string{"div.a", "div.b"}, 20*time.Millisecond, browser.StateVisible)
	assert.ErrorIs(t, err, ErrNotResolved)
	assert.ErrorIs(t, err, browser.ErrTimeout)
}

func TestText(t *testing.T) {
	_, p := loadPage(t)
	text, err := NewResolver(nil).Text(context.Background(), p, []string{"div.banner-visible"})
	require.NoError(t, err)
	assert.Equal(t, "shown", text)
}
