package static

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/rednote/pkg/browser"
)

const fixture = `<html><body>
<div class="side-bar"><div class="login-btn" style="display: none">登录</div><li class="user side-bar-component">me</li></div>
<section class="note-item"><a class="title" href="/n/1"><span>First</span></a></section>
<section class="note-item"><a class="title" href="/n/2"><span>Second</span></a></section>
<span class="title">上传图文</span><span class="title">上传视频</span>
<input class="upload-input" type="file">
<input class="d-text" type="text">
<div class="ql-editor" contenteditable="true"></div>
<p hidden><b class="ghost">boo</b></p>
</body></html>`

func openPage(t *testing.T, d *Driver) *Page {
	t.Helper()
	c, err := d.NewContext(browser.Profile{})
	require.NoError(t, err)
	p, err := c.NewPage()
	require.NoError(t, err)
	return p.(*Page)
}

func TestQueryAndVisibility(t *testing.T) {
	d := New().MustAddPage("https://example.test/page", fixture)
	p := openPage(t, d)
	require.NoError(t, p.Goto("https://example.test/page", time.Second))

	items, err := p.QuerySelectorAll("section.note-item")
	require.NoError(t, err)
	require.Len(t, items, 2)

	span, err := items[1].QuerySelector("a.title span")
	require.NoError(t, err)
	text, err := span.TextContent()
	require.NoError(t, err)
	assert.Equal(t, "Second", text)

	link, err := items[0].QuerySelector("a.title")
	require.NoError(t, err)
	href, err := link.GetAttribute("href")
	require.NoError(t, err)
	assert.Equal(t, "/n/1", href)

	missing, err := p.QuerySelector("div.nothing")
	require.NoError(t, err)
	assert.Nil(t, missing)

	v, err := p.IsVisible("div.login-btn")
	require.NoError(t, err)
	assert.False(t, v)
	v, err = p.IsVisible("b.ghost")
	require.NoError(t, err)
	assert.False(t, v)
	v, err = p.IsVisible("li.user")
	require.NoError(t, err)
	assert.True(t, v)
}

func TestTextAndHasTextSelectors(t *testing.T) {
	d := New().MustAddPage("https://example.test/page", fixture)
	p := openPage(t, d)
	require.NoError(t, p.Goto("https://example.test/page", time.Second))

	el, err := p.QuerySelector("text='登录'")
	require.NoError(t, err)
	require.NotNil(t, el)
	visible, err := el.IsVisible()
	require.NoError(t, err)
	assert.False(t, visible)

	tab, err := p.QuerySelector("span.title:has-text('上传图文')")
	require.NoError(t, err)
	require.NotNil(t, tab)
	text, _ := tab.TextContent()
	assert.Equal(t, "上传图文", text)
}

func TestWaitForSelector(t *testing.T) {
	d := New().MustAddPage("https://example.test/page", fixture)
	p := openPage(t, d)
	require.NoError(t, p.Goto("https://example.test/page", time.Second))

	_, err := p.WaitForSelector("div.success-container", browser.WaitOptions{Timeout: 30 * time.Millisecond})
	assert.ErrorIs(t, err, browser.ErrTimeout)

	go func() {
		time.Sleep(20 * time.Millisecond)
		p.SetHTML(`<html><body><div class="success-container">ok</div></body></html>`)
	}()
	el, err := p.WaitForSelector("div.success-container", browser.WaitOptions{Timeout: time.Second})
	require.NoError(t, err)
	require.NotNil(t, el)

	attached, err := p.WaitForSelector("div.success-container", browser.WaitOptions{State: browser.StateAttached})
	require.NoError(t, err)
	assert.NotNil(t, attached)
}

func TestInteractionsRunHooks(t *testing.T) {
	clicked := 0
	d := New().
		MustAddPage("https://example.test/page", fixture).
		On(ActionClick, "span.title:has-text('上传图文')", func(p *Page, _ string) { clicked++ })

	p := openPage(t, d)
	require.NoError(t, p.Goto("https://example.test/page", time.Second))

	tab, _ := p.QuerySelector("span.title:has-text('上传图文')")
	require.NoError(t, tab.Click())
	other, _ := p.QuerySelector("span.title:has-text('上传视频')")
	require.NoError(t, other.Click())
	assert.Equal(t, 1, clicked)

	input, _ := p.QuerySelector("input.d-text")
	require.NoError(t, input.Fill("hello"))
	value, _ := input.GetAttribute("value")
	assert.Equal(t, "hello", value)

	editor, _ := p.QuerySelector("div.ql-editor")
	require.NoError(t, editor.Fill("body"))
	require.NoError(t, editor.Type(" #tag"))
	text, _ := editor.TextContent()
	assert.Equal(t, "body #tag", text)

	upload, _ := p.QuerySelector("input.upload-input")
	require.NoError(t, upload.SetInputFiles([]string{"/tmp/a.jpg", "/tmp/b.png"}))
	assert.Error(t, input.SetInputFiles([]string{"/tmp/a.jpg"}))

	actions := p.Actions()
	require.Len(t, actions, 6)
	assert.Equal(t, ActionFiles, actions[5].Kind)
	assert.Equal(t, "/tmp/a.jpg\n/tmp/b.png", actions[5].Value)
	assert.Equal(t, "input.upload-input", actions[5].Target)
}

func TestRoutesReceivePageRequests(t *testing.T) {
	const me = "https://edith.example.test/api/sns/web/v2/user/me"
	d := New().
		MustAddPage("https://example.test/login", "<html><body></body></html>", me).
		AddResponse(me, `{"first":true}`, `{"second":true}`)

	c, err := d.NewContext(browser.Profile{})
	require.NoError(t, err)

	var bodies []string
	require.NoError(t, c.Route("**/api/sns/web/v2/user/me**", func(r browser.Route) {
		b, err := r.FetchBody()
		require.NoError(t, err)
		bodies = append(bodies, string(b))
	}))

	p, err := c.NewPage()
	require.NoError(t, err)
	require.NoError(t, p.Goto("https://example.test/login", time.Second))
	p.(*Page).Request(me)
	p.(*Page).Request(me)

	assert.Equal(t, []string{`{"first":true}`, `{"second":true}`, `{"second":true}`}, bodies)
}

func TestClosedPageAndUnknownURL(t *testing.T) {
	d := New()
	p := openPage(t, d)

	err := p.Goto("https://nowhere.test/", time.Second)
	require.Error(t, err)

	closed := false
	p.OnClose(func() { closed = true })
	p.CloseExternally()
	assert.True(t, closed)
	assert.True(t, p.IsClosed())

	_, err = p.QuerySelector("body")
	assert.ErrorIs(t, err, browser.ErrTargetClosed)
	assert.ErrorIs(t, p.Goto("https://nowhere.test/", time.Second), browser.ErrTargetClosed)
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	manifest := `
pages:
  - url: "https://example.test/search?keyword=*"
    file: search.html
    requests: ["https://example.test/me"]
responses:
  - url: "https://example.test/me"
    body: '{"success":true}'
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestName), []byte(manifest), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "search.html"), []byte(fixture), 0o600))

	d, err := LoadDir(dir)
	require.NoError(t, err)

	p := openPage(t, d)
	require.NoError(t, p.Goto("https://example.test/search?keyword=%E7%8C%AB", time.Second))
	items, err := p.QuerySelectorAll("section.note-item")
	require.NoError(t, err)
	assert.Len(t, items, 2)

	_, err = LoadDir(t.TempDir())
	assert.Error(t, err)
}
