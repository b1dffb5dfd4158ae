package static

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/entrhq/rednote/pkg/browser"
)

const pollInterval = 10 * time.Millisecond

// Page is a static page holding one parsed document at a time.
type Page struct {
	mu      sync.Mutex
	ctx     *Context
	url     string
	doc     *goquery.Document
	closed  bool
	onClose []func()
	actions []Action
}

var _ browser.Page = (*Page)(nil)

func newPage(c *Context) *Page {
	doc, _ := goquery.NewDocumentFromReader(strings.NewReader("<html><body></body></html>"))
	return &Page{ctx: c, url: "about:blank", doc: doc}
}

// Goto loads the page registered for url and issues its requests.
func (p *Page) Goto(url string, _ time.Duration) error {
	if p.IsClosed() {
		return browser.ErrTargetClosed
	}
	entry, ok := p.ctx.driver.lookup(url)
	if !ok {
		return fmt.Errorf("static: net::ERR_NAME_NOT_RESOLVED at %s", url)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(entry.html))
	if err != nil {
		return fmt.Errorf("static: parse %s: %w", url, err)
	}

	p.mu.Lock()
	p.url = url
	p.doc = doc
	p.mu.Unlock()

	for _, req := range entry.requests {
		p.ctx.request(req)
	}
	for _, fn := range p.ctx.driver.navHooksFor(url) {
		fn(p, url)
	}
	return nil
}

// Request simulates the page issuing a request after load.
func (p *Page) Request(url string) {
	p.ctx.request(url)
}

// SetHTML replaces the document, as if scripts re-rendered the page.
func (p *Page) SetHTML(html string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.doc = doc
}

// SetURL changes the location without loading anything, as a client-side
// redirect would.
func (p *Page) SetURL(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
}

// CloseExternally closes the page as a human closing the window would.
func (p *Page) CloseExternally() {
	_ = p.Close()
}

// Actions returns the recorded interactions.
func (p *Page) Actions() []Action {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Action(nil), p.actions...)
}

// Context returns the owning context.
func (p *Page) Context() *Context {
	return p.ctx
}

// URL returns the current location.
func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *Page) document() (*goquery.Document, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, browser.ErrTargetClosed
	}
	return p.doc, nil
}

// WaitForSelector polls the document until selector reaches the state.
func (p *Page) WaitForSelector(selector string, opts browser.WaitOptions) (browser.Element, error) {
	state := opts.State
	if state == "" {
		state = browser.StateVisible
	}
	deadline := time.Now().Add(opts.Timeout)
	for {
		doc, err := p.document()
		if err != nil {
			return nil, err
		}
		sel := find(doc.Selection, selector)
		switch state {
		case browser.StateAttached:
			if sel.Length() > 0 {
				return &Element{page: p, sel: sel.First()}, nil
			}
		case browser.StateHidden:
			if firstVisible(sel) == nil {
				return nil, nil
			}
		default:
			if v := firstVisible(sel); v != nil {
				return &Element{page: p, sel: v}, nil
			}
		}
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%w: waiting for %q to be %s", browser.ErrTimeout, selector, state)
		}
		time.Sleep(pollInterval)
	}
}

// QuerySelector returns the first match or nil.
func (p *Page) QuerySelector(selector string) (browser.Element, error) {
	doc, err := p.document()
	if err != nil {
		return nil, err
	}
	return first(p, find(doc.Selection, selector)), nil
}

// QuerySelectorAll returns every match in document order.
func (p *Page) QuerySelectorAll(selector string) ([]browser.Element, error) {
	doc, err := p.document()
	if err != nil {
		return nil, err
	}
	return all(p, find(doc.Selection, selector)), nil
}

// IsVisible reports whether selector matches a visible element.
func (p *Page) IsVisible(selector string) (bool, error) {
	doc, err := p.document()
	if err != nil {
		return false, err
	}
	return firstVisible(find(doc.Selection, selector)) != nil, nil
}

// Content returns the serialized document.
func (p *Page) Content() (string, error) {
	doc, err := p.document()
	if err != nil {
		return "", err
	}
	return goquery.OuterHtml(doc.Selection)
}

// OnClose registers a close listener.
func (p *Page) OnClose(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onClose = append(p.onClose, fn)
}

// IsClosed reports whether the page was closed.
func (p *Page) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Close closes the page and notifies listeners once.
func (p *Page) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	listeners := append([]func(){}, p.onClose...)
	p.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
	return nil
}

func (p *Page) record(a Action) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.actions = append(p.actions, a)
}

func first(p *Page, sel *goquery.Selection) browser.Element {
	if sel.Length() == 0 {
		return nil
	}
	return &Element{page: p, sel: sel.First()}
}

func all(p *Page, sel *goquery.Selection) []browser.Element {
	out := make([]browser.Element, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		out = append(out, &Element{page: p, sel: s})
	})
	return out
}

func firstVisible(sel *goquery.Selection) *goquery.Selection {
	var found *goquery.Selection
	sel.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if visible(s) {
			found = s
			return false
		}
		return true
	})
	return found
}

// visible treats hidden attributes and inline display:none on the element
// or an ancestor as invisible.
func visible(s *goquery.Selection) bool {
	for cur := s; cur.Length() > 0; cur = cur.Parent() {
		if _, hidden := cur.Attr("hidden"); hidden {
			return false
		}
		style, _ := cur.Attr("style")
		style = strings.ReplaceAll(strings.ToLower(style), " ", "")
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return false
		}
	}
	return true
}

// find evaluates selector with two engine extensions on top of CSS:
// text=<value> / text='<value>' matches the innermost elements whose
// trimmed text equals value, and :has-text(...) is treated as :contains(...).
func find(root *goquery.Selection, selector string) *goquery.Selection {
	if value, ok := textSelector(selector); ok {
		return root.Find("*").FilterFunction(func(_ int, s *goquery.Selection) bool {
			if strings.TrimSpace(s.Text()) != value {
				return false
			}
			inner := s.Children().FilterFunction(func(_ int, c *goquery.Selection) bool {
				return strings.TrimSpace(c.Text()) == value
			})
			return inner.Length() == 0
		})
	}
	return root.Find(cssSelector(selector))
}

func textSelector(selector string) (string, bool) {
	if !strings.HasPrefix(selector, "text=") {
		return "", false
	}
	v := strings.TrimPrefix(selector, "text=")
	v = strings.Trim(v, `'"`)
	return v, true
}

func cssSelector(selector string) string {
	return strings.ReplaceAll(selector, ":has-text(", ":contains(")
}

// matches reports whether s satisfies selector.
func matches(s *goquery.Selection, selector string) bool {
	if value, ok := textSelector(selector); ok {
		return strings.TrimSpace(s.Text()) == value
	}
	return s.Is(cssSelector(selector))
}
