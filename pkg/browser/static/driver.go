// Package static is an in-process browser driver over fixed HTML documents.
//
// It implements the browser driver boundary with goquery, so every rednote
// state machine can run against saved pages: unit tests script the site
// (pages, identity responses, reactions to clicks) and the CLI replays pages
// captured from the live site. There is no JavaScript; pages change only
// when a hook or a test calls SetHTML.
package static

import (
	"fmt"
	"sync"

	"github.com/gobwas/glob"

	"github.com/entrhq/rednote/pkg/browser"
	"github.com/entrhq/rednote/pkg/types"
)

// Action names used by hooks and the action log.
const (
	ActionClick = "click"
	ActionFill  = "fill"
	ActionType  = "type"
	ActionPress = "press"
	ActionFiles = "files"
)

// Action is one recorded interaction with an element.
type Action struct {
	Kind   string
	Target string // tag plus id/class of the element
	Value  string
}

// HookFunc reacts to an interaction or navigation. It runs on the calling
// goroutine with no driver locks held, so it may call SetHTML or CloseExternally.
type HookFunc func(p *Page, value string)

type pageEntry struct {
	pattern  glob.Glob
	html     string
	requests []string
}

type hook struct {
	action   string
	selector string
	fn       HookFunc
}

type navHook struct {
	pattern glob.Glob
	fn      HookFunc
}

// Driver serves registered pages to its contexts.
type Driver struct {
	mu        sync.Mutex
	pages     []pageEntry
	responses map[string][]string
	served    map[string]int
	hooks     []hook
	navHooks  []navHook
	contexts  []*Context
	opened    []*Page
	closed    bool
}

var _ browser.Driver = (*Driver)(nil)

// New returns an empty site.
func New() *Driver {
	return &Driver{
		responses: make(map[string][]string),
		served:    make(map[string]int),
	}
}

// Launcher adapts the driver to browser.Manager.
func (d *Driver) Launcher() browser.Launcher {
	return func() (browser.Driver, error) { return d, nil }
}

// AddPage registers markup for URLs matching pattern (a glob; '*' spans any
// characters). requests are URLs the page fetches right after it loads; they
// pass through routes registered on the context.
func (d *Driver) AddPage(pattern, html string, requests ...string) error {
	g, err := glob.Compile(pattern)
	if err != nil {
		return fmt.Errorf("static: invalid page pattern %q: %w", pattern, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	// later registrations win
	d.pages = append([]pageEntry{{pattern: g, html: html, requests: requests}}, d.pages...)
	return nil
}

// MustAddPage is AddPage for fixtures; it panics on a bad pattern.
func (d *Driver) MustAddPage(pattern, html string, requests ...string) *Driver {
	if err := d.AddPage(pattern, html, requests...); err != nil {
		panic(err)
	}
	return d
}

// AddResponse queues response bodies for a request URL. Each fetch consumes
// one body; the last body repeats.
func (d *Driver) AddResponse(url string, bodies ...string) *Driver {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.responses[url] = append(d.responses[url], bodies...)
	return d
}

// On registers fn to run after an action on an element matching selector.
func (d *Driver) On(action, selector string, fn HookFunc) *Driver {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hooks = append(d.hooks, hook{action: action, selector: selector, fn: fn})
	return d
}

// OnNavigate registers fn to run after a page finished loading a URL
// matching pattern. value is the URL.
func (d *Driver) OnNavigate(pattern string, fn HookFunc) *Driver {
	g := glob.MustCompile(pattern)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.navHooks = append(d.navHooks, navHook{pattern: g, fn: fn})
	return d
}

// Pages returns every page opened so far, in order.
func (d *Driver) Pages() []*Page {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Page(nil), d.opened...)
}

// Contexts returns every context created so far, in order.
func (d *Driver) Contexts() []*Context {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Context(nil), d.contexts...)
}

// NewContext creates an empty cookie jar.
func (d *Driver) NewContext(profile browser.Profile) (browser.BrowserContext, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, browser.ErrTargetClosed
	}
	c := &Context{driver: d, Profile: profile}
	d.contexts = append(d.contexts, c)
	return c, nil
}

// Close marks the driver closed.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *Driver) lookup(url string) (pageEntry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range d.pages {
		if p.pattern.Match(url) {
			return p, true
		}
	}
	return pageEntry{}, false
}

func (d *Driver) nextResponse(url string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	bodies := d.responses[url]
	if len(bodies) == 0 {
		return "", false
	}
	i := d.served[url]
	if i >= len(bodies) {
		i = len(bodies) - 1
	}
	d.served[url]++
	return bodies[i], true
}

func (d *Driver) hooksFor(action string) []hook {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []hook
	for _, h := range d.hooks {
		if h.action == action {
			out = append(out, h)
		}
	}
	return out
}

func (d *Driver) navHooksFor(url string) []HookFunc {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []HookFunc
	for _, h := range d.navHooks {
		if h.pattern.Match(url) {
			out = append(out, h.fn)
		}
	}
	return out
}

// Context is a static browser context.
type Context struct {
	mu      sync.Mutex
	driver  *Driver
	cookies []types.Cookie
	routes  []routeEntry
	pages   []*Page
	closed  bool

	// Profile is the profile the context was created with.
	Profile browser.Profile
}

type routeEntry struct {
	pattern glob.Glob
	handler func(browser.Route)
}

// NewPage opens a blank page.
func (c *Context) NewPage() (browser.Page, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, browser.ErrTargetClosed
	}
	p := newPage(c)
	c.pages = append(c.pages, p)
	c.mu.Unlock()

	c.driver.mu.Lock()
	c.driver.opened = append(c.driver.opened, p)
	c.driver.mu.Unlock()
	return p, nil
}

// AddCookies appends cookies to the jar.
func (c *Context) AddCookies(cookies []types.Cookie) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cookies = append(c.cookies, cookies...)
	return nil
}

// SetCookies replaces the jar, e.g. to simulate the site issuing new cookies.
func (c *Context) SetCookies(cookies []types.Cookie) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cookies = append([]types.Cookie(nil), cookies...)
}

// Cookies returns a copy of the jar.
func (c *Context) Cookies() ([]types.Cookie, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, browser.ErrTargetClosed
	}
	return append([]types.Cookie(nil), c.cookies...), nil
}

// Route registers a handler for request URLs matching the glob pattern.
func (c *Context) Route(pattern string, handler func(browser.Route)) error {
	g, err := glob.Compile(pattern)
	if err != nil {
		return fmt.Errorf("static: invalid route pattern %q: %w", pattern, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.routes = append(c.routes, routeEntry{pattern: g, handler: handler})
	return nil
}

// Close closes every page of the context.
func (c *Context) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	pages := append([]*Page(nil), c.pages...)
	c.mu.Unlock()

	for _, p := range pages {
		_ = p.Close()
	}
	return nil
}

// Closed reports whether the context was closed.
func (c *Context) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// request passes url through the first matching route, if any.
func (c *Context) request(url string) {
	c.mu.Lock()
	var handler func(browser.Route)
	for _, r := range c.routes {
		if r.pattern.Match(url) {
			handler = r.handler
			break
		}
	}
	c.mu.Unlock()

	if handler != nil {
		handler(&Route{driver: c.driver, url: url})
	}
}

// Route is an intercepted static request.
type Route struct {
	driver    *Driver
	url       string
	fulfilled bool
	continued bool
}

// URL returns the request URL.
func (r *Route) URL() string {
	return r.url
}

// FetchBody returns the next queued response for the URL.
func (r *Route) FetchBody() ([]byte, error) {
	body, ok := r.driver.nextResponse(r.url)
	if !ok {
		return nil, fmt.Errorf("static: no response registered for %s", r.url)
	}
	r.fulfilled = true
	return []byte(body), nil
}

// Continue lets the request through.
func (r *Route) Continue() error {
	r.continued = true
	return nil
}
