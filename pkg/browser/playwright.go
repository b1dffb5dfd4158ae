package browser

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/rednote/pkg/types"
)

// PlaywrightOptions configures the Playwright driver.
type PlaywrightOptions struct {
	// Channel selects a branded browser such as "chrome"; empty uses chromium
	Channel string

	// ActionTimeout is the page default timeout for clicks, fills and queries
	ActionTimeout time.Duration

	// SkipInstall skips downloading the driver and browsers
	SkipInstall bool
}

// PlaywrightDriver runs one Playwright process and up to two browsers
// (headless and headed) shared by every context.
type PlaywrightDriver struct {
	mu       sync.Mutex
	pw       *playwright.Playwright
	browsers map[bool]playwright.Browser
	opts     PlaywrightOptions
}

// NewPlaywrightLauncher returns a Launcher that installs and starts Playwright.
func NewPlaywrightLauncher(opts PlaywrightOptions) Launcher {
	return func() (Driver, error) {
		return StartPlaywright(opts)
	}
}

// StartPlaywright installs (unless skipped) and runs the Playwright driver.
func StartPlaywright(opts PlaywrightOptions) (*PlaywrightDriver, error) {
	// Discard driver output so it does not interleave with CLI output
	runOpts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}
	if opts.Channel != "" {
		runOpts.SkipInstallBrowsers = true
	}

	if !opts.SkipInstall {
		if err := playwright.Install(runOpts); err != nil {
			return nil, fmt.Errorf("failed to install playwright: %w", err)
		}
	}

	pw, err := playwright.Run(runOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	return &PlaywrightDriver{
		pw:       pw,
		browsers: make(map[bool]playwright.Browser),
		opts:     opts,
	}, nil
}

func (d *PlaywrightDriver) browser(headless bool) (playwright.Browser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if b, ok := d.browsers[headless]; ok && b.IsConnected() {
		return b, nil
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(headless),
	}
	if d.opts.Channel != "" {
		launchOpts.Channel = playwright.String(d.opts.Channel)
	}
	b, err := d.pw.Chromium.Launch(launchOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	d.browsers[headless] = b
	return b, nil
}

// NewContext creates an isolated context in the browser matching the
// profile's headless flag.
func (d *PlaywrightDriver) NewContext(profile Profile) (BrowserContext, error) {
	b, err := d.browser(profile.Headless)
	if err != nil {
		return nil, err
	}

	contextOpts := playwright.BrowserNewContextOptions{}
	if profile.Viewport != nil {
		contextOpts.Viewport = &playwright.Size{
			Width:  profile.Viewport.Width,
			Height: profile.Viewport.Height,
		}
	}
	if profile.UserAgent != "" {
		contextOpts.UserAgent = playwright.String(profile.UserAgent)
	}

	c, err := b.NewContext(contextOpts)
	if err != nil {
		return nil, wrapPlaywrightErr(err)
	}
	if d.opts.ActionTimeout > 0 {
		c.SetDefaultTimeout(toMillis(d.opts.ActionTimeout))
	}
	return &pwContext{c: c}, nil
}

// Close closes every browser and stops Playwright.
func (d *PlaywrightDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for headless, b := range d.browsers {
		_ = b.Close()
		delete(d.browsers, headless)
	}
	if d.pw != nil {
		if err := d.pw.Stop(); err != nil {
			return fmt.Errorf("failed to stop playwright: %w", err)
		}
		d.pw = nil
	}
	return nil
}

// wrapPlaywrightErr maps Playwright errors onto the package sentinels.
func wrapPlaywrightErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, playwright.ErrTimeout):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case errors.Is(err, playwright.ErrTargetClosed),
		strings.Contains(err.Error(), "has been closed"):
		return fmt.Errorf("%w: %v", ErrTargetClosed, err)
	default:
		return err
	}
}

func toMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

type pwContext struct {
	c playwright.BrowserContext
}

func (c *pwContext) NewPage() (Page, error) {
	p, err := c.c.NewPage()
	if err != nil {
		return nil, wrapPlaywrightErr(err)
	}
	return &pwPage{p: p}, nil
}

func (c *pwContext) AddCookies(cookies []types.Cookie) error {
	optional := make([]playwright.OptionalCookie, 0, len(cookies))
	for _, ck := range cookies {
		oc := playwright.OptionalCookie{
			Name:     ck.Name,
			Value:    ck.Value,
			Domain:   playwright.String(ck.Domain),
			Path:     playwright.String(ck.Path),
			HttpOnly: playwright.Bool(ck.HTTPOnly),
			Secure:   playwright.Bool(ck.Secure),
		}
		if ck.Expires != 0 {
			oc.Expires = playwright.Float(ck.Expires)
		}
		if ck.SameSite != "" {
			ss := playwright.SameSiteAttribute(ck.SameSite)
			oc.SameSite = &ss
		}
		optional = append(optional, oc)
	}
	return wrapPlaywrightErr(c.c.AddCookies(optional))
}

func (c *pwContext) Cookies() ([]types.Cookie, error) {
	raw, err := c.c.Cookies()
	if err != nil {
		return nil, wrapPlaywrightErr(err)
	}
	out := make([]types.Cookie, 0, len(raw))
	for _, ck := range raw {
		cookie := types.Cookie{
			Name:     ck.Name,
			Value:    ck.Value,
			Domain:   ck.Domain,
			Path:     ck.Path,
			Expires:  ck.Expires,
			HTTPOnly: ck.HttpOnly,
			Secure:   ck.Secure,
		}
		if ck.SameSite != nil {
			cookie.SameSite = string(*ck.SameSite)
		}
		out = append(out, cookie)
	}
	return out, nil
}

func (c *pwContext) Route(pattern string, handler func(Route)) error {
	return wrapPlaywrightErr(c.c.Route(pattern, func(r playwright.Route) {
		handler(&pwRoute{r: r})
	}))
}

func (c *pwContext) Close() error {
	return wrapPlaywrightErr(c.c.Close())
}

type pwRoute struct {
	r playwright.Route
}

func (r *pwRoute) URL() string {
	return r.r.Request().URL()
}

func (r *pwRoute) FetchBody() ([]byte, error) {
	resp, err := r.r.Fetch()
	if err != nil {
		_ = r.r.Continue()
		return nil, wrapPlaywrightErr(err)
	}
	body, err := resp.Body()
	if fulfillErr := r.r.Fulfill(playwright.RouteFulfillOptions{Response: resp}); fulfillErr != nil && err == nil {
		err = fulfillErr
	}
	return body, wrapPlaywrightErr(err)
}

func (r *pwRoute) Continue() error {
	return wrapPlaywrightErr(r.r.Continue())
}

type pwPage struct {
	p playwright.Page
}

func (p *pwPage) Goto(url string, timeout time.Duration) error {
	opts := playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}
	if timeout > 0 {
		opts.Timeout = playwright.Float(toMillis(timeout))
	}
	_, err := p.p.Goto(url, opts)
	return wrapPlaywrightErr(err)
}

func (p *pwPage) URL() string {
	return p.p.URL()
}

func (p *pwPage) WaitForSelector(selector string, opts WaitOptions) (Element, error) {
	pwOpts := playwright.PageWaitForSelectorOptions{}
	state := opts.State
	if state == "" {
		state = StateVisible
	}
	s := playwright.WaitForSelectorState(state)
	pwOpts.State = &s
	if opts.Timeout > 0 {
		pwOpts.Timeout = playwright.Float(toMillis(opts.Timeout))
	}

	el, err := p.p.WaitForSelector(selector, pwOpts)
	if err != nil {
		return nil, wrapPlaywrightErr(err)
	}
	if el == nil {
		return nil, nil
	}
	return &pwElement{e: el}, nil
}

func (p *pwPage) QuerySelector(selector string) (Element, error) {
	el, err := p.p.QuerySelector(selector)
	if err != nil {
		return nil, wrapPlaywrightErr(err)
	}
	if el == nil {
		return nil, nil
	}
	return &pwElement{e: el}, nil
}

func (p *pwPage) QuerySelectorAll(selector string) ([]Element, error) {
	els, err := p.p.QuerySelectorAll(selector)
	if err != nil {
		return nil, wrapPlaywrightErr(err)
	}
	return wrapElements(els), nil
}

func (p *pwPage) IsVisible(selector string) (bool, error) {
	v, err := p.p.IsVisible(selector)
	return v, wrapPlaywrightErr(err)
}

func (p *pwPage) Content() (string, error) {
	c, err := p.p.Content()
	return c, wrapPlaywrightErr(err)
}

func (p *pwPage) OnClose(fn func()) {
	p.p.OnClose(func(playwright.Page) { fn() })
}

func (p *pwPage) IsClosed() bool {
	return p.p.IsClosed()
}

func (p *pwPage) Close() error {
	return wrapPlaywrightErr(p.p.Close())
}

type pwElement struct {
	e playwright.ElementHandle
}

func wrapElements(els []playwright.ElementHandle) []Element {
	out := make([]Element, 0, len(els))
	for _, el := range els {
		out = append(out, &pwElement{e: el})
	}
	return out
}

func (e *pwElement) QuerySelector(selector string) (Element, error) {
	el, err := e.e.QuerySelector(selector)
	if err != nil {
		return nil, wrapPlaywrightErr(err)
	}
	if el == nil {
		return nil, nil
	}
	return &pwElement{e: el}, nil
}

func (e *pwElement) QuerySelectorAll(selector string) ([]Element, error) {
	els, err := e.e.QuerySelectorAll(selector)
	if err != nil {
		return nil, wrapPlaywrightErr(err)
	}
	return wrapElements(els), nil
}

func (e *pwElement) GetAttribute(name string) (string, error) {
	v, err := e.e.GetAttribute(name)
	return v, wrapPlaywrightErr(err)
}

func (e *pwElement) TextContent() (string, error) {
	v, err := e.e.TextContent()
	return v, wrapPlaywrightErr(err)
}

func (e *pwElement) IsVisible() (bool, error) {
	v, err := e.e.IsVisible()
	return v, wrapPlaywrightErr(err)
}

func (e *pwElement) Click() error {
	return wrapPlaywrightErr(e.e.Click())
}

func (e *pwElement) Fill(value string) error {
	return wrapPlaywrightErr(e.e.Fill(value))
}

func (e *pwElement) Type(text string) error {
	return wrapPlaywrightErr(e.e.Type(text))
}

func (e *pwElement) Press(key string) error {
	return wrapPlaywrightErr(e.e.Press(key))
}

func (e *pwElement) SetInputFiles(paths []string) error {
	return wrapPlaywrightErr(e.e.SetInputFiles(paths))
}
