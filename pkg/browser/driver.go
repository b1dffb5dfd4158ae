package browser

import (
	"errors"
	"time"

	"github.com/entrhq/rednote/pkg/types"
)

var (
	// ErrTimeout is returned by driver waits that ran out of time.
	ErrTimeout = errors.New("browser: timeout")

	// ErrTargetClosed is returned when the page, context or browser is gone.
	ErrTargetClosed = errors.New("browser: target page, context or browser has been closed")

	// ErrInterrupted is the cancellation cause of a lease whose page was
	// closed by an actor outside the process.
	ErrInterrupted = errors.New("browser: closed externally")

	// ErrTooManyLeases is returned when the lease limit is reached.
	ErrTooManyLeases = errors.New("browser: maximum number of leases reached")

	// ErrNotInitialized is returned when Acquire is called before Initialize.
	ErrNotInitialized = errors.New("browser: manager not initialized")

	// ErrShutdown is returned by an Acquire that raced with Shutdown.
	ErrShutdown = errors.New("browser: manager shut down")
)

// Wait states for WaitForSelector.
const (
	StateAttached = "attached"
	StateVisible  = "visible"
	StateHidden   = "hidden"
)

// Viewport represents the browser viewport dimensions.
type Viewport struct {
	Width  int
	Height int
}

// Profile configures a new browser context.
type Profile struct {
	// Cookies are injected into the context before the first page opens
	Cookies []types.Cookie

	// Headless controls whether the browser runs without a visible window
	Headless bool

	// UserAgent overrides the driver's default user agent when set
	UserAgent string

	// Viewport sets the initial viewport size
	Viewport *Viewport
}

// WaitOptions configures WaitForSelector.
type WaitOptions struct {
	// State is one of StateAttached, StateVisible, StateHidden (default visible)
	State string

	// Timeout bounds the wait; zero uses the driver default
	Timeout time.Duration
}

// Driver creates isolated browser contexts.
type Driver interface {
	NewContext(profile Profile) (BrowserContext, error)
	Close() error
}

// BrowserContext is a cookie jar with its pages.
type BrowserContext interface {
	NewPage() (Page, error)
	AddCookies(cookies []types.Cookie) error
	Cookies() ([]types.Cookie, error)

	// Route registers handler for requests whose URL matches the glob pattern.
	Route(pattern string, handler func(Route)) error
	Close() error
}

// Queryer is implemented by pages and elements.
type Queryer interface {
	// QuerySelector returns nil, nil when nothing matches.
	QuerySelector(selector string) (Element, error)
	QuerySelectorAll(selector string) ([]Element, error)
}

// Page is a single tab.
type Page interface {
	Queryer

	Goto(url string, timeout time.Duration) error
	URL() string
	WaitForSelector(selector string, opts WaitOptions) (Element, error)
	IsVisible(selector string) (bool, error)
	Content() (string, error)

	// OnClose registers fn to run when the page closes for any reason.
	OnClose(fn func())
	IsClosed() bool
	Close() error
}

// Element is a handle to a DOM node.
type Element interface {
	Queryer

	// GetAttribute returns "" when the attribute is absent.
	GetAttribute(name string) (string, error)
	TextContent() (string, error)
	IsVisible() (bool, error)
	Click() error
	Fill(value string) error
	Type(text string) error
	Press(key string) error
	SetInputFiles(paths []string) error
}

// Route is an intercepted network request.
type Route interface {
	URL() string

	// FetchBody performs the request, fulfills the page with the unmodified
	// response and returns its body.
	FetchBody() ([]byte, error)

	// Continue passes the request through untouched.
	Continue() error
}
