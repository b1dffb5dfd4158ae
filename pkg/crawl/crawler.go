// Package crawl turns a keyword search on the site into NoteSummary records.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/entrhq/rednote/pkg/browser"
	"github.com/entrhq/rednote/pkg/logging"
	"github.com/entrhq/rednote/pkg/login"
	"github.com/entrhq/rednote/pkg/selector"
	"github.com/entrhq/rednote/pkg/session"
	"github.com/entrhq/rednote/pkg/types"
)

const (
	// BaseURL is the site origin relative links are resolved against.
	BaseURL = "https://www.xiaohongshu.com"

	// SearchURL is followed by the query-escaped keyword.
	SearchURL = BaseURL + "/search_result?keyword="

	// DefaultEstimate is the result count assumed when the page shows none.
	DefaultEstimate = 20

	logEvery = 5
)

// Selector fields read by the crawler.
const (
	FieldContainer    = "search.container"
	FieldItem         = "search.item"
	FieldCoverLink    = "search.cover_link"
	FieldLinkFallback = "search.link_fallback"
	FieldCoverImage   = "search.cover_image"
	FieldTitle        = "search.title"
	FieldAuthorLink   = "search.author_link"
	FieldAuthorName   = "search.author_name"
	FieldLikeCount    = "search.like_count"
	FieldResultCount  = "search.result_count"
)

// RequiredFields lists the selector fields this package reads.
var RequiredFields = []string{
	FieldContainer, FieldItem, FieldCoverLink, FieldLinkFallback, FieldCoverImage,
	FieldTitle, FieldAuthorLink, FieldAuthorName, FieldLikeCount, FieldResultCount,
}

var (
	noteIDPattern   = regexp.MustCompile(`/(?:search_result|explore)/([^?/#]+)`)
	authorIDPattern = regexp.MustCompile(`/user/profile/([^?/#]+)`)
	numberPattern   = regexp.MustCompile(`\d+`)
)

// Options configures a Crawler.
type Options struct {
	Headless bool

	// MaxItems caps the number of summaries; zero keeps every rendered item.
	MaxItems int

	// ContainerTimeout is the wait granted to each container and item candidate.
	ContainerTimeout time.Duration

	// SnapshotLength bounds the page snapshot logged when no results render.
	SnapshotLength int
}

// Sink receives each summary as soon as it is extracted, on the crawling
// goroutine.
type Sink func(note types.NoteSummary)

// Crawler runs keyword searches with a stored user session.
type Crawler struct {
	browsers *browser.Manager
	store    session.Store
	status   *login.StatusChecker
	set      *selector.Set
	resolver *selector.Resolver
	opts     Options
	logger   *logging.Logger
}

// New creates a crawler.
func New(browsers *browser.Manager, store session.Store, status *login.StatusChecker, set *selector.Set, resolver *selector.Resolver, opts Options, logger *logging.Logger) *Crawler {
	if opts.ContainerTimeout <= 0 {
		opts.ContainerTimeout = 5 * time.Second
	}
	if opts.SnapshotLength <= 0 {
		opts.SnapshotLength = browser.DefaultSnapshotLength
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Crawler{
		browsers: browsers,
		store:    store,
		status:   status,
		set:      set,
		resolver: resolver,
		opts:     opts,
		logger:   logger,
	}
}

// Search opens the result page for keyword with userID's cookies and
// extracts the rendered notes. An inactive session fails with
// login.ErrLoginExpired before a browser is opened.
func (c *Crawler) Search(ctx context.Context, userID, keyword string, rep *types.Reporter, sink Sink) (*types.SearchResult, error) {
	user, err := c.store.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.Active || len(user.Cookies) == 0 {
		rep.Logf("User %s is not logged in", userID)
		return nil, fmt.Errorf("%w: user %s has no active session", login.ErrLoginExpired, userID)
	}

	rep.Logf("Searching %q as %s", keyword, userID)
	rep.Progress(0, "Initialising browser")
	lease, err := c.browsers.Acquire(ctx, browser.Profile{Cookies: user.Cookies, Headless: c.opts.Headless})
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	rep.Progress(10, "Opening search page")
	target := SearchURL + url.QueryEscape(keyword)
	rep.Logf("Opening %s", target)
	if err := lease.Goto(target); err != nil {
		return nil, err
	}

	rep.Progress(20, "Checking login state")
	state, err := c.status.Check(lease.Context(), lease.Page())
	if err != nil {
		return nil, lease.Classify(err)
	}
	switch state {
	case login.StateExpired:
		if err := c.store.MarkExpired(ctx, userID); err != nil {
			c.logger.Warnf("failed to mark %s expired: %v", userID, err)
		}
		rep.Logf("Login of %s has expired, log in again", userID)
		return nil, fmt.Errorf("%w: user %s", login.ErrLoginExpired, userID)
	case login.StateIndeterminate:
		rep.Logf("Login state undetermined, assuming logged in")
	}

	rep.Progress(30, "Crawling search results")
	estimate := c.estimate(lease)
	c.logger.Debugf("estimated %d results for %q", estimate, keyword)

	result := &types.SearchResult{Keyword: keyword, Estimated: estimate, Notes: []types.NoteSummary{}}
	err = c.crawl(lease, func(note types.NoteSummary) {
		result.Notes = append(result.Notes, note)
		n := len(result.Notes)
		rep.Note(note)
		if sink != nil {
			sink(note)
		}
		rep.Progress(ItemProgress(n, estimate), fmt.Sprintf("Collected %d notes", n))
		if n%logEvery == 0 {
			rep.Logf("Collected %d notes so far", n)
		}
	})
	if err != nil {
		return nil, err
	}

	rep.Logf("Search finished with %d notes", len(result.Notes))
	rep.Finish("Search finished")
	return result, nil
}

// ItemProgress maps the n-th collected item onto the 30..90 band.
func ItemProgress(n, estimate int) int {
	return min(30+60*n/max(estimate, 1), 90)
}

func (c *Crawler) crawl(lease *browser.Lease, emit func(types.NoteSummary)) error {
	ctx, page := lease.Context(), lease.Page()

	_, matched, err := c.resolver.Wait(ctx, page, c.set.Get(FieldContainer), c.budget(FieldContainer), browser.StateAttached)
	if err != nil {
		if errors.Is(err, selector.ErrNotResolved) {
			c.logger.Warnf("no result container on %s", page.URL())
			c.logSnapshot(page)
			return nil
		}
		return lease.Classify(err)
	}
	c.logger.Debugf("result container matched %q", matched)

	if _, _, err := c.resolver.Wait(ctx, page, c.set.Get(FieldItem), c.budget(FieldItem), browser.StateAttached); err != nil {
		if errors.Is(err, selector.ErrNotResolved) {
			c.logger.Warnf("no result items on %s", page.URL())
			return nil
		}
		return lease.Classify(err)
	}
	items, matched, err := c.resolver.All(ctx, page, c.set.Get(FieldItem))
	if err != nil {
		if errors.Is(err, selector.ErrNotResolved) {
			return nil
		}
		return lease.Classify(err)
	}
	c.logger.Debugf("found %d items with %q", len(items), matched)

	collected := 0
	for _, item := range items {
		if c.opts.MaxItems > 0 && collected >= c.opts.MaxItems {
			break
		}
		if err := lease.Err(); err != nil {
			return err
		}
		note, ok, err := c.extract(ctx, item)
		if err != nil {
			return lease.Classify(err)
		}
		if !ok {
			c.logger.Debugf("skipping item without note link")
			continue
		}
		collected++
		emit(note)
	}
	return nil
}

func (c *Crawler) budget(field string) time.Duration {
	return c.opts.ContainerTimeout * time.Duration(max(len(c.set.Get(field)), 1))
}

// extract reads one result item. ok is false when the item has no note link.
func (c *Crawler) extract(ctx context.Context, item browser.Element) (types.NoteSummary, bool, error) {
	var note types.NoteSummary

	href, cover := "", ""
	link, err := c.resolver.First(ctx, item, c.set.Get(FieldCoverLink))
	if err := c.soft(err); err != nil {
		return note, false, err
	}
	if link != nil {
		if href, err = link.GetAttribute("href"); c.soft(err) != nil {
			return note, false, err
		}
		cover, err = c.resolver.Attr(ctx, link, c.set.Get(FieldCoverImage), "src")
		if err := c.soft(err); err != nil {
			return note, false, err
		}
	}
	if href == "" {
		href, err = c.resolver.Attr(ctx, item, c.set.Get(FieldLinkFallback), "href")
		if err := c.soft(err); err != nil {
			return note, false, err
		}
	}
	if href == "" {
		return note, false, nil
	}

	note.NoteURL = Absolute(href)
	note.NoteID = NoteID(href)
	note.CoverImageURL = cover

	note.Title, err = c.resolver.Text(ctx, item, c.set.Get(FieldTitle))
	if err := c.soft(err); err != nil {
		return note, false, err
	}

	author, err := c.resolver.First(ctx, item, c.set.Get(FieldAuthorLink))
	if err := c.soft(err); err != nil {
		return note, false, err
	}
	if author != nil {
		authorHref, err := author.GetAttribute("href")
		if err := c.soft(err); err != nil {
			return note, false, err
		}
		if authorHref != "" {
			note.AuthorURL = Absolute(authorHref)
			note.AuthorID = AuthorID(authorHref)
		}
		note.AuthorName, err = c.resolver.Text(ctx, author, c.set.Get(FieldAuthorName))
		if err := c.soft(err); err != nil {
			return note, false, err
		}
	}

	note.LikeCount, err = c.resolver.Text(ctx, item, c.set.Get(FieldLikeCount))
	if err := c.soft(err); err != nil {
		return note, false, err
	}
	if note.LikeCount == "" {
		note.LikeCount = "0"
	}
	return note, true, nil
}

// soft drops errors that only mean a field is missing.
func (c *Crawler) soft(err error) error {
	if err == nil || errors.Is(err, selector.ErrNotResolved) {
		return nil
	}
	if errors.Is(err, browser.ErrTargetClosed) || errors.Is(err, browser.ErrInterrupted) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	c.logger.Debugf("field extraction failed: %v", err)
	return nil
}

// estimate reads the first number shown by a result-count element.
func (c *Crawler) estimate(lease *browser.Lease) int {
	for _, candidate := range c.set.Get(FieldResultCount) {
		text, err := c.resolver.Text(lease.Context(), lease.Page(), []string{candidate})
		if err != nil {
			continue
		}
		if m := numberPattern.FindString(text); m != "" {
			if n, err := strconv.Atoi(m); err == nil && n > 0 {
				return n
			}
		}
	}
	return DefaultEstimate
}

func (c *Crawler) logSnapshot(page browser.Page) {
	snap, err := browser.Snapshot(page, c.opts.SnapshotLength)
	if err != nil {
		c.logger.Debugf("page snapshot failed: %v", err)
		return
	}
	c.logger.Debugf("page snapshot of %s (%q, truncated=%t):\n%s", snap.URL, snap.Title, snap.Truncated, snap.Markup)
}

// Absolute resolves a site-relative link against BaseURL.
func Absolute(href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	if !strings.HasPrefix(href, "/") {
		href = "/" + href
	}
	return BaseURL + href
}

// NoteID extracts the note id from a search_result or explore link.
func NoteID(href string) string {
	if m := noteIDPattern.FindStringSubmatch(href); m != nil {
		return m[1]
	}
	return ""
}

// AuthorID extracts the user id from a profile link.
func AuthorID(href string) string {
	if m := authorIDPattern.FindStringSubmatch(href); m != nil {
		return m[1]
	}
	return ""
}
