// Package detail extracts the full content of a single note page.
package detail

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/entrhq/rednote/pkg/browser"
	"github.com/entrhq/rednote/pkg/logging"
	"github.com/entrhq/rednote/pkg/login"
	"github.com/entrhq/rednote/pkg/selector"
	"github.com/entrhq/rednote/pkg/session"
	"github.com/entrhq/rednote/pkg/types"
)

// Selector fields read by the extractor.
const (
	FieldTitle       = "detail.title"
	FieldContent     = "detail.content"
	FieldContentPart = "detail.content_part"
	FieldTags        = "detail.tags"
	FieldSlide       = "detail.slide"
	FieldSlideImage  = "detail.slide_image"

	slideIndexAttr = "data-swiper-slide-index"
)

// RequiredFields lists the selector fields this package reads.
var RequiredFields = []string{FieldTitle, FieldContent, FieldContentPart, FieldTags, FieldSlide, FieldSlideImage}

// Options configures an Extractor.
type Options struct {
	Headless bool

	// TitleTimeout bounds the wait for the title; running out is not fatal.
	TitleTimeout time.Duration
}

// Extractor reads note pages with a stored user session.
type Extractor struct {
	browsers *browser.Manager
	store    session.Store
	status   *login.StatusChecker
	set      *selector.Set
	resolver *selector.Resolver
	opts     Options
	logger   *logging.Logger
}

// New creates an extractor.
func New(browsers *browser.Manager, store session.Store, status *login.StatusChecker, set *selector.Set, resolver *selector.Resolver, opts Options, logger *logging.Logger) *Extractor {
	if opts.TitleTimeout <= 0 {
		opts.TitleTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Extractor{
		browsers: browsers,
		store:    store,
		status:   status,
		set:      set,
		resolver: resolver,
		opts:     opts,
		logger:   logger,
	}
}

// Fetch opens noteURL with userID's cookies and extracts the note. Missing
// fields are left empty; only login, interruption and driver failures are
// errors.
func (e *Extractor) Fetch(ctx context.Context, userID, noteURL string, rep *types.Reporter) (*types.NoteDetail, error) {
	user, err := e.store.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.Active || len(user.Cookies) == 0 {
		rep.Logf("User %s is not logged in", userID)
		return nil, fmt.Errorf("%w: user %s has no active session", login.ErrLoginExpired, userID)
	}

	rep.Logf("Fetching note %s as %s", noteURL, userID)
	rep.Progress(0, "Initialising browser")
	lease, err := e.browsers.Acquire(ctx, browser.Profile{Cookies: user.Cookies, Headless: e.opts.Headless})
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	rep.Progress(10, "Opening note page")
	if err := lease.Goto(noteURL); err != nil {
		return nil, err
	}

	rep.Progress(20, "Checking login state")
	state, err := e.status.Check(lease.Context(), lease.Page())
	if err != nil {
		return nil, lease.Classify(err)
	}
	switch state {
	case login.StateExpired:
		if err := e.store.MarkExpired(ctx, userID); err != nil {
			e.logger.Warnf("failed to mark %s expired: %v", userID, err)
		}
		rep.Logf("Login of %s has expired, log in again", userID)
		return nil, fmt.Errorf("%w: user %s", login.ErrLoginExpired, userID)
	case login.StateIndeterminate:
		rep.Logf("Login state undetermined, trying anyway")
	}

	rep.Progress(40, "Extracting note")
	note, err := e.extract(lease)
	if err != nil {
		return nil, lease.Classify(err)
	}
	note.NoteURL = noteURL
	note.NoteID = NoteID(noteURL)

	rep.Progress(90, "Note extracted")
	rep.Logf("Extracted note %q with %d images", note.Title, len(note.ImageURLs))
	rep.Finish("Done")
	return note, nil
}

func (e *Extractor) extract(lease *browser.Lease) (*types.NoteDetail, error) {
	ctx, page := lease.Context(), lease.Page()
	note := &types.NoteDetail{Tags: []string{}, ImageURLs: []string{}}

	if _, _, err := e.resolver.Wait(ctx, page, e.set.Get(FieldTitle), e.opts.TitleTimeout, browser.StateAttached); err != nil {
		if err := e.soft(err); err != nil {
			return nil, err
		}
		e.logger.Warnf("title did not appear on %s", page.URL())
	}

	var err error
	note.Title, err = e.resolver.Text(ctx, page, e.set.Get(FieldTitle))
	if err := e.soft(err); err != nil {
		return nil, err
	}

	if note.Content, err = e.content(ctx, page); err != nil {
		return nil, err
	}
	if note.Tags, err = e.tags(ctx, page); err != nil {
		return nil, err
	}
	if note.ImageURLs, err = e.images(ctx, page); err != nil {
		return nil, err
	}
	return note, nil
}

// content joins the texts of the container's parts, or falls back to the
// container's own text when it has none.
func (e *Extractor) content(ctx context.Context, page browser.Page) (string, error) {
	container, err := e.resolver.First(ctx, page, e.set.Get(FieldContent))
	if err != nil {
		return "", e.soft(err)
	}
	parts, _, err := e.resolver.All(ctx, container, e.set.Get(FieldContentPart))
	if err := e.soft(err); err != nil {
		return "", err
	}

	var b strings.Builder
	for _, part := range parts {
		text, err := part.TextContent()
		if err := e.soft(err); err != nil {
			return "", err
		}
		b.WriteString(strings.TrimSpace(text))
	}
	if b.Len() > 0 {
		return strings.TrimSpace(b.String()), nil
	}

	text, err := container.TextContent()
	if err := e.soft(err); err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (e *Extractor) tags(ctx context.Context, page browser.Page) ([]string, error) {
	out := []string{}
	els, _, err := e.resolver.All(ctx, page, e.set.Get(FieldTags))
	if err != nil {
		return out, e.soft(err)
	}
	for _, el := range els {
		text, err := el.TextContent()
		if err := e.soft(err); err != nil {
			return nil, err
		}
		tag := strings.TrimPrefix(strings.TrimSpace(text), "#")
		if tag != "" {
			out = append(out, tag)
		}
	}
	return out, nil
}

// images collects one image per slide. Carousels render clones of the first
// and last slide, so slides are keyed by their index attribute, or by the
// image source when they carry none.
func (e *Extractor) images(ctx context.Context, page browser.Page) ([]string, error) {
	out := []string{}
	slides, _, err := e.resolver.All(ctx, page, e.set.Get(FieldSlide))
	if err != nil {
		return out, e.soft(err)
	}
	seen := make(map[string]struct{}, len(slides))
	for _, slide := range slides {
		src, err := e.resolver.Attr(ctx, slide, e.set.Get(FieldSlideImage), "src")
		if err := e.soft(err); err != nil {
			return nil, err
		}
		if src == "" {
			continue
		}
		key, err := slide.GetAttribute(slideIndexAttr)
		if err := e.soft(err); err != nil {
			return nil, err
		}
		if key == "" {
			key = "src:" + src
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, src)
	}
	return out, nil
}

// soft drops errors that only mean a field is missing.
func (e *Extractor) soft(err error) error {
	if err == nil || errors.Is(err, selector.ErrNotResolved) {
		return nil
	}
	if errors.Is(err, browser.ErrTargetClosed) || errors.Is(err, browser.ErrInterrupted) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	e.logger.Debugf("field extraction failed: %v", err)
	return nil
}

// NoteID is the last path segment of a note URL without its query.
func NoteID(noteURL string) string {
	s := noteURL
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSuffix(s, "/")
	if i := strings.LastIndex(s, "/"); i >= 0 {
		return s[i+1:]
	}
	return ""
}
