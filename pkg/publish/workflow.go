// Package publish drives the creator site's publish wizard: images are
// uploaded, title, body and tags are filled in and the submission is
// confirmed, retrying the submit step a bounded number of times.
package publish

import (
	"context"
	"errors"
	"fmt"
	"os"
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
	// HomeURL is visited first so the creator site sees the main site's cookies.
	HomeURL = "https://www.xiaohongshu.com"

	// CreatorURL is the publish wizard.
	CreatorURL = "https://creator.xiaohongshu.com/publish/publish?source=official"

	// DefaultMaxAttempts bounds the submit step.
	DefaultMaxAttempts = 2
)

// Selector fields read by the workflow.
const (
	FieldLoginMarker   = "publish.login_marker"
	FieldUploadInput   = "publish.upload_input"
	FieldImageTab      = "publish.image_tab"
	FieldImageInput    = "publish.image_input"
	FieldImagePreview  = "publish.image_preview"
	FieldTitleInput    = "publish.title_input"
	FieldBodyEditor    = "publish.body_editor"
	FieldTagSuggestion = "publish.tag_suggestion"
	FieldSubmit        = "publish.submit"
	FieldSuccess       = "publish.success"
)

// RequiredFields lists the selector fields this package reads.
var RequiredFields = []string{
	FieldLoginMarker, FieldUploadInput, FieldImageTab, FieldImageInput, FieldImagePreview,
	FieldTitleInput, FieldBodyEditor, FieldTagSuggestion, FieldSubmit, FieldSuccess,
}

var (
	// ErrSessionInactive is returned when the user has no active session.
	// Publishing never starts an interactive login.
	ErrSessionInactive = errors.New("publish: user is not logged in")

	// ErrNoImages is returned when no image could be prepared for upload.
	ErrNoImages = errors.New("publish: no usable images")

	// ErrNotReady is returned when the publish page never showed its upload surface.
	ErrNotReady = errors.New("publish: publish page is not available for this account")

	// ErrUploadFailed is returned when the previews did not appear in time.
	ErrUploadFailed = errors.New("publish: image upload did not complete")

	// ErrSubmitFailed is returned when every submit attempt went unconfirmed.
	ErrSubmitFailed = errors.New("publish: submission was not confirmed")
)

// Options configures a Workflow.
type Options struct {
	Headless    bool
	ScratchDir  string
	MaxAttempts int

	SurfaceTimeout time.Duration
	ActionTimeout  time.Duration
	UploadTimeout  time.Duration
	SuccessTimeout time.Duration

	// pauses that let the editor react
	TabSettle         time.Duration
	SpaceDelay        time.Duration
	TagDelay          time.Duration
	SuggestionTimeout time.Duration
	ConfirmDelay      time.Duration
}

// DefaultOptions returns the standard wizard timings.
func DefaultOptions() Options {
	return Options{
		Headless:          true,
		ScratchDir:        os.TempDir(),
		MaxAttempts:       DefaultMaxAttempts,
		SurfaceTimeout:    5 * time.Second,
		ActionTimeout:     10 * time.Second,
		UploadTimeout:     30 * time.Second,
		SuccessTimeout:    10 * time.Second,
		TabSettle:         time.Second,
		SpaceDelay:        300 * time.Millisecond,
		TagDelay:          500 * time.Millisecond,
		SuggestionTimeout: 2 * time.Second,
		ConfirmDelay:      500 * time.Millisecond,
	}
}

// Workflow publishes notes for stored users.
type Workflow struct {
	browsers   *browser.Manager
	store      session.Store
	set        *selector.Set
	resolver   *selector.Resolver
	downloader *Downloader
	opts       Options
	logger     *logging.Logger
	now        func() time.Time
}

// New creates a workflow.
func New(browsers *browser.Manager, store session.Store, set *selector.Set, resolver *selector.Resolver, downloader *Downloader, opts Options, logger *logging.Logger) *Workflow {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.ScratchDir == "" {
		opts.ScratchDir = os.TempDir()
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Workflow{
		browsers:   browsers,
		store:      store,
		set:        set,
		resolver:   resolver,
		downloader: downloader,
		opts:       opts,
		logger:     logger,
		now:        time.Now,
	}
}

// Publish runs the wizard for req as userID. Scratch files created for
// remote images are removed on every return path.
func (w *Workflow) Publish(ctx context.Context, userID string, req types.PublishRequest, rep *types.Reporter) (*types.PublishReceipt, error) {
	rep.Logf("Publishing %q", req.Title)
	rep.Progress(0, "Preparing")

	user, err := w.store.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.Active || len(user.Cookies) == 0 {
		rep.Logf("User %s is not logged in", userID)
		return nil, fmt.Errorf("%w: %s", ErrSessionInactive, userID)
	}

	scratch, err := NewScratch(w.opts.ScratchDir)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := scratch.Cleanup(); err != nil {
			w.logger.Warnf("scratch cleanup failed: %v", err)
		}
	}()

	images, err := w.prepareImages(ctx, req.ImagePaths, scratch, rep)
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		rep.Logf("No images to upload")
		return nil, ErrNoImages
	}
	rep.Progress(20, "Images ready")

	lease, err := w.browsers.Acquire(ctx, browser.Profile{Cookies: user.Cookies, Headless: w.opts.Headless})
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	run := &run{Workflow: w, lease: lease, rep: rep}
	attempts, err := run.drive(ctx, userID, req, images)
	if err != nil {
		return nil, lease.Classify(err)
	}

	rep.Logf("Note published")
	rep.Finish("Published")
	return &types.PublishReceipt{
		Title:       req.Title,
		ImageCount:  len(images),
		Attempts:    attempts,
		PublishedAt: w.now(),
	}, nil
}

// prepareImages downloads remote entries and checks local ones, keeping the
// request order.
func (w *Workflow) prepareImages(ctx context.Context, entries []string, scratch *Scratch, rep *types.Reporter) ([]string, error) {
	var remote []string
	for _, e := range entries {
		if IsRemote(e) {
			remote = append(remote, e)
		}
	}
	downloaded := map[string]string{}
	if len(remote) > 0 {
		if w.downloader == nil {
			return nil, fmt.Errorf("publish: no downloader configured for remote images")
		}
		rep.Logf("Downloading %d images", len(remote))
		paths, err := w.downloader.Download(ctx, remote, scratch, rep)
		if err != nil {
			return nil, err
		}
		for i, u := range remote {
			if paths[i] != "" {
				downloaded[u] = paths[i]
			}
		}
	}

	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if IsRemote(e) {
			if p, ok := downloaded[e]; ok {
				out = append(out, p)
			}
			continue
		}
		info, err := os.Stat(e)
		if err != nil || info.IsDir() {
			w.logger.Warnf("skipping image %s: not a readable file", e)
			rep.Logf("Skipping missing image %s", e)
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// run holds the state of one wizard pass.
type run struct {
	*Workflow
	lease *browser.Lease
	rep   *types.Reporter
}

func (r *run) ctx() context.Context { return r.lease.Context() }

func (r *run) page() browser.Page { return r.lease.Page() }

func (r *run) drive(ctx context.Context, userID string, req types.PublishRequest, images []string) (int, error) {
	if err := r.lease.Goto(HomeURL); err != nil {
		return 0, err
	}
	if err := r.lease.Goto(CreatorURL); err != nil {
		return 0, err
	}
	r.rep.Logf("Publish page opened")
	r.rep.Progress(30, "Publish page opened")

	loggedOut, err := r.resolver.Visible(r.ctx(), r.page(), r.set.Get(FieldLoginMarker))
	if err != nil {
		return 0, err
	}
	if loggedOut {
		if err := r.store.MarkExpired(ctx, userID); err != nil {
			r.logger.Warnf("failed to mark %s expired: %v", userID, err)
		}
		r.rep.Logf("Login of %s has expired, log in again", userID)
		return 0, fmt.Errorf("%w: user %s", login.ErrLoginExpired, userID)
	}

	if _, _, err := r.resolver.Wait(r.ctx(), r.page(), r.set.Get(FieldUploadInput), r.opts.SurfaceTimeout, browser.StateAttached); err != nil {
		if errors.Is(err, selector.ErrNotResolved) {
			r.rep.Logf("Publishing is not available, check the account")
			return 0, ErrNotReady
		}
		return 0, err
	}

	if err := r.selectImageMode(); err != nil {
		return 0, err
	}
	r.rep.Logf("Image mode selected")
	r.rep.Progress(40, "Uploading images")

	if err := r.upload(images); err != nil {
		return 0, err
	}
	r.rep.Progress(60, "Images uploaded")

	if err := r.fill(FieldTitleInput, req.Title); err != nil {
		return 0, fmt.Errorf("failed to enter title: %w", err)
	}
	r.rep.Logf("Title entered")
	if err := r.fill(FieldBodyEditor, req.Content); err != nil {
		return 0, fmt.Errorf("failed to enter body: %w", err)
	}
	r.rep.Logf("Body entered")
	r.rep.Progress(70, "Content entered")

	if tags := cleanTags(req.Tags); len(tags) > 0 {
		if err := r.enterTags(tags); err != nil {
			if fatal(err) {
				return 0, err
			}
			r.rep.Logf("Failed to enter tags: %v", err)
		} else {
			r.rep.Logf("Tags entered")
		}
	}
	r.rep.Progress(80, "Submitting")

	return r.submit()
}

func (r *run) selectImageMode() error {
	tab, _, err := r.resolver.Wait(r.ctx(), r.page(), r.set.Get(FieldImageTab), r.opts.ActionTimeout, browser.StateVisible)
	if err != nil {
		return fmt.Errorf("image mode tab not found: %w", err)
	}
	if err := tab.Click(); err != nil {
		return fmt.Errorf("failed to select image mode: %w", err)
	}
	return r.lease.Sleep(r.opts.TabSettle)
}

// upload selects every image in one batch and waits for one preview per image.
func (r *run) upload(images []string) error {
	input, _, err := r.resolver.Wait(r.ctx(), r.page(), r.set.Get(FieldImageInput), r.opts.ActionTimeout, browser.StateAttached)
	if err != nil {
		return fmt.Errorf("image input not found: %w", err)
	}
	r.rep.Logf("Uploading %d images", len(images))
	if err := input.SetInputFiles(images); err != nil {
		return fmt.Errorf("failed to select images: %w", err)
	}

	deadline := time.Now().Add(r.opts.UploadTimeout)
	for {
		previews, _, err := r.resolver.All(r.ctx(), r.page(), r.set.Get(FieldImagePreview))
		if err != nil && !errors.Is(err, selector.ErrNotResolved) {
			return err
		}
		if len(previews) >= len(images) {
			return nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			r.rep.Logf("Only %d of %d images finished uploading", len(previews), len(images))
			return ErrUploadFailed
		}
		if err := r.lease.Sleep(min(selector.DefaultPollInterval, remaining)); err != nil {
			return err
		}
	}
}

func (r *run) fill(field, value string) error {
	el, _, err := r.resolver.Wait(r.ctx(), r.page(), r.set.Get(field), r.opts.ActionTimeout, browser.StateVisible)
	if err != nil {
		return err
	}
	if err := el.Click(); err != nil {
		return err
	}
	return el.Fill(value)
}

// enterTags types each tag at the end of the body and confirms the first
// suggestion when the editor offers one.
func (r *run) enterTags(tags []string) error {
	editor, _, err := r.resolver.Wait(r.ctx(), r.page(), r.set.Get(FieldBodyEditor), r.opts.ActionTimeout, browser.StateVisible)
	if err != nil {
		return err
	}
	if err := editor.Press("End"); err != nil {
		return err
	}
	for _, tag := range tags {
		r.rep.Logf("Adding tag %s", tag)
		if err := editor.Type(" "); err != nil {
			return err
		}
		if err := r.lease.Sleep(r.opts.SpaceDelay); err != nil {
			return err
		}
		if err := editor.Type("#" + tag); err != nil {
			return err
		}
		if err := r.lease.Sleep(r.opts.TagDelay); err != nil {
			return err
		}

		_, _, err := r.resolver.Wait(r.ctx(), r.page(), r.set.Get(FieldTagSuggestion), r.opts.SuggestionTimeout, browser.StateVisible)
		if err != nil {
			if fatal(err) {
				return err
			}
			r.rep.Logf("No suggestion for tag %s, keeping it as typed", tag)
			continue
		}
		if err := editor.Press("Enter"); err != nil {
			return err
		}
		if err := r.lease.Sleep(r.opts.ConfirmDelay); err != nil {
			return err
		}
	}
	return nil
}

// submit clicks publish until the success marker shows or attempts run out.
// Without the marker, a visible submit button means the click did not take;
// a page back at its upload surface means the note went out.
func (r *run) submit() (int, error) {
	for attempt := 1; attempt <= r.opts.MaxAttempts; attempt++ {
		button, _, err := r.resolver.Wait(r.ctx(), r.page(), r.set.Get(FieldSubmit), r.opts.ActionTimeout, browser.StateVisible)
		if err != nil {
			if fatal(err) {
				return attempt, err
			}
			r.rep.Logf("Publish button not found (attempt %d/%d)", attempt, r.opts.MaxAttempts)
			continue
		}
		if err := button.Click(); err != nil {
			if fatal(err) {
				return attempt, err
			}
			r.rep.Logf("Failed to click publish (attempt %d/%d): %v", attempt, r.opts.MaxAttempts, err)
			continue
		}
		r.rep.Logf("Publish clicked, waiting for confirmation")

		_, _, err = r.resolver.Wait(r.ctx(), r.page(), r.set.Get(FieldSuccess), r.opts.SuccessTimeout, browser.StateVisible)
		if err == nil {
			return attempt, nil
		}
		if fatal(err) {
			return attempt, err
		}

		stillThere, err := r.resolver.Visible(r.ctx(), r.page(), r.set.Get(FieldSubmit))
		if err != nil {
			return attempt, err
		}
		if stillThere {
			r.rep.Logf("Publish not confirmed, retrying (attempt %d/%d)", attempt, r.opts.MaxAttempts)
			continue
		}
		if _, _, err := r.resolver.Wait(r.ctx(), r.page(), r.set.Get(FieldUploadInput), r.opts.SurfaceTimeout, browser.StateAttached); err == nil {
			return attempt, nil
		} else if fatal(err) {
			return attempt, err
		}
		r.rep.Logf("Publish state unclear, retrying (attempt %d/%d)", attempt, r.opts.MaxAttempts)
	}
	r.rep.Logf("Publishing failed after %d attempts", r.opts.MaxAttempts)
	return r.opts.MaxAttempts, fmt.Errorf("%w after %d attempts", ErrSubmitFailed, r.opts.MaxAttempts)
}

func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(t), "#"))
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

func fatal(err error) bool {
	return errors.Is(err, browser.ErrTargetClosed) || errors.Is(err, browser.ErrInterrupted) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
