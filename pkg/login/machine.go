// Package login decides whether stored cookies still authenticate a user and
// drives the interactive login when they do not.
//
// Cookie validation opens the login page with the stored cookies while the
// identity endpoint is intercepted. Whichever signal comes first wins: an
// identity naming a real user means the cookies are good, the login form
// appearing means they expired. Interactive login opens a visible window and
// waits for a human to complete the flow.
package login

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/entrhq/rednote/pkg/browser"
	"github.com/entrhq/rednote/pkg/logging"
	"github.com/entrhq/rednote/pkg/selector"
	"github.com/entrhq/rednote/pkg/session"
	"github.com/entrhq/rednote/pkg/types"
)

// Site endpoints used during login.
const (
	LoginURL      = "https://www.xiaohongshu.com/login"
	ExploreURL    = "https://www.xiaohongshu.com/explore"
	IdentityRoute = "**/api/sns/web/v2/user/me**"

	profilePathPrefix = "/user/profile/"
)

var (
	// ErrLoginExpired is returned when an operation finds the user logged out.
	ErrLoginExpired = errors.New("login: session expired")

	// ErrTimedOut is returned when interactive login did not finish in time.
	ErrTimedOut = errors.New("login: interactive login timed out")
)

// Options holds the login timings and policies.
type Options struct {
	ValidatePollInterval time.Duration
	ValidateTimeout      time.Duration
	InteractiveTimeout   time.Duration
	StatusPollInterval   time.Duration
	StatusTimeout        time.Duration

	// AssumeAuthenticatedOnTimeout accepts stored cookies when validation saw
	// neither an identity nor the login form before ValidateTimeout.
	AssumeAuthenticatedOnTimeout bool

	// Headless applies to cookie validation; interactive login is always headed.
	Headless bool
}

// DefaultOptions returns the standard timings.
func DefaultOptions() Options {
	return Options{
		ValidatePollInterval:         time.Second,
		ValidateTimeout:              10 * time.Second,
		InteractiveTimeout:           5 * time.Minute,
		StatusPollInterval:           200 * time.Millisecond,
		StatusTimeout:                10 * time.Second,
		AssumeAuthenticatedOnTimeout: true,
		Headless:                     true,
	}
}

// Result is the terminal state of a login attempt.
type Result struct {
	State   State
	Session *session.UserSession

	// Assumed is set when StateAuthenticated came from the timeout policy
	// rather than an observed identity.
	Assumed bool
}

// Authenticated reports whether the attempt ended logged in.
func (r Result) Authenticated() bool {
	return r.State == StateAuthenticated
}

// Machine runs the login state machine against a browser manager and a
// session store.
type Machine struct {
	browsers *browser.Manager
	store    session.Store
	set      *selector.Set
	resolver *selector.Resolver
	status   *StatusChecker
	opts     Options
	logger   *logging.Logger
	now      func() time.Time
}

// New creates a login state machine.
func New(browsers *browser.Manager, store session.Store, set *selector.Set, resolver *selector.Resolver, opts Options, logger *logging.Logger) *Machine {
	def := DefaultOptions()
	if opts.ValidatePollInterval <= 0 {
		opts.ValidatePollInterval = def.ValidatePollInterval
	}
	if opts.ValidateTimeout <= 0 {
		opts.ValidateTimeout = def.ValidateTimeout
	}
	if opts.InteractiveTimeout <= 0 {
		opts.InteractiveTimeout = def.InteractiveTimeout
	}
	if logger == nil {
		logger = logging.Nop()
	}
	if resolver == nil {
		resolver = selector.NewResolver(logger)
	}
	return &Machine{
		browsers: browsers,
		store:    store,
		set:      set,
		resolver: resolver,
		status:   NewStatusChecker(resolver, set, opts.StatusPollInterval, opts.StatusTimeout),
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// Status returns the inline checker used by crawl and detail.
func (m *Machine) Status() *StatusChecker {
	return m.status
}

// identityWatch receives identities captured by the route handler.
type identityWatch struct {
	found  chan Identity
	logger *logging.Logger
}

func newIdentityWatch(logger *logging.Logger) *identityWatch {
	return &identityWatch{found: make(chan Identity, 1), logger: logger}
}

// handle always lets the page receive the response unmodified.
func (w *identityWatch) handle(route browser.Route) {
	body, err := route.FetchBody()
	if err != nil {
		w.logger.Debugf("identity fetch failed for %s: %v", route.URL(), err)
		_ = route.Continue()
		return
	}
	id, ok, err := ParseIdentity(body)
	switch {
	case err != nil:
		w.logger.Debugf("identity response not understood: %v", err)
	case id.Guest:
		w.logger.Debugf("identity endpoint reports a guest visitor")
	case ok:
		select {
		case w.found <- id:
		default:
		}
	}
}

func (w *identityWatch) poll() (Identity, bool) {
	select {
	case id := <-w.found:
		return id, true
	default:
		return Identity{}, false
	}
}

// Validate checks the stored cookies of userID. Expired and indeterminate
// outcomes are states, not errors; errors are reserved for a missing
// session, an interrupted window and driver failures.
func (m *Machine) Validate(ctx context.Context, userID string, rep *types.Reporter) (Result, error) {
	stored, err := m.store.Load(ctx, userID)
	if errors.Is(err, session.ErrNotFound) {
		return Result{State: StateSessionMissing}, fmt.Errorf("no session for user %s: %w", userID, err)
	}
	if err != nil {
		return Result{}, err
	}
	if !stored.Active || len(stored.Cookies) == 0 {
		if stored.Active {
			if err := m.store.MarkExpired(ctx, userID); err != nil {
				return Result{}, err
			}
			stored.Expire(m.now())
		}
		rep.Logf("User %s has no active session", userID)
		return Result{State: StateExpired, Session: stored}, nil
	}

	rep.Logf("Validating saved session of %s", displayName(stored))
	lease, err := m.browsers.Acquire(ctx, browser.Profile{Cookies: stored.Cookies, Headless: m.opts.Headless})
	if err != nil {
		return Result{}, err
	}
	defer lease.Release()

	watch := newIdentityWatch(m.logger)
	if err := lease.BrowserContext().Route(IdentityRoute, watch.handle); err != nil {
		return Result{}, lease.Classify(fmt.Errorf("failed to intercept identity endpoint: %w", err))
	}
	if err := lease.Goto(LoginURL); err != nil {
		return Result{}, err
	}

	state, identity, err := m.awaitValidation(lease, watch)
	if err != nil {
		return Result{}, err
	}
	m.logger.Infof("validation of %s ended %s", userID, state)

	switch state {
	case StateAuthenticated:
		saved, err := m.refresh(ctx, lease, userID, identity)
		if err != nil {
			return Result{}, err
		}
		rep.Logf("Session of %s is valid", displayName(saved))
		return Result{State: StateAuthenticated, Session: saved}, nil

	case StateIndeterminate:
		if !m.opts.AssumeAuthenticatedOnTimeout {
			rep.Logf("Could not determine the login state of %s", displayName(stored))
			return Result{State: StateIndeterminate, Session: stored}, nil
		}
		saved, err := m.refresh(ctx, lease, userID, nil)
		if err != nil {
			return Result{}, err
		}
		rep.Logf("No login prompt within %s, keeping the session of %s", m.opts.ValidateTimeout, displayName(saved))
		return Result{State: StateAuthenticated, Session: saved, Assumed: true}, nil

	default:
		if err := m.store.MarkExpired(ctx, userID); err != nil {
			return Result{}, err
		}
		rep.Logf("Session of %s has expired", displayName(stored))
		expired := stored.Clone()
		expired.Expire(m.now())
		return Result{State: StateExpired, Session: expired}, nil
	}
}

func (m *Machine) awaitValidation(lease *browser.Lease, watch *identityWatch) (State, *Identity, error) {
	deadline := time.Now().Add(m.opts.ValidateTimeout)
	needsAuth := m.set.Get(FieldNeedsAuth)
	for {
		if id, ok := watch.poll(); ok {
			return StateAuthenticated, &id, nil
		}
		visible, err := m.resolver.Visible(lease.Context(), lease.Page(), needsAuth)
		if err != nil {
			return StateUnknown, nil, lease.Classify(err)
		}
		if visible {
			return StateExpired, nil, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return StateIndeterminate, nil, nil
		}
		if err := lease.Sleep(min(m.opts.ValidatePollInterval, remaining)); err != nil {
			return StateUnknown, nil, err
		}
	}
}

// refresh stores the lease's current cookies and back-fills the profile.
func (m *Machine) refresh(ctx context.Context, lease *browser.Lease, userID string, id *Identity) (*session.UserSession, error) {
	cookies, err := lease.Cookies()
	if err != nil {
		return nil, err
	}
	return m.store.Update(ctx, userID, func(s *session.UserSession) error {
		s.Cookies = cookies
		s.Active = true
		s.LastLoginAt = m.now()
		if id != nil {
			applyIdentity(s, *id)
		}
		return nil
	})
}

func applyIdentity(s *session.UserSession, id Identity) {
	if id.Nickname != "" {
		s.Nickname = id.Nickname
	}
	if id.AvatarURL != "" {
		s.AvatarURL = id.AvatarURL
	}
	if id.RedID != "" {
		s.RedID = id.RedID
	}
	if id.Description != "" {
		s.Description = id.Description
	}
	if id.Gender != 0 {
		s.Gender = id.Gender
	}
}

// Interactive opens a visible login window without cookies and waits for a
// human to log in. A window closed by the user yields browser.ErrInterrupted,
// running out of time yields ErrTimedOut.
func (m *Machine) Interactive(ctx context.Context, rep *types.Reporter) (Result, error) {
	lease, err := m.browsers.Acquire(ctx, browser.Profile{Headless: false})
	if err != nil {
		return Result{}, err
	}
	defer lease.Release()

	watch := newIdentityWatch(m.logger)
	if err := lease.BrowserContext().Route(IdentityRoute, watch.handle); err != nil {
		return Result{}, lease.Classify(fmt.Errorf("failed to intercept identity endpoint: %w", err))
	}
	if err := lease.Goto(LoginURL); err != nil {
		return Result{}, err
	}
	rep.Logf("Login page opened, complete the login within %s", m.opts.InteractiveTimeout)

	id, err := m.awaitInteractive(lease, watch, rep)
	if err != nil {
		if errors.Is(err, ErrTimedOut) {
			return Result{State: StateTimedOut}, err
		}
		return Result{}, err
	}

	cookies, err := lease.Cookies()
	if err != nil {
		return Result{}, err
	}
	saved, err := m.store.Update(ctx, id.UserID, func(s *session.UserSession) error {
		applyIdentity(s, id)
		s.Cookies = cookies
		s.Active = true
		s.LastLoginAt = m.now()
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	rep.Logf("Logged in as %s", displayName(saved))
	return Result{State: StateAuthenticated, Session: saved}, nil
}

func (m *Machine) awaitInteractive(lease *browser.Lease, watch *identityWatch, rep *types.Reporter) (Identity, error) {
	start := time.Now()
	deadline := start.Add(m.opts.InteractiveTimeout)
	nextNotice := start.Add(time.Minute)
	for {
		if id, ok := watch.poll(); ok {
			return id, nil
		}
		if err := lease.Err(); err != nil {
			return Identity{}, err
		}
		if lease.Page().IsClosed() {
			return Identity{}, lease.Classify(browser.ErrTargetClosed)
		}

		now := time.Now()
		if !now.Before(deadline) {
			if id, ok := m.profileFallback(lease); ok {
				return id, nil
			}
			return Identity{}, fmt.Errorf("%w after %s", ErrTimedOut, m.opts.InteractiveTimeout)
		}
		if !now.Before(nextNotice) {
			rep.Logf("Still waiting for login (%s left)", deadline.Sub(now).Round(time.Second))
			nextNotice = nextNotice.Add(time.Minute)
		}
		if err := lease.Sleep(min(m.opts.ValidatePollInterval, deadline.Sub(now))); err != nil {
			return Identity{}, err
		}
	}
}

// profileFallback recognises a login that landed on the explore page without
// the identity request being observed.
func (m *Machine) profileFallback(lease *browser.Lease) (Identity, bool) {
	if !strings.HasPrefix(lease.Page().URL(), ExploreURL) {
		return Identity{}, false
	}
	href, err := m.resolver.Attr(lease.Context(), lease.Page(), m.set.Get(FieldProfileLink), "href")
	if err != nil {
		return Identity{}, false
	}
	userID, ok := UserIDFromProfileHref(href)
	if !ok {
		return Identity{}, false
	}
	m.logger.Infof("login recognised from profile link %s", href)
	return Identity{UserID: userID}, true
}

// Authenticate validates userID, or every stored session in order when
// userID is empty, and falls back to interactive login when none is valid.
func (m *Machine) Authenticate(ctx context.Context, userID string, rep *types.Reporter) (Result, error) {
	var candidates []string
	if userID != "" {
		candidates = []string{userID}
	} else {
		sessions, err := m.store.List(ctx)
		if err != nil {
			return Result{}, err
		}
		for _, s := range sessions {
			candidates = append(candidates, s.UserID)
		}
	}

	for _, id := range candidates {
		res, err := m.Validate(ctx, id, rep)
		if err != nil {
			if errors.Is(err, browser.ErrInterrupted) || ctx.Err() != nil {
				return Result{}, err
			}
			if !errors.Is(err, session.ErrNotFound) {
				m.logger.Warnf("validation of %s failed: %v", id, err)
			}
			continue
		}
		if res.Authenticated() {
			return res, nil
		}
	}

	rep.Logf("No valid saved session, starting interactive login")
	return m.Interactive(ctx, rep)
}

func displayName(s *session.UserSession) string {
	if s == nil {
		return ""
	}
	if s.Nickname != "" {
		return s.Nickname
	}
	return s.UserID
}
