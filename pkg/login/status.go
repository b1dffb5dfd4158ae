package login

import (
	"context"
	"time"

	"github.com/entrhq/rednote/pkg/browser"
	"github.com/entrhq/rednote/pkg/selector"
)

// State is a login state machine state.
type State int

const (
	StateUnknown State = iota
	StateValidatingCookies
	StateAwaitingInteractiveAuth
	StateAuthenticated
	StateExpired
	StateTimedOut
	StateIndeterminate
	StateSessionMissing
)

func (s State) String() string {
	switch s {
	case StateValidatingCookies:
		return "validating_cookies"
	case StateAwaitingInteractiveAuth:
		return "awaiting_interactive_auth"
	case StateAuthenticated:
		return "authenticated"
	case StateExpired:
		return "expired"
	case StateTimedOut:
		return "timed_out"
	case StateIndeterminate:
		return "indeterminate"
	case StateSessionMissing:
		return "session_missing"
	default:
		return "unknown"
	}
}

// Selector fields used by the login checks.
const (
	FieldNeedsAuth   = "login.needs_auth"
	FieldLoggedIn    = "login.logged_in"
	FieldLoggedOut   = "login.logged_out"
	FieldProfileLink = "login.profile_link"
)

// RequiredFields lists the selector fields this package reads.
var RequiredFields = []string{FieldNeedsAuth, FieldLoggedIn, FieldLoggedOut, FieldProfileLink}

// StatusChecker inspects an already open page for logged-in markers.
type StatusChecker struct {
	resolver *selector.Resolver
	set      *selector.Set
	poll     time.Duration
	timeout  time.Duration
}

// NewStatusChecker creates a checker polling every poll for up to timeout.
func NewStatusChecker(resolver *selector.Resolver, set *selector.Set, poll, timeout time.Duration) *StatusChecker {
	if poll <= 0 {
		poll = 200 * time.Millisecond
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &StatusChecker{resolver: resolver, set: set, poll: poll, timeout: timeout}
}

// Check returns StateAuthenticated when a logged-in marker shows up,
// StateExpired for a logged-out marker and StateIndeterminate when neither
// appears in time. Errors are limited to cancellation and a closed page.
func (c *StatusChecker) Check(ctx context.Context, page browser.Page) (State, error) {
	deadline := time.Now().Add(c.timeout)
	for {
		in, err := c.resolver.Visible(ctx, page, c.set.Get(FieldLoggedIn))
		if err != nil {
			return StateUnknown, err
		}
		if in {
			return StateAuthenticated, nil
		}
		out, err := c.resolver.Visible(ctx, page, c.set.Get(FieldLoggedOut))
		if err != nil {
			return StateUnknown, err
		}
		if out {
			return StateExpired, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return StateIndeterminate, nil
		}
		if err := wait(ctx, min(c.poll, remaining)); err != nil {
			return StateUnknown, err
		}
	}
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		if cause := context.Cause(ctx); cause != nil {
			return cause
		}
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
