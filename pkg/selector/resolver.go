package selector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/entrhq/rednote/pkg/browser"
	"github.com/entrhq/rednote/pkg/logging"
)

// ErrNotResolved is returned when no candidate matched within the budget.
// It is never fatal by itself; callers decide per field.
var ErrNotResolved = errors.New("selector: no candidate matched")

// DefaultPollInterval is the pause between passes over the candidates.
const DefaultPollInterval = 100 * time.Millisecond

// Resolver locates elements through ordered candidate lists.
type Resolver struct {
	poll   time.Duration
	logger *logging.Logger
}

// NewResolver creates a resolver. A nil logger discards debug output.
func NewResolver(logger *logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Resolver{poll: DefaultPollInterval, logger: logger}
}

// WithPollInterval returns a copy polling at d.
func (r *Resolver) WithPollInterval(d time.Duration) *Resolver {
	c := *r
	if d > 0 {
		c.poll = d
	}
	return &c
}

func ctxErr(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	if cause := context.Cause(ctx); cause != nil {
		return cause
	}
	return ctx.Err()
}

// fatal reports driver errors that must stop resolution.
func fatal(err error) bool {
	return errors.Is(err, browser.ErrTargetClosed) || errors.Is(err, browser.ErrInterrupted)
}

func notResolved(candidates []string) error {
	return fmt.Errorf("%w: %s", ErrNotResolved, strings.Join(candidates, " | "))
}

// Resolve tries each candidate in order, repeating passes until the budget
// elapses. With visible set an attached but hidden element does not count.
// A zero budget makes a single pass. The matching candidate is returned with
// the element.
func (r *Resolver) Resolve(ctx context.Context, scope browser.Queryer, candidates []string, budget time.Duration, visible bool) (browser.Element, string, error) {
	deadline := time.Now().Add(budget)
	for {
		for _, c := range candidates {
			if err := ctxErr(ctx); err != nil {
				return nil, "", err
			}
			el, err := r.match(scope, c, visible)
			if err != nil {
				return nil, "", err
			}
			if el != nil {
				return el, c, nil
			}
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, "", notResolved(candidates)
		}
		if err := sleep(ctx, min(r.poll, remaining)); err != nil {
			return nil, "", err
		}
	}
}

func (r *Resolver) match(scope browser.Queryer, candidate string, visible bool) (browser.Element, error) {
	if !visible {
		el, err := scope.QuerySelector(candidate)
		if err != nil {
			if fatal(err) {
				return nil, err
			}
			r.logger.Debugf("candidate %q failed: %v", candidate, err)
			return nil, nil
		}
		return el, nil
	}

	els, err := scope.QuerySelectorAll(candidate)
	if err != nil {
		if fatal(err) {
			return nil, err
		}
		r.logger.Debugf("candidate %q failed: %v", candidate, err)
		return nil, nil
	}
	for _, el := range els {
		ok, err := el.IsVisible()
		if err != nil {
			if fatal(err) {
				return nil, err
			}
			continue
		}
		if ok {
			return el, nil
		}
	}
	return nil, nil
}

// First makes a single pass and returns the first attached match.
func (r *Resolver) First(ctx context.Context, scope browser.Queryer, candidates []string) (browser.Element, error) {
	el, _, err := r.Resolve(ctx, scope, candidates, 0, false)
	return el, err
}

// All returns the matches of the first candidate that matches anything.
func (r *Resolver) All(ctx context.Context, scope browser.Queryer, candidates []string) ([]browser.Element, string, error) {
	for _, c := range candidates {
		if err := ctxErr(ctx); err != nil {
			return nil, "", err
		}
		els, err := scope.QuerySelectorAll(c)
		if err != nil {
			if fatal(err) {
				return nil, "", err
			}
			r.logger.Debugf("candidate %q failed: %v", c, err)
			continue
		}
		if len(els) > 0 {
			return els, c, nil
		}
	}
	return nil, "", notResolved(candidates)
}

// Wait uses the driver's native wait for each candidate in turn, giving each
// an equal share of the budget.
func (r *Resolver) Wait(ctx context.Context, page browser.Page, candidates []string, budget time.Duration, state string) (browser.Element, string, error) {
	if len(candidates) == 0 {
		return nil, "", notResolved(candidates)
	}
	share := budget / time.Duration(len(candidates))
	var lastErr error
	for _, c := range candidates {
		if err := ctxErr(ctx); err != nil {
			return nil, "", err
		}
		el, err := page.WaitForSelector(c, browser.WaitOptions{State: state, Timeout: share})
		if err == nil {
			return el, c, nil
		}
		if fatal(err) {
			return nil, "", err
		}
		lastErr = err
		r.logger.Debugf("wait for %q failed: %v", c, err)
	}
	return nil, "", fmt.Errorf("%w: %w", notResolved(candidates), lastErr)
}

// Visible reports whether any candidate is currently visible on the page.
func (r *Resolver) Visible(ctx context.Context, page browser.Page, candidates []string) (bool, error) {
	for _, c := range candidates {
		if err := ctxErr(ctx); err != nil {
			return false, err
		}
		ok, err := page.IsVisible(c)
		if err != nil {
			if fatal(err) {
				return false, err
			}
			r.logger.Debugf("visibility of %q failed: %v", c, err)
			continue
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Text returns the trimmed text of the first match.
func (r *Resolver) Text(ctx context.Context, scope browser.Queryer, candidates []string) (string, error) {
	el, err := r.First(ctx, scope, candidates)
	if err != nil {
		return "", err
	}
	text, err := el.TextContent()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// Attr returns an attribute of the first match that carries a non-empty value.
func (r *Resolver) Attr(ctx context.Context, scope browser.Queryer, candidates []string, name string) (string, error) {
	for _, c := range candidates {
		el, err := r.First(ctx, scope, []string{c})
		if errors.Is(err, ErrNotResolved) {
			continue
		}
		if err != nil {
			return "", err
		}
		v, err := el.GetAttribute(name)
		if err != nil {
			if fatal(err) {
				return "", err
			}
			continue
		}
		if v != "" {
			return v, nil
		}
	}
	return "", notResolved(candidates)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctxErr(ctx)
	case <-timer.C:
		return nil
	}
}
