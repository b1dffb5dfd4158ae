package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/entrhq/rednote/pkg/types"
)

// Lease is one browser context and page owned by a single operation.
type Lease struct {
	ID string

	ctx        context.Context
	cancel     context.CancelCauseFunc
	context    BrowserContext
	page       Page
	manager    *Manager
	navTimeout time.Duration
	createdAt  time.Time

	systemClose atomic.Bool
	interrupted atomic.Bool
	releaseOnce sync.Once
	releaseErr  error
}

// Context is cancelled when the caller's context ends, when the lease is
// released, or with cause ErrInterrupted when the page is closed externally.
func (l *Lease) Context() context.Context {
	return l.ctx
}

// Page returns the lease's page.
func (l *Lease) Page() Page {
	return l.page
}

// BrowserContext returns the lease's browser context.
func (l *Lease) BrowserContext() BrowserContext {
	return l.context
}

// Goto navigates the page with the manager's navigation timeout.
func (l *Lease) Goto(url string) error {
	if err := l.Err(); err != nil {
		return err
	}
	if err := l.page.Goto(url, l.navTimeout); err != nil {
		return l.Classify(fmt.Errorf("navigation to %s failed: %w", url, err))
	}
	return nil
}

// Cookies returns the context's current cookies.
func (l *Lease) Cookies() ([]types.Cookie, error) {
	cookies, err := l.context.Cookies()
	if err != nil {
		return nil, l.Classify(fmt.Errorf("failed to read cookies: %w", err))
	}
	return cookies, nil
}

// Sleep pauses for d or until the lease context ends.
func (l *Lease) Sleep(d time.Duration) error {
	if d <= 0 {
		return l.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-l.ctx.Done():
		return l.Err()
	case <-timer.C:
		return nil
	}
}

// Err returns nil while the lease is usable, ErrInterrupted after an
// external close, or the context error otherwise.
func (l *Lease) Err() error {
	if l.interrupted.Load() {
		return ErrInterrupted
	}
	if l.ctx.Err() == nil {
		return nil
	}
	if cause := context.Cause(l.ctx); cause != nil {
		return cause
	}
	return l.ctx.Err()
}

// Interrupted reports whether the page was closed externally.
func (l *Lease) Interrupted() bool {
	return l.interrupted.Load()
}

// Classify maps driver errors observed through this lease. A target-closed
// error on a lease that is not being released means the page was closed
// externally and is reported as ErrInterrupted.
func (l *Lease) Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrInterrupted) {
		return err
	}
	if l.interrupted.Load() {
		return fmt.Errorf("%w: %v", ErrInterrupted, err)
	}
	if errors.Is(err, ErrTargetClosed) && !l.systemClose.Load() {
		l.markInterrupted()
		return fmt.Errorf("%w: %v", ErrInterrupted, err)
	}
	return err
}

func (l *Lease) onPageClose() {
	if l.systemClose.Load() {
		return
	}
	l.markInterrupted()
}

func (l *Lease) markInterrupted() {
	if l.interrupted.CompareAndSwap(false, true) {
		l.cancel(ErrInterrupted)
	}
}

// Release closes the page and context. Only the first call has an effect.
func (l *Lease) Release() error {
	l.releaseOnce.Do(func() {
		l.systemClose.Store(true)

		var errs []error
		if !l.page.IsClosed() {
			if err := l.page.Close(); err != nil && !errors.Is(err, ErrTargetClosed) {
				errs = append(errs, err)
			}
		}
		if err := l.context.Close(); err != nil && !errors.Is(err, ErrTargetClosed) {
			errs = append(errs, err)
		}
		l.cancel(context.Canceled)
		l.manager.release(l.ID)
		l.releaseErr = errors.Join(errs...)
	})
	return l.releaseErr
}
