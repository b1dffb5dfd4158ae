package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/entrhq/rednote/pkg/logging"
)

const (
	// DefaultMaxLeases is the default number of concurrent leases
	DefaultMaxLeases = 5

	// DefaultViewportWidth is the default browser viewport width
	DefaultViewportWidth = 1280

	// DefaultViewportHeight is the default browser viewport height
	DefaultViewportHeight = 720

	// DefaultNavigationTimeout bounds every Goto issued through a lease
	DefaultNavigationTimeout = 30 * time.Second
)

// Launcher starts the driver process.
type Launcher func() (Driver, error)

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	MaxLeases         int
	NavigationTimeout time.Duration

	// Defaults fill unset Profile fields (viewport, user agent).
	Defaults Profile
}

// Manager owns the shared driver and the live leases.
type Manager struct {
	mu          sync.Mutex
	launch      Launcher
	driver      Driver
	leases      map[string]*Lease
	opts        ManagerOptions
	logger      *logging.Logger
	initialized bool
}

// NewManager creates a manager that starts its driver with launch.
func NewManager(launch Launcher, opts ManagerOptions, logger *logging.Logger) *Manager {
	if opts.MaxLeases <= 0 {
		opts.MaxLeases = DefaultMaxLeases
	}
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = DefaultNavigationTimeout
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Manager{
		launch: launch,
		leases: make(map[string]*Lease),
		opts:   opts,
		logger: logger,
	}
}

// Initialize starts the driver. It is safe to call more than once.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initLocked()
}

func (m *Manager) initLocked() error {
	if m.initialized {
		return nil
	}
	if m.launch == nil {
		return ErrNotInitialized
	}
	driver, err := m.launch()
	if err != nil {
		return fmt.Errorf("failed to start browser driver: %w", err)
	}
	m.driver = driver
	m.initialized = true
	return nil
}

// Acquire creates a new context for profile, injects its cookies and opens
// a page. The driver is started on first use. The returned lease must be
// released by the caller.
func (m *Manager) Acquire(ctx context.Context, profile Profile) (*Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if err := m.initLocked(); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if len(m.leases) >= m.opts.MaxLeases {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w (%d)", ErrTooManyLeases, m.opts.MaxLeases)
	}
	driver := m.driver
	id := uuid.NewString()
	// reserve the slot while the context is being created
	m.leases[id] = nil
	m.mu.Unlock()

	lease, err := m.open(ctx, driver, id, m.withDefaults(profile))
	m.mu.Lock()
	if err != nil {
		delete(m.leases, id)
		m.mu.Unlock()
		return nil, err
	}
	if !m.initialized || m.driver != driver {
		// Shutdown ran while the context was opening
		delete(m.leases, id)
		m.mu.Unlock()
		_ = lease.Release()
		return nil, ErrShutdown
	}
	m.leases[id] = lease
	m.logger.Debugf("lease %s acquired (%d active)", id, len(m.leases))
	m.mu.Unlock()
	return lease, nil
}

func (m *Manager) withDefaults(p Profile) Profile {
	if p.Viewport == nil {
		if m.opts.Defaults.Viewport != nil {
			v := *m.opts.Defaults.Viewport
			p.Viewport = &v
		} else {
			p.Viewport = &Viewport{Width: DefaultViewportWidth, Height: DefaultViewportHeight}
		}
	}
	if p.UserAgent == "" {
		p.UserAgent = m.opts.Defaults.UserAgent
	}
	return p
}

func (m *Manager) open(ctx context.Context, driver Driver, id string, profile Profile) (*Lease, error) {
	bctx, err := driver.NewContext(profile)
	if err != nil {
		return nil, fmt.Errorf("failed to create context: %w", err)
	}
	if len(profile.Cookies) > 0 {
		if err := bctx.AddCookies(profile.Cookies); err != nil {
			_ = bctx.Close()
			return nil, fmt.Errorf("failed to add cookies: %w", err)
		}
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	leaseCtx, cancel := context.WithCancelCause(ctx)
	lease := &Lease{
		ID:         id,
		ctx:        leaseCtx,
		cancel:     cancel,
		context:    bctx,
		page:       page,
		manager:    m,
		navTimeout: m.opts.NavigationTimeout,
		createdAt:  time.Now(),
	}
	page.OnClose(lease.onPageClose)
	return lease, nil
}

// release forgets the lease. Called by Lease.Release.
func (m *Manager) release(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.leases, id)
	m.logger.Debugf("lease %s released (%d active)", id, len(m.leases))
}

// ActiveLeases returns the number of live leases.
func (m *Manager) ActiveLeases() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, l := range m.leases {
		if l != nil {
			n++
		}
	}
	return n
}

// Shutdown releases every live lease and stops the driver.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	live := make([]*Lease, 0, len(m.leases))
	for _, l := range m.leases {
		if l != nil {
			live = append(live, l)
		}
	}
	m.mu.Unlock()

	var errs []error
	for _, l := range live {
		if err := l.Release(); err != nil {
			errs = append(errs, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initialized && m.driver != nil {
		if err := m.driver.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop browser driver: %w", err))
		}
		m.driver = nil
		m.initialized = false
	}
	return errors.Join(errs...)
}
