// Package suite owns the browser for a run and hands pages to scenarios as
// leases. Isolated leases get a fresh page each; shared leases hand the same
// page to one owner at a time.
package suite

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mapharness/internal/browser"
	"github.com/xkilldash9x/mapharness/internal/browser/cdp"
	"github.com/xkilldash9x/mapharness/internal/browser/pw"
	"github.com/xkilldash9x/mapharness/internal/config"
	"github.com/xkilldash9x/mapharness/internal/workflow"
)

// ErrManagerClosed is returned by Acquire after Shutdown.
var ErrManagerClosed = errors.New("browser manager is shut down")

const shutdownGracePeriod = 15 * time.Second

// NewLauncher starts the driver selected by browser.driver.
func NewLauncher(ctx context.Context, cfg config.Interface, logger *zap.Logger) (browser.Launcher, error) {
	switch driver := cfg.Browser().Driver; driver {
	case config.DriverCDP, "":
		return cdp.NewLauncher(ctx, cfg, logger)
	case config.DriverPlaywright:
		return pw.NewLauncher(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown browser driver %q", driver)
	}
}

// Manager leases pages from a launcher.
type Manager struct {
	launcher browser.Launcher
	cfg      config.Interface
	logger   *zap.Logger
	shared   bool

	// slot admits one shared lease holder at a time.
	slot chan struct{}

	mu         sync.Mutex
	sharedPage browser.Page
	leases     map[string]*Lease
	closed     bool
	wg         sync.WaitGroup
}

// NewManager wraps launcher. session.shared selects the lease mode.
func NewManager(launcher browser.Launcher, cfg config.Interface, logger *zap.Logger) *Manager {
	m := &Manager{
		launcher: launcher,
		cfg:      cfg,
		logger:   logger.Named("browser_manager"),
		shared:   cfg.Session().Shared,
		slot:     make(chan struct{}, 1),
		leases:   make(map[string]*Lease),
	}
	m.logger.Info("Browser manager created.", zap.Bool("shared_session", m.shared))
	return m
}

// Shared reports whether leases share one page.
func (m *Manager) Shared() bool { return m.shared }

// Lease is exclusive use of a page until Release.
type Lease struct {
	ID     string
	Page   browser.Page
	Env    *workflow.Env
	Shared bool

	once    sync.Once
	release func() error
	err     error
}

// Release hands the page back. An isolated page is closed; a shared page
// stays open for the next holder. Release is idempotent.
func (l *Lease) Release() error {
	l.once.Do(func() { l.err = l.release() })
	return l.err
}

// Acquire returns a lease. In shared mode it blocks until the previous holder
// releases or ctx is done.
func (m *Manager) Acquire(ctx context.Context, logger *zap.Logger) (*Lease, error) {
	if m.shared {
		select {
		case m.slot <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	page, err := m.page(ctx)
	if err != nil {
		if m.shared {
			<-m.slot
		}
		return nil, err
	}

	lease := &Lease{
		ID:     uuid.New().String(),
		Page:   page,
		Env:    workflow.NewEnv(page, m.cfg, logger),
		Shared: m.shared,
	}
	lease.release = func() error { return m.release(lease) }

	m.mu.Lock()
	m.leases[lease.ID] = lease
	m.wg.Add(1)
	m.mu.Unlock()

	m.logger.Debug("Lease acquired.", zap.String("lease_id", lease.ID), zap.String("page_id", page.ID()), zap.Bool("shared", m.shared))
	return lease, nil
}

// NewPage opens an extra page outside any lease, such as a mail inbox. The
// caller closes it; Shutdown closes whatever is left with the launcher.
func (m *Manager) NewPage(ctx context.Context) (browser.Page, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, ErrManagerClosed
	}
	return m.launcher.NewPage(ctx)
}

func (m *Manager) page(ctx context.Context) (browser.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrManagerClosed
	}
	if m.shared && m.sharedPage != nil {
		return m.sharedPage, nil
	}
	page, err := m.launcher.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	if m.shared {
		m.sharedPage = page
	}
	return page, nil
}

func (m *Manager) release(l *Lease) error {
	m.mu.Lock()
	delete(m.leases, l.ID)
	m.mu.Unlock()
	defer m.wg.Done()

	if l.Shared {
		<-m.slot
		m.logger.Debug("Shared lease released.", zap.String("lease_id", l.ID))
		return nil
	}
	if err := l.Page.Close(); err != nil && !errors.Is(err, browser.ErrPageClosed) {
		return fmt.Errorf("close page %s: %w", l.Page.ID(), err)
	}
	m.logger.Debug("Lease released.", zap.String("lease_id", l.ID))
	return nil
}

// Shutdown waits for outstanding leases until ctx is done, then closes the
// shared page and the launcher.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	outstanding := len(m.leases)
	m.mu.Unlock()

	m.logger.Info("Shutting down browser manager.", zap.Int("outstanding_leases", outstanding))

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("Timeout waiting for leases to be released. Closing anyway.", zap.Error(ctx.Err()))
	}

	var errs []error
	m.mu.Lock()
	shared := m.sharedPage
	m.sharedPage = nil
	m.mu.Unlock()
	if shared != nil {
		if err := shared.Close(); err != nil && !errors.Is(err, browser.ErrPageClosed) {
			errs = append(errs, fmt.Errorf("close shared page: %w", err))
		}
	}
	if err := m.launcher.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close launcher: %w", err))
	}
	m.logger.Info("Browser manager shutdown complete.")
	return errors.Join(errs...)
}

// ShutdownTimeout runs Shutdown under the default grace period.
func (m *Manager) ShutdownTimeout() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()
	return m.Shutdown(ctx)
}
