// Package pw implements the browser driver abstraction on Playwright.
package pw

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mapharness/internal/browser"
	"github.com/xkilldash9x/mapharness/internal/config"
)

const (
	playwrightInstallTimeout = 5 * time.Minute
	shutdownGracePeriod      = 15 * time.Second
)

// Launcher handles the Playwright driver and browser process lifecycle.
// Initialization is deferred until the first page is requested.
type Launcher struct {
	logger     *zap.Logger
	browserCfg config.BrowserConfig
	networkCfg config.NetworkConfig

	pw      *playwright.Playwright
	browser playwright.Browser

	mu    sync.Mutex
	pages map[string]*Page
	wg    sync.WaitGroup

	initOnce sync.Once
	initErr  error
}

var _ browser.Launcher = (*Launcher)(nil)

// NewLauncher creates a launcher; nothing is started yet.
func NewLauncher(cfg config.Interface, logger *zap.Logger) *Launcher {
	l := &Launcher{
		logger:     logger.Named("pw_launcher"),
		browserCfg: cfg.Browser(),
		networkCfg: cfg.Network(),
		pages:      make(map[string]*Page),
	}
	l.logger.Info("Playwright launcher created (initialization deferred).")
	return l
}

func (l *Launcher) initialize(ctx context.Context) error {
	l.initOnce.Do(func() {
		l.logger.Info("Initializing Playwright and launching browser...")

		if l.browserCfg.InstallDrivers {
			if err := l.ensureInstallation(ctx); err != nil {
				l.initErr = err
				return
			}
		}

		pw, err := playwright.Run()
		if err != nil {
			l.initErr = fmt.Errorf("failed to start playwright driver: %w", err)
			return
		}
		l.pw = pw

		b, err := pw.Chromium.Launch(l.launchOptions())
		if err != nil {
			_ = pw.Stop()
			l.initErr = fmt.Errorf("failed to launch browser instance: %w", err)
			return
		}
		l.browser = b
		l.logger.Info("Playwright launcher initialized.", zap.String("browser_version", b.Version()))
	})
	return l.initErr
}

func (l *Launcher) ensureInstallation(ctx context.Context) error {
	l.logger.Info("Verifying Playwright browser installation...")
	installCtx, cancel := context.WithTimeout(ctx, playwrightInstallTimeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		opts := &playwright.RunOptions{Browsers: []string{"chromium"}}
		if err := playwright.Install(opts); err != nil {
			errCh <- fmt.Errorf("failed to install playwright browsers: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-installCtx.Done():
		return fmt.Errorf("timeout waiting for Playwright installation: %w", installCtx.Err())
	}
}

func (l *Launcher) launchOptions() playwright.BrowserTypeLaunchOptions {
	timeout := l.browserCfg.LaunchTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	opts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(l.browserCfg.Headless),
		Timeout:  playwright.Float(float64(timeout.Milliseconds())),
	}
	if l.browserCfg.SlowMo > 0 {
		opts.SlowMo = playwright.Float(float64(l.browserCfg.SlowMo.Milliseconds()))
	}

	defaultArgs := []string{"--no-sandbox", "--disable-dev-shm-usage"}
	if l.browserCfg.DisableGPU {
		defaultArgs = append(defaultArgs, "--disable-gpu")
	}
	opts.Args = append(defaultArgs, l.browserCfg.Args...)
	return opts
}

// NewPage opens a page in a fresh browser context.
func (l *Launcher) NewPage(ctx context.Context) (browser.Page, error) {
	if err := l.initialize(ctx); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vp := l.browserCfg.Viewport
	bctx, err := l.browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport:          &playwright.Size{Width: vp.Width, Height: vp.Height},
		AcceptDownloads:   playwright.Bool(true),
		IgnoreHttpsErrors: playwright.Bool(l.browserCfg.IgnoreTLSErrors),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	raw, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	p := newPage(l, bctx, raw, true)
	l.wg.Add(1)
	p.onClose = func() {
		l.mu.Lock()
		delete(l.pages, p.ID())
		l.mu.Unlock()
		l.wg.Done()
	}
	l.mu.Lock()
	l.pages[p.ID()] = p
	l.mu.Unlock()

	l.logger.Debug("Page opened.", zap.String("page_id", p.ID()))
	return p, nil
}

// Close closes remaining pages after a grace period, then stops the browser
// and the driver.
func (l *Launcher) Close() error {
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGracePeriod):
		l.logger.Warn("Pages still open at shutdown. Closing them.")
		l.mu.Lock()
		open := make([]*Page, 0, len(l.pages))
		for _, p := range l.pages {
			open = append(open, p)
		}
		l.mu.Unlock()
		for _, p := range open {
			_ = p.Close()
		}
	}

	var firstErr error
	if l.browser != nil {
		if err := l.browser.Close(); err != nil {
			firstErr = fmt.Errorf("failed to close browser: %w", err)
		}
	}
	if l.pw != nil {
		if err := l.pw.Stop(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to stop playwright driver: %w", err)
		}
	}
	l.logger.Info("Playwright launcher shut down.")
	return firstErr
}
