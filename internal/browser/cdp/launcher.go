// Package cdp implements the browser driver abstraction on the Chrome
// DevTools Protocol through chromedp.
package cdp

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mapharness/internal/browser"
	"github.com/xkilldash9x/mapharness/internal/config"
)

const (
	launchCheckTimeout = 30 * time.Second
	disposeTimeout     = 10 * time.Second
)

// Launcher owns one Chrome process. Every page it opens lives in its own
// browser context, so cookies and storage never leak between pages.
type Launcher struct {
	logger     *zap.Logger
	browserCfg config.BrowserConfig
	networkCfg config.NetworkConfig

	// allocatorCtx manages the browser process; browserCtx is the first tab's
	// context and carries the browser-level executor.
	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc

	downloadDir string

	// contextLock serializes browser context creation.
	contextLock sync.Mutex
	wg          sync.WaitGroup
}

var _ browser.Launcher = (*Launcher)(nil)

// NewLauncher starts Chrome and verifies it responds.
func NewLauncher(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Launcher, error) {
	dir, err := homedir.Expand(cfg.Browser().DownloadDir)
	if err != nil {
		return nil, fmt.Errorf("expand download dir: %w", err)
	}
	l := &Launcher{
		logger:      logger.Named("cdp_launcher"),
		browserCfg:  cfg.Browser(),
		networkCfg:  cfg.Network(),
		downloadDir: dir,
	}
	if err := l.launch(ctx); err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	return l, nil
}

func (l *Launcher) launch(ctx context.Context) error {
	l.logger.Info("Initializing browser allocator...")

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, l.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(l.logger.Sugar().Debugf),
		chromedp.WithErrorf(l.logger.Sugar().Errorf),
	)

	timeout := l.browserCfg.LaunchTimeout
	if timeout <= 0 {
		timeout = launchCheckTimeout
	}
	checkCtx, cancelCheck := context.WithTimeout(browserCtx, timeout)
	defer cancelCheck()
	if err := chromedp.Run(checkCtx, chromedp.Navigate("about:blank")); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("browser failed to start or respond: %w", err)
	}

	l.allocatorCtx, l.allocatorCancel = allocCtx, allocCancel
	l.browserCtx, l.browserCancel = browserCtx, browserCancel
	l.logger.Info("Browser launched successfully and is responsive.")
	return nil
}

func (l *Launcher) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", l.browserCfg.Headless),
		chromedp.Flag("ignore-certificate-errors", l.browserCfg.IgnoreTLSErrors),
		chromedp.Flag("disable-gpu", l.browserCfg.DisableGPU),
		chromedp.Flag("disable-extensions", true),
		chromedp.WindowSize(l.browserCfg.Viewport.Width, l.browserCfg.Viewport.Height),
	)

	for _, arg := range l.browserCfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			opts = append(opts, chromedp.Flag(name, parts[1]))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}

	// Container friendly defaults.
	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
		)
	}
	return opts
}

// browserExecutorCtx runs browser-level commands (contexts, targets, downloads).
func (l *Launcher) browserExecutorCtx(ctx context.Context) context.Context {
	c := chromedp.FromContext(l.browserCtx)
	return cdp.WithExecutor(ctx, c.Browser)
}

// NewPage creates an isolated browser context with one tab in it.
func (l *Launcher) NewPage(ctx context.Context) (browser.Page, error) {
	l.contextLock.Lock()
	defer l.contextLock.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled before creating browser context: %w", err)
	}
	execCtx := l.browserExecutorCtx(ctx)

	browserContextID, err := target.CreateBrowserContext().Do(execCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	targetID, err := target.CreateTarget("about:blank").
		WithBrowserContextID(browserContextID).
		Do(execCtx)
	if err != nil {
		l.disposeContext(browserContextID)
		return nil, fmt.Errorf("failed to create target: %w", err)
	}

	tabCtx, cancel := chromedp.NewContext(l.browserCtx, chromedp.WithTargetID(targetID))
	p := newPage(l, tabCtx, cancel, targetID, browserContextID)
	if err := p.setup(ctx); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("failed to set up page: %w", err)
	}
	l.wg.Add(1)
	p.onClose = l.wg.Done
	l.logger.Debug("Page opened.", zap.String("page_id", p.ID()), zap.String("browser_context_id", string(browserContextID)))
	return p, nil
}

func (l *Launcher) disposeContext(id cdp.BrowserContextID) {
	if l.browserCtx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), disposeTimeout)
	defer cancel()
	if err := target.DisposeBrowserContext(id).Do(l.browserExecutorCtx(ctx)); err != nil {
		l.logger.Debug("Failed best-effort dispose of browser context.", zap.String("browser_context_id", string(id)), zap.Error(err))
	}
}

// Close waits briefly for open pages, then terminates the browser.
func (l *Launcher) Close() error {
	l.logger.Info("Browser shutdown initiated. Waiting for open pages...")
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(disposeTimeout):
		l.logger.Warn("Pages still open at shutdown. Forcing browser termination.")
	}

	if l.browserCancel != nil {
		l.browserCancel()
	}
	if l.allocatorCancel != nil {
		l.allocatorCancel()
		<-l.allocatorCtx.Done()
	}
	return nil
}
