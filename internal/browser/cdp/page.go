package cdp

import (
	"context"
	"fmt"
	"sync"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mapharness/api/schemas"
	"github.com/xkilldash9x/mapharness/internal/browser"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Page is one tab. Pages opened by the Launcher own their browser context;
// popups share their opener's.
type Page struct {
	id       string
	launcher *Launcher
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	targetID         target.ID
	browserContextID cdp.BrowserContextID

	hub       *browser.NetworkHub
	responses *responseTracker
	downloads *downloadTracker
	timeouts  browser.Timeouts

	mu      sync.Mutex
	closed  bool
	onClose func()
}

var _ browser.Page = (*Page)(nil)

func newPage(l *Launcher, ctx context.Context, cancel context.CancelFunc, targetID target.ID, bcID cdp.BrowserContextID) *Page {
	id := uuid.New().String()
	logger := l.logger.With(zap.String("page_id", id))
	p := &Page{
		id:               id,
		launcher:         l,
		logger:           logger,
		ctx:              ctx,
		cancel:           cancel,
		targetID:         targetID,
		browserContextID: bcID,
		hub:              browser.NewNetworkHub(logger),
		timeouts: browser.Timeouts{
			Element: l.networkCfg.ElementTimeout,
			Poll:    l.networkCfg.PollInterval,
		},
	}
	p.responses = newResponseTracker(p)
	p.downloads = newDownloadTracker(cdp.FrameID(targetID), l.downloadDir)
	return p
}

// setup attaches to the target and starts listening. Network events are
// subscribed before the first navigation so nothing is missed.
func (p *Page) setup(ctx context.Context) error {
	chromedp.ListenTarget(p.ctx, p.responses.handle)
	if p.browserContextID != "" {
		chromedp.ListenBrowser(p.ctx, p.downloads.handle)
	}

	vp := p.launcher.browserCfg.Viewport
	tasks := chromedp.Tasks{
		network.Enable(),
		chromedp.EmulateViewport(int64(vp.Width), int64(vp.Height)),
	}
	if err := p.run(ctx, tasks); err != nil {
		return err
	}

	if p.browserContextID == "" {
		return nil
	}
	return cdpbrowser.SetDownloadBehavior(cdpbrowser.SetDownloadBehaviorBehaviorAllowAndName).
		WithBrowserContextID(p.browserContextID).
		WithDownloadPath(p.launcher.downloadDir).
		WithEventsEnabled(true).
		Do(p.launcher.browserExecutorCtx(ctx))
}

// run executes actions on the tab, bounded by both the caller's context and
// the tab's lifetime.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	if p.isClosed() {
		return browser.ErrPageClosed
	}
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if p.ctx.Err() != nil {
			return fmt.Errorf("%w: %v", browser.ErrPageClosed, err)
		}
	}
	return err
}

func (p *Page) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Page) ID() string { return p.id }

func (p *Page) navigate(ctx context.Context, what string, action chromedp.Action) error {
	navCtx, cancel := context.WithTimeout(ctx, p.launcher.networkCfg.NavigationTimeout)
	defer cancel()
	if err := p.run(navCtx, action, chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return fmt.Errorf("%s failed: %w", what, err)
	}
	return nil
}

func (p *Page) Goto(ctx context.Context, url string) error {
	p.logger.Debug("Navigating to URL.", zap.String("url", url))
	return p.navigate(ctx, "navigation to "+url, chromedp.Navigate(url))
}

func (p *Page) Reload(ctx context.Context) error {
	return p.navigate(ctx, "reload", chromedp.Reload())
}

func (p *Page) GoBack(ctx context.Context) error {
	return p.navigate(ctx, "back navigation", chromedp.NavigateBack())
}

func (p *Page) URL(ctx context.Context) (string, error) {
	var u string
	if err := p.run(ctx, chromedp.Location(&u)); err != nil {
		return "", err
	}
	return u, nil
}

func (p *Page) Locate(q browser.Query) *browser.Locator {
	return browser.NewLocator(&engine{page: p}, q, p.timeouts)
}

func (p *Page) Mouse() browser.Mouse            { return mouse{page: p} }
func (p *Page) Keyboard() browser.Keyboard      { return keyboard{page: p} }
func (p *Page) Network() browser.NetworkSource { return p.hub }

func (p *Page) ExpectPopup(ctx context.Context, trigger func(context.Context) error) (browser.Page, error) {
	waitCtx, cancelWait := context.WithCancel(p.ctx)
	defer cancelWait()
	ch := chromedp.WaitNewTarget(waitCtx, func(info *target.Info) bool {
		return info.OpenerID == p.targetID && info.Type == "page"
	})

	if err := trigger(ctx); err != nil {
		return nil, err
	}

	timer := time.NewTimer(p.launcher.networkCfg.NavigationTimeout)
	defer timer.Stop()

	var id target.ID
	select {
	case id = <-ch:
	case <-timer.C:
		return nil, browser.ErrNoPopup
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	popupCtx, cancel := chromedp.NewContext(p.ctx, chromedp.WithTargetID(id))
	popup := newPage(p.launcher, popupCtx, cancel, id, "")
	if err := popup.setup(ctx); err != nil {
		_ = popup.Close()
		return nil, fmt.Errorf("attach popup: %w", err)
	}
	p.logger.Debug("Popup attached.", zap.String("popup_id", popup.ID()))
	return popup, nil
}

func (p *Page) ExpectDownload(ctx context.Context, trigger func(context.Context) error) (browser.Download, error) {
	if p.browserContextID == "" {
		return nil, fmt.Errorf("%w: downloads are only tracked on top-level pages", browser.ErrNoDownload)
	}
	waiter := p.downloads.expect()
	defer p.downloads.stopExpecting(waiter)

	if err := trigger(ctx); err != nil {
		return nil, err
	}

	timeout := p.launcher.networkCfg.NavigationTimeout
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d *download
	select {
	case d = <-waiter:
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w within %s", browser.ErrNoDownload, timeout)
	}
	if _, err := d.Path(waitCtx); err != nil {
		return nil, err
	}
	return d, nil
}

func (p *Page) ClearCookies(ctx context.Context) error {
	if p.browserContextID != "" {
		return p.run(ctx, storage.ClearCookies().WithBrowserContextID(p.browserContextID))
	}
	return p.run(ctx, network.ClearBrowserCookies())
}

const clearStorageScript = `(function() { try { localStorage.clear(); } catch (e) {} try { sessionStorage.clear(); } catch (e) {} return true; })()`

func (p *Page) ClearStorage(ctx context.Context) error {
	var ok bool
	return p.run(ctx, chromedp.Evaluate(clearStorageScript, &ok))
}

const readStorageScript = `(function() {
	const result = { origin: location.origin, localStorage: {}, sessionStorage: {} };
	try { Object.assign(result.localStorage, localStorage); } catch (e) {}
	try { Object.assign(result.sessionStorage, sessionStorage); } catch (e) {}
	return result;
})()`

func (p *Page) StorageState(ctx context.Context) (schemas.StorageState, error) {
	var cookies []*network.Cookie
	err := p.run(ctx, chromedp.ActionFunc(func(c context.Context) (err error) {
		if p.browserContextID != "" {
			cookies, err = storage.GetCookies().WithBrowserContextID(p.browserContextID).Do(c)
		} else {
			cookies, err = network.GetCookies().Do(c)
		}
		return err
	}))
	if err != nil {
		return schemas.StorageState{}, fmt.Errorf("read cookies: %w", err)
	}

	var raw []byte
	if err := p.run(ctx, chromedp.Evaluate(readStorageScript, &raw)); err != nil {
		return schemas.StorageState{}, fmt.Errorf("read web storage: %w", err)
	}
	var js struct {
		Origin         string            `json:"origin"`
		LocalStorage   map[string]string `json:"localStorage"`
		SessionStorage map[string]string `json:"sessionStorage"`
	}
	if err := json.Unmarshal(raw, &js); err != nil {
		return schemas.StorageState{}, fmt.Errorf("decode web storage: %w", err)
	}

	st := schemas.StorageState{
		Origin:         js.Origin,
		LocalStorage:   js.LocalStorage,
		SessionStorage: js.SessionStorage,
	}
	for _, c := range cookies {
		st.Cookies = append(st.Cookies, &schemas.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: schemas.CookieSameSite(c.SameSite),
		})
	}
	return st, nil
}

func (p *Page) RestoreStorageState(ctx context.Context, st schemas.StorageState) error {
	params := make([]*network.CookieParam, 0, len(st.Cookies))
	for _, c := range st.Cookies {
		cp := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		if c.SameSite != "" {
			cp.SameSite = network.CookieSameSite(c.SameSite)
		}
		if c.Expires > 0 {
			exp := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
			cp.Expires = &exp
		}
		params = append(params, cp)
	}
	if len(params) > 0 {
		if err := p.run(ctx, network.SetCookies(params)); err != nil {
			return fmt.Errorf("restore cookies: %w", err)
		}
	}

	payload, err := json.Marshal(map[string]map[string]string{
		"local":   st.LocalStorage,
		"session": st.SessionStorage,
	})
	if err != nil {
		return err
	}
	script := fmt.Sprintf(`(function(s) {
		for (const [k, v] of Object.entries(s.local || {})) localStorage.setItem(k, v);
		for (const [k, v] of Object.entries(s.session || {})) sessionStorage.setItem(k, v);
		return true;
	})(%s)`, payload)
	var ok bool
	if err := p.run(ctx, chromedp.Evaluate(script, &ok)); err != nil {
		return fmt.Errorf("restore web storage: %w", err)
	}
	return nil
}

// Close closes the tab and disposes the browser context it owns.
func (p *Page) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	onClose := p.onClose
	p.mu.Unlock()

	p.hub.Close()
	p.responses.close()

	if err := chromedp.Cancel(p.ctx); err != nil && p.ctx.Err() == nil {
		p.logger.Debug("Failed to close target.", zap.Error(err))
	}
	p.cancel()

	if p.browserContextID != "" {
		p.launcher.disposeContext(p.browserContextID)
	}
	if onClose != nil {
		onClose()
	}
	p.logger.Debug("Page closed.")
	return nil
}
