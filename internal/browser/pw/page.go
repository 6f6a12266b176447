package pw

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mapharness/api/schemas"
	"github.com/xkilldash9x/mapharness/internal/browser"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Page wraps one Playwright page. Pages from the Launcher own their browser
// context; popups share the opener's.
type Page struct {
	id       string
	launcher *Launcher
	logger   *zap.Logger

	bctx  playwright.BrowserContext
	page  playwright.Page
	owned bool

	hub      *browser.NetworkHub
	timeouts browser.Timeouts

	mu      sync.Mutex
	closed  bool
	onClose func()
}

var _ browser.Page = (*Page)(nil)

func newPage(l *Launcher, bctx playwright.BrowserContext, raw playwright.Page, owned bool) *Page {
	id := uuid.New().String()
	logger := l.logger.With(zap.String("page_id", id))
	p := &Page{
		id:       id,
		launcher: l,
		logger:   logger,
		bctx:     bctx,
		page:     raw,
		owned:    owned,
		hub:      browser.NewNetworkHub(logger),
		timeouts: browser.Timeouts{
			Element: l.networkCfg.ElementTimeout,
			Poll:    l.networkCfg.PollInterval,
		},
	}
	raw.OnResponse(p.publish)
	return p
}

func (p *Page) publish(resp playwright.Response) {
	req := resp.Request()
	headers := resp.Headers()
	mime := headers["content-type"]
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	p.hub.Publish(schemas.NetworkEvent{
		RequestID:    uuid.New().String(),
		URL:          resp.URL(),
		Method:       req.Method(),
		Status:       resp.Status(),
		StatusText:   resp.StatusText(),
		MimeType:     mime,
		ResourceType: req.ResourceType(),
		Timestamp:    time.Now(),
		Body: func(ctx context.Context) ([]byte, error) {
			body, err := await(ctx, resp.Body)
			if err != nil && ctx.Err() == nil {
				return nil, fmt.Errorf("%w: %v", schemas.ErrBodyUnavailable, err)
			}
			return body, err
		},
	})
}

// await runs a blocking driver call and gives up when ctx ends. The call
// itself keeps running until the driver answers.
func await[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()
	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// timeoutMS converts the remaining ctx budget into a Playwright timeout,
// capped at fallback.
func timeoutMS(ctx context.Context, fallback time.Duration) *float64 {
	d := fallback
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < d {
			d = remaining
		}
	}
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return playwright.Float(float64(d.Milliseconds()))
}

func (p *Page) checkOpen() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.page.IsClosed() {
		return browser.ErrPageClosed
	}
	return nil
}

func (p *Page) ID() string { return p.id }

func (p *Page) navTimeout(ctx context.Context) *float64 {
	return timeoutMS(ctx, p.launcher.networkCfg.NavigationTimeout)
}

func (p *Page) Goto(ctx context.Context, url string) error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	p.logger.Debug("Navigating to URL.", zap.String("url", url))
	_, err := await(ctx, func() (playwright.Response, error) {
		return p.page.Goto(url, playwright.PageGotoOptions{
			Timeout:   p.navTimeout(ctx),
			WaitUntil: playwright.WaitUntilStateLoad,
		})
	})
	if err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

func (p *Page) Reload(ctx context.Context) error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	_, err := await(ctx, func() (playwright.Response, error) {
		return p.page.Reload(playwright.PageReloadOptions{Timeout: p.navTimeout(ctx)})
	})
	if err != nil {
		return fmt.Errorf("reload failed: %w", err)
	}
	return nil
}

func (p *Page) GoBack(ctx context.Context) error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	_, err := await(ctx, func() (playwright.Response, error) {
		return p.page.GoBack(playwright.PageGoBackOptions{Timeout: p.navTimeout(ctx)})
	})
	if err != nil {
		return fmt.Errorf("back navigation failed: %w", err)
	}
	return nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	if err := p.checkOpen(); err != nil {
		return "", err
	}
	return p.page.URL(), nil
}

func (p *Page) Locate(q browser.Query) *browser.Locator {
	return browser.NewLocator(&engine{page: p}, q, p.timeouts)
}

func (p *Page) Mouse() browser.Mouse            { return mouse{page: p} }
func (p *Page) Keyboard() browser.Keyboard      { return keyboard{page: p} }
func (p *Page) Network() browser.NetworkSource { return p.hub }

func (p *Page) ExpectPopup(ctx context.Context, trigger func(context.Context) error) (browser.Page, error) {
	if err := p.checkOpen(); err != nil {
		return nil, err
	}
	raw, err := p.page.ExpectPopup(func() error { return trigger(ctx) },
		playwright.PageExpectPopupOptions{Timeout: p.navTimeout(ctx)})
	if err != nil {
		if errors.Is(err, playwright.ErrTimeout) {
			return nil, fmt.Errorf("%w: %v", browser.ErrNoPopup, err)
		}
		return nil, err
	}
	popup := newPage(p.launcher, p.bctx, raw, false)
	p.logger.Debug("Popup attached.", zap.String("popup_id", popup.ID()))
	return popup, nil
}

func (p *Page) ExpectDownload(ctx context.Context, trigger func(context.Context) error) (browser.Download, error) {
	if err := p.checkOpen(); err != nil {
		return nil, err
	}
	raw, err := p.page.ExpectDownload(func() error { return trigger(ctx) },
		playwright.PageExpectDownloadOptions{Timeout: p.navTimeout(ctx)})
	if err != nil {
		if errors.Is(err, playwright.ErrTimeout) {
			return nil, fmt.Errorf("%w: %v", browser.ErrNoDownload, err)
		}
		return nil, err
	}
	d := &download{raw: raw}
	if _, err := d.Path(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

type download struct {
	raw playwright.Download
}

func (d *download) SuggestedFilename() string { return d.raw.SuggestedFilename() }

func (d *download) Path(ctx context.Context) (string, error) {
	path, err := await(ctx, d.raw.Path)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", browser.ErrNoDownload, d.raw.SuggestedFilename(), err)
	}
	return path, nil
}

func (p *Page) ClearCookies(ctx context.Context) error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	return p.bctx.ClearCookies()
}

const clearStorageScript = `() => { try { localStorage.clear(); } catch (e) {} try { sessionStorage.clear(); } catch (e) {} return true; }`

func (p *Page) ClearStorage(ctx context.Context) error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	_, err := await(ctx, func() (interface{}, error) { return p.page.Evaluate(clearStorageScript) })
	return err
}

const readStorageScript = `() => {
	const result = { origin: location.origin, localStorage: {}, sessionStorage: {} };
	try { Object.assign(result.localStorage, localStorage); } catch (e) {}
	try { Object.assign(result.sessionStorage, sessionStorage); } catch (e) {}
	return JSON.stringify(result);
}`

func (p *Page) StorageState(ctx context.Context) (schemas.StorageState, error) {
	if err := p.checkOpen(); err != nil {
		return schemas.StorageState{}, err
	}
	cookies, err := p.bctx.Cookies()
	if err != nil {
		return schemas.StorageState{}, fmt.Errorf("read cookies: %w", err)
	}
	res, err := await(ctx, func() (interface{}, error) { return p.page.Evaluate(readStorageScript) })
	if err != nil {
		return schemas.StorageState{}, fmt.Errorf("read web storage: %w", err)
	}
	raw, _ := res.(string)
	var js struct {
		Origin         string            `json:"origin"`
		LocalStorage   map[string]string `json:"localStorage"`
		SessionStorage map[string]string `json:"sessionStorage"`
	}
	if err := json.UnmarshalFromString(raw, &js); err != nil {
		return schemas.StorageState{}, fmt.Errorf("decode web storage: %w", err)
	}

	st := schemas.StorageState{
		Origin:         js.Origin,
		LocalStorage:   js.LocalStorage,
		SessionStorage: js.SessionStorage,
	}
	for _, c := range cookies {
		st.Cookies = append(st.Cookies, fromPlaywrightCookie(c))
	}
	return st, nil
}

func fromPlaywrightCookie(c playwright.Cookie) *schemas.Cookie {
	out := &schemas.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Expires:  c.Expires,
		HTTPOnly: c.HttpOnly,
		Secure:   c.Secure,
	}
	if c.SameSite != nil {
		out.SameSite = schemas.CookieSameSite(*c.SameSite)
	}
	return out
}

func toPlaywrightCookie(c *schemas.Cookie) playwright.OptionalCookie {
	out := playwright.OptionalCookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   playwright.String(c.Domain),
		Path:     playwright.String(c.Path),
		HttpOnly: playwright.Bool(c.HTTPOnly),
		Secure:   playwright.Bool(c.Secure),
	}
	if c.Path == "" {
		out.Path = playwright.String("/")
	}
	if c.Expires > 0 {
		out.Expires = playwright.Float(c.Expires)
	}
	if c.SameSite != "" {
		ss := playwright.SameSiteAttribute(c.SameSite)
		out.SameSite = &ss
	}
	return out
}

const restoreStorageScript = `(s) => {
	for (const [k, v] of Object.entries(s.local || {})) localStorage.setItem(k, v);
	for (const [k, v] of Object.entries(s.session || {})) sessionStorage.setItem(k, v);
	return true;
}`

func (p *Page) RestoreStorageState(ctx context.Context, st schemas.StorageState) error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	if len(st.Cookies) > 0 {
		cookies := make([]playwright.OptionalCookie, 0, len(st.Cookies))
		for _, c := range st.Cookies {
			cookies = append(cookies, toPlaywrightCookie(c))
		}
		if err := p.bctx.AddCookies(cookies); err != nil {
			return fmt.Errorf("restore cookies: %w", err)
		}
	}
	arg := map[string]map[string]string{"local": st.LocalStorage, "session": st.SessionStorage}
	if _, err := await(ctx, func() (interface{}, error) { return p.page.Evaluate(restoreStorageScript, arg) }); err != nil {
		return fmt.Errorf("restore web storage: %w", err)
	}
	return nil
}

// Close closes the page and, when owned, its browser context.
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
	var err error
	if p.owned {
		err = p.bctx.Close()
	} else {
		err = p.page.Close()
	}
	if err != nil {
		p.logger.Debug("Failed to close page cleanly.", zap.Error(err))
	}
	if onClose != nil {
		onClose()
	}
	return nil
}
