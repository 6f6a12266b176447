package browsertest

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/mapharness/api/schemas"
	"github.com/xkilldash9x/mapharness/internal/browser"
)

// Action kinds recorded by the fake.
const (
	ActionClick        = "click"
	ActionFill         = "fill"
	ActionHover        = "hover"
	ActionPress        = "press"
	ActionKey          = "key"
	ActionType         = "type"
	ActionGoto         = "goto"
	ActionReload       = "reload"
	ActionBack         = "back"
	ActionClearCookies = "clear-cookies"
	ActionClearStorage = "clear-storage"
	ActionClose        = "close"
)

// Action is one recorded interaction.
type Action struct {
	Kind  string
	Query string
	Point schemas.Point
	Value string
	Force bool
}

// TestTimeouts keeps implicit waits short so negative tests finish fast.
var TestTimeouts = browser.Timeouts{Element: 300 * time.Millisecond, Poll: 5 * time.Millisecond}

// Page is an in-memory browser.Page.
type Page struct {
	id       string
	mu       sync.Mutex
	document *Element
	timeouts browser.Timeouts
	hub      *browser.NetworkHub

	url     string
	history []string
	closed  bool

	actions     []Action
	mouseEvents []schemas.MouseEventData

	cookies        []*schemas.Cookie
	localStorage   map[string]string
	sessionStorage map[string]string

	popups    []*Page
	downloads []*Download

	// Hooks run without the page lock held, after the action is recorded.
	OnNavigate func(url string)
	OnMouse    func(ev schemas.MouseEventData)
	OnKey      func(key string)
}

var _ browser.Page = (*Page)(nil)

// NewPage returns an empty page whose hub logs to the test.
func NewPage(tb testing.TB) *Page {
	p := &Page{
		id:             uuid.New().String(),
		timeouts:       TestTimeouts,
		hub:            browser.NewNetworkHub(zaptest.NewLogger(tb)),
		url:            "about:blank",
		localStorage:   map[string]string{},
		sessionStorage: map[string]string{},
	}
	p.document = &Element{Tag: "html", page: p}
	return p
}

// Add appends el to the document root.
func (p *Page) Add(el *Element) *Element { return p.document.Append(el) }

// Reset drops every element, keeping hooks and recordings.
func (p *Page) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.document.children = nil
}

// Emit publishes a response as if the browser had observed it.
func (p *Page) Emit(ev schemas.NetworkEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if ev.RequestID == "" {
		ev.RequestID = uuid.New().String()
	}
	p.hub.Publish(ev)
}

// Hub exposes the page's network hub.
func (p *Page) Hub() *browser.NetworkHub { return p.hub }

// SetURL changes the current URL without recording a navigation.
func (p *Page) SetURL(u string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = u
}

// QueuePopup makes the next ExpectPopup return popup.
func (p *Page) QueuePopup(popup *Page) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.popups = append(p.popups, popup)
}

// QueueDownload makes the next ExpectDownload return d.
func (p *Page) QueueDownload(d *Download) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.downloads = append(p.downloads, d)
}

// SetLocalStorage seeds a localStorage entry.
func (p *Page) SetLocalStorage(key, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.localStorage[key] = value
}

// SetCookies seeds cookies.
func (p *Page) SetCookies(cookies ...*schemas.Cookie) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cookies = append(p.cookies, cookies...)
}

// Actions returns a copy of the recorded interactions.
func (p *Page) Actions() []Action {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Action(nil), p.actions...)
}

// ActionsOf filters the recorded interactions by kind.
func (p *Page) ActionsOf(kind string) []Action {
	var out []Action
	for _, a := range p.Actions() {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

// MouseEvents returns a copy of the raw pointer events.
func (p *Page) MouseEvents() []schemas.MouseEventData {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]schemas.MouseEventData(nil), p.mouseEvents...)
}

// Closed reports whether Close was called.
func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Page) record(a Action) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return browser.ErrPageClosed
	}
	p.actions = append(p.actions, a)
	return nil
}

// -- browser.Page --

func (p *Page) ID() string { return p.id }

func (p *Page) Goto(ctx context.Context, u string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.record(Action{Kind: ActionGoto, Value: u}); err != nil {
		return err
	}
	p.mu.Lock()
	p.history = append(p.history, p.url)
	p.url = u
	hook := p.OnNavigate
	p.mu.Unlock()
	if hook != nil {
		hook(u)
	}
	return nil
}

func (p *Page) Reload(ctx context.Context) error {
	if err := p.record(Action{Kind: ActionReload}); err != nil {
		return err
	}
	p.mu.Lock()
	u, hook := p.url, p.OnNavigate
	p.mu.Unlock()
	if hook != nil {
		hook(u)
	}
	return ctx.Err()
}

func (p *Page) GoBack(ctx context.Context) error {
	if err := p.record(Action{Kind: ActionBack}); err != nil {
		return err
	}
	p.mu.Lock()
	if n := len(p.history); n > 0 {
		p.url = p.history[n-1]
		p.history = p.history[:n-1]
	}
	u, hook := p.url, p.OnNavigate
	p.mu.Unlock()
	if hook != nil {
		hook(u)
	}
	return ctx.Err()
}

func (p *Page) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return "", browser.ErrPageClosed
	}
	return p.url, ctx.Err()
}

func (p *Page) Locate(q browser.Query) *browser.Locator {
	return browser.NewLocator(&engine{page: p}, q, p.timeouts)
}

func (p *Page) Mouse() browser.Mouse          { return mouse{p} }
func (p *Page) Keyboard() browser.Keyboard    { return keyboard{p} }
func (p *Page) Network() browser.NetworkSource { return p.hub }

func (p *Page) ExpectPopup(ctx context.Context, trigger func(context.Context) error) (browser.Page, error) {
	if err := trigger(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.popups) == 0 {
		return nil, browser.ErrNoPopup
	}
	popup := p.popups[0]
	p.popups = p.popups[1:]
	return popup, nil
}

func (p *Page) ExpectDownload(ctx context.Context, trigger func(context.Context) error) (browser.Download, error) {
	if err := trigger(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.downloads) == 0 {
		return nil, browser.ErrNoDownload
	}
	d := p.downloads[0]
	p.downloads = p.downloads[1:]
	return d, nil
}

func (p *Page) ClearCookies(ctx context.Context) error {
	if err := p.record(Action{Kind: ActionClearCookies}); err != nil {
		return err
	}
	p.mu.Lock()
	p.cookies = nil
	p.mu.Unlock()
	return ctx.Err()
}

func (p *Page) ClearStorage(ctx context.Context) error {
	if err := p.record(Action{Kind: ActionClearStorage}); err != nil {
		return err
	}
	p.mu.Lock()
	p.localStorage = map[string]string{}
	p.sessionStorage = map[string]string{}
	p.mu.Unlock()
	return ctx.Err()
}

func (p *Page) StorageState(ctx context.Context) (schemas.StorageState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := schemas.StorageState{
		Cookies:        append([]*schemas.Cookie(nil), p.cookies...),
		LocalStorage:   copyMap(p.localStorage),
		SessionStorage: copyMap(p.sessionStorage),
	}
	if u, err := url.Parse(p.url); err == nil && u.Host != "" {
		st.Origin = u.Scheme + "://" + u.Host
	}
	return st, ctx.Err()
}

func (p *Page) RestoreStorageState(ctx context.Context, st schemas.StorageState) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cookies = append(p.cookies, st.Cookies...)
	for k, v := range st.LocalStorage {
		p.localStorage[k] = v
	}
	for k, v := range st.SessionStorage {
		p.sessionStorage[k] = v
	}
	return ctx.Err()
}

func (p *Page) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.actions = append(p.actions, Action{Kind: ActionClose})
	p.mu.Unlock()
	p.hub.Close()
	return nil
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// -- element engine --

type engine struct{ page *Page }

// resolve must be called with the page lock held.
func (e *engine) resolve(q browser.Query) []*Element {
	root := e.page.document
	if q.Scope != nil {
		scopes := e.resolve(*q.Scope)
		if q.Scope.Index >= len(scopes) {
			return nil
		}
		root = scopes[q.Scope.Index]
	}

	if q.Strategy == browser.StrategyCSS && q.Selector == browser.ParentSelector {
		if root.parent == nil {
			return nil
		}
		return []*Element{root.parent}
	}

	var out []*Element
	for _, el := range root.descendants(nil) {
		if !el.matches(q) {
			continue
		}
		if !q.HasText.IsZero() && !q.HasText.Matches(el.textContent()) {
			continue
		}
		out = append(out, el)
	}
	if q.Innermost {
		out = innermost(out)
	}
	return out
}

// innermost keeps the elements that are not an ancestor of another element in els.
func innermost(els []*Element) []*Element {
	var out []*Element
	for _, el := range els {
		outer := false
		for _, other := range els {
			if other != el && other.within(el) {
				outer = true
				break
			}
		}
		if !outer {
			out = append(out, el)
		}
	}
	return out
}

func (e *engine) pick(q browser.Query) *Element {
	matches := e.resolve(q)
	if q.Index < 0 || q.Index >= len(matches) {
		return nil
	}
	return matches[q.Index]
}

func (e *engine) Count(ctx context.Context, q browser.Query) (int, error) {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	return len(e.resolve(q)), ctx.Err()
}

func (e *engine) State(ctx context.Context, q browser.Query) (browser.ElementState, error) {
	if err := ctx.Err(); err != nil {
		return browser.ElementState{}, err
	}
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	if e.page.closed {
		return browser.ElementState{}, browser.ErrPageClosed
	}
	el := e.pick(q)
	if el == nil {
		return browser.ElementState{}, nil
	}
	return browser.ElementState{
		Found:   true,
		Visible: el.visible(),
		Enabled: !el.Disabled,
		Text:    el.textContent(),
		Box:     el.Box,
	}, nil
}

func (e *engine) Attribute(ctx context.Context, q browser.Query, name string) (string, bool, error) {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	el := e.pick(q)
	if el == nil {
		return "", false, fmt.Errorf("%w: %s", browser.ErrElementNotFound, q)
	}
	v, ok := el.Attrs[name]
	return v, ok, ctx.Err()
}

func (e *engine) target(q browser.Query) (*Element, error) {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	if e.page.closed {
		return nil, browser.ErrPageClosed
	}
	el := e.pick(q)
	if el == nil {
		return nil, fmt.Errorf("%w: %s", browser.ErrElementNotFound, q)
	}
	return el, nil
}

func (e *engine) Click(ctx context.Context, q browser.Query, opts browser.ClickOptions) error {
	el, err := e.target(q)
	if err != nil {
		return err
	}
	at := el.Box.Center()
	if opts.Position != nil {
		at = schemas.Point{X: el.Box.X + opts.Position.X, Y: el.Box.Y + opts.Position.Y}
	}
	if err := e.page.record(Action{Kind: ActionClick, Query: q.String(), Point: at, Force: opts.Force}); err != nil {
		return err
	}
	if el.OnClick != nil {
		return el.OnClick(ctx, at)
	}
	return ctx.Err()
}

func (e *engine) Fill(ctx context.Context, q browser.Query, value string) error {
	el, err := e.target(q)
	if err != nil {
		return err
	}
	if err := e.page.record(Action{Kind: ActionFill, Query: q.String(), Value: value}); err != nil {
		return err
	}
	e.page.mu.Lock()
	el.Value = value
	e.page.mu.Unlock()
	if el.OnFill != nil {
		el.OnFill(value)
	}
	return ctx.Err()
}

func (e *engine) Hover(ctx context.Context, q browser.Query) error {
	el, err := e.target(q)
	if err != nil {
		return err
	}
	if err := e.page.record(Action{Kind: ActionHover, Query: q.String(), Point: el.Box.Center()}); err != nil {
		return err
	}
	if el.OnHover != nil {
		el.OnHover()
	}
	return ctx.Err()
}

func (e *engine) Press(ctx context.Context, q browser.Query, key string) error {
	el, err := e.target(q)
	if err != nil {
		return err
	}
	if err := e.page.record(Action{Kind: ActionPress, Query: q.String(), Value: key}); err != nil {
		return err
	}
	if el.OnPress != nil {
		el.OnPress(key)
	}
	return ctx.Err()
}

// -- input devices --

type mouse struct{ page *Page }

func (m mouse) Dispatch(ctx context.Context, ev schemas.MouseEventData) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.page.mu.Lock()
	if m.page.closed {
		m.page.mu.Unlock()
		return browser.ErrPageClosed
	}
	m.page.mouseEvents = append(m.page.mouseEvents, ev)
	hook := m.page.OnMouse
	m.page.mu.Unlock()
	if hook != nil {
		hook(ev)
	}
	return nil
}

type keyboard struct{ page *Page }

func (k keyboard) Press(ctx context.Context, key string) error {
	if err := k.page.record(Action{Kind: ActionKey, Value: key}); err != nil {
		return err
	}
	k.page.mu.Lock()
	hook := k.page.OnKey
	k.page.mu.Unlock()
	if hook != nil {
		hook(key)
	}
	return ctx.Err()
}

func (k keyboard) Type(ctx context.Context, text string) error {
	if err := k.page.record(Action{Kind: ActionType, Value: text}); err != nil {
		return err
	}
	return ctx.Err()
}

// Download is a canned browser.Download.
type Download struct {
	Name     string
	FilePath string
	Err      error
}

func (d *Download) SuggestedFilename() string { return d.Name }

func (d *Download) Path(ctx context.Context) (string, error) {
	if d.Err != nil {
		return "", d.Err
	}
	return d.FilePath, ctx.Err()
}

// Response builds a bodiless network event.
func Response(rawURL, method string, status int) schemas.NetworkEvent {
	return schemas.NetworkEvent{URL: rawURL, Method: method, Status: status}
}

// JSONResponse builds a network event whose body is payload.
func JSONResponse(rawURL, method string, status int, payload string) schemas.NetworkEvent {
	ev := Response(rawURL, method, status)
	ev.MimeType = "application/json"
	ev.Body = func(context.Context) ([]byte, error) { return []byte(payload), nil }
	return ev
}
