package cdp

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mapharness/api/schemas"
	"github.com/xkilldash9x/mapharness/internal/browser"
)

// resolverJS evaluates a browser.Query inside the page. It takes the query,
// an operation name and an optional argument.
//
//go:embed resolver.js
var resolverJS string

const inputTimeout = 10 * time.Second

type resolved struct {
	Found   bool         `json:"found"`
	Visible bool         `json:"visible"`
	Enabled bool         `json:"enabled"`
	Text    string       `json:"text"`
	Box     schemas.Rect `json:"box"`
	Has     bool         `json:"has"`
	Value   string       `json:"value"`
}

// engine resolves queries with the embedded resolver on every call.
type engine struct {
	page *Page
}

var _ browser.ElementEngine = (*engine)(nil)

func (e *engine) eval(ctx context.Context, q browser.Query, op, arg string, out interface{}) error {
	qj, err := json.Marshal(q)
	if err != nil {
		return err
	}
	opj, _ := json.Marshal(op)
	argj, _ := json.Marshal(arg)
	script := fmt.Sprintf("%s(%s, %s, %s)", strings.TrimSpace(resolverJS), qj, opj, argj)

	var raw []byte
	if err := e.page.run(ctx, chromedp.Evaluate(script, &raw)); err != nil {
		return fmt.Errorf("resolve %s: %w", q, err)
	}
	return json.Unmarshal(raw, out)
}

func (e *engine) resolve(ctx context.Context, q browser.Query, op string) (resolved, error) {
	var r resolved
	if err := e.eval(ctx, q, op, "", &r); err != nil {
		return r, err
	}
	if !r.Found {
		return r, fmt.Errorf("%w: %s", browser.ErrElementNotFound, q)
	}
	return r, nil
}

func (e *engine) Count(ctx context.Context, q browser.Query) (int, error) {
	var n int
	err := e.eval(ctx, q, "count", "", &n)
	return n, err
}

func (e *engine) State(ctx context.Context, q browser.Query) (browser.ElementState, error) {
	var r resolved
	if err := e.eval(ctx, q, "", "", &r); err != nil {
		return browser.ElementState{}, err
	}
	return browser.ElementState{
		Found:   r.Found,
		Visible: r.Visible,
		Enabled: r.Enabled,
		Text:    r.Text,
		Box:     r.Box,
	}, nil
}

func (e *engine) Attribute(ctx context.Context, q browser.Query, name string) (string, bool, error) {
	var r resolved
	if err := e.eval(ctx, q, "attr", name, &r); err != nil {
		return "", false, err
	}
	if !r.Found {
		return "", false, fmt.Errorf("%w: %s", browser.ErrElementNotFound, q)
	}
	return r.Value, r.Has, nil
}

func (e *engine) Click(ctx context.Context, q browser.Query, opts browser.ClickOptions) error {
	r, err := e.resolve(ctx, q, "scroll")
	if err != nil {
		return err
	}
	target := r.Box.Center()
	if opts.Position != nil {
		target = schemas.Point{X: r.Box.X + opts.Position.X, Y: r.Box.Y + opts.Position.Y}
	}
	return browser.ClickAt(ctx, e.page.Mouse(), target)
}

func (e *engine) Fill(ctx context.Context, q browser.Query, value string) error {
	if _, err := e.resolve(ctx, q, "clear"); err != nil {
		return err
	}
	if value == "" {
		return nil
	}
	return e.page.Keyboard().Type(ctx, value)
}

func (e *engine) Hover(ctx context.Context, q browser.Query) error {
	r, err := e.resolve(ctx, q, "scroll")
	if err != nil {
		return err
	}
	return browser.MoveTo(ctx, e.page.Mouse(), r.Box.Center())
}

func (e *engine) Press(ctx context.Context, q browser.Query, key string) error {
	if _, err := e.resolve(ctx, q, "focus"); err != nil {
		return err
	}
	return e.page.Keyboard().Press(ctx, key)
}

// mouse dispatches raw CDP input events.
type mouse struct {
	page *Page
}

func (m mouse) Dispatch(ctx context.Context, ev schemas.MouseEventData) error {
	p := input.DispatchMouseEvent(input.MouseType(ev.Type), ev.X, ev.Y).
		WithButton(input.MouseButton(ev.Button)).
		WithButtons(ev.Buttons).
		WithClickCount(int64(ev.ClickCount))
	if ev.Type == schemas.MouseWheel {
		p = p.WithDeltaX(ev.DeltaX).WithDeltaY(ev.DeltaY)
	}

	opCtx, cancel := context.WithTimeout(ctx, inputTimeout)
	defer cancel()
	err := m.page.run(opCtx, p)
	if err != nil && opCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		m.page.logger.Debug("Mouse event timed out.", zap.String("type", string(ev.Type)), zap.Duration("timeout", inputTimeout))
		return fmt.Errorf("mouse %s timed out after %v: %w", ev.Type, inputTimeout, err)
	}
	return err
}

var namedKeys = map[string]string{
	"Enter":      kb.Enter,
	"Tab":        kb.Tab,
	"Escape":     kb.Escape,
	"Backspace":  kb.Backspace,
	"Delete":     kb.Delete,
	"ArrowUp":    kb.ArrowUp,
	"ArrowDown":  kb.ArrowDown,
	"ArrowLeft":  kb.ArrowLeft,
	"ArrowRight": kb.ArrowRight,
	"Home":       kb.Home,
	"End":        kb.End,
}

type keyboard struct {
	page *Page
}

func (k keyboard) Press(ctx context.Context, key string) error {
	keys, ok := namedKeys[key]
	if !ok {
		if len([]rune(key)) != 1 {
			return fmt.Errorf("unsupported key %q", key)
		}
		keys = key
	}
	opCtx, cancel := context.WithTimeout(ctx, inputTimeout)
	defer cancel()
	return k.page.run(opCtx, chromedp.KeyEvent(keys))
}

func (k keyboard) Type(ctx context.Context, text string) error {
	opCtx, cancel := context.WithTimeout(ctx, inputTimeout)
	defer cancel()
	return k.page.run(opCtx, input.InsertText(text))
}
