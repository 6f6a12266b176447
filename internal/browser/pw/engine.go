package pw

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/xkilldash9x/mapharness/api/schemas"
	"github.com/xkilldash9x/mapharness/internal/browser"
)

// evalTimeout bounds a single in-page evaluation on an element already counted.
const evalTimeout = time.Second

const stateScript = `(el) => {
	const r = el.getBoundingClientRect();
	const s = window.getComputedStyle(el);
	return JSON.stringify({
		found: true,
		visible: el.isConnected && s.visibility !== 'hidden' && s.display !== 'none' && r.width > 0 && r.height > 0,
		enabled: !el.disabled && el.getAttribute('aria-disabled') !== 'true' && !el.closest('fieldset[disabled]'),
		text: (el.textContent || '').replace(/\s+/g, ' ').trim(),
		box: { x: r.x, y: r.y, width: r.width, height: r.height },
	});
}`

const attrScript = `(el, name) => JSON.stringify({ found: true, has: el.hasAttribute(name), value: el.getAttribute(name) || '' })`

type resolved struct {
	Found   bool         `json:"found"`
	Visible bool         `json:"visible"`
	Enabled bool         `json:"enabled"`
	Text    string       `json:"text"`
	Box     schemas.Rect `json:"box"`
	Has     bool         `json:"has"`
	Value   string       `json:"value"`
}

// engine translates queries into Playwright locators on every call.
type engine struct {
	page *Page
}

var _ browser.ElementEngine = (*engine)(nil)

// textArg converts a TextMatch into the string-or-regexp argument Playwright
// accepts, plus its exact flag.
func textArg(m browser.TextMatch) (interface{}, *bool, error) {
	if m.Pattern != "" {
		re, err := m.Regexp()
		if err != nil {
			return nil, nil, err
		}
		return re, nil, nil
	}
	return m.Value, playwright.Bool(m.Exact), nil
}

// hasTextArg is textArg for filters, which have no exact flag.
func hasTextArg(m browser.TextMatch) (interface{}, error) {
	if m.Exact && m.Pattern == "" {
		return regexp.Compile("^" + regexp.QuoteMeta(browser.NormalizeText(m.Value)) + "$")
	}
	v, _, err := textArg(m)
	return v, err
}

func (e *engine) locator(q browser.Query) (playwright.Locator, error) {
	loc, err := e.candidates(q)
	if err != nil {
		return nil, err
	}
	return loc.Nth(q.Index), nil
}

// candidates is every element q matches, before Index is applied.
func (e *engine) candidates(q browser.Query) (playwright.Locator, error) {
	root := e.page.page.Locator(":root")
	if q.Scope != nil {
		scope, err := e.locator(*q.Scope)
		if err != nil {
			return nil, err
		}
		root = scope
	}
	loc, err := e.match(root, q)
	if err != nil || !q.Innermost {
		return loc, err
	}

	// HasNot is evaluated against each candidate's descendants, so the same
	// query relative to :scope drops every candidate that contains another.
	nested := q
	nested.Scope, nested.Index, nested.Innermost = nil, 0, false
	inner, err := e.match(e.page.page.Locator(":scope"), nested)
	if err != nil {
		return nil, err
	}
	return loc.Filter(playwright.LocatorFilterOptions{HasNot: inner}), nil
}

// match applies q's strategy and text filter below root.
func (e *engine) match(root playwright.Locator, q browser.Query) (playwright.Locator, error) {
	var loc playwright.Locator
	switch q.Strategy {
	case browser.StrategyCSS:
		if q.Selector == browser.ParentSelector {
			loc = root.Locator("xpath=..")
		} else {
			loc = root.Locator(q.Selector)
		}
	case browser.StrategyRole:
		opts := playwright.LocatorGetByRoleOptions{}
		if !q.Match.IsZero() {
			name, exact, err := textArg(q.Match)
			if err != nil {
				return nil, err
			}
			opts.Name = name
			opts.Exact = exact
		}
		loc = root.GetByRole(playwright.AriaRole(q.Role), opts)
	case browser.StrategyText:
		v, exact, err := textArg(q.Match)
		if err != nil {
			return nil, err
		}
		loc = root.GetByText(v, playwright.LocatorGetByTextOptions{Exact: exact})
	case browser.StrategyPlaceholder:
		v, exact, err := textArg(q.Match)
		if err != nil {
			return nil, err
		}
		loc = root.GetByPlaceholder(v, playwright.LocatorGetByPlaceholderOptions{Exact: exact})
	case browser.StrategyLabel:
		v, exact, err := textArg(q.Match)
		if err != nil {
			return nil, err
		}
		loc = root.GetByLabel(v, playwright.LocatorGetByLabelOptions{Exact: exact})
	default:
		return nil, fmt.Errorf("unsupported query strategy %q", q.Strategy)
	}

	if !q.HasText.IsZero() {
		v, err := hasTextArg(q.HasText)
		if err != nil {
			return nil, err
		}
		loc = loc.Filter(playwright.LocatorFilterOptions{HasText: v})
	}
	return loc, nil
}

func (e *engine) eval(ctx context.Context, q browser.Query, script string, arg interface{}) (resolved, error) {
	var r resolved
	if err := e.page.checkOpen(); err != nil {
		return r, err
	}
	loc, err := e.locator(q)
	if err != nil {
		return r, err
	}
	n, err := await(ctx, loc.Count)
	if err != nil || n == 0 {
		return r, err
	}
	res, err := await(ctx, func() (interface{}, error) {
		return loc.Evaluate(script, arg, playwright.LocatorEvaluateOptions{Timeout: timeoutMS(ctx, evalTimeout)})
	})
	if err != nil {
		// The element may have detached between the count and the evaluation.
		if n, cerr := loc.Count(); cerr == nil && n == 0 {
			return resolved{}, nil
		}
		return r, err
	}
	raw, _ := res.(string)
	if err := json.UnmarshalFromString(raw, &r); err != nil {
		return r, fmt.Errorf("decode element state: %w", err)
	}
	return r, nil
}

func (e *engine) Count(ctx context.Context, q browser.Query) (int, error) {
	if err := e.page.checkOpen(); err != nil {
		return 0, err
	}
	loc, err := e.candidates(q)
	if err != nil {
		return 0, err
	}
	return await(ctx, loc.Count)
}

func (e *engine) State(ctx context.Context, q browser.Query) (browser.ElementState, error) {
	r, err := e.eval(ctx, q, stateScript, nil)
	if err != nil {
		return browser.ElementState{}, err
	}
	return browser.ElementState{Found: r.Found, Visible: r.Visible, Enabled: r.Enabled, Text: r.Text, Box: r.Box}, nil
}

func (e *engine) Attribute(ctx context.Context, q browser.Query, name string) (string, bool, error) {
	r, err := e.eval(ctx, q, attrScript, name)
	if err != nil {
		return "", false, err
	}
	if !r.Found {
		return "", false, fmt.Errorf("%w: %s", browser.ErrElementNotFound, q)
	}
	return r.Value, r.Has, nil
}

// box scrolls the element into view and returns its fresh bounding box.
func (e *engine) box(ctx context.Context, q browser.Query) (schemas.Rect, error) {
	loc, err := e.locator(q)
	if err != nil {
		return schemas.Rect{}, err
	}
	_ = loc.ScrollIntoViewIfNeeded(playwright.LocatorScrollIntoViewIfNeededOptions{Timeout: timeoutMS(ctx, evalTimeout)})
	r, err := e.eval(ctx, q, stateScript, nil)
	if err != nil {
		return schemas.Rect{}, err
	}
	if !r.Found {
		return schemas.Rect{}, fmt.Errorf("%w: %s", browser.ErrElementNotFound, q)
	}
	return r.Box, nil
}

func (e *engine) Click(ctx context.Context, q browser.Query, opts browser.ClickOptions) error {
	box, err := e.box(ctx, q)
	if err != nil {
		return err
	}
	target := box.Center()
	if opts.Position != nil {
		target = schemas.Point{X: box.X + opts.Position.X, Y: box.Y + opts.Position.Y}
	}
	return browser.ClickAt(ctx, e.page.Mouse(), target)
}

func (e *engine) Fill(ctx context.Context, q browser.Query, value string) error {
	loc, err := e.locator(q)
	if err != nil {
		return err
	}
	_, err = await(ctx, func() (struct{}, error) {
		return struct{}{}, loc.Fill(value, playwright.LocatorFillOptions{Timeout: timeoutMS(ctx, e.page.timeouts.Element)})
	})
	return err
}

func (e *engine) Hover(ctx context.Context, q browser.Query) error {
	box, err := e.box(ctx, q)
	if err != nil {
		return err
	}
	return browser.MoveTo(ctx, e.page.Mouse(), box.Center())
}

func (e *engine) Press(ctx context.Context, q browser.Query, key string) error {
	loc, err := e.locator(q)
	if err != nil {
		return err
	}
	_, err = await(ctx, func() (struct{}, error) {
		return struct{}{}, loc.Press(key, playwright.LocatorPressOptions{Timeout: timeoutMS(ctx, e.page.timeouts.Element)})
	})
	return err
}

func mouseButton(b schemas.MouseButton) *playwright.MouseButton {
	switch b {
	case schemas.ButtonLeft:
		return playwright.MouseButtonLeft
	case schemas.ButtonRight:
		return playwright.MouseButtonRight
	case schemas.ButtonMiddle:
		return playwright.MouseButtonMiddle
	}
	return nil
}

type mouse struct {
	page *Page
}

func (m mouse) Dispatch(ctx context.Context, ev schemas.MouseEventData) error {
	if err := m.page.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	pm := m.page.page.Mouse()
	switch ev.Type {
	case schemas.MouseMove:
		return pm.Move(ev.X, ev.Y)
	case schemas.MousePress:
		if err := pm.Move(ev.X, ev.Y); err != nil {
			return err
		}
		return pm.Down(playwright.MouseDownOptions{Button: mouseButton(ev.Button), ClickCount: playwright.Int(ev.ClickCount)})
	case schemas.MouseRelease:
		return pm.Up(playwright.MouseUpOptions{Button: mouseButton(ev.Button), ClickCount: playwright.Int(ev.ClickCount)})
	case schemas.MouseWheel:
		if err := pm.Move(ev.X, ev.Y); err != nil {
			return err
		}
		return pm.Wheel(ev.DeltaX, ev.DeltaY)
	}
	return fmt.Errorf("unsupported mouse event type %q", ev.Type)
}

type keyboard struct {
	page *Page
}

func (k keyboard) Press(ctx context.Context, key string) error {
	if err := k.page.checkOpen(); err != nil {
		return err
	}
	_, err := await(ctx, func() (struct{}, error) { return struct{}{}, k.page.page.Keyboard().Press(key) })
	return err
}

func (k keyboard) Type(ctx context.Context, text string) error {
	if err := k.page.checkOpen(); err != nil {
		return err
	}
	_, err := await(ctx, func() (struct{}, error) { return struct{}{}, k.page.page.Keyboard().InsertText(text) })
	return err
}
