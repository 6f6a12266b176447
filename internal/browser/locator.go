package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xkilldash9x/mapharness/api/schemas"
)

// ElementState is a snapshot of the element a Query selects.
type ElementState struct {
	Found   bool
	Visible bool
	Enabled bool
	Text    string
	Box     schemas.Rect
}

// ClickOptions tunes an element click.
type ClickOptions struct {
	// Position is relative to the element's top-left corner; nil clicks the center.
	Position *schemas.Point
	// Force skips the visibility and enabled checks.
	Force bool
}

// ClickOption mutates ClickOptions.
type ClickOption func(*ClickOptions)

// At clicks at an offset from the element's top-left corner.
func At(p schemas.Point) ClickOption {
	return func(o *ClickOptions) { o.Position = &p }
}

// Forced skips actionability checks.
func Forced() ClickOption {
	return func(o *ClickOptions) { o.Force = true }
}

// ElementEngine is the driver side of element resolution. Every method
// resolves q afresh; no element handles survive between calls.
type ElementEngine interface {
	Count(ctx context.Context, q Query) (int, error)
	State(ctx context.Context, q Query) (ElementState, error)
	Attribute(ctx context.Context, q Query, name string) (value string, ok bool, err error)
	Click(ctx context.Context, q Query, opts ClickOptions) error
	Fill(ctx context.Context, q Query, value string) error
	Hover(ctx context.Context, q Query) error
	Press(ctx context.Context, q Query, key string) error
}

// Timeouts bounds the implicit waits a Locator performs.
type Timeouts struct {
	Element time.Duration
	Poll    time.Duration
}

// DefaultTimeouts mirrors the network.element_timeout and network.poll_interval defaults.
var DefaultTimeouts = Timeouts{Element: 10 * time.Second, Poll: DefaultPollInterval}

// Locator is a lazy, re-resolving reference to an element.
type Locator struct {
	engine   ElementEngine
	query    Query
	timeouts Timeouts
}

// NewLocator binds a query to a driver engine.
func NewLocator(engine ElementEngine, q Query, t Timeouts) *Locator {
	if t.Element <= 0 {
		t.Element = DefaultTimeouts.Element
	}
	if t.Poll <= 0 {
		t.Poll = DefaultTimeouts.Poll
	}
	return &Locator{engine: engine, query: q, timeouts: t}
}

// Query returns the underlying query.
func (l *Locator) Query() Query { return l.query }

// Locate resolves child inside this locator's element.
func (l *Locator) Locate(child Query) *Locator {
	return l.derive(child.Within(l.query))
}

// Nth selects the i-th match of this locator's query.
func (l *Locator) Nth(i int) *Locator { return l.derive(l.query.Nth(i)) }

// Filter narrows this locator to candidates whose text matches m.
func (l *Locator) Filter(m TextMatch) *Locator { return l.derive(l.query.Filter(m)) }

// Parent resolves to this locator's parent element.
func (l *Locator) Parent() *Locator { return l.derive(l.query.Parent()) }

func (l *Locator) derive(q Query) *Locator {
	return &Locator{engine: l.engine, query: q, timeouts: l.timeouts}
}

func (l *Locator) String() string { return l.query.String() }

// Count returns the number of candidates, ignoring Index.
func (l *Locator) Count(ctx context.Context) (int, error) {
	return l.engine.Count(ctx, l.query)
}

// State reads the current state of the selected element.
func (l *Locator) State(ctx context.Context) (ElementState, error) {
	return l.engine.State(ctx, l.query)
}

// IsVisible reports visibility without waiting.
func (l *Locator) IsVisible(ctx context.Context) (bool, error) {
	st, err := l.State(ctx)
	if err != nil {
		return false, err
	}
	return st.Found && st.Visible, nil
}

// BoundingBox returns the element's current box. A missing, hidden or
// zero-size element yields ErrElementNotFound.
func (l *Locator) BoundingBox(ctx context.Context) (schemas.Rect, error) {
	st, err := l.State(ctx)
	if err != nil {
		return schemas.Rect{}, err
	}
	if !st.Found || !st.Visible || st.Box.Empty() {
		return schemas.Rect{}, fmt.Errorf("%w: %s has no visible box", ErrElementNotFound, l.query)
	}
	return st.Box, nil
}

// Text returns the element's normalized text content.
func (l *Locator) Text(ctx context.Context) (string, error) {
	st, err := l.State(ctx)
	if err != nil {
		return "", err
	}
	if !st.Found {
		return "", fmt.Errorf("%w: %s", ErrElementNotFound, l.query)
	}
	return NormalizeText(st.Text), nil
}

// Attribute reads an attribute of the selected element.
func (l *Locator) Attribute(ctx context.Context, name string) (string, bool, error) {
	return l.engine.Attribute(ctx, l.query, name)
}

func (l *Locator) budget(timeout time.Duration) time.Duration {
	if timeout > 0 {
		return timeout
	}
	return l.timeouts.Element
}

// WaitVisible waits until the element exists and is visible. A non-positive
// timeout uses the locator default.
func (l *Locator) WaitVisible(ctx context.Context, timeout time.Duration) error {
	return l.waitFor(ctx, timeout, "visible", func(st ElementState) bool { return st.Found && st.Visible })
}

// WaitHidden waits until the element is gone or hidden.
func (l *Locator) WaitHidden(ctx context.Context, timeout time.Duration) error {
	return l.waitFor(ctx, timeout, "hidden", func(st ElementState) bool { return !st.Found || !st.Visible })
}

// WaitEnabled waits until the element is visible and enabled.
func (l *Locator) WaitEnabled(ctx context.Context, timeout time.Duration) error {
	return l.waitFor(ctx, timeout, "enabled", func(st ElementState) bool { return st.Found && st.Visible && st.Enabled })
}

// WaitAttached waits until at least one candidate exists, visible or not.
func (l *Locator) WaitAttached(ctx context.Context, timeout time.Duration) error {
	return l.waitFor(ctx, timeout, "attached", func(st ElementState) bool { return st.Found })
}

func (l *Locator) waitFor(ctx context.Context, timeout time.Duration, what string, ok func(ElementState) bool) error {
	budget := l.budget(timeout)
	err := Poll(ctx, budget, l.timeouts.Poll, func(c context.Context) (bool, error) {
		st, err := l.engine.State(c, l.query)
		if err != nil {
			return false, err
		}
		return ok(st), nil
	})
	if errors.Is(err, ErrTimeout) {
		return fmt.Errorf("%w: %s not %s within %s", ErrElementNotFound, l.query, what, budget)
	}
	return err
}

// Click waits for the element to become actionable, then clicks it.
func (l *Locator) Click(ctx context.Context, opts ...ClickOption) error {
	var o ClickOptions
	for _, opt := range opts {
		opt(&o)
	}
	if !o.Force {
		if err := l.WaitEnabled(ctx, 0); err != nil {
			return err
		}
	}
	if err := l.engine.Click(ctx, l.query, o); err != nil {
		return fmt.Errorf("click %s: %w", l.query, err)
	}
	return nil
}

// Fill replaces the element's value.
func (l *Locator) Fill(ctx context.Context, value string) error {
	if err := l.WaitEnabled(ctx, 0); err != nil {
		return err
	}
	if err := l.engine.Fill(ctx, l.query, value); err != nil {
		return fmt.Errorf("fill %s: %w", l.query, err)
	}
	return nil
}

// Hover moves the pointer over the element's center.
func (l *Locator) Hover(ctx context.Context) error {
	if err := l.WaitVisible(ctx, 0); err != nil {
		return err
	}
	if err := l.engine.Hover(ctx, l.query); err != nil {
		return fmt.Errorf("hover %s: %w", l.query, err)
	}
	return nil
}

// Press focuses the element and sends a key.
func (l *Locator) Press(ctx context.Context, key string) error {
	if err := l.WaitVisible(ctx, 0); err != nil {
		return err
	}
	if err := l.engine.Press(ctx, l.query, key); err != nil {
		return fmt.Errorf("press %q on %s: %w", key, l.query, err)
	}
	return nil
}
