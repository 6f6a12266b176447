// Package controls drives the application's form widgets by capability rather
// than by field name. A workflow selecting a roof type and one selecting a
// user role issue the same call with different arguments.
package controls

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/mapharness/internal/browser"
)

// ErrOptionNotFound means the dropdown opened but no visible option contained the text.
var ErrOptionNotFound = errors.New("dropdown option not found")

// Role names used by the adapters.
const (
	RoleListItem = "listitem"
	RoleSwitch   = "switch"
	RoleButton   = "button"
)

// Selectable picks one option from a list by its text.
type Selectable interface {
	Select(ctx context.Context, option string) error
}

// Toggleable is a binary control whose state can be read back.
type Toggleable interface {
	Toggle(ctx context.Context) error
	Checked(ctx context.Context) (bool, error)
}

// Fillable accepts free text, replacing whatever it held.
type Fillable interface {
	Fill(ctx context.Context, value string) error
}

// Options bounds the adapters' waits.
type Options struct {
	// OptionTimeout bounds the wait for dropdown options to render.
	OptionTimeout time.Duration
	PollInterval  time.Duration
}

// DefaultOptions mirrors the configuration defaults.
var DefaultOptions = Options{OptionTimeout: 10 * time.Second, PollInterval: browser.DefaultPollInterval}

// Controls binds the adapters to a page.
type Controls struct {
	page   browser.Page
	opts   Options
	logger *zap.Logger
}

// New creates the adapters for page.
func New(page browser.Page, opts Options, logger *zap.Logger) *Controls {
	if opts.OptionTimeout <= 0 {
		opts.OptionTimeout = DefaultOptions.OptionTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultOptions.PollInterval
	}
	return &Controls{page: page, opts: opts, logger: logger.Named("controls")}
}

// Page returns the page the adapters act on.
func (c *Controls) Page() browser.Page { return c.page }

// SelectDropdown opens control and clicks the first visible list item whose
// text contains option.
func (c *Controls) SelectDropdown(ctx context.Context, control *browser.Locator, option string) error {
	return c.SelectOption(ctx, control, OptionQuery(option))
}

// SelectOption opens control and clicks the first visible element matched by option.
func (c *Controls) SelectOption(ctx context.Context, control *browser.Locator, option browser.Query) error {
	if err := control.Click(ctx); err != nil {
		return fmt.Errorf("open dropdown %s: %w", control, err)
	}
	return c.pick(ctx, option)
}

// SelectSearchable types text into a searchable dropdown and picks the first
// option containing it.
func (c *Controls) SelectSearchable(ctx context.Context, control *browser.Locator, text string) error {
	if err := control.Click(ctx); err != nil {
		return fmt.Errorf("open dropdown %s: %w", control, err)
	}
	if err := control.Fill(ctx, text); err != nil {
		return err
	}
	return c.pick(ctx, OptionQuery(text))
}

// OptionQuery matches list items by contained text.
func OptionQuery(text string) browser.Query {
	return browser.Role(RoleListItem, browser.TextMatch{}).Filter(browser.Text(text))
}

func (c *Controls) pick(ctx context.Context, option browser.Query) error {
	all := c.page.Locate(option)
	var target *browser.Locator
	err := browser.Poll(ctx, c.opts.OptionTimeout, c.opts.PollInterval, func(ctx context.Context) (bool, error) {
		n, err := all.Count(ctx)
		if err != nil {
			return false, err
		}
		for i := 0; i < n; i++ {
			candidate := all.Nth(i)
			visible, err := candidate.IsVisible(ctx)
			if err != nil {
				return false, err
			}
			if visible {
				target = candidate
				return true, nil
			}
		}
		return false, nil
	})
	if errors.Is(err, browser.ErrTimeout) {
		return fmt.Errorf("%w: %s within %s", ErrOptionNotFound, option, c.opts.OptionTimeout)
	}
	if err != nil {
		return err
	}
	c.logger.Debug("Selecting option.", zap.Stringer("option", target))
	return target.Click(ctx)
}

// ToggleSwitch flips the index-th switch on the page. It does not report the
// resulting state; use SwitchState.
func (c *Controls) ToggleSwitch(ctx context.Context, index int) error {
	return c.Switch(index).Toggle(ctx)
}

// SwitchState reads aria-checked of the index-th switch.
func (c *Controls) SwitchState(ctx context.Context, index int) (bool, error) {
	return c.Switch(index).Checked(ctx)
}

// FillField overwrites the field's content. No validation is performed.
func (c *Controls) FillField(ctx context.Context, field *browser.Locator, value string) error {
	return Field(field).Fill(ctx, value)
}

// ClickButton waits for the named button to be visible and enabled, then clicks it.
func (c *Controls) ClickButton(ctx context.Context, name browser.TextMatch) error {
	btn := c.page.Locate(browser.Role(RoleButton, name))
	if err := btn.WaitVisible(ctx, 0); err != nil {
		return err
	}
	return btn.Click(ctx)
}

// ScopedModal returns the narrowest container matching selector whose text
// includes discriminator; among several such containers the first in
// document order wins. Elements located inside it cannot collide with
// same-named controls elsewhere on the page.
func (c *Controls) ScopedModal(selector, discriminator string) *browser.Locator {
	return c.page.Locate(browser.CSS(selector).Filter(browser.Text(discriminator)).Narrowest())
}

// Dropdown adapts a control locator to Selectable.
func (c *Controls) Dropdown(control *browser.Locator) Selectable {
	return dropdown{c: c, control: control}
}

// Switch adapts the index-th switch to Toggleable.
func (c *Controls) Switch(index int) Toggleable {
	return toggle{loc: c.page.Locate(browser.Role(RoleSwitch, browser.TextMatch{})).Nth(index)}
}

// Field adapts a locator to Fillable.
func Field(loc *browser.Locator) Fillable { return field{loc: loc} }

type dropdown struct {
	c       *Controls
	control *browser.Locator
}

func (d dropdown) Select(ctx context.Context, option string) error {
	return d.c.SelectDropdown(ctx, d.control, option)
}

type toggle struct{ loc *browser.Locator }

func (t toggle) Toggle(ctx context.Context) error { return t.loc.Click(ctx) }

func (t toggle) Checked(ctx context.Context) (bool, error) {
	if err := t.loc.WaitAttached(ctx, 0); err != nil {
		return false, err
	}
	v, _, err := t.loc.Attribute(ctx, "aria-checked")
	if err != nil {
		return false, err
	}
	return v == "true", nil
}

type field struct{ loc *browser.Locator }

func (f field) Fill(ctx context.Context, value string) error { return f.loc.Fill(ctx, value) }
