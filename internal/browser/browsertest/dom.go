// Package browsertest provides an in-memory browser.Page for tests. Elements
// form a small DOM tree whose nodes carry exactly the attributes the query
// strategies look at, and every interaction is recorded for assertions.
package browsertest

import (
	"context"
	"strings"

	"github.com/xkilldash9x/mapharness/api/schemas"
	"github.com/xkilldash9x/mapharness/internal/browser"
)

// Element is a node of the fake DOM.
type Element struct {
	Tag         string
	Role        string
	Name        string
	Text        string
	Placeholder string
	Label       string
	// Selectors lists the CSS selectors this element answers to, verbatim.
	Selectors []string
	Attrs     map[string]string
	Box       schemas.Rect
	Hidden    bool
	Disabled  bool
	Value     string

	OnClick func(ctx context.Context, at schemas.Point) error
	OnFill  func(value string)
	OnPress func(key string)
	OnHover func()

	page     *Page
	parent   *Element
	children []*Element
}

// Append adds child as the last child of e and returns it.
func (e *Element) Append(child *Element) *Element {
	if e.page != nil {
		e.page.mu.Lock()
		defer e.page.mu.Unlock()
	}
	e.attach(child)
	return child
}

func (e *Element) attach(child *Element) {
	child.parent = e
	child.adopt(e.page)
	e.children = append(e.children, child)
}

func (e *Element) adopt(p *Page) {
	e.page = p
	for _, c := range e.children {
		c.adopt(p)
	}
}

// Remove detaches e from the tree.
func (e *Element) Remove() {
	if e.page != nil {
		e.page.mu.Lock()
		defer e.page.mu.Unlock()
	}
	if e.parent == nil {
		return
	}
	siblings := e.parent.children
	for i, c := range siblings {
		if c == e {
			e.parent.children = append(siblings[:i:i], siblings[i+1:]...)
			break
		}
	}
	e.parent = nil
}

// SetHidden toggles visibility.
func (e *Element) SetHidden(hidden bool) {
	e.mutate(func() { e.Hidden = hidden })
}

// SetDisabled toggles the enabled state.
func (e *Element) SetDisabled(disabled bool) {
	e.mutate(func() { e.Disabled = disabled })
}

// SetBox moves or resizes the element.
func (e *Element) SetBox(r schemas.Rect) {
	e.mutate(func() { e.Box = r })
}

// SetAttr sets an attribute value.
func (e *Element) SetAttr(name, value string) {
	e.mutate(func() {
		if e.Attrs == nil {
			e.Attrs = map[string]string{}
		}
		e.Attrs[name] = value
	})
}

// SetText replaces the element's own text.
func (e *Element) SetText(text string) {
	e.mutate(func() { e.Text = text })
}

// CurrentValue returns the value last filled into the element.
func (e *Element) CurrentValue() string {
	if e.page != nil {
		e.page.mu.Lock()
		defer e.page.mu.Unlock()
	}
	return e.Value
}

func (e *Element) mutate(fn func()) {
	if e.page != nil {
		e.page.mu.Lock()
		defer e.page.mu.Unlock()
	}
	fn()
}

func (e *Element) textContent() string {
	parts := []string{e.Text}
	for _, c := range e.children {
		parts = append(parts, c.textContent())
	}
	return browser.NormalizeText(strings.Join(parts, " "))
}

func (e *Element) visible() bool {
	for n := e; n != nil; n = n.parent {
		if n.Hidden {
			return false
		}
	}
	return true
}

func (e *Element) descendants(out []*Element) []*Element {
	for _, c := range e.children {
		out = append(out, c)
		out = c.descendants(out)
	}
	return out
}

// within reports whether e is a descendant of ancestor.
func (e *Element) within(ancestor *Element) bool {
	for n := e.parent; n != nil; n = n.parent {
		if n == ancestor {
			return true
		}
	}
	return false
}

func (e *Element) hasSelector(sel string) bool {
	for _, s := range e.Selectors {
		if s == sel {
			return true
		}
	}
	return false
}

func (e *Element) matches(q browser.Query) bool {
	switch q.Strategy {
	case browser.StrategyRole:
		return e.Role == q.Role && (q.Match.IsZero() || q.Match.Matches(e.Name))
	case browser.StrategyText:
		if !q.Match.Matches(e.textContent()) {
			return false
		}
		// Innermost match only.
		for _, c := range e.children {
			if q.Match.Matches(c.textContent()) {
				return false
			}
		}
		return true
	case browser.StrategyPlaceholder:
		return e.Placeholder != "" && q.Match.Matches(e.Placeholder)
	case browser.StrategyLabel:
		return e.Label != "" && q.Match.Matches(e.Label)
	case browser.StrategyCSS:
		return e.hasSelector(q.Selector)
	}
	return false
}

// Convenience constructors for the element kinds scenarios use most.

// Button is a role=button element.
func Button(name string) *Element {
	return &Element{Tag: "button", Role: "button", Name: name, Text: name}
}

// Textbox is a role=textbox element named by its accessible name.
func Textbox(name string) *Element {
	return &Element{Tag: "input", Role: "textbox", Name: name}
}

// ListItem is a role=listitem option.
func ListItem(text string) *Element {
	return &Element{Tag: "li", Role: "listitem", Name: text, Text: text}
}

// Switch is a role=switch element with an aria-checked state.
func Switch(checked bool) *Element {
	state := "false"
	if checked {
		state = "true"
	}
	return &Element{Tag: "button", Role: "switch", Attrs: map[string]string{"aria-checked": state}}
}

// Region is a named role=region surface with a box.
func Region(name string, box schemas.Rect) *Element {
	return &Element{Tag: "section", Role: "region", Name: name, Box: box}
}

// Div is a plain container with text.
func Div(text string) *Element {
	return &Element{Tag: "div", Text: text}
}
