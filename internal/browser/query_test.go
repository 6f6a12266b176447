package browser_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/mapharness/internal/browser"
)

func TestTextMatch_Matches(t *testing.T) {
	tests := []struct {
		name  string
		match browser.TextMatch
		input string
		want  bool
	}{
		{"zero matches anything", browser.TextMatch{}, "whatever", true},
		{"substring ignores case", browser.Text("save layer"), "Save Layer Arrangement", true},
		{"substring miss", browser.Text("delete"), "Save", false},
		{"exact whole string", browser.Exact("Type"), "  Type ", true},
		{"exact rejects superset", browser.Exact("Type"), "Filter Type", false},
		{"exact is case sensitive", browser.Exact("Required"), "required", false},
		{"pattern is case insensitive", browser.Pattern("building added successfully"), "Building Added Successfully!", true},
		{"pattern anchors", browser.Pattern("^build_circle$"), "build_circle", true},
		{"pattern anchor miss", browser.Pattern("^build_circle$"), "build_circle extra", false},
		{"unicode substring", browser.Text("पुन: छान्नुहोस्"), "draw पुन: छान्नुहोस्", true},
		{"whitespace collapses", browser.Text("Administrative Boundaries expand_more"), "Administrative\n   Boundaries  expand_more", true},
		{"invalid pattern never matches", browser.Pattern("("), "(", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.match.Matches(tt.input))
		})
	}
}

func TestQuery_String(t *testing.T) {
	q := browser.Role("button", browser.Exact("=")).
		Within(browser.CSS("form").Filter(browser.Text("User Name"))).
		Nth(2)

	assert.Equal(t, `css=form >> has-text="User Name"~ >> role=button[name="="] >> nth=2`, q.String())
	assert.Equal(t, "text=/delete/i", browser.ByText(browser.Pattern("delete")).String())
	assert.Equal(t, `css=div >> has-text="User Name"~ >> innermost`, browser.CSS("div").Filter(browser.Text("User Name")).Narrowest().String())
}

func TestQuery_ParentAndWithin(t *testing.T) {
	base := browser.CSS("p.text-sm.capitalize")
	parent := base.Parent()

	assert.Equal(t, browser.StrategyCSS, parent.Strategy)
	assert.Equal(t, browser.ParentSelector, parent.Selector)
	if assert.NotNil(t, parent.Scope) {
		assert.Equal(t, base, *parent.Scope)
	}

	// Within copies the scope, so later edits to the original do not leak in.
	scope := browser.CSS("table")
	child := browser.CSS("tr").Within(scope)
	scope.Selector = "changed"
	assert.Equal(t, "table", child.Scope.Selector)
}

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "a b c", browser.NormalizeText("  a\tb\n\nc "))
	assert.Equal(t, "", browser.NormalizeText(" \n "))
}
