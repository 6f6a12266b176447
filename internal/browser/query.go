package browser

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Strategy selects how a Query finds its candidates.
type Strategy string

const (
	StrategyRole        Strategy = "role"
	StrategyText        Strategy = "text"
	StrategyPlaceholder Strategy = "placeholder"
	StrategyLabel       Strategy = "label"
	StrategyCSS         Strategy = "css"
)

// ParentSelector is the CSS strategy selector that resolves to the scope's parent element.
const ParentSelector = ".."

// TextMatch matches visible text or accessible names. The zero value matches everything.
//
// Value matches as a case-insensitive substring, or whole-string when Exact is
// set. Pattern is a regular expression, always case-insensitive, restricted to
// the syntax shared by RE2 and ECMAScript so every driver evaluates it alike.
type TextMatch struct {
	Value   string `json:"value,omitempty"`
	Pattern string `json:"pattern,omitempty"`
	Exact   bool   `json:"exact,omitempty"`
}

// Text matches a case-insensitive substring.
func Text(s string) TextMatch { return TextMatch{Value: s} }

// Exact matches the whole whitespace-normalized string.
func Exact(s string) TextMatch { return TextMatch{Value: s, Exact: true} }

// Pattern matches a case-insensitive regular expression.
func Pattern(p string) TextMatch { return TextMatch{Pattern: p} }

// IsZero reports whether the match constrains nothing.
func (m TextMatch) IsZero() bool { return m.Value == "" && m.Pattern == "" }

var (
	patternCache   = map[string]*regexp.Regexp{}
	patternCacheMu sync.Mutex
)

// Regexp compiles the pattern with the case-insensitive flag applied.
func (m TextMatch) Regexp() (*regexp.Regexp, error) {
	patternCacheMu.Lock()
	defer patternCacheMu.Unlock()
	if re, ok := patternCache[m.Pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile("(?i)" + m.Pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid text pattern %q: %w", m.Pattern, err)
	}
	patternCache[m.Pattern] = re
	return re, nil
}

// Matches applies the match to s after collapsing whitespace.
func (m TextMatch) Matches(s string) bool {
	s = NormalizeText(s)
	switch {
	case m.Pattern != "":
		re, err := m.Regexp()
		return err == nil && re.MatchString(s)
	case m.Exact:
		return s == NormalizeText(m.Value)
	default:
		return strings.Contains(strings.ToLower(s), strings.ToLower(NormalizeText(m.Value)))
	}
}

func (m TextMatch) String() string {
	switch {
	case m.Pattern != "":
		return "/" + m.Pattern + "/i"
	case m.Exact:
		return fmt.Sprintf("%q", m.Value)
	default:
		return fmt.Sprintf("%q~", m.Value)
	}
}

// NormalizeText trims s and collapses runs of whitespace to single spaces.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Query describes how to locate an element. It is a plain value that every
// driver translates into its own element lookup; the zero Index selects the
// first match in document order.
type Query struct {
	Strategy Strategy  `json:"strategy"`
	Role     string    `json:"role,omitempty"`
	Match    TextMatch `json:"match"`
	Selector string    `json:"selector,omitempty"`
	HasText  TextMatch `json:"hasText"`
	Index    int       `json:"index"`
	Scope    *Query    `json:"scope,omitempty"`
	// Innermost drops candidates that contain another candidate.
	Innermost bool `json:"innermost,omitempty"`
}

// Role finds elements by ARIA role and accessible name.
func Role(role string, name TextMatch) Query {
	return Query{Strategy: StrategyRole, Role: role, Match: name}
}

// ByText finds the innermost elements whose text matches.
func ByText(m TextMatch) Query { return Query{Strategy: StrategyText, Match: m} }

// ByPlaceholder finds form controls by placeholder.
func ByPlaceholder(m TextMatch) Query { return Query{Strategy: StrategyPlaceholder, Match: m} }

// ByLabel finds form controls by their associated label.
func ByLabel(m TextMatch) Query { return Query{Strategy: StrategyLabel, Match: m} }

// CSS finds elements with a CSS selector.
func CSS(selector string) Query { return Query{Strategy: StrategyCSS, Selector: selector} }

// Filter keeps only candidates whose text content matches m.
func (q Query) Filter(m TextMatch) Query {
	q.HasText = m
	return q
}

// Narrowest keeps only the candidates that contain no other candidate, so a
// generic selector resolves to the tightest container rather than the page shell.
func (q Query) Narrowest() Query {
	q.Innermost = true
	return q
}

// Nth selects the i-th candidate, zero based.
func (q Query) Nth(i int) Query {
	q.Index = i
	return q
}

// Within resolves q inside the element selected by scope.
func (q Query) Within(scope Query) Query {
	s := scope
	q.Scope = &s
	return q
}

// Parent resolves to the parent of the element selected by q.
func (q Query) Parent() Query {
	return CSS(ParentSelector).Within(q)
}

// String renders the query for logs and error messages.
func (q Query) String() string {
	var b strings.Builder
	if q.Scope != nil {
		b.WriteString(q.Scope.String())
		b.WriteString(" >> ")
	}
	switch q.Strategy {
	case StrategyRole:
		b.WriteString("role=" + q.Role)
		if !q.Match.IsZero() {
			b.WriteString("[name=" + q.Match.String() + "]")
		}
	case StrategyCSS:
		b.WriteString("css=" + q.Selector)
	default:
		b.WriteString(string(q.Strategy) + "=" + q.Match.String())
	}
	if !q.HasText.IsZero() {
		b.WriteString(" >> has-text=" + q.HasText.String())
	}
	if q.Innermost {
		b.WriteString(" >> innermost")
	}
	if q.Index != 0 {
		fmt.Fprintf(&b, " >> nth=%d", q.Index)
	}
	return b.String()
}
