// Package netwatch correlates a UI action with the network responses it must,
// or must not, cause. Observers are armed on the page's response stream before
// the action runs and resolve independently of each other.
package netwatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xkilldash9x/mapharness/api/schemas"
)

// Polarity says whether a matching response is required or forbidden.
type Polarity int

const (
	// MustOccurPolarity requires a matching successful response within the timeout.
	MustOccurPolarity Polarity = iota
	// MustNotOccurPolarity forbids any matching response until the absence window closes.
	MustNotOccurPolarity
)

func (p Polarity) String() string {
	if p == MustNotOccurPolarity {
		return "must-not-occur"
	}
	return "must-occur"
}

// Matcher selects responses. URLContains is a plain substring. An empty
// Method matches any method. A zero Status accepts any 2xx response; a
// non-zero Status pins the exact code, which is how 4xx responses are expected.
type Matcher struct {
	URLContains string `json:"url_contains"`
	Method      string `json:"method,omitempty"`
	Status      int    `json:"status,omitempty"`
}

// Selects reports whether ev is a candidate by URL and method. URLContains
// is matched case-sensitively.
func (m Matcher) Selects(ev schemas.NetworkEvent) bool {
	if !strings.Contains(ev.URL, m.URLContains) {
		return false
	}
	return m.Method == "" || strings.EqualFold(m.Method, ev.Method)
}

// Accepts reports whether ev's status satisfies the matcher.
func (m Matcher) Accepts(ev schemas.NetworkEvent) bool {
	if m.Status != 0 {
		return ev.Status == m.Status
	}
	return ev.Successful()
}

func (m Matcher) String() string {
	var b strings.Builder
	if m.Method != "" {
		b.WriteString(strings.ToUpper(m.Method) + " ")
	}
	fmt.Fprintf(&b, "*%s*", m.URLContains)
	if m.Status != 0 {
		fmt.Fprintf(&b, " [%d]", m.Status)
	}
	return b.String()
}

// Expectation is one network event an action is checked against.
type Expectation struct {
	Name     string
	Matcher  Matcher
	Polarity Polarity
	// Timeout bounds a MustOccur wait; zero uses the engine default.
	Timeout time.Duration
	// Window is the MustNotOccur observation window after the trigger
	// completes; zero uses the engine default.
	Window time.Duration
}

// MustOccur expects a successful response whose URL contains urlContains.
func MustOccur(urlContains string) Expectation {
	return Expectation{Matcher: Matcher{URLContains: urlContains}, Polarity: MustOccurPolarity}
}

// MustNotOccur forbids any response whose URL contains urlContains.
func MustNotOccur(urlContains string) Expectation {
	return Expectation{Matcher: Matcher{URLContains: urlContains}, Polarity: MustNotOccurPolarity}
}

// WithMethod restricts the expectation to one HTTP method.
func (e Expectation) WithMethod(method string) Expectation {
	e.Matcher.Method = method
	return e
}

// WithStatus pins the exact status code of a MustOccur expectation.
func (e Expectation) WithStatus(code int) Expectation {
	e.Matcher.Status = code
	return e
}

// Within overrides the timeout (MustOccur) or window (MustNotOccur).
func (e Expectation) Within(d time.Duration) Expectation {
	if e.Polarity == MustNotOccurPolarity {
		e.Window = d
	} else {
		e.Timeout = d
	}
	return e
}

// Named labels the expectation in logs and failures.
func (e Expectation) Named(name string) Expectation {
	e.Name = name
	return e
}

func (e Expectation) String() string {
	s := e.Polarity.String() + " " + e.Matcher.String()
	if e.Name != "" {
		s = e.Name + ": " + s
	}
	return s
}

// ActionSpec pairs a trigger with the expectations it is checked against.
type ActionSpec struct {
	Name         string
	Trigger      func(ctx context.Context) error
	Expectations []Expectation
}
