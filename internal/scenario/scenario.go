// Package scenario names the end-to-end checks the harness can run and runs
// a selection of them against leased browser pages.
package scenario

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/xkilldash9x/mapharness/internal/config"
	"github.com/xkilldash9x/mapharness/internal/provision"
	"github.com/xkilldash9x/mapharness/internal/workflow"
)

// Context is what a scenario gets to work with.
type Context struct {
	Env    *workflow.Env
	Config config.Interface
	Logger *zap.Logger
	// Pages opens pages beside the leased one, such as a mail inbox.
	Pages provision.PageOpener
}

// Func is the body of a scenario.
type Func func(ctx context.Context, sc *Context) error

// Scenario is one named end-to-end check.
type Scenario struct {
	Name        string
	Description string
	Tags        []string
	// Auth scenarios start from a signed-in session.
	Auth bool
	Run  Func
}

// HasTag reports whether s carries tag.
func (s Scenario) HasTag(tag string) bool {
	return slices.Contains(s.Tags, tag)
}

// Registry keeps scenarios in registration order.
type Registry struct {
	order  []string
	byName map[string]Scenario
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Scenario)}
}

// Register adds s. Names are unique.
func (r *Registry) Register(s Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("scenario has no name")
	}
	if s.Run == nil {
		return fmt.Errorf("scenario %q has no body", s.Name)
	}
	if _, exists := r.byName[s.Name]; exists {
		return fmt.Errorf("scenario %q registered twice", s.Name)
	}
	r.order = append(r.order, s.Name)
	r.byName[s.Name] = s
	return nil
}

// Lookup returns the scenario called name.
func (r *Registry) Lookup(name string) (Scenario, bool) {
	s, ok := r.byName[name]
	return s, ok
}

// All returns every scenario in registration order.
func (r *Registry) All() []Scenario {
	out := make([]Scenario, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// Select picks scenarios by name, in the order given, or by tag, in
// registration order. With neither, every scenario is selected. A scenario
// has to match both filters when both are set.
func (r *Registry) Select(names, tags []string) ([]Scenario, error) {
	var picked []Scenario
	if len(names) > 0 {
		seen := make(map[string]bool, len(names))
		for _, name := range names {
			s, ok := r.byName[name]
			if !ok {
				return nil, fmt.Errorf("unknown scenario %q", name)
			}
			if seen[name] {
				continue
			}
			seen[name] = true
			picked = append(picked, s)
		}
	} else {
		picked = r.All()
	}
	if len(tags) == 0 {
		return picked, nil
	}
	return slices.DeleteFunc(picked, func(s Scenario) bool {
		return !slices.ContainsFunc(tags, s.HasTag)
	}), nil
}
