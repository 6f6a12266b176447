// Package workflow sequences controls, map gestures and network correlation
// into the application's domain flows. Every flow is a list of named steps;
// a step either completes with its checkpoint assertion satisfied or the
// flow stops there with a *StepError naming it.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/mapharness/internal/browser"
	"github.com/xkilldash9x/mapharness/internal/browser/controls"
	"github.com/xkilldash9x/mapharness/internal/browser/geometry"
	"github.com/xkilldash9x/mapharness/internal/browser/gesture"
	"github.com/xkilldash9x/mapharness/internal/config"
	"github.com/xkilldash9x/mapharness/internal/netwatch"
)

var (
	// ErrAssertion means a checkpoint read back a state other than the expected one.
	ErrAssertion = errors.New("assertion failed")
	// ErrDownloadVerificationFailed means an export produced no file or no resolvable path.
	ErrDownloadVerificationFailed = errors.New("download verification failed")
)

// StepError locates a failure at one step of one flow.
type StepError struct {
	Flow string
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: step %q: %v", e.Flow, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Env binds the adapters every flow drives to one page.
type Env struct {
	Page     browser.Page
	Controls *controls.Controls
	Map      *gesture.Composer
	Net      *netwatch.Engine

	target     config.TargetConfig
	network    config.NetworkConfig
	mapCfg     config.MapConfig
	mailDomain string
	logger     *zap.Logger
}

// NewEnv wires controls, the gesture composer and a correlation engine to page.
func NewEnv(page browser.Page, cfg config.Interface, logger *zap.Logger) *Env {
	net := cfg.Network()
	return &Env{
		Page: page,
		Controls: controls.New(page, controls.Options{
			OptionTimeout: net.OptionTimeout,
			PollInterval:  net.PollInterval,
		}, logger),
		Map: gesture.NewComposer(page, geometry.NewProjector(logger), cfg.Map(), logger),
		Net: netwatch.NewEngine(page.Network(), netwatch.Defaults{
			Timeout: net.Timeout,
			Window:  net.AbsenceWindow,
		}, logger),
		target:     cfg.Target(),
		network:    net,
		mapCfg:     cfg.Map(),
		mailDomain: cfg.Mail().Domain,
		logger:     logger,
	}
}

// Target returns the application the flows run against.
func (e *Env) Target() config.TargetConfig { return e.target }

// flow is the step runner shared by the page types.
type flow struct {
	env    *Env
	name   string
	logger *zap.Logger
}

func newFlow(env *Env, name string) flow {
	return flow{env: env, name: name, logger: env.logger.Named(name)}
}

func (f flow) step(ctx context.Context, name string, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return &StepError{Flow: f.name, Step: name, Err: err}
	}
	start := time.Now()
	if err := fn(ctx); err != nil {
		f.logger.Debug("Step failed.", zap.String("step", name), zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return &StepError{Flow: f.name, Step: name, Err: err}
	}
	f.logger.Debug("Step completed.", zap.String("step", name), zap.Duration("elapsed", time.Since(start)))
	return nil
}

func (f flow) locate(q browser.Query) *browser.Locator { return f.env.Page.Locate(q) }

// open navigates to route and waits out the post-load settle.
func (f flow) open(ctx context.Context, route string) error {
	if err := f.env.Page.Goto(ctx, f.env.target.URL(route)); err != nil {
		return err
	}
	return f.settle(ctx)
}

// settle pauses for the configured post-load wait. The application keeps
// rendering after the load event and exposes no readiness signal.
func (f flow) settle(ctx context.Context) error {
	return browser.Pause(ctx, f.env.network.PostLoadWait)
}

func (f flow) click(ctx context.Context, q browser.Query) error {
	return f.locate(q).Click(ctx)
}

// expectText waits for visible text matching m.
func (f flow) expectText(ctx context.Context, m browser.TextMatch) error {
	if err := f.locate(browser.ByText(m)).WaitVisible(ctx, 0); err != nil {
		return fmt.Errorf("%w: text %s not shown: %v", ErrAssertion, m, err)
	}
	return nil
}

// expectURL waits until the current URL contains fragment, or no longer
// contains it when present is false.
func (f flow) expectURL(ctx context.Context, fragment string, present bool) error {
	var last string
	err := browser.Poll(ctx, f.env.network.ElementTimeout, f.env.network.PollInterval, func(ctx context.Context) (bool, error) {
		u, err := f.env.Page.URL(ctx)
		if err != nil {
			return false, err
		}
		last = u
		return strings.Contains(u, fragment) == present, nil
	})
	if errors.Is(err, browser.ErrTimeout) {
		verb := "contain"
		if !present {
			verb = "leave"
		}
		return fmt.Errorf("%w: url %q did not %s %q", ErrAssertion, last, verb, fragment)
	}
	return err
}

// expectSwitch asserts the index-th switch reads want.
func (f flow) expectSwitch(ctx context.Context, index int, want bool) error {
	got, err := f.env.Controls.SwitchState(ctx, index)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w: switch %d is %t, want %t", ErrAssertion, index, got, want)
	}
	return nil
}

// bestEffortVisible waits for loc but tolerates its absence. Some data
// states legitimately render nothing.
func (f flow) bestEffortVisible(ctx context.Context, loc *browser.Locator, timeout time.Duration) {
	if err := loc.WaitVisible(ctx, timeout); err != nil {
		f.logger.Debug("Optional element absent.", zap.Stringer("locator", loc), zap.Error(err))
	}
}
