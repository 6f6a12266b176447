package netwatch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/mapharness/api/schemas"
	"github.com/xkilldash9x/mapharness/internal/browser"
)

// Defaults holds the budgets applied to expectations that set none.
type Defaults struct {
	Timeout time.Duration
	Window  time.Duration
}

// DefaultBudgets matches the network.timeout and network.absence_window defaults.
var DefaultBudgets = Defaults{Timeout: 30 * time.Second, Window: 4 * time.Second}

// Outcome is the verdict of one observer.
type Outcome struct {
	ObserverID  string
	Expectation Expectation
	State       State
	// Event is the first selected response; zero for a satisfied MustNotOccur.
	Event schemas.NetworkEvent
}

// Engine arms observers on one page's response stream. It keeps no state
// between correlations, so observers from different calls never see each
// other's events.
type Engine struct {
	source   browser.NetworkSource
	defaults Defaults
	logger   *zap.Logger
}

// NewEngine creates an engine over source.
func NewEngine(source browser.NetworkSource, defaults Defaults, logger *zap.Logger) *Engine {
	if defaults.Timeout <= 0 {
		defaults.Timeout = DefaultBudgets.Timeout
	}
	if defaults.Window <= 0 {
		defaults.Window = DefaultBudgets.Window
	}
	return &Engine{source: source, defaults: defaults, logger: logger.Named("netwatch")}
}

// Arm subscribes an observer for exp and returns it already armed. Responses
// published after Arm returns are seen; earlier ones are not.
func (e *Engine) Arm(exp Expectation) *Observer {
	return arm(e.source, exp, e.logger)
}

// Correlate arms every expectation of act, runs the trigger, and waits for
// all observers. The trigger runs concurrently with the waits, so a response
// that arrives while the trigger is still in progress is counted. The first
// failure cancels the rest and is returned.
func (e *Engine) Correlate(ctx context.Context, act ActionSpec) ([]Outcome, error) {
	observers := make([]*Observer, len(act.Expectations))
	for i, exp := range act.Expectations {
		observers[i] = e.Arm(exp)
	}
	logger := e.logger.With(zap.String("action", act.Name), zap.Int("observers", len(observers)))
	logger.Debug("Correlating action.")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer triggerAll(observers)
		if act.Trigger == nil {
			return nil
		}
		if err := act.Trigger(gctx); err != nil {
			return fmt.Errorf("trigger %q: %w", act.Name, err)
		}
		return nil
	})

	outcomes, err := e.collect(gctx, g, observers)
	if err != nil {
		logger.Debug("Correlation failed.", zap.Error(err))
		return outcomes, err
	}
	return outcomes, nil
}

// Await treats the action as complete now and waits for every observer. It
// serves flows that arm once and then run several gestures, such as toggling
// a layer and forcing a tile refresh.
func (e *Engine) Await(ctx context.Context, observers ...*Observer) ([]Outcome, error) {
	triggerAll(observers)
	g, gctx := errgroup.WithContext(ctx)
	return e.collect(gctx, g, observers)
}

// Release unsubscribes observers that will never be awaited, for example
// when the gestures between Arm and Await fail.
func Release(observers ...*Observer) {
	for _, o := range observers {
		o.Release()
	}
}

func (e *Engine) collect(ctx context.Context, g *errgroup.Group, observers []*Observer) ([]Outcome, error) {
	outcomes := make([]Outcome, len(observers))
	for i, o := range observers {
		i, o := i, o
		g.Go(func() error {
			exp := o.Expectation()
			timeout, window := exp.Timeout, exp.Window
			if timeout <= 0 {
				timeout = e.defaults.Timeout
			}
			if window <= 0 {
				window = e.defaults.Window
			}
			ev, err := o.wait(ctx, timeout, window)
			outcomes[i] = Outcome{ObserverID: o.ID(), Expectation: exp, State: o.State(), Event: ev}
			return err
		})
	}
	err := g.Wait()
	// Observers cancelled by an earlier failure still hold subscriptions until here.
	Release(observers...)
	return outcomes, err
}

func triggerAll(observers []*Observer) {
	for _, o := range observers {
		o.markTriggered()
	}
}
