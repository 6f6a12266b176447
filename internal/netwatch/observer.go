package netwatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mapharness/api/schemas"
	"github.com/xkilldash9x/mapharness/internal/browser"
)

// State is an observer's lifecycle position.
type State int32

const (
	StateIdle State = iota
	StateArmed
	StateTriggered
	StateResolved
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateTriggered:
		return "triggered"
	case StateResolved:
		return "resolved"
	case StateTimedOut:
		return "timed-out"
	}
	return "unknown"
}

// Observer watches the response stream for one Expectation. It is created
// already armed by Engine.Arm and must be finished with Engine.Await or Release,
// either of which unsubscribes it.
type Observer struct {
	id     string
	exp    Expectation
	logger *zap.Logger

	state   atomic.Int32
	armedAt time.Time

	mu    sync.Mutex
	first *schemas.NetworkEvent
	// rejected is the first selected response whose status did not satisfy a
	// MustOccur matcher. It only surfaces if nothing acceptable follows.
	rejected *schemas.NetworkEvent
	// matched closes on the first satisfying response.
	matched chan struct{}

	triggerOnce sync.Once
	triggered   chan struct{}
	triggeredAt time.Time

	unsubscribe func()
	releaseOnce sync.Once
}

func arm(source browser.NetworkSource, exp Expectation, logger *zap.Logger) *Observer {
	o := &Observer{
		id:        uuid.New().String(),
		exp:       exp,
		matched:   make(chan struct{}),
		triggered: make(chan struct{}),
	}
	o.logger = logger.With(zap.String("observer_id", o.id), zap.Stringer("expectation", exp))
	o.armedAt = time.Now()
	o.unsubscribe = source.Subscribe(o.observe)
	o.state.Store(int32(StateArmed))
	o.logger.Debug("Observer armed.")
	return o
}

// observe runs on the driver's event path and never blocks. A MustOccur
// observer resolves on the first response passing both URL/method and status;
// a MustNotOccur observer trips on any selected response.
func (o *Observer) observe(ev schemas.NetworkEvent) {
	if !o.exp.Matcher.Selects(ev) {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.first != nil {
		return
	}
	if o.exp.Polarity == MustOccurPolarity && !o.exp.Matcher.Accepts(ev) {
		if o.rejected == nil {
			o.rejected = &ev
		}
		return
	}
	o.first = &ev
	close(o.matched)
}

// ID returns the observer's correlation ID.
func (o *Observer) ID() string { return o.id }

// Expectation returns what the observer checks.
func (o *Observer) Expectation() Expectation { return o.exp }

// State reports the current lifecycle state.
func (o *Observer) State() State { return State(o.state.Load()) }

// Event returns the response the observer settled on, or failing that the
// first selected response it rejected for its status.
func (o *Observer) Event() (schemas.NetworkEvent, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch {
	case o.first != nil:
		return *o.first, true
	case o.rejected != nil:
		return *o.rejected, true
	}
	return schemas.NetworkEvent{}, false
}

func (o *Observer) rejectedEvent() *schemas.NetworkEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.first != nil || o.rejected == nil {
		return nil
	}
	ev := *o.rejected
	return &ev
}

// markTriggered records that the action finished. Idempotent.
func (o *Observer) markTriggered() {
	o.triggerOnce.Do(func() {
		o.triggeredAt = time.Now()
		o.state.CompareAndSwap(int32(StateArmed), int32(StateTriggered))
		close(o.triggered)
	})
}

// Release unsubscribes without waiting. Idempotent.
func (o *Observer) Release() {
	o.releaseOnce.Do(o.unsubscribe)
}

func (o *Observer) settle(s State) {
	o.state.Store(int32(s))
	o.Release()
}

// wait blocks until the observer reaches a verdict. timeout and window are
// already resolved against engine defaults.
func (o *Observer) wait(ctx context.Context, timeout, window time.Duration) (schemas.NetworkEvent, error) {
	if o.exp.Polarity == MustNotOccurPolarity {
		return o.waitAbsent(ctx, window)
	}
	return o.waitPresent(ctx, timeout)
}

func (o *Observer) waitPresent(ctx context.Context, timeout time.Duration) (schemas.NetworkEvent, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-o.matched:
	case <-timer.C:
		o.settle(StateTimedOut)
		if rejected := o.rejectedEvent(); rejected != nil {
			return *rejected, &Failure{
				ObserverID:  o.id,
				Expectation: o.exp,
				Event:       rejected,
				Elapsed:     time.Since(o.armedAt),
				Err:         ErrUnexpectedStatus,
			}
		}
		return schemas.NetworkEvent{}, &Failure{
			ObserverID:  o.id,
			Expectation: o.exp,
			Elapsed:     time.Since(o.armedAt),
			Err:         ErrExpectedNetworkEventMissing,
		}
	case <-ctx.Done():
		o.settle(StateTimedOut)
		return schemas.NetworkEvent{}, ctx.Err()
	}

	ev, _ := o.Event()
	o.settle(StateResolved)
	o.logger.Debug("Expected response observed.", zap.String("url", ev.URL), zap.Int("status", ev.Status))
	return ev, nil
}

// waitAbsent fails on any selected response from arming until window has
// elapsed after the trigger completed. A clean result only means nothing
// arrived in time; a request the application issues later is not seen.
func (o *Observer) waitAbsent(ctx context.Context, window time.Duration) (schemas.NetworkEvent, error) {
	select {
	case <-o.triggered:
	case <-o.matched:
		return o.observed()
	case <-ctx.Done():
		o.settle(StateTimedOut)
		return schemas.NetworkEvent{}, ctx.Err()
	}

	timer := time.NewTimer(window)
	defer timer.Stop()

	select {
	case <-o.matched:
		return o.observed()
	case <-timer.C:
		o.settle(StateResolved)
		o.logger.Debug("No forbidden response inside the window.", zap.Duration("window", window), zap.Time("triggered_at", o.triggeredAt))
		return schemas.NetworkEvent{}, nil
	case <-ctx.Done():
		o.settle(StateTimedOut)
		return schemas.NetworkEvent{}, ctx.Err()
	}
}

func (o *Observer) observed() (schemas.NetworkEvent, error) {
	ev, _ := o.Event()
	o.settle(StateResolved)
	return ev, &Failure{
		ObserverID:  o.id,
		Expectation: o.exp,
		Event:       &ev,
		Elapsed:     time.Since(o.armedAt),
		Err:         ErrUnexpectedNetworkEventObserved,
	}
}
