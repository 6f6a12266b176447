package netwatch

import (
	"errors"
	"fmt"
	"time"

	"github.com/xkilldash9x/mapharness/api/schemas"
)

var (
	// ErrExpectedNetworkEventMissing means no matching response arrived within the timeout.
	ErrExpectedNetworkEventMissing = errors.New("expected network event missing")
	// ErrUnexpectedNetworkEventObserved means a forbidden response arrived inside the window.
	ErrUnexpectedNetworkEventObserved = errors.New("unexpected network event observed")
	// ErrUnexpectedStatus means the expected request happened but its status was wrong.
	ErrUnexpectedStatus = errors.New("unexpected response status")
)

// Failure describes why one observer failed. It unwraps to one of the
// package's sentinel errors.
type Failure struct {
	ObserverID  string
	Expectation Expectation
	// Event is the offending or mismatching response, nil for a missing event.
	Event   *schemas.NetworkEvent
	Elapsed time.Duration
	Err     error
}

func (f *Failure) Error() string {
	switch {
	case errors.Is(f.Err, ErrUnexpectedStatus) && f.Event != nil:
		return fmt.Sprintf("%v: %s got %d from %s %s", f.Err, f.Expectation, f.Event.Status, f.Event.Method, f.Event.URL)
	case f.Event != nil:
		return fmt.Sprintf("%v: %s saw %s %s after %s", f.Err, f.Expectation, f.Event.Method, f.Event.URL, f.Elapsed.Round(time.Millisecond))
	default:
		return fmt.Sprintf("%v: %s after %s", f.Err, f.Expectation, f.Elapsed.Round(time.Millisecond))
	}
}

func (f *Failure) Unwrap() error { return f.Err }
