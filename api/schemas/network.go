package schemas

import (
	"context"
	"errors"
	"time"
)

// ErrBodyUnavailable is returned by a NetworkEvent body accessor when the
// driver could not (or was never asked to) retain the response payload.
var ErrBodyUnavailable = errors.New("response body unavailable")

// BodyFunc lazily retrieves a response payload. Drivers only fetch bodies on
// demand, after the response has finished loading.
type BodyFunc func(ctx context.Context) ([]byte, error)

// NetworkEvent is a single observed HTTP response, as reported by the driver.
// The harness never issues these requests itself.
type NetworkEvent struct {
	RequestID    string    `json:"requestId"`
	URL          string    `json:"url"`
	Method       string    `json:"method"`
	Status       int       `json:"status"`
	StatusText   string    `json:"statusText,omitempty"`
	MimeType     string    `json:"mimeType,omitempty"`
	ResourceType string    `json:"resourceType,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	Body         BodyFunc  `json:"-"`
}

// Successful reports whether the status falls inside the 2xx class.
func (e NetworkEvent) Successful() bool {
	return e.Status >= 200 && e.Status < 300
}

// ReadBody retrieves the payload, or ErrBodyUnavailable when the driver
// attached no accessor.
func (e NetworkEvent) ReadBody(ctx context.Context) ([]byte, error) {
	if e.Body == nil {
		return nil, ErrBodyUnavailable
	}
	return e.Body(ctx)
}
