package cdp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/mapharness/api/schemas"
)

type pendingRequest struct {
	method   string
	finished chan struct{}
	failed   bool
}

// responseTracker turns the tab's Network domain events into NetworkEvents.
// Bodies are fetched lazily, once loading has finished.
type responseTracker struct {
	page *Page

	mu       sync.Mutex
	requests map[network.RequestID]*pendingRequest
	closed   bool
}

func newResponseTracker(p *Page) *responseTracker {
	return &responseTracker{page: p, requests: make(map[network.RequestID]*pendingRequest)}
}

// handle runs on chromedp's event loop and must not issue commands.
func (t *responseTracker) handle(ev interface{}) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.closed {
			return
		}
		// A redirect reuses the request ID; the earlier hop has no body to read.
		if prev, ok := t.requests[e.RequestID]; ok {
			prev.failed = true
			close(prev.finished)
		}
		t.requests[e.RequestID] = &pendingRequest{method: e.Request.Method, finished: make(chan struct{})}

	case *network.EventResponseReceived:
		t.mu.Lock()
		req, ok := t.requests[e.RequestID]
		closed := t.closed
		t.mu.Unlock()
		if closed || e.Response == nil {
			return
		}
		method := "GET"
		var body schemas.BodyFunc
		if ok {
			method = req.method
			body = t.bodyFunc(e.RequestID, req)
		}
		t.page.hub.Publish(schemas.NetworkEvent{
			RequestID:    string(e.RequestID),
			URL:          e.Response.URL,
			Method:       method,
			Status:       int(e.Response.Status),
			StatusText:   e.Response.StatusText,
			MimeType:     e.Response.MimeType,
			ResourceType: e.Type.String(),
			Timestamp:    time.Now(),
			Body:         body,
		})

	case *network.EventLoadingFinished:
		t.finish(e.RequestID, false)
	case *network.EventLoadingFailed:
		t.finish(e.RequestID, true)
	}
}

func (t *responseTracker) finish(id network.RequestID, failed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	req, ok := t.requests[id]
	if !ok {
		return
	}
	delete(t.requests, id)
	req.failed = failed
	close(req.finished)
}

func (t *responseTracker) bodyFunc(id network.RequestID, req *pendingRequest) schemas.BodyFunc {
	return func(ctx context.Context) ([]byte, error) {
		select {
		case <-req.finished:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		t.mu.Lock()
		failed := req.failed
		t.mu.Unlock()
		if failed {
			return nil, schemas.ErrBodyUnavailable
		}

		var body []byte
		err := t.page.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
			b, err := network.GetResponseBody(id).Do(c)
			body = b
			return err
		}))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", schemas.ErrBodyUnavailable, err)
		}
		return body, nil
	}
}

// close releases body readers still waiting on unfinished requests.
func (t *responseTracker) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for id, req := range t.requests {
		req.failed = true
		close(req.finished)
		delete(t.requests, id)
	}
}
