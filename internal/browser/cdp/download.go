package cdp

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"

	"github.com/xkilldash9x/mapharness/internal/browser"
)

// download is a file Chrome saved under the launcher's download directory,
// named by its GUID.
type download struct {
	guid string
	name string
	dir  string

	done     chan struct{}
	canceled bool
}

func (d *download) SuggestedFilename() string { return d.name }

func (d *download) Path(ctx context.Context) (string, error) {
	select {
	case <-d.done:
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %s still in progress: %v", browser.ErrNoDownload, d.name, ctx.Err())
	}
	if d.canceled {
		return "", fmt.Errorf("%w: %s was canceled", browser.ErrNoDownload, d.name)
	}
	return filepath.Join(d.dir, d.guid), nil
}

type downloadTracker struct {
	frame cdp.FrameID
	dir   string

	mu      sync.Mutex
	active  map[string]*download
	waiters map[chan *download]struct{}
}

func newDownloadTracker(frame cdp.FrameID, dir string) *downloadTracker {
	return &downloadTracker{
		frame:   frame,
		dir:     dir,
		active:  make(map[string]*download),
		waiters: make(map[chan *download]struct{}),
	}
}

// expect registers interest in the next download the frame starts.
func (t *downloadTracker) expect() chan *download {
	ch := make(chan *download, 1)
	t.mu.Lock()
	t.waiters[ch] = struct{}{}
	t.mu.Unlock()
	return ch
}

func (t *downloadTracker) stopExpecting(ch chan *download) {
	t.mu.Lock()
	delete(t.waiters, ch)
	t.mu.Unlock()
}

func (t *downloadTracker) handle(ev interface{}) {
	switch e := ev.(type) {
	case *cdpbrowser.EventDownloadWillBegin:
		if e.FrameID != t.frame {
			return
		}
		d := &download{guid: e.GUID, name: e.SuggestedFilename, dir: t.dir, done: make(chan struct{})}
		t.mu.Lock()
		t.active[e.GUID] = d
		for ch := range t.waiters {
			select {
			case ch <- d:
			default:
			}
		}
		t.mu.Unlock()

	case *cdpbrowser.EventDownloadProgress:
		if e.State != cdpbrowser.DownloadProgressStateCompleted && e.State != cdpbrowser.DownloadProgressStateCanceled {
			return
		}
		t.mu.Lock()
		defer t.mu.Unlock()
		d, ok := t.active[e.GUID]
		if !ok {
			return
		}
		delete(t.active, e.GUID)
		d.canceled = e.State == cdpbrowser.DownloadProgressStateCanceled
		close(d.done)
	}
}
