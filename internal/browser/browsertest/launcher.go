package browsertest

import (
	"context"
	"sync"
	"testing"

	"github.com/xkilldash9x/mapharness/internal/browser"
)

// Launcher hands out fake pages. Setup, when set, populates each new page.
type Launcher struct {
	tb    testing.TB
	Setup func(p *Page)

	mu     sync.Mutex
	pages  []*Page
	closed bool
}

var _ browser.Launcher = (*Launcher)(nil)

// NewLauncher returns a launcher bound to the test.
func NewLauncher(tb testing.TB) *Launcher {
	return &Launcher{tb: tb}
}

func (l *Launcher) NewPage(ctx context.Context) (browser.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, browser.ErrPageClosed
	}
	p := NewPage(l.tb)
	if l.Setup != nil {
		l.Setup(p)
	}
	l.pages = append(l.pages, p)
	return p, nil
}

// Pages returns every page opened so far.
func (l *Launcher) Pages() []*Page {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Page(nil), l.pages...)
}

// Closed reports whether Close was called.
func (l *Launcher) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *Launcher) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	for _, p := range l.pages {
		_ = p.Close()
	}
	return nil
}
