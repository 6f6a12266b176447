package browser

import (
	"context"

	"github.com/xkilldash9x/mapharness/api/schemas"
)

// Page is a single browsing context driven by the harness. Implementations
// wrap a concrete automation driver; callers never see driver types.
type Page interface {
	// ID uniquely identifies the page for logging.
	ID() string
	Goto(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	GoBack(ctx context.Context) error
	URL(ctx context.Context) (string, error)

	// Locate returns a lazy locator; nothing is resolved until it is used.
	Locate(q Query) *Locator

	Mouse() Mouse
	Keyboard() Keyboard
	// Network exposes the responses this page observes.
	Network() NetworkSource

	// ExpectPopup runs trigger and returns the browsing context it opened.
	ExpectPopup(ctx context.Context, trigger func(context.Context) error) (Page, error)
	// ExpectDownload runs trigger and returns the completed download it started.
	ExpectDownload(ctx context.Context, trigger func(context.Context) error) (Download, error)

	// ClearCookies drops every cookie of the page's browser context.
	ClearCookies(ctx context.Context) error
	// ClearStorage empties localStorage and sessionStorage of the current origin.
	ClearStorage(ctx context.Context) error
	StorageState(ctx context.Context) (schemas.StorageState, error)
	// RestoreStorageState installs cookies and localStorage. The page must
	// already be on st.Origin for localStorage to land in the right place.
	RestoreStorageState(ctx context.Context, st schemas.StorageState) error

	Close() error
}

// Mouse dispatches raw pointer events at absolute viewport coordinates.
type Mouse interface {
	Dispatch(ctx context.Context, ev schemas.MouseEventData) error
}

// Keyboard sends key presses to the focused element.
type Keyboard interface {
	// Press sends a named key such as "Enter", "Tab" or "Escape", or a single character.
	Press(ctx context.Context, key string) error
	// Type inserts text as if typed.
	Type(ctx context.Context, text string) error
}

// NetworkSource delivers observed responses. Callbacks run on the driver's
// event path and must not block.
type NetworkSource interface {
	Subscribe(fn func(schemas.NetworkEvent)) (unsubscribe func())
}

// Download is a completed file download.
type Download interface {
	SuggestedFilename() string
	// Path returns where the driver stored the file.
	Path(ctx context.Context) (string, error)
}

// Launcher opens pages on a running browser.
type Launcher interface {
	// NewPage opens a page in a fresh, isolated browser context.
	NewPage(ctx context.Context) (Page, error)
	Close() error
}
