package browser

import "errors"

var (
	// ErrElementNotFound means no element matched, or the match never became
	// visible or enabled within its wait budget.
	ErrElementNotFound = errors.New("element not found")
	// ErrTimeout is returned by Poll when the condition is still false at the deadline.
	ErrTimeout = errors.New("condition not met before timeout")
	// ErrPageClosed is returned by operations on a page that was already closed.
	ErrPageClosed = errors.New("page closed")
	// ErrNoPopup means the trigger ran but no new browsing context opened.
	ErrNoPopup = errors.New("no popup opened")
	// ErrNoDownload means the trigger ran but no download started or completed.
	ErrNoDownload = errors.New("no download observed")
)
