package cdp

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/mapharness/api/schemas"
	"github.com/xkilldash9x/mapharness/internal/browser"
)

func newTrackedPage(t *testing.T) (*Page, *[]schemas.NetworkEvent) {
	t.Helper()
	p := &Page{hub: browser.NewNetworkHub(zaptest.NewLogger(t))}
	p.responses = newResponseTracker(p)
	var got []schemas.NetworkEvent
	p.hub.Subscribe(func(ev schemas.NetworkEvent) { got = append(got, ev) })
	return p, &got
}

func TestResponseTracker_PublishesWithRequestMethod(t *testing.T) {
	p, got := newTrackedPage(t)

	p.responses.handle(&network.EventRequestWillBeSent{
		RequestID: "r1",
		Request:   &network.Request{URL: "https://x/api/v1/user/login/", Method: "POST"},
	})
	p.responses.handle(&network.EventResponseReceived{
		RequestID: "r1",
		Type:      network.ResourceTypeXHR,
		Response:  &network.Response{URL: "https://x/api/v1/user/login/", Status: 401, StatusText: "Unauthorized"},
	})

	require.Len(t, *got, 1)
	ev := (*got)[0]
	assert.Equal(t, "POST", ev.Method)
	assert.Equal(t, 401, ev.Status)
	assert.Equal(t, "r1", ev.RequestID)
	assert.Equal(t, "XHR", ev.ResourceType)
	assert.False(t, ev.Timestamp.IsZero())
	assert.NotNil(t, ev.Body)
}

func TestResponseTracker_UnknownRequestDefaultsToGet(t *testing.T) {
	p, got := newTrackedPage(t)

	p.responses.handle(&network.EventResponseReceived{
		RequestID: "tile",
		Response:  &network.Response{URL: "https://x/tile/1/2/3.pbf", Status: 200},
	})

	require.Len(t, *got, 1)
	assert.Equal(t, "GET", (*got)[0].Method)
	_, err := (*got)[0].ReadBody(context.Background())
	assert.ErrorIs(t, err, schemas.ErrBodyUnavailable)
}

func TestResponseTracker_FailedLoadHasNoBody(t *testing.T) {
	p, got := newTrackedPage(t)

	p.responses.handle(&network.EventRequestWillBeSent{RequestID: "r2", Request: &network.Request{Method: "GET"}})
	p.responses.handle(&network.EventResponseReceived{RequestID: "r2", Response: &network.Response{URL: "https://x/a", Status: 200}})
	p.responses.handle(&network.EventLoadingFailed{RequestID: "r2"})

	require.Len(t, *got, 1)
	_, err := (*got)[0].ReadBody(context.Background())
	assert.ErrorIs(t, err, schemas.ErrBodyUnavailable)
}

func TestResponseTracker_BodyWaitHonorsContext(t *testing.T) {
	p, got := newTrackedPage(t)

	p.responses.handle(&network.EventRequestWillBeSent{RequestID: "r3", Request: &network.Request{Method: "GET"}})
	p.responses.handle(&network.EventResponseReceived{RequestID: "r3", Response: &network.Response{URL: "https://x/b", Status: 200}})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := (*got)[0].ReadBody(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestResponseTracker_CloseReleasesWaitersAndStopsPublishing(t *testing.T) {
	p, got := newTrackedPage(t)

	p.responses.handle(&network.EventRequestWillBeSent{RequestID: "r4", Request: &network.Request{Method: "GET"}})
	p.responses.handle(&network.EventResponseReceived{RequestID: "r4", Response: &network.Response{URL: "https://x/c", Status: 200}})
	p.responses.close()

	_, err := (*got)[0].ReadBody(context.Background())
	assert.ErrorIs(t, err, schemas.ErrBodyUnavailable)

	p.responses.handle(&network.EventResponseReceived{RequestID: "r5", Response: &network.Response{URL: "https://x/d", Status: 200}})
	assert.Len(t, *got, 1)
}

func TestDownloadTracker(t *testing.T) {
	t.Run("completed download resolves to its GUID path", func(t *testing.T) {
		tr := newDownloadTracker("frame-1", "/tmp/dl")
		w := tr.expect()
		defer tr.stopExpecting(w)

		tr.handle(&cdpbrowser.EventDownloadWillBegin{FrameID: "frame-1", GUID: "g1", SuggestedFilename: "buildings.csv"})
		d := <-w
		assert.Equal(t, "buildings.csv", d.SuggestedFilename())

		tr.handle(&cdpbrowser.EventDownloadProgress{GUID: "g1", State: cdpbrowser.DownloadProgressStateInProgress})
		select {
		case <-d.done:
			t.Fatal("in-progress event must not complete the download")
		default:
		}

		tr.handle(&cdpbrowser.EventDownloadProgress{GUID: "g1", State: cdpbrowser.DownloadProgressStateCompleted})
		path, err := d.Path(context.Background())
		require.NoError(t, err)
		assert.Equal(t, filepath.Join("/tmp/dl", "g1"), path)
	})

	t.Run("other frames are ignored", func(t *testing.T) {
		tr := newDownloadTracker("frame-1", "/tmp/dl")
		w := tr.expect()
		tr.handle(&cdpbrowser.EventDownloadWillBegin{FrameID: "frame-2", GUID: "g2"})
		select {
		case <-w:
			t.Fatal("download from another frame delivered")
		default:
		}
	})

	t.Run("canceled download reports no download", func(t *testing.T) {
		tr := newDownloadTracker("frame-1", "/tmp/dl")
		w := tr.expect()
		tr.handle(&cdpbrowser.EventDownloadWillBegin{FrameID: "frame-1", GUID: "g3", SuggestedFilename: "x.csv"})
		d := <-w
		tr.handle(&cdpbrowser.EventDownloadProgress{GUID: "g3", State: cdpbrowser.DownloadProgressStateCanceled})
		_, err := d.Path(context.Background())
		assert.ErrorIs(t, err, browser.ErrNoDownload)
	})
}

func TestNamedKeysCoverFormNavigation(t *testing.T) {
	for _, k := range []string{"Enter", "Tab", "Escape", "Backspace"} {
		_, ok := namedKeys[k]
		assert.True(t, ok, k)
	}
}
