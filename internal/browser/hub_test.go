package browser_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/mapharness/api/schemas"
	"github.com/xkilldash9x/mapharness/internal/browser"
	"github.com/xkilldash9x/mapharness/internal/browser/browsertest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestNetworkHub_SubscribePublishUnsubscribe(t *testing.T) {
	hub := browser.NewNetworkHub(zaptest.NewLogger(t))
	defer hub.Close()

	var got []string
	unsubscribe := hub.Subscribe(func(ev schemas.NetworkEvent) { got = append(got, ev.URL) })
	assert.Equal(t, 1, hub.SubscriberCount())

	hub.Publish(schemas.NetworkEvent{URL: "/a"})
	unsubscribe()
	unsubscribe()
	hub.Publish(schemas.NetworkEvent{URL: "/b"})

	assert.Equal(t, []string{"/a"}, got)
	assert.Zero(t, hub.SubscriberCount())
}

func TestNetworkHub_ClosedHubIgnoresEverything(t *testing.T) {
	hub := browser.NewNetworkHub(zaptest.NewLogger(t))
	hub.Subscribe(func(schemas.NetworkEvent) { t.Error("no delivery expected after close") })
	hub.Close()
	hub.Close()

	hub.Publish(schemas.NetworkEvent{URL: "/late"})
	unsubscribe := hub.Subscribe(func(schemas.NetworkEvent) {})
	unsubscribe()
	assert.Zero(t, hub.SubscriberCount())
}

func TestNetworkHub_ConcurrentPublishers(t *testing.T) {
	hub := browser.NewNetworkHub(zaptest.NewLogger(t))

	var received atomic.Int64
	for i := 0; i < 5; i++ {
		hub.Subscribe(func(schemas.NetworkEvent) { received.Add(1) })
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hub.Publish(schemas.NetworkEvent{URL: "/tiles"})
		}()
	}
	wg.Wait()
	hub.Close()

	assert.Equal(t, int64(100), received.Load())
}

func TestPoll(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeds once condition holds", func(t *testing.T) {
		calls := 0
		err := browser.Poll(ctx, time.Second, time.Millisecond, func(context.Context) (bool, error) {
			calls++
			return calls == 3, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("times out", func(t *testing.T) {
		err := browser.Poll(ctx, 20*time.Millisecond, time.Millisecond, func(context.Context) (bool, error) {
			return false, nil
		})
		require.ErrorIs(t, err, browser.ErrTimeout)
	})

	t.Run("propagates condition errors", func(t *testing.T) {
		boom := errors.New("boom")
		err := browser.Poll(ctx, time.Second, time.Millisecond, func(context.Context) (bool, error) {
			return false, boom
		})
		require.ErrorIs(t, err, boom)
	})

	t.Run("parent cancellation wins", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := browser.Poll(cctx, time.Second, time.Millisecond, func(c context.Context) (bool, error) {
			return false, nil
		})
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestPause(t *testing.T) {
	start := time.Now()
	require.NoError(t, browser.Pause(context.Background(), 15*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, browser.Pause(ctx, time.Hour), context.Canceled)
}

func TestPointerGestures(t *testing.T) {
	page := browsertest.NewPage(t)
	ctx := context.Background()
	p := schemas.Point{X: 10, Y: 20}

	require.NoError(t, browser.DoubleClickAt(ctx, page.Mouse(), p))
	require.NoError(t, browser.WheelAt(ctx, page.Mouse(), p, 0, -3100))

	events := page.MouseEvents()
	require.Len(t, events, 6)

	assert.Equal(t, schemas.MouseMove, events[0].Type)
	assert.Equal(t, schemas.MousePress, events[1].Type)
	assert.Equal(t, 1, events[1].ClickCount)
	assert.Equal(t, schemas.MouseRelease, events[2].Type)
	assert.Equal(t, schemas.MousePress, events[3].Type)
	assert.Equal(t, 2, events[3].ClickCount)
	assert.Equal(t, schemas.MouseRelease, events[4].Type)
	assert.Equal(t, schemas.MouseWheel, events[5].Type)
	assert.Equal(t, -3100.0, events[5].DeltaY)
	for _, ev := range events {
		assert.Equal(t, p.X, ev.X)
		assert.Equal(t, p.Y, ev.Y)
	}
}
