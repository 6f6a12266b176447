package browser

import (
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/mapharness/api/schemas"
)

// NetworkHub fans observed responses out to subscribers. Drivers publish from
// their event loop; delivery is a synchronous callback, so subscribers must
// only record and signal, never block.
type NetworkHub struct {
	logger *zap.Logger

	mu          sync.RWMutex
	subscribers map[uint64]func(schemas.NetworkEvent)
	nextID      uint64

	// activePublishes tracks in-flight deliveries so Close can drain them.
	activePublishes sync.WaitGroup
	closeOnce       sync.Once
	closed          bool
}

// NewNetworkHub initializes an empty hub.
func NewNetworkHub(logger *zap.Logger) *NetworkHub {
	return &NetworkHub{
		logger:      logger.Named("network_hub"),
		subscribers: make(map[uint64]func(schemas.NetworkEvent)),
	}
}

// Subscribe registers fn and returns a function that removes it. The removal
// is idempotent. Subscribing to a closed hub returns a no-op unsubscribe.
func (h *NetworkHub) Subscribe(fn func(schemas.NetworkEvent)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return func() {}
	}

	h.nextID++
	id := h.nextID
	h.subscribers[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers, id)
			h.mu.Unlock()
		})
	}
}

// Publish delivers ev to every current subscriber.
func (h *NetworkHub) Publish(ev schemas.NetworkEvent) {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return
	}
	h.activePublishes.Add(1)
	subs := make([]func(schemas.NetworkEvent), 0, len(h.subscribers))
	for _, fn := range h.subscribers {
		subs = append(subs, fn)
	}
	h.mu.RUnlock()
	defer h.activePublishes.Done()

	for _, fn := range subs {
		fn(ev)
	}
}

// SubscriberCount reports the number of live subscriptions.
func (h *NetworkHub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close stops delivery and drops all subscribers once in-flight publishes finish.
func (h *NetworkHub) Close() {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.closed = true
		h.mu.Unlock()

		h.activePublishes.Wait()

		h.mu.Lock()
		dropped := len(h.subscribers)
		h.subscribers = make(map[uint64]func(schemas.NetworkEvent))
		h.mu.Unlock()
		h.logger.Debug("Network hub closed.", zap.Int("dropped_subscribers", dropped))
	})
}
