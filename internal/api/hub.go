package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/SaiMyBB/Matter-Gateway/internal/device"
	"github.com/SaiMyBB/Matter-Gateway/internal/infrastructure/config"
	"github.com/SaiMyBB/Matter-Gateway/internal/infrastructure/logging"
)

// Subscriber is one live consumer of gateway events.
//
// Send must not block: a subscriber that cannot accept a message returns an
// error and is dropped by the hub.
type Subscriber interface {
	ID() string
	Send(msg []byte) error
	Close() error
}

var (
	// ErrSubscriberClosed is returned by Send after Close.
	ErrSubscriberClosed = errors.New("api: subscriber closed")

	// ErrSendBufferFull is returned by Send when the outbound buffer is full.
	ErrSendBufferFull = errors.New("api: subscriber send buffer full")
)

// Hub fans messages out to every connected subscriber.
//
// Broadcasts are serialised, so all subscribers observe broadcasts in the
// same relative order. Subscribers whose Send fails during a broadcast are
// removed and closed once the pass completes.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	subscribers map[string]Subscriber
	mu          sync.RWMutex

	broadcastMu sync.Mutex

	onCount func(n int)
}

// NewHub creates a new subscriber hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Hub{
		cfg:         cfg,
		logger:      logger,
		subscribers: make(map[string]Subscriber),
	}
}

// SetCountObserver installs a callback receiving the subscriber count after
// every change. Call before subscribers connect.
func (h *Hub) SetCountObserver(fn func(n int)) {
	h.onCount = fn
}

// Run blocks until ctx is cancelled, then closes every subscriber.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Connect adds a subscriber. Connecting the same ID twice replaces the
// earlier subscriber without closing it.
func (h *Hub) Connect(sub Subscriber) {
	h.mu.Lock()
	h.subscribers[sub.ID()] = sub
	n := len(h.subscribers)
	h.mu.Unlock()

	h.logger.Debug("subscriber connected", "id", sub.ID(), "clients", n)
	h.countChanged(n)
}

// Disconnect removes a subscriber and closes it. Unknown subscribers are
// ignored.
func (h *Hub) Disconnect(sub Subscriber) {
	if !h.remove(sub) {
		return
	}
	sub.Close() //nolint:errcheck // Best-effort close of a departing subscriber
}

// remove deletes sub if it is the registered subscriber for its ID.
func (h *Hub) remove(sub Subscriber) bool {
	h.mu.Lock()
	current, ok := h.subscribers[sub.ID()]
	if ok && current == sub {
		delete(h.subscribers, sub.ID())
	}
	n := len(h.subscribers)
	h.mu.Unlock()

	if !ok || current != sub {
		return false
	}
	h.logger.Debug("subscriber disconnected", "id", sub.ID(), "clients", n)
	h.countChanged(n)
	return true
}

// SendTo marshals v and delivers it to one subscriber.
func (h *Hub) SendTo(sub Subscriber, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	return sub.Send(data)
}

// Broadcast marshals v once and delivers it to every subscriber.
func (h *Hub) Broadcast(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "error", err)
		return
	}

	h.broadcastMu.Lock()
	defer h.broadcastMu.Unlock()

	h.mu.RLock()
	subs := make([]Subscriber, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	var failed []Subscriber
	for _, sub := range subs {
		if err := sub.Send(data); err != nil {
			failed = append(failed, sub)
			h.logger.Debug("broadcast delivery failed", "id", sub.ID(), "error", err)
		}
	}
	for _, sub := range failed {
		h.Disconnect(sub)
	}
}

// Publish implements device.Publisher: every accepted write is broadcast as
// {"event":"update","dev":...,"attr":...,"val":...}.
func (h *Hub) Publish(_ context.Context, ev device.Event) {
	h.Broadcast(ev)
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

func (h *Hub) countChanged(n int) {
	if h.onCount != nil {
		h.onCount(n)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	subs := h.subscribers
	h.subscribers = make(map[string]Subscriber)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.Close() //nolint:errcheck // Shutdown path
	}
	h.countChanged(0)
}
