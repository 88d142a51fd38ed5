// Package realtime pushes live poll updates to WebSocket clients.
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat, in seconds.
	PingInterval = 30
	PongWait     = 60
)

// Bounds of the backoff between attempts to subscribe a room that failed to subscribe.
const (
	subscribeRetryMin = time.Second
	subscribeRetryMax = 30 * time.Second
)

// EventViewers carries the number of clients watching a poll on this instance.
const EventViewers = "viewers"

// Broker fans events out to every instance. RedisPubSub implements it.
type Broker interface {
	Publish(ctx context.Context, pollID int64, event string, data []byte) error
	Subscribe(pollID int64, handler func(event string, data []byte)) (cancel func(), err error)
}

// Hub maintains poll_id -> set of connections and broadcasts messages.
// With a Broker, events go through Redis and every instance (this one included) delivers them locally.
type Hub struct {
	rooms       map[int64]map[string]*Client
	subs        map[int64]func()
	subscribing map[int64]bool
	closed      bool
	mu          sync.RWMutex
	broker      Broker
	retryMin    time.Duration
	logger      *zap.Logger
}

// NewHub creates a hub. broker may be nil for a single instance.
func NewHub(broker Broker, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		rooms:       make(map[int64]map[string]*Client),
		subs:        make(map[int64]func()),
		subscribing: make(map[int64]bool),
		broker:      broker,
		retryMin:    subscribeRetryMin,
		logger:      logger,
	}
}

// Register adds a client to its poll room, subscribing to the room's channel for the first client.
// The subscription is made outside the lock; a failed one is retried with backoff while the room has clients.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.rooms[c.PollID] == nil {
		h.rooms[c.PollID] = make(map[string]*Client)
	}
	h.rooms[c.PollID][c.ID] = c
	count := len(h.rooms[c.PollID])
	subscribe := h.broker != nil && !h.closed && h.subs[c.PollID] == nil && !h.subscribing[c.PollID]
	if subscribe {
		h.subscribing[c.PollID] = true
	}
	h.mu.Unlock()

	if subscribe && !h.subscribeRoom(c.PollID) {
		go h.retrySubscribe(c.PollID)
	}
	h.Broadcast(c.PollID, EventViewers, map[string]int{"count": count})
	h.logger.Debug("client joined poll", zap.String("client_id", c.ID), zap.Int64("poll_id", c.PollID))
}

// subscribeRoom makes one subscription attempt. It reports false only when the attempt failed
// and the room still has clients.
func (h *Hub) subscribeRoom(pollID int64) bool {
	cancel, err := h.broker.Subscribe(pollID, func(event string, data []byte) {
		h.Broadcast(pollID, event, json.RawMessage(data))
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || len(h.rooms[pollID]) == 0 {
		delete(h.subscribing, pollID)
		if err == nil {
			cancel()
		}
		return true
	}
	if err != nil {
		h.logger.Warn("subscribe poll room failed", zap.Int64("poll_id", pollID), zap.Error(err))
		return false
	}
	delete(h.subscribing, pollID)
	h.subs[pollID] = cancel
	return true
}

func (h *Hub) retrySubscribe(pollID int64) {
	backoff := h.retryMin
	for {
		time.Sleep(backoff)
		if h.subscribeRoom(pollID) {
			return
		}
		if backoff *= 2; backoff > subscribeRetryMax {
			backoff = subscribeRetryMax
		}
	}
}

// Unregister removes a client and closes its send channel. The room's subscription ends with its last client.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	var count int
	if m, ok := h.rooms[c.PollID]; ok {
		if _, ok := m[c.ID]; ok {
			delete(m, c.ID)
			close(c.send)
		}
		count = len(m)
		if count == 0 {
			delete(h.rooms, c.PollID)
			if cancel, ok := h.subs[c.PollID]; ok {
				cancel()
				delete(h.subs, c.PollID)
			}
		}
	}
	h.mu.Unlock()

	if count > 0 {
		h.Broadcast(c.PollID, EventViewers, map[string]int{"count": count})
	}
	h.logger.Debug("client left poll", zap.String("client_id", c.ID), zap.Int64("poll_id", c.PollID))
}

// Broadcast sends a message to the clients of a poll connected to this instance.
func (h *Hub) Broadcast(pollID int64, event string, payload interface{}) {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		var err error
		if data, err = json.Marshal(payload); err != nil {
			h.logger.Warn("encode event failed", zap.String("event", event), zap.Error(err))
			return
		}
	}
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.rooms[pollID] {
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}

// PublishPollEvent delivers an event to every client watching the poll on any instance.
func (h *Hub) PublishPollEvent(ctx context.Context, pollID int64, event string, payload interface{}) error {
	if h.broker == nil {
		h.Broadcast(pollID, event, payload)
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return h.broker.Publish(ctx, pollID, event, data)
}

// Viewers returns the number of clients watching a poll on this instance.
func (h *Hub) Viewers(pollID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[pollID])
}

// Close ends every room subscription and stops pending retries.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, cancel := range h.subs {
		cancel()
		delete(h.subs, id)
	}
}
