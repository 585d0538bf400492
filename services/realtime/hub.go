// Package realtime delivers document change events: an in-process Hub implementing core.Feed,
// a DocumentStore decorator publishing to it, and a WebSocket bridge for remote consumers.
package realtime

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-live/core"
)

var errHubClosed = errors.New("hub closed")

// Hub is an in-process core.Feed. Handlers run synchronously, in publish order.
type Hub struct {
	logger core.Logger

	mu     sync.RWMutex
	subs   map[string]map[*subscription]struct{} // {channel: {sub}}
	closed bool

	pubMu sync.Mutex
}

var _ core.Feed = (*Hub)(nil)

func NewHub(logger core.Logger) *Hub {
	return &Hub{
		logger: logger,
		subs:   make(map[string]map[*subscription]struct{}),
	}
}

type subscription struct {
	hub     *Hub
	channel string
	handler func(core.FeedEvent)
	once    sync.Once
}

func (s *subscription) Close() error {
	s.once.Do(func() { s.hub.unsubscribe(s) })
	return nil
}

func (h *Hub) Subscribe(channel string, handler func(core.FeedEvent)) (core.Subscription, error) {
	if handler == nil {
		return nil, errors.New("nil handler")
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, errHubClosed
	}
	sub := &subscription{hub: h, channel: channel, handler: handler}
	subs, ok := h.subs[channel]
	if !ok {
		subs = make(map[*subscription]struct{})
		h.subs[channel] = subs
	}
	subs[sub] = struct{}{}
	return sub, nil
}

func (h *Hub) unsubscribe(sub *subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.subs[sub.channel]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.subs, sub.channel)
		}
	}
}

// Publish delivers evt to the current subscribers of evt.Channel.
// A panicking handler is logged and does not prevent delivery to the others.
func (h *Hub) Publish(evt core.FeedEvent) {
	h.pubMu.Lock()
	defer h.pubMu.Unlock()

	h.mu.RLock()
	subs := make([]*subscription, 0, len(h.subs[evt.Channel]))
	for sub := range h.subs[evt.Channel] {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		h.deliver(sub, evt)
	}
}

func (h *Hub) deliver(sub *subscription, evt core.FeedEvent) {
	defer func() {
		if r := recover(); r != nil {
			err := errors.Errorf("%v", r)
			h.logger.Error(fmt.Sprintf("realtime: handler panicked on %s: %v", evt.Channel, r), err)
		}
	}()
	sub.handler(evt)
}

// Subscribers returns the number of subscriptions to channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[channel])
}

// Close drops every subscription; later Subscribe calls fail.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	h.subs = make(map[string]map[*subscription]struct{})
	h.mu.Unlock()
}
