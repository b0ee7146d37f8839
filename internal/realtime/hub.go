// ABOUTME: In-process fan-out broadcaster implementing Channel and Publisher
// ABOUTME: Backs local sqlite mode and tests with the same lifecycle as a network transport

package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/2389/resale-inbox/internal/envelope"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// ErrHubClosed is returned by Subscribe after Close.
var ErrHubClosed = errors.New("hub closed")

// Hub provides in-memory pub/sub for new message notifications. Publishing
// round-trips the payload through the envelope codec so subscribers see
// exactly what a network transport would deliver.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]*hubSubscription // topic -> subID -> sub
	closed      bool
	logger      *slog.Logger
}

type hubSubscription struct {
	hub      *Hub
	topic    string
	id       string
	handlers Handlers
	ch       chan envelope.NewMessage
	hubGone  atomic.Bool

	// done is closed together with ch and releases the ctx watcher.
	done chan struct{}
}

// NewHub creates a hub. Pass nil logger for default.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subscribers: make(map[string]map[string]*hubSubscription),
		logger:      logger.With("component", "realtime.hub"),
	}
}

// Subscribe registers handlers for topic. StatusSubscribed is reported before
// any broadcast. The subscription is removed when ctx is cancelled.
func (h *Hub) Subscribe(ctx context.Context, topic string, handlers Handlers) (Subscription, error) {
	sub := &hubSubscription{
		hub:      h,
		topic:    topic,
		id:       uuid.New().String(),
		handlers: handlers,
		ch:       make(chan envelope.NewMessage, subscriberBufferSize),
		done:     make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	if _, ok := h.subscribers[topic]; !ok {
		h.subscribers[topic] = make(map[string]*hubSubscription)
	}
	h.subscribers[topic][sub.id] = sub
	h.mu.Unlock()

	h.logger.Debug("subscriber added", "topic", topic, "sub_id", sub.id)

	go sub.deliver()
	go func() {
		select {
		case <-ctx.Done():
			h.unsubscribe(topic, sub.id)
		case <-sub.done:
		}
	}()

	return sub, nil
}

func (s *hubSubscription) deliver() {
	s.handlers.status(StatusSubscribed, nil)
	for msg := range s.ch {
		s.handlers.broadcast(msg)
	}
	if s.hubGone.Load() {
		s.handlers.status(StatusClosed, ErrHubClosed)
	}
}

// Close implements Subscription.
func (s *hubSubscription) Close() error {
	s.hub.unsubscribe(s.topic, s.id)
	return nil
}

// Publish sends msg to all subscribers of topic. Non-blocking: messages are
// dropped for subscribers whose buffers are full.
func (h *Hub) Publish(_ context.Context, topic string, msg envelope.NewMessage) error {
	payload, err := envelope.Encode(msg)
	if err != nil {
		return err
	}
	decoded, err := envelope.Decode(envelope.EventNewMessage, payload)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, sub := range h.subscribers[topic] {
		select {
		case sub.ch <- decoded:
		default:
			h.logger.Debug("dropped message for slow subscriber",
				"topic", topic,
				"sub_id", id,
				"conversation_id", decoded.ConversationID)
		}
	}
	return nil
}

// SubscriberCount returns the number of live subscriptions on topic.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[topic])
}

func (h *Hub) unsubscribe(topic, subID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subscribers[topic]
	if !ok {
		return
	}
	sub, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(sub.ch)
	close(sub.done)
	if len(subs) == 0 {
		delete(h.subscribers, topic)
	}

	h.logger.Debug("subscriber removed", "topic", topic, "sub_id", subID)
}

// Close shuts down the hub. Every live subscriber is told StatusClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true

	for topic, subs := range h.subscribers {
		for subID, sub := range subs {
			sub.hubGone.Store(true)
			close(sub.ch)
			close(sub.done)
			delete(subs, subID)
		}
		delete(h.subscribers, topic)
	}

	h.logger.Debug("hub closed")
}
