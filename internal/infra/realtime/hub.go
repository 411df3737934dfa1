package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"campusmarket/internal/app/dto"
	"campusmarket/internal/app/outbox"
	"campusmarket/internal/domain/messaging"
)

const defaultBuffer = 64

var ErrHubClosed = errors.New("realtime: hub closed")

func ConversationTopic(id string) string { return "conversation:" + id }
func UserTopic(id string) string         { return "user:" + id }

// Subscription receives the events published on one topic until it is closed.
type Subscription struct {
	id    string
	topic string
	ch    chan dto.Event
	hub   *Hub
	once  sync.Once
}

func (s *Subscription) Topic() string { return s.topic }

// Events is closed once the subscription or the hub is closed.
func (s *Subscription) Events() <-chan dto.Event { return s.ch }

func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.remove(s) })
}

// Hub fans domain events out to in-process subscribers. Slow subscribers lose events
// rather than blocking publishers.
type Hub struct {
	logger *slog.Logger
	buffer int

	mu     sync.RWMutex
	topics map[string]map[string]*Subscription
	closed bool
}

func NewHub(logger *slog.Logger, buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{logger: logger, buffer: buffer, topics: make(map[string]map[string]*Subscription)}
}

func (h *Hub) Subscribe(topic string) (*Subscription, error) {
	sub := &Subscription{id: uuid.NewString(), topic: topic, ch: make(chan dto.Event, h.buffer), hub: h}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}
	subs := h.topics[topic]
	if subs == nil {
		subs = make(map[string]*Subscription)
		h.topics[topic] = subs
	}
	subs[sub.id] = sub
	return sub, nil
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[sub.topic]
	if !ok {
		return
	}
	if _, ok := subs[sub.id]; !ok {
		return
	}
	delete(subs, sub.id)
	if len(subs) == 0 {
		delete(h.topics, sub.topic)
	}
	close(sub.ch)
}

// Subscribers reports how many subscriptions a topic currently has.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Broadcast delivers ev to every subscriber of the given topics.
func (h *Hub) Broadcast(ev dto.Event, topics ...string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for _, topic := range topics {
		for _, sub := range h.topics[topic] {
			select {
			case sub.ch <- ev:
			default:
				if h.logger != nil {
					h.logger.Warn("realtime subscriber lagging, event dropped", "topic", topic, "type", ev.Type)
				}
			}
		}
	}
}

// Publish implements outbox.Publisher so flushed records reach connected clients.
func (h *Hub) Publish(ctx context.Context, rec outbox.EventRecord) error {
	ev, topics, err := Route(rec)
	if err != nil {
		return err
	}
	if len(topics) == 0 {
		return nil
	}
	h.Broadcast(ev, topics...)
	return nil
}

// Close ends every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for topic, subs := range h.topics {
		for _, sub := range subs {
			close(sub.ch)
		}
		delete(h.topics, topic)
	}
}

// Route turns an outbox record into a feed frame and the topics it belongs to.
// Unknown record names route nowhere.
func Route(rec outbox.EventRecord) (dto.Event, []string, error) {
	switch rec.Name {
	case messaging.EventMessageSent, messaging.EventMessageUpdated:
		payload, err := outbox.DecodePayload[messaging.MessageEvent](rec)
		if err != nil {
			return dto.Event{}, nil, err
		}
		msg := dto.MapMessage(payload.Message)
		topics := []string{ConversationTopic(payload.Message.ConversationID)}
		for _, p := range payload.Participants {
			topics = append(topics, UserTopic(p))
		}
		return dto.Event{Type: rec.Name, ConversationID: payload.Message.ConversationID, Message: &msg}, topics, nil
	case messaging.EventConversationCreated, messaging.EventConversationChanged:
		payload, err := outbox.DecodePayload[messaging.ConversationEvent](rec)
		if err != nil {
			return dto.Event{}, nil, err
		}
		topics := make([]string, 0, len(payload.Participants))
		for _, p := range payload.Participants {
			topics = append(topics, UserTopic(p))
		}
		return dto.Event{Type: rec.Name, ConversationID: payload.ConversationID}, topics, nil
	default:
		return dto.Event{}, nil, nil
	}
}

var _ outbox.Publisher = (*Hub)(nil)
