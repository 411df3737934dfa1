package messaging

import "time"

const (
	EventMessageSent         = "message.sent"
	EventMessageUpdated      = "message.updated"
	EventConversationCreated = "conversation.created"
	EventConversationChanged = "conversation.changed"
)

// MessageEvent announces a new or changed message to both participants.
type MessageEvent struct {
	Name         string    `json:"name"`
	Message      Message   `json:"message"`
	Participants []string  `json:"participants"`
	At           time.Time `json:"at"`
}

func NewMessageSentEvent(conv *Conversation, msg Message) MessageEvent {
	return MessageEvent{Name: EventMessageSent, Message: msg.Clone(), Participants: conv.Participants(), At: msg.CreatedAt}
}

func NewMessageUpdatedEvent(conv *Conversation, msg Message, at time.Time) MessageEvent {
	return MessageEvent{Name: EventMessageUpdated, Message: msg.Clone(), Participants: conv.Participants(), At: at.UTC()}
}

func (e MessageEvent) EventName() string     { return e.Name }
func (e MessageEvent) AggregateID() string   { return e.Message.ConversationID }
func (e MessageEvent) OccurredAt() time.Time { return e.At }

// ConversationEvent announces lifecycle changes of a thread.
type ConversationEvent struct {
	Name           string    `json:"name"`
	ConversationID string    `json:"conversation_id"`
	ListingID      string    `json:"listing_id,omitempty"`
	ActorID        string    `json:"actor_id"`
	Participants   []string  `json:"participants"`
	At             time.Time `json:"at"`
}

func NewConversationCreatedEvent(conv *Conversation, actorID string) ConversationEvent {
	return ConversationEvent{
		Name:           EventConversationCreated,
		ConversationID: conv.ID,
		ListingID:      conv.ListingID,
		ActorID:        actorID,
		Participants:   conv.Participants(),
		At:             conv.CreatedAt,
	}
}

func NewConversationChangedEvent(conv *Conversation, actorID string, at time.Time) ConversationEvent {
	return ConversationEvent{
		Name:           EventConversationChanged,
		ConversationID: conv.ID,
		ListingID:      conv.ListingID,
		ActorID:        actorID,
		Participants:   conv.Participants(),
		At:             at.UTC(),
	}
}

func (e ConversationEvent) EventName() string     { return e.Name }
func (e ConversationEvent) AggregateID() string   { return e.ConversationID }
func (e ConversationEvent) OccurredAt() time.Time { return e.At }
