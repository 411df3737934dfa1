package chat

import (
	"context"
	"errors"
	"strings"

	"campusmarket/internal/app/commands"
	"campusmarket/internal/app/dto"
	"campusmarket/internal/domain/listings"
	"campusmarket/internal/domain/messaging"
	"campusmarket/internal/domain/shared/events"
)

const (
	startConversationKey   = "chat.conversations.start"
	archiveConversationKey = "chat.conversations.archive"
	deleteConversationKey  = "chat.conversations.delete"
	addItemReferenceKey    = "chat.conversations.items.add"
	sendMessageKey         = "chat.messages.send"
	setLikeKey             = "chat.messages.like"
	markReadKey            = "chat.messages.read"
)

var ErrListingUnavailable = errors.New("chat: listing is not available")

// StartConversationCommand is the "I'm interested" action on a listing.
type StartConversationCommand struct {
	UserID    string `validate:"required"`
	ListingID string `validate:"required"`
}

func (StartConversationCommand) Key() string       { return startConversationKey }
func (c StartConversationCommand) ActorID() string { return c.UserID }

type StartConversationHandler struct{ *Deps }

func (h StartConversationHandler) Handle(ctx context.Context, cmd StartConversationCommand) (dto.Conversation, error) {
	listing, err := h.Listings.ByID(ctx, listings.ListingID(cmd.ListingID))
	if err != nil {
		return dto.Conversation{}, err
	}
	if listing.Status != listings.StatusActive {
		return dto.Conversation{}, ErrListingUnavailable
	}
	if string(listing.Seller) == cmd.UserID {
		return dto.Conversation{}, messaging.ErrSelfConversation
	}
	conv, created, err := h.Conversations.GetOrCreateConversation(ctx, string(listing.ID), cmd.UserID, string(listing.Seller))
	if err != nil {
		return dto.Conversation{}, err
	}
	if created {
		ref := messaging.ItemReference{ConversationID: conv.ID, ListingID: conv.ListingID, Primary: true, AddedAt: conv.CreatedAt}
		if err := h.Conversations.AddItemReference(ctx, ref); err != nil {
			return dto.Conversation{}, err
		}
		if err := h.record(ctx, messaging.NewConversationCreatedEvent(conv, cmd.UserID)); err != nil {
			return dto.Conversation{}, err
		}
		if h.Logger != nil {
			h.Logger.Info("conversation started", "conversation_id", conv.ID, "listing_id", conv.ListingID, "buyer_id", cmd.UserID)
		}
	}
	summaries := []messaging.ConversationSummary{{Conversation: *conv}}
	if err := h.enrichSummaries(ctx, summaries); err != nil {
		return dto.Conversation{}, err
	}
	return dto.MapConversation(summaries[0]), nil
}

type SendMessageCommand struct {
	UserID         string `validate:"required"`
	ConversationID string `validate:"required"`
	// ClientID is the sender's temporary id; repeats within a conversation are replayed.
	ClientID    string `validate:"max=64"`
	Text        string
	Attachments []messaging.Attachment `validate:"max=3"`
}

func (SendMessageCommand) Key() string       { return sendMessageKey }
func (c SendMessageCommand) ActorID() string { return c.UserID }

// Check refuses bad content before the conversation is loaded.
func (c SendMessageCommand) Check() error {
	return messaging.ValidateContent(c.Text, c.Attachments)
}

func (c SendMessageCommand) IdempotencyKey() string {
	if strings.TrimSpace(c.ClientID) == "" {
		return ""
	}
	return c.ConversationID + ":" + c.UserID + ":" + c.ClientID
}

func (SendMessageCommand) ResultPrototype() any { return &dto.Message{} }

type SendMessageHandler struct{ *Deps }

func (h SendMessageHandler) Handle(ctx context.Context, cmd SendMessageCommand) (dto.Message, error) {
	conv, err := h.conversationFor(ctx, cmd.ConversationID, cmd.UserID)
	if err != nil {
		return dto.Message{}, err
	}
	if err := h.ownsAttachments(cmd.UserID, cmd.Attachments); err != nil {
		return dto.Message{}, err
	}
	msg, err := messaging.NewMessage(messaging.NewMessageParams{
		ConversationID: conv.ID,
		ClientID:       cmd.ClientID,
		SenderID:       cmd.UserID,
		Body:           cmd.Text,
		Attachments:    cmd.Attachments,
		Now:            h.now(),
	})
	if err != nil {
		return dto.Message{}, err
	}
	stored, err := h.Conversations.AddMessage(ctx, *msg)
	if err != nil {
		return dto.Message{}, err
	}
	out := []messaging.Message{*stored}
	if err := h.enrichMessages(ctx, out); err != nil {
		return dto.Message{}, err
	}
	conv.RecordMessage(out[0])
	if err := h.record(ctx, messaging.NewMessageSentEvent(conv, out[0])); err != nil {
		return dto.Message{}, err
	}
	return dto.MapMessage(out[0]), nil
}

type SetLikeCommand struct {
	UserID         string `validate:"required"`
	ConversationID string `validate:"required"`
	MessageID      string `validate:"required"`
	Liked          bool
}

func (SetLikeCommand) Key() string       { return setLikeKey }
func (c SetLikeCommand) ActorID() string { return c.UserID }

type SetLikeHandler struct{ *Deps }

func (h SetLikeHandler) Handle(ctx context.Context, cmd SetLikeCommand) (dto.Message, error) {
	conv, err := h.conversationFor(ctx, cmd.ConversationID, cmd.UserID)
	if err != nil {
		return dto.Message{}, err
	}
	updated, err := h.Conversations.SetLike(ctx, conv.ID, cmd.MessageID, cmd.UserID, cmd.Liked)
	if err != nil {
		return dto.Message{}, err
	}
	out := []messaging.Message{*updated}
	if err := h.enrichMessages(ctx, out); err != nil {
		return dto.Message{}, err
	}
	if err := h.record(ctx, messaging.NewMessageUpdatedEvent(conv, out[0], h.now())); err != nil {
		return dto.Message{}, err
	}
	return dto.MapMessage(out[0]), nil
}

// MarkReadCommand flags messages read for UserID. An empty MessageIDs marks every unread
// message from the other participant.
type MarkReadCommand struct {
	UserID         string   `validate:"required"`
	ConversationID string   `validate:"required"`
	MessageIDs     []string `validate:"max=500,dive,required"`
}

func (MarkReadCommand) Key() string       { return markReadKey }
func (c MarkReadCommand) ActorID() string { return c.UserID }

type MarkReadHandler struct{ *Deps }

func (h MarkReadHandler) Handle(ctx context.Context, cmd MarkReadCommand) (dto.ReadResult, error) {
	conv, err := h.conversationFor(ctx, cmd.ConversationID, cmd.UserID)
	if err != nil {
		return dto.ReadResult{}, err
	}
	ids := cmd.MessageIDs
	if len(ids) == 0 {
		msgs, err := h.Conversations.ListMessages(ctx, conv.ID, messaging.Page{})
		if err != nil {
			return dto.ReadResult{}, err
		}
		for _, m := range msgs {
			if m.SenderID != cmd.UserID && !m.Read {
				ids = append(ids, m.ID)
			}
		}
	}
	result := dto.ReadResult{Updated: []string{}}
	if len(ids) == 0 {
		return result, nil
	}
	changed, err := h.Conversations.MarkRead(ctx, conv.ID, cmd.UserID, ids)
	if err != nil {
		return dto.ReadResult{}, err
	}
	if err := h.enrichMessages(ctx, changed); err != nil {
		return dto.ReadResult{}, err
	}
	now := h.now()
	evs := make([]events.DomainEvent, 0, len(changed))
	for _, m := range changed {
		result.Updated = append(result.Updated, m.ID)
		evs = append(evs, messaging.NewMessageUpdatedEvent(conv, m, now))
	}
	if err := h.record(ctx, evs...); err != nil {
		return dto.ReadResult{}, err
	}
	return result, nil
}

type ArchiveConversationCommand struct {
	UserID         string `validate:"required"`
	ConversationID string `validate:"required"`
	Archived       bool
}

func (ArchiveConversationCommand) Key() string       { return archiveConversationKey }
func (c ArchiveConversationCommand) ActorID() string { return c.UserID }

type ArchiveConversationHandler struct{ *Deps }

func (h ArchiveConversationHandler) Handle(ctx context.Context, cmd ArchiveConversationCommand) (dto.Conversation, error) {
	if _, err := h.conversationFor(ctx, cmd.ConversationID, cmd.UserID); err != nil {
		return dto.Conversation{}, err
	}
	conv, err := h.Conversations.SetArchived(ctx, cmd.ConversationID, cmd.UserID, cmd.Archived)
	if err != nil {
		return dto.Conversation{}, err
	}
	if err := h.record(ctx, messaging.NewConversationChangedEvent(conv, cmd.UserID, h.now())); err != nil {
		return dto.Conversation{}, err
	}
	return dto.MapConversation(messaging.ConversationSummary{Conversation: *conv}), nil
}

type DeleteConversationCommand struct {
	UserID         string `validate:"required"`
	ConversationID string `validate:"required"`
}

func (DeleteConversationCommand) Key() string       { return deleteConversationKey }
func (c DeleteConversationCommand) ActorID() string { return c.UserID }

type DeleteConversationHandler struct{ *Deps }

func (h DeleteConversationHandler) Handle(ctx context.Context, cmd DeleteConversationCommand) (dto.Conversation, error) {
	if _, err := h.conversationFor(ctx, cmd.ConversationID, cmd.UserID); err != nil {
		return dto.Conversation{}, err
	}
	conv, err := h.Conversations.SoftDelete(ctx, cmd.ConversationID, cmd.UserID)
	if err != nil {
		return dto.Conversation{}, err
	}
	if err := h.record(ctx, messaging.NewConversationChangedEvent(conv, cmd.UserID, h.now())); err != nil {
		return dto.Conversation{}, err
	}
	return dto.MapConversation(messaging.ConversationSummary{Conversation: *conv}), nil
}

// AddItemReferenceCommand mentions another listing inside an existing conversation.
type AddItemReferenceCommand struct {
	UserID         string `validate:"required"`
	ConversationID string `validate:"required"`
	ListingID      string `validate:"required"`
}

func (AddItemReferenceCommand) Key() string       { return addItemReferenceKey }
func (c AddItemReferenceCommand) ActorID() string { return c.UserID }

type AddItemReferenceHandler struct{ *Deps }

func (h AddItemReferenceHandler) Handle(ctx context.Context, cmd AddItemReferenceCommand) (dto.ItemReference, error) {
	conv, err := h.conversationFor(ctx, cmd.ConversationID, cmd.UserID)
	if err != nil {
		return dto.ItemReference{}, err
	}
	if _, err := h.Listings.ByID(ctx, listings.ListingID(cmd.ListingID)); err != nil {
		return dto.ItemReference{}, err
	}
	ref := messaging.ItemReference{
		ConversationID: conv.ID,
		ListingID:      cmd.ListingID,
		Primary:        cmd.ListingID == conv.ListingID,
		AddedAt:        h.now(),
	}
	if err := h.Conversations.AddItemReference(ctx, ref); err != nil {
		return dto.ItemReference{}, err
	}
	return dto.MapItemReference(ref), nil
}

var _ commands.Handler[StartConversationCommand, dto.Conversation] = StartConversationHandler{}
var _ commands.Handler[SendMessageCommand, dto.Message] = SendMessageHandler{}
var _ commands.Handler[SetLikeCommand, dto.Message] = SetLikeHandler{}
var _ commands.Handler[MarkReadCommand, dto.ReadResult] = MarkReadHandler{}
var _ commands.Handler[ArchiveConversationCommand, dto.Conversation] = ArchiveConversationHandler{}
var _ commands.Handler[DeleteConversationCommand, dto.Conversation] = DeleteConversationHandler{}
var _ commands.Handler[AddItemReferenceCommand, dto.ItemReference] = AddItemReferenceHandler{}
var _ commands.Actor = SendMessageCommand{}
