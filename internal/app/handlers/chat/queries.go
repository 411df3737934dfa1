package chat

import (
	"context"
	"sort"

	"campusmarket/internal/app/dto"
	"campusmarket/internal/app/queries"
	"campusmarket/internal/domain/messaging"
)

const (
	listConversationsKey      = "chat.conversations.list"
	adminListConversationsKey = "chat.conversations.list_all"
	getConversationKey        = "chat.conversations.get"
	listMessagesKey           = "chat.messages.list"
	listItemReferencesKey     = "chat.conversations.items.list"
)

type ListConversationsQuery struct {
	UserID   string `validate:"required"`
	Archived bool
}

func (ListConversationsQuery) Key() string       { return listConversationsKey }
func (c ListConversationsQuery) ActorID() string { return c.UserID }

type ListConversationsHandler struct{ *Deps }

func (h ListConversationsHandler) Handle(ctx context.Context, q ListConversationsQuery) (dto.ConversationList, error) {
	list, err := h.Conversations.ListConversations(ctx, messaging.ConversationFilter{UserID: q.UserID, Archived: q.Archived})
	if err != nil {
		return dto.ConversationList{}, err
	}
	visible := list[:0]
	for _, s := range list {
		if s.VisibleTo(q.UserID) && s.ArchivedFor(q.UserID) == q.Archived {
			visible = append(visible, s)
		}
	}
	return h.summaries(ctx, visible)
}

// AdminListConversationsQuery is the moderation view over every thread.
type AdminListConversationsQuery struct{}

func (AdminListConversationsQuery) Key() string { return adminListConversationsKey }
func (AdminListConversationsQuery) AdminOnly()  {}

type AdminListConversationsHandler struct{ *Deps }

func (h AdminListConversationsHandler) Handle(ctx context.Context, _ AdminListConversationsQuery) (dto.ConversationList, error) {
	list, err := h.Conversations.ListConversations(ctx, messaging.ConversationFilter{IncludeAll: true})
	if err != nil {
		return dto.ConversationList{}, err
	}
	return h.summaries(ctx, list)
}

func (d *Deps) summaries(ctx context.Context, list []messaging.ConversationSummary) (dto.ConversationList, error) {
	if err := d.enrichSummaries(ctx, list); err != nil {
		return dto.ConversationList{}, err
	}
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i].LastActivity(), list[j].LastActivity()
		if !a.Equal(b) {
			return a.After(b)
		}
		return list[i].ID < list[j].ID
	})
	out := dto.ConversationList{Items: make([]dto.Conversation, 0, len(list))}
	for _, s := range list {
		out.Items = append(out.Items, dto.MapConversation(s))
	}
	return out, nil
}

type GetConversationQuery struct {
	UserID         string `validate:"required"`
	ConversationID string `validate:"required"`
}

func (GetConversationQuery) Key() string       { return getConversationKey }
func (c GetConversationQuery) ActorID() string { return c.UserID }

type GetConversationHandler struct{ *Deps }

func (h GetConversationHandler) Handle(ctx context.Context, q GetConversationQuery) (dto.Conversation, error) {
	conv, err := h.conversationFor(ctx, q.ConversationID, q.UserID)
	if err != nil {
		return dto.Conversation{}, err
	}
	msgs, err := h.Conversations.ListMessages(ctx, conv.ID, messaging.Page{})
	if err != nil {
		return dto.Conversation{}, err
	}
	summary := messaging.ConversationSummary{Conversation: *conv}
	for _, m := range msgs {
		if m.SenderID != q.UserID && !m.Read {
			summary.UnreadCount++
		}
	}
	list := []messaging.ConversationSummary{summary}
	if err := h.enrichSummaries(ctx, list); err != nil {
		return dto.Conversation{}, err
	}
	return dto.MapConversation(list[0]), nil
}

type ListMessagesQuery struct {
	UserID         string `validate:"required"`
	ConversationID string `validate:"required"`
	Limit          int    `validate:"gte=0,lte=500"`
	After          string
}

func (ListMessagesQuery) Key() string       { return listMessagesKey }
func (c ListMessagesQuery) ActorID() string { return c.UserID }

type ListMessagesHandler struct{ *Deps }

func (h ListMessagesHandler) Handle(ctx context.Context, q ListMessagesQuery) (dto.MessageList, error) {
	conv, err := h.conversationFor(ctx, q.ConversationID, q.UserID)
	if err != nil {
		return dto.MessageList{}, err
	}
	msgs, err := h.Conversations.ListMessages(ctx, conv.ID, messaging.Page{Limit: q.Limit, After: q.After})
	if err != nil {
		return dto.MessageList{}, err
	}
	if err := h.enrichMessages(ctx, msgs); err != nil {
		return dto.MessageList{}, err
	}
	return dto.MapMessages(msgs), nil
}

type ListItemReferencesQuery struct {
	UserID         string `validate:"required"`
	ConversationID string `validate:"required"`
}

func (ListItemReferencesQuery) Key() string       { return listItemReferencesKey }
func (c ListItemReferencesQuery) ActorID() string { return c.UserID }

type ListItemReferencesHandler struct{ *Deps }

func (h ListItemReferencesHandler) Handle(ctx context.Context, q ListItemReferencesQuery) ([]dto.ItemReference, error) {
	if _, err := h.conversationFor(ctx, q.ConversationID, q.UserID); err != nil {
		return nil, err
	}
	refs, err := h.Conversations.ListItemReferences(ctx, q.ConversationID)
	if err != nil {
		return nil, err
	}
	out := make([]dto.ItemReference, 0, len(refs))
	for _, ref := range refs {
		out = append(out, dto.MapItemReference(ref))
	}
	return out, nil
}

var _ queries.Handler[ListConversationsQuery, dto.ConversationList] = ListConversationsHandler{}
var _ queries.Handler[AdminListConversationsQuery, dto.ConversationList] = AdminListConversationsHandler{}
var _ queries.Handler[GetConversationQuery, dto.Conversation] = GetConversationHandler{}
var _ queries.Handler[ListMessagesQuery, dto.MessageList] = ListMessagesHandler{}
var _ queries.Handler[ListItemReferencesQuery, []dto.ItemReference] = ListItemReferencesHandler{}
