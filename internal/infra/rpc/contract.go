package rpc

import "campusmarket/internal/domain/messaging"

const ServiceName = "campusmarket.messaging.v1.Messaging"

const (
	MethodGetOrCreateConversation = "GetOrCreateConversation"
	MethodGetConversation         = "GetConversation"
	MethodListConversations       = "ListConversations"
	MethodAddMessage              = "AddMessage"
	MethodGetMessage              = "GetMessage"
	MethodListMessages            = "ListMessages"
	MethodSetLike                 = "SetLike"
	MethodMarkRead                = "MarkRead"
	MethodSetArchived             = "SetArchived"
	MethodSoftDelete              = "SoftDelete"
	MethodAddItemReference        = "AddItemReference"
	MethodListItemReferences      = "ListItemReferences"
)

func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

type GetOrCreateConversationRequest struct {
	ListingID string `json:"listing_id"`
	BuyerID   string `json:"buyer_id"`
	SellerID  string `json:"seller_id"`
}

type ConversationRequest struct {
	ConversationID string `json:"conversation_id"`
}

type ConversationReply struct {
	Conversation *messaging.Conversation `json:"conversation"`
	Created      bool                    `json:"created,omitempty"`
}

type ListConversationsRequest struct {
	Filter messaging.ConversationFilter `json:"filter"`
}

type ConversationsReply struct {
	Items []messaging.ConversationSummary `json:"items"`
}

type AddMessageRequest struct {
	Message messaging.Message `json:"message"`
}

type MessageRequest struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
}

type MessageReply struct {
	Message *messaging.Message `json:"message"`
}

type ListMessagesRequest struct {
	ConversationID string         `json:"conversation_id"`
	Page           messaging.Page `json:"page"`
}

type MessagesReply struct {
	Items []messaging.Message `json:"items"`
}

type SetLikeRequest struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	UserID         string `json:"user_id"`
	Liked          bool   `json:"liked"`
}

type MarkReadRequest struct {
	ConversationID string   `json:"conversation_id"`
	ReaderID       string   `json:"reader_id"`
	MessageIDs     []string `json:"message_ids"`
}

type SetArchivedRequest struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Archived       bool   `json:"archived"`
}

type SoftDeleteRequest struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

type ItemReferenceRequest struct {
	Reference messaging.ItemReference `json:"reference"`
}

type ItemReferencesReply struct {
	Items []messaging.ItemReference `json:"items"`
}

type Empty struct{}
