package messaging

import "context"

// Repository is the structured persistence service for conversations and messages.
type Repository interface {
	// GetOrCreateConversation returns the thread for (listing, buyer, seller), creating it lazily.
	GetOrCreateConversation(ctx context.Context, listingID, buyerID, sellerID string) (*Conversation, bool, error)
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversations(ctx context.Context, filter ConversationFilter) ([]ConversationSummary, error)

	// AddMessage persists msg. A repeated ClientID within a conversation returns the stored message.
	AddMessage(ctx context.Context, msg Message) (*Message, error)
	GetMessage(ctx context.Context, conversationID, messageID string) (*Message, error)
	// ListMessages returns messages in ascending (CreatedAt, ID) order.
	ListMessages(ctx context.Context, conversationID string, page Page) ([]Message, error)
	SetLike(ctx context.Context, conversationID, messageID, userID string, liked bool) (*Message, error)
	// MarkRead flags the listed messages read for readerID and returns the ones that changed.
	MarkRead(ctx context.Context, conversationID, readerID string, messageIDs []string) ([]Message, error)

	SetArchived(ctx context.Context, conversationID, userID string, archived bool) (*Conversation, error)
	SoftDelete(ctx context.Context, conversationID, userID string) (*Conversation, error)

	AddItemReference(ctx context.Context, ref ItemReference) error
	ListItemReferences(ctx context.Context, conversationID string) ([]ItemReference, error)
}
