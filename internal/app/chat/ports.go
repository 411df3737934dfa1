package chat

import (
	"context"
	"io"

	"campusmarket/internal/domain/messaging"
)

// Identity resolves the signed-in user. The engine reads it once per session.
type Identity interface {
	CurrentUser(ctx context.Context) (messaging.Participant, error)
}

// SendRequest is what the engine asks the store to persist.
type SendRequest struct {
	ConversationID string
	ClientID       string
	Text           string
	Attachments    []messaging.Attachment
}

// Store is the persistence service as seen by the signed-in user.
type Store interface {
	ListConversations(ctx context.Context, archived bool) ([]messaging.ConversationSummary, error)
	ListMessages(ctx context.Context, conversationID string) ([]messaging.Message, error)
	SendMessage(ctx context.Context, req SendRequest) (messaging.Message, error)
	SetLike(ctx context.Context, conversationID, messageID string, liked bool) (messaging.Message, error)
	MarkRead(ctx context.Context, conversationID string, messageIDs []string) error
	SetArchived(ctx context.Context, conversationID string, archived bool) error
	DeleteConversation(ctx context.Context, conversationID string) error
}

type ChangeKind string

const (
	ChangeInserted ChangeKind = "inserted"
	ChangeUpdated  ChangeKind = "updated"
)

// Change is one pushed message record.
type Change struct {
	Kind    ChangeKind
	Message messaging.Message
}

// Unsubscribe releases a subscription. Calling it more than once is safe.
type Unsubscribe func()

// Feed delivers pushed changes asynchronously until unsubscribed.
type Feed interface {
	SubscribeConversation(ctx context.Context, conversationID string, fn func(Change)) (Unsubscribe, error)
	SubscribeInbox(ctx context.Context, fn func(Change)) (Unsubscribe, error)
}

// File is a local image picked for a message.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// ObjectStorage stores a file under a path scoped to ownerID and returns its public descriptor.
type ObjectStorage interface {
	Upload(ctx context.Context, ownerID string, file File) (messaging.Attachment, error)
}
