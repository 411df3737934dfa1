package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"campusmarket/internal/domain/messaging"
)

type MessengerDeps struct {
	Identity Identity
	Store    Store
	Feed     Feed
	Storage  ObjectStorage
	Logger   *slog.Logger
	Now      func() time.Time
	NewID    func() string
	// UploadConcurrency bounds parallel attachment uploads per compose action.
	UploadConcurrency int
	OpTimeout         time.Duration
	// OnStream receives stream snapshots of the selected conversation.
	OnStream func([]Entry)
}

// Messenger is a signed-in chat session: the conversation list plus at most one open stream.
type Messenger struct {
	deps   MessengerDeps
	me     messaging.Participant
	logger *slog.Logger
	inbox  *Inbox

	mu          sync.Mutex
	stream      *Stream
	composer    *Composer
	unsubscribe Unsubscribe
	closed      bool
	reloads     sync.WaitGroup
}

// NewMessenger resolves the current user once and prepares an empty session.
func NewMessenger(ctx context.Context, deps MessengerDeps) (*Messenger, error) {
	if deps.Identity == nil || deps.Store == nil || deps.Feed == nil {
		return nil, errors.New("chat: identity, store and feed are required")
	}
	me, err := deps.Identity.CurrentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("chat: resolve current user: %w", err)
	}
	if me.ID == "" {
		return nil, messaging.ErrIDRequired
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if deps.NewID == nil {
		deps.NewID = TempIDs()
	}
	return &Messenger{
		deps:   deps,
		me:     me,
		logger: logger,
		inbox:  NewInbox(deps.Store, me, logger),
	}, nil
}

func (m *Messenger) Me() messaging.Participant {
	return m.me
}

func (m *Messenger) Inbox() *Inbox {
	return m.inbox
}

// Start loads the active conversation list and follows the user's change feed.
func (m *Messenger) Start(ctx context.Context) error {
	unsubscribe, err := m.deps.Feed.SubscribeInbox(ctx, m.onInboxChange)
	if err != nil {
		return fmt.Errorf("chat: subscribe inbox: %w", err)
	}
	m.mu.Lock()
	m.unsubscribe = unsubscribe
	m.mu.Unlock()

	m.inbox.Load(ctx, false)
	return m.inbox.Err()
}

func (m *Messenger) onInboxChange(change Change) {
	if change.Kind != ChangeInserted {
		return
	}
	if m.inbox.Apply(change.Message) {
		return
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.reloads.Add(1)
	m.mu.Unlock()
	go func() {
		defer m.reloads.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.opTimeout())
		defer cancel()
		m.inbox.Retry(ctx)
	}()
}

// Select opens conversationID, closing whatever stream was open before.
func (m *Messenger) Select(ctx context.Context, conversationID string) (*Stream, error) {
	stream := NewStream(StreamDeps{
		Store:     m.deps.Store,
		Feed:      m.deps.Feed,
		Me:        m.me,
		Logger:    m.logger.With("conversation_id", conversationID),
		Now:       m.deps.Now,
		NewID:     m.deps.NewID,
		OpTimeout: m.deps.OpTimeout,
		OnChange:  m.deps.OnStream,
	})
	composer := NewComposer(stream, &Uploader{
		Storage:     m.deps.Storage,
		OwnerID:     m.me.ID,
		Concurrency: m.deps.UploadConcurrency,
	})

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrStreamClosed
	}
	prev := m.stream
	m.stream = stream
	m.composer = composer
	m.mu.Unlock()
	if prev != nil {
		prev.Close()
	}

	m.inbox.SetActive(conversationID)
	if err := stream.Open(ctx, conversationID); err != nil {
		return stream, err
	}
	m.inbox.MarkRead(conversationID)
	return stream, nil
}

// Stream returns the open stream, or nil.
func (m *Messenger) Stream() *Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream
}

func (m *Messenger) Composer() (*Composer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.composer == nil {
		return nil, ErrNoSelection
	}
	return m.composer, nil
}

// Deselect closes the open stream without opening another.
func (m *Messenger) Deselect() {
	m.mu.Lock()
	prev := m.stream
	m.stream = nil
	m.composer = nil
	m.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
	m.inbox.SetActive("")
}

// Archive moves a conversation between the active and archived lists for this user only.
func (m *Messenger) Archive(ctx context.Context, conversationID string, archived bool) error {
	if err := m.deps.Store.SetArchived(ctx, conversationID, archived); err != nil {
		return err
	}
	m.inbox.Remove(conversationID)
	return nil
}

// Delete hides a conversation for this user only.
func (m *Messenger) Delete(ctx context.Context, conversationID string) error {
	if err := m.deps.Store.DeleteConversation(ctx, conversationID); err != nil {
		return err
	}
	if s := m.Stream(); s != nil && s.ConversationID() == conversationID {
		m.Deselect()
	}
	m.inbox.Remove(conversationID)
	return nil
}

// Close ends the session and waits for background inbox reloads.
func (m *Messenger) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	stream := m.stream
	unsubscribe := m.unsubscribe
	m.stream = nil
	m.composer = nil
	m.unsubscribe = nil
	m.mu.Unlock()

	if stream != nil {
		stream.Close()
	}
	if unsubscribe != nil {
		unsubscribe()
	}
	m.reloads.Wait()
}

func (m *Messenger) opTimeout() time.Duration {
	if m.deps.OpTimeout > 0 {
		return m.deps.OpTimeout
	}
	return defaultOpTimeout
}
