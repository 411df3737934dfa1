package memory

import (
	"context"
	"crypto/rand"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"campusmarket/internal/domain/messaging"
)

// MessagingStore keeps conversations and messages in memory. Not suitable for production.
type MessagingStore struct {
	mu            sync.RWMutex
	now           func() time.Time
	entropy       *ulid.MonotonicEntropy
	conversations map[string]*messaging.Conversation
	byTriple      map[string]string
	messages      map[string][]messaging.Message
	refs          map[string][]messaging.ItemReference
}

func NewMessagingStore() *MessagingStore {
	return &MessagingStore{
		now:           time.Now,
		entropy:       ulid.Monotonic(rand.Reader, 0),
		conversations: make(map[string]*messaging.Conversation),
		byTriple:      make(map[string]string),
		messages:      make(map[string][]messaging.Message),
		refs:          make(map[string][]messaging.ItemReference),
	}
}

// WithClock replaces the time source, for tests.
func (s *MessagingStore) WithClock(now func() time.Time) *MessagingStore {
	s.now = now
	return s
}

func (s *MessagingStore) newID(at time.Time) string {
	return ulid.MustNew(ulid.Timestamp(at), s.entropy).String()
}

func tripleKey(listingID, buyerID, sellerID string) string {
	return listingID + "|" + buyerID + "|" + sellerID
}

func (s *MessagingStore) GetOrCreateConversation(ctx context.Context, listingID, buyerID, sellerID string) (*messaging.Conversation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := tripleKey(listingID, buyerID, sellerID)
	if id, ok := s.byTriple[key]; ok {
		conv := *s.conversations[id]
		return &conv, false, nil
	}
	now := s.now().UTC()
	conv, err := messaging.NewConversation(messaging.NewConversationParams{
		ID:        s.newID(now),
		ListingID: listingID,
		BuyerID:   buyerID,
		SellerID:  sellerID,
		Now:       now,
	})
	if err != nil {
		return nil, false, err
	}
	s.conversations[conv.ID] = conv
	s.byTriple[key] = conv.ID
	out := *conv
	return &out, true, nil
}

func (s *MessagingStore) GetConversation(ctx context.Context, id string) (*messaging.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, messaging.ErrConversationNotFound
	}
	out := *conv
	return &out, nil
}

func (s *MessagingStore) ListConversations(ctx context.Context, filter messaging.ConversationFilter) ([]messaging.ConversationSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]messaging.ConversationSummary, 0)
	for _, conv := range s.conversations {
		if !filter.IncludeAll {
			if !conv.VisibleTo(filter.UserID) || conv.ArchivedFor(filter.UserID) != filter.Archived {
				continue
			}
		}
		summary := messaging.ConversationSummary{Conversation: *conv}
		if !filter.IncludeAll {
			for _, m := range s.messages[conv.ID] {
				if m.SenderID != filter.UserID && !m.Read {
					summary.UnreadCount++
				}
			}
		}
		out = append(out, summary)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LastActivity(), out[j].LastActivity()
		if !a.Equal(b) {
			return a.After(b)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MessagingStore) AddMessage(ctx context.Context, msg messaging.Message) (*messaging.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[msg.ConversationID]
	if !ok {
		return nil, messaging.ErrConversationNotFound
	}
	if !conv.IsParticipant(msg.SenderID) {
		return nil, messaging.ErrNotParticipant
	}
	if msg.ClientID != "" {
		for _, existing := range s.messages[conv.ID] {
			if existing.ClientID == msg.ClientID && existing.SenderID == msg.SenderID {
				out := existing.Clone()
				return &out, nil
			}
		}
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now().UTC()
	}
	msg.ID = s.newID(msg.CreatedAt)
	msg.Read = false
	msg.LikedBy = nil
	stored := msg.Clone()
	stored.SenderName, stored.SenderAvatarURL = "", ""
	list := append(s.messages[conv.ID], stored)
	messaging.SortMessages(list)
	s.messages[conv.ID] = list
	conv.RecordMessage(stored)
	out := stored.Clone()
	return &out, nil
}

func (s *MessagingStore) GetMessage(ctx context.Context, conversationID, messageID string) (*messaging.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.indexOf(conversationID, messageID)
	if !ok {
		return nil, messaging.ErrMessageNotFound
	}
	out := s.messages[conversationID][i].Clone()
	return &out, nil
}

func (s *MessagingStore) indexOf(conversationID, messageID string) (int, bool) {
	for i, m := range s.messages[conversationID] {
		if m.ID == messageID {
			return i, true
		}
	}
	return 0, false
}

func (s *MessagingStore) ListMessages(ctx context.Context, conversationID string, page messaging.Page) ([]messaging.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.conversations[conversationID]; !ok {
		return nil, messaging.ErrConversationNotFound
	}
	list := s.messages[conversationID]
	start := 0
	if page.After != "" {
		i, ok := s.indexOf(conversationID, page.After)
		if !ok {
			return nil, messaging.ErrMessageNotFound
		}
		start = i + 1
	}
	end := min(start+page.Size(), len(list))
	out := make([]messaging.Message, 0, end-start)
	for _, m := range list[start:end] {
		out = append(out, m.Clone())
	}
	return out, nil
}

func (s *MessagingStore) SetLike(ctx context.Context, conversationID, messageID, userID string, liked bool) (*messaging.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, messaging.ErrConversationNotFound
	}
	if !conv.IsParticipant(userID) {
		return nil, messaging.ErrNotParticipant
	}
	i, ok := s.indexOf(conversationID, messageID)
	if !ok {
		return nil, messaging.ErrMessageNotFound
	}
	s.messages[conversationID][i].SetLike(userID, liked)
	out := s.messages[conversationID][i].Clone()
	return &out, nil
}

func (s *MessagingStore) MarkRead(ctx context.Context, conversationID, readerID string, messageIDs []string) ([]messaging.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, messaging.ErrConversationNotFound
	}
	if !conv.IsParticipant(readerID) {
		return nil, messaging.ErrNotParticipant
	}
	want := make(map[string]struct{}, len(messageIDs))
	for _, id := range messageIDs {
		want[id] = struct{}{}
	}
	var changed []messaging.Message
	list := s.messages[conversationID]
	for i := range list {
		if _, ok := want[list[i].ID]; !ok {
			continue
		}
		if list[i].MarkReadBy(readerID) {
			changed = append(changed, list[i].Clone())
		}
	}
	return changed, nil
}

func (s *MessagingStore) SetArchived(ctx context.Context, conversationID, userID string, archived bool) (*messaging.Conversation, error) {
	return s.mutate(conversationID, func(c *messaging.Conversation) error {
		return c.SetArchived(userID, archived)
	})
}

func (s *MessagingStore) SoftDelete(ctx context.Context, conversationID, userID string) (*messaging.Conversation, error) {
	return s.mutate(conversationID, func(c *messaging.Conversation) error {
		return c.SoftDelete(userID)
	})
}

func (s *MessagingStore) mutate(conversationID string, fn func(*messaging.Conversation) error) (*messaging.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, messaging.ErrConversationNotFound
	}
	next := *conv
	if err := fn(&next); err != nil {
		return nil, err
	}
	*conv = next
	return &next, nil
}

func (s *MessagingStore) AddItemReference(ctx context.Context, ref messaging.ItemReference) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[ref.ConversationID]; !ok {
		return messaging.ErrConversationNotFound
	}
	for _, existing := range s.refs[ref.ConversationID] {
		if existing.ListingID == ref.ListingID {
			return nil
		}
	}
	s.refs[ref.ConversationID] = append(s.refs[ref.ConversationID], ref)
	return nil
}

func (s *MessagingStore) ListItemReferences(ctx context.Context, conversationID string) ([]messaging.ItemReference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.conversations[conversationID]; !ok {
		return nil, messaging.ErrConversationNotFound
	}
	return append([]messaging.ItemReference(nil), s.refs[conversationID]...), nil
}

var _ messaging.Repository = (*MessagingStore)(nil)
