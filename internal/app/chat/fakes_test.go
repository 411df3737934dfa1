package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"campusmarket/internal/domain/messaging"
)

var errOffline = errors.New("network unreachable")

var epoch = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

// fakeBackend is an in-process stand-in for the persistence, feed and storage services.
type fakeBackend struct {
	mu       sync.Mutex
	seq      int
	convs    map[string]*messaging.Conversation
	msgs     map[string][]messaging.Message
	profiles map[string]messaging.Participant

	subSeq   int
	convSubs map[string]map[int]func(Change)
	userSubs map[string]map[int]func(Change)

	listErr error
	readErr error
	likeErr error

	sendCalls int
	readCalls int
	uploads   []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		convs:    make(map[string]*messaging.Conversation),
		msgs:     make(map[string][]messaging.Message),
		profiles: make(map[string]messaging.Participant),
		convSubs: make(map[string]map[int]func(Change)),
		userSubs: make(map[string]map[int]func(Change)),
	}
}

func (b *fakeBackend) addUser(id, name string) {
	b.profiles[id] = messaging.Participant{ID: id, DisplayName: name, AvatarURL: "https://cdn.test/" + id + ".png"}
}

func (b *fakeBackend) addConversation(id, listingID, buyer, seller string, createdAt time.Time) *messaging.Conversation {
	conv, err := messaging.NewConversation(messaging.NewConversationParams{
		ID: id, ListingID: listingID, BuyerID: buyer, SellerID: seller, Now: createdAt,
	})
	if err != nil {
		panic(err)
	}
	b.mu.Lock()
	b.convs[id] = conv
	b.mu.Unlock()
	return conv
}

// seed stores a message directly, without notifying anyone.
func (b *fakeBackend) seed(conversationID, senderID, body string, read bool) messaging.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	msg := messaging.Message{
		ID:             fmt.Sprintf("m%03d", b.seq),
		ConversationID: conversationID,
		SenderID:       senderID,
		Body:           body,
		Read:           read,
		CreatedAt:      epoch.Add(time.Duration(b.seq) * time.Minute),
	}
	b.msgs[conversationID] = append(b.msgs[conversationID], msg)
	b.convs[conversationID].RecordMessage(msg)
	return msg
}

func (b *fakeBackend) stored(conversationID string) []messaging.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]messaging.Message, 0, len(b.msgs[conversationID]))
	for _, m := range b.msgs[conversationID] {
		out = append(out, m.Clone())
	}
	return out
}

func (b *fakeBackend) conversationSubscribers(conversationID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.convSubs[conversationID])
}

func (b *fakeBackend) fanout(conv *messaging.Conversation, change Change) []func(Change) {
	var fns []func(Change)
	for _, fn := range b.convSubs[conv.ID] {
		fns = append(fns, fn)
	}
	if change.Kind == ChangeInserted {
		for _, user := range conv.Participants() {
			for _, fn := range b.userSubs[user] {
				fns = append(fns, fn)
			}
		}
	}
	return fns
}

func (b *fakeBackend) as(userID string) *fakeStore {
	return &fakeStore{b: b, user: userID}
}

// fakeStore is the backend seen through one signed-in user.
type fakeStore struct {
	b    *fakeBackend
	user string

	mu        sync.Mutex
	sendErr   error
	sendGate  chan struct{}
	likeGate  chan struct{}
	uploadErr map[string]error
}

func (s *fakeStore) failSends(err error) {
	s.mu.Lock()
	s.sendErr = err
	s.mu.Unlock()
}

func (s *fakeStore) gateSends() chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendGate = make(chan struct{})
	return s.sendGate
}

func (s *fakeStore) gateLikes() chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.likeGate = make(chan struct{})
	return s.likeGate
}

func (s *fakeStore) CurrentUser(context.Context) (messaging.Participant, error) {
	p, ok := s.b.profiles[s.user]
	if !ok {
		return messaging.Participant{}, errors.New("unknown user")
	}
	return p, nil
}

func (s *fakeStore) ListConversations(_ context.Context, archived bool) ([]messaging.ConversationSummary, error) {
	b := s.b
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listErr != nil {
		return nil, b.listErr
	}
	var out []messaging.ConversationSummary
	for _, conv := range b.convs {
		if !conv.IsParticipant(s.user) || conv.ArchivedFor(s.user) != archived {
			continue
		}
		unread := 0
		for _, m := range b.msgs[conv.ID] {
			if m.SenderID != s.user && !m.Read {
				unread++
			}
		}
		out = append(out, messaging.ConversationSummary{
			Conversation: *conv,
			UnreadCount:  unread,
			Buyer:        b.profiles[conv.BuyerID],
			Seller:       b.profiles[conv.SellerID],
		})
	}
	return out, nil
}

func (s *fakeStore) ListMessages(_ context.Context, conversationID string) ([]messaging.Message, error) {
	b := s.b
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listErr != nil {
		return nil, b.listErr
	}
	out := make([]messaging.Message, 0, len(b.msgs[conversationID]))
	for _, m := range b.msgs[conversationID] {
		m = m.Clone()
		p := b.profiles[m.SenderID]
		m.SenderName, m.SenderAvatarURL = p.DisplayName, p.AvatarURL
		out = append(out, m)
	}
	messaging.SortMessages(out)
	return out, nil
}

func (s *fakeStore) SendMessage(_ context.Context, req SendRequest) (messaging.Message, error) {
	s.mu.Lock()
	gate, sendErr := s.sendGate, s.sendErr
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}

	b := s.b
	b.mu.Lock()
	b.sendCalls++
	if sendErr != nil {
		b.mu.Unlock()
		return messaging.Message{}, sendErr
	}
	conv, ok := b.convs[req.ConversationID]
	if !ok {
		b.mu.Unlock()
		return messaging.Message{}, messaging.ErrConversationNotFound
	}
	for _, m := range b.msgs[conv.ID] {
		if req.ClientID != "" && m.ClientID == req.ClientID {
			b.mu.Unlock()
			return m.Clone(), nil
		}
	}
	b.seq++
	msg := messaging.Message{
		ID:             fmt.Sprintf("m%03d", b.seq),
		ConversationID: conv.ID,
		ClientID:       req.ClientID,
		SenderID:       s.user,
		Body:           req.Text,
		Attachments:    req.Attachments,
		CreatedAt:      epoch.Add(time.Duration(b.seq) * time.Minute),
	}
	b.msgs[conv.ID] = append(b.msgs[conv.ID], msg)
	conv.RecordMessage(msg)
	fns := b.fanout(conv, Change{Kind: ChangeInserted})
	b.mu.Unlock()

	for _, fn := range fns {
		fn(Change{Kind: ChangeInserted, Message: msg.Clone()})
	}
	return msg.Clone(), nil
}

func (s *fakeStore) SetLike(_ context.Context, conversationID, messageID string, liked bool) (messaging.Message, error) {
	s.mu.Lock()
	gate := s.likeGate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}

	b := s.b
	b.mu.Lock()
	if b.likeErr != nil {
		b.mu.Unlock()
		return messaging.Message{}, b.likeErr
	}
	list := b.msgs[conversationID]
	for i := range list {
		if list[i].ID != messageID {
			continue
		}
		list[i].SetLike(s.user, liked)
		msg := list[i].Clone()
		fns := b.fanout(b.convs[conversationID], Change{Kind: ChangeUpdated})
		b.mu.Unlock()
		for _, fn := range fns {
			fn(Change{Kind: ChangeUpdated, Message: msg.Clone()})
		}
		return msg, nil
	}
	b.mu.Unlock()
	return messaging.Message{}, messaging.ErrMessageNotFound
}

func (s *fakeStore) MarkRead(_ context.Context, conversationID string, messageIDs []string) error {
	b := s.b
	b.mu.Lock()
	defer b.mu.Unlock()
	b.readCalls++
	if b.readErr != nil {
		return b.readErr
	}
	want := make(map[string]bool, len(messageIDs))
	for _, id := range messageIDs {
		want[id] = true
	}
	list := b.msgs[conversationID]
	for i := range list {
		if want[list[i].ID] {
			list[i].MarkReadBy(s.user)
		}
	}
	return nil
}

func (s *fakeStore) SetArchived(_ context.Context, conversationID string, archived bool) error {
	b := s.b
	b.mu.Lock()
	defer b.mu.Unlock()
	conv, ok := b.convs[conversationID]
	if !ok {
		return messaging.ErrConversationNotFound
	}
	return conv.SetArchived(s.user, archived)
}

func (s *fakeStore) DeleteConversation(_ context.Context, conversationID string) error {
	b := s.b
	b.mu.Lock()
	defer b.mu.Unlock()
	conv, ok := b.convs[conversationID]
	if !ok {
		return messaging.ErrConversationNotFound
	}
	return conv.SoftDelete(s.user)
}

func (s *fakeStore) SubscribeConversation(_ context.Context, conversationID string, fn func(Change)) (Unsubscribe, error) {
	b := s.b
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subSeq++
	id := b.subSeq
	if b.convSubs[conversationID] == nil {
		b.convSubs[conversationID] = make(map[int]func(Change))
	}
	b.convSubs[conversationID][id] = fn
	return func() {
		b.mu.Lock()
		delete(b.convSubs[conversationID], id)
		b.mu.Unlock()
	}, nil
}

func (s *fakeStore) SubscribeInbox(_ context.Context, fn func(Change)) (Unsubscribe, error) {
	b := s.b
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subSeq++
	id := b.subSeq
	if b.userSubs[s.user] == nil {
		b.userSubs[s.user] = make(map[int]func(Change))
	}
	b.userSubs[s.user][id] = fn
	return func() {
		b.mu.Lock()
		delete(b.userSubs[s.user], id)
		b.mu.Unlock()
	}, nil
}

func (s *fakeStore) Upload(_ context.Context, ownerID string, file File) (messaging.Attachment, error) {
	s.mu.Lock()
	err := s.uploadErr[file.Name]
	s.mu.Unlock()
	s.b.mu.Lock()
	s.b.uploads = append(s.b.uploads, file.Name)
	s.b.mu.Unlock()
	if err != nil {
		return messaging.Attachment{}, err
	}
	return messaging.Attachment{
		URL:         "https://cdn.test/attachments/" + ownerID + "/" + file.Name,
		ContentType: file.ContentType,
		Name:        file.Name,
		Size:        file.Size,
	}, nil
}

func image(name string) File {
	return File{Name: name, ContentType: "image/png", Size: 2048}
}

func bodies(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Message.Body)
	}
	return out
}

func kinds(entries []Entry) []EntryKind {
	out := make([]EntryKind, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Kind)
	}
	return out
}

// fixture has buyer "alice" and seller "bob" sharing conversation "c1" about listing "l1".
func fixture() *fakeBackend {
	b := newFakeBackend()
	b.addUser("alice", "Alice")
	b.addUser("bob", "Bob")
	b.addConversation("c1", "l1", "alice", "bob", epoch)
	return b
}

func openStream(store *fakeStore, conversationID string, onChange func([]Entry)) (*Stream, error) {
	me, _ := store.CurrentUser(context.Background())
	s := NewStream(StreamDeps{
		Store:    store,
		Feed:     store,
		Me:       me,
		Now:      func() time.Time { return epoch.Add(time.Hour) },
		OnChange: onChange,
	})
	return s, s.Open(context.Background(), conversationID)
}
