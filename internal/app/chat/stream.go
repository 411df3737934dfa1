package chat

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"campusmarket/internal/domain/messaging"
)

const defaultOpTimeout = 15 * time.Second

type StreamDeps struct {
	Store     Store
	Feed      Feed
	Me        messaging.Participant
	Logger    *slog.Logger
	Now       func() time.Time
	NewID     func() string
	OpTimeout time.Duration
	// OnChange receives a fresh snapshot after every mutation. Calls are serialized.
	OnChange func([]Entry)
}

// Stream is the ordered message list of one open conversation. It merges persisted history,
// pushed changes and optimistic local sends.
type Stream struct {
	store     Store
	feed      Feed
	me        messaging.Participant
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
	opTimeout time.Duration
	onChange  func([]Entry)

	mu             sync.Mutex
	conversationID string
	opened         bool
	closed         bool
	loaded         bool
	loadErr        error
	unsubscribe    Unsubscribe
	confirmed      []messaging.Message
	pending        []*pendingEntry
	likes          map[string]struct{}
	unsynced       map[string]struct{}
	syncing        map[string]struct{}

	notifyMu sync.Mutex
	wg       sync.WaitGroup
}

type pendingEntry struct {
	tempID string
	msg    messaging.Message
	// anchor is the newest confirmed message when the entry was created.
	anchor *messaging.Message
	// unplaced entries were sent before any history arrived and are ordered by send time.
	unplaced bool
	failed   bool
	err      error
}

func (p *pendingEntry) before(m messaging.Message) bool {
	switch {
	case p.anchor != nil:
		return messaging.Less(*p.anchor, m)
	case p.unplaced:
		return p.msg.CreatedAt.Before(m.CreatedAt)
	default:
		return true
	}
}

func (p *pendingEntry) entry() Entry {
	e := Entry{Kind: EntryPending, TempID: p.tempID, Message: p.msg.Clone()}
	if p.failed {
		e.Kind = EntryFailed
		e.Err = p.err
	}
	return e
}

func NewStream(deps StreamDeps) *Stream {
	s := &Stream{
		store:     deps.Store,
		feed:      deps.Feed,
		me:        deps.Me,
		logger:    deps.Logger,
		now:       deps.Now,
		newID:     deps.NewID,
		opTimeout: deps.OpTimeout,
		onChange:  deps.OnChange,
		likes:     make(map[string]struct{}),
		unsynced:  make(map[string]struct{}),
		syncing:   make(map[string]struct{}),
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = TempIDs()
	}
	if s.opTimeout <= 0 {
		s.opTimeout = defaultOpTimeout
	}
	return s
}

// Open subscribes to the conversation first and then loads its history, so nothing inserted
// in between is missed. When the history load fails the subscription stays up and Reload
// can be used to retry.
func (s *Stream) Open(ctx context.Context, conversationID string) error {
	id := strings.TrimSpace(conversationID)
	if id == "" {
		return messaging.ErrIDRequired
	}
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrStreamClosed
	case s.opened:
		s.mu.Unlock()
		return ErrStreamOpen
	}
	s.opened = true
	s.conversationID = id
	s.mu.Unlock()

	unsubscribe, err := s.feed.SubscribeConversation(ctx, id, s.receive)
	if err != nil {
		s.mu.Lock()
		s.opened = false
		s.mu.Unlock()
		return fmt.Errorf("chat: subscribe %s: %w", id, err)
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		unsubscribe()
		return ErrStreamClosed
	}
	s.unsubscribe = unsubscribe
	s.mu.Unlock()

	return s.Reload(ctx)
}

// Reload fetches the persisted history again and merges it into the stream.
func (s *Stream) Reload(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStreamClosed
	}
	id := s.conversationID
	s.mu.Unlock()
	if id == "" {
		return ErrNoSelection
	}

	history, err := s.store.ListMessages(ctx, id)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStreamClosed
	}
	if err != nil {
		s.loadErr = err
		s.mu.Unlock()
		s.notify()
		return fmt.Errorf("chat: load messages: %w", err)
	}
	s.loadErr = nil
	s.loaded = true
	for _, msg := range history {
		if msg.ConversationID == "" {
			msg.ConversationID = id
		}
		s.upsertLocked(msg)
	}
	s.mu.Unlock()

	s.MarkSeen()
	s.notify()
	return nil
}

// Close tears the subscription down exactly once. Sends still in flight finish in the
// background and their results are dropped.
func (s *Stream) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// Wait blocks until every store call started by the stream has returned.
func (s *Stream) Wait() {
	s.wg.Wait()
}

func (s *Stream) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// Err returns the last history load failure, if any.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadErr
}

// Entries returns the ordered view. Each pending or failed entry sits after every confirmed
// message that was known when it was created and before anything that arrived later.
func (s *Stream) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.confirmed)+len(s.pending))
	j := 0
	for _, msg := range s.confirmed {
		for j < len(s.pending) && s.pending[j].before(msg) {
			out = append(out, s.pending[j].entry())
			j++
		}
		_, busy := s.likes[msg.ID]
		out = append(out, Entry{
			Kind:        EntryConfirmed,
			TempID:      msg.ClientID,
			Message:     msg.Clone(),
			LikePending: busy,
		})
	}
	for ; j < len(s.pending); j++ {
		out = append(out, s.pending[j].entry())
	}
	return out
}

// Send appends a pending entry before returning and persists it in the background.
func (s *Stream) Send(text string, attachments []messaging.Attachment) (string, error) {
	return s.send(text, attachments, nil)
}

func (s *Stream) send(text string, attachments []messaging.Attachment, done func(error)) (string, error) {
	body := strings.TrimSpace(text)
	if err := messaging.ValidateContent(body, attachments); err != nil {
		return "", err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrStreamClosed
	}
	if s.conversationID == "" {
		s.mu.Unlock()
		return "", ErrNoSelection
	}
	tempID := s.newID()
	p := &pendingEntry{
		tempID: tempID,
		msg: messaging.Message{
			ConversationID:  s.conversationID,
			ClientID:        tempID,
			SenderID:        s.me.ID,
			Body:            body,
			Attachments:     append([]messaging.Attachment(nil), attachments...),
			CreatedAt:       s.now().UTC(),
			SenderName:      s.me.DisplayName,
			SenderAvatarURL: s.me.AvatarURL,
		},
	}
	if n := len(s.confirmed); n > 0 {
		last := s.confirmed[n-1]
		p.anchor = &last
	} else {
		p.unplaced = !s.loaded
	}
	s.pending = append(s.pending, p)
	req := SendRequest{
		ConversationID: s.conversationID,
		ClientID:       tempID,
		Text:           body,
		Attachments:    p.msg.Attachments,
	}
	s.mu.Unlock()

	s.notify()
	s.persist(req, done)
	return tempID, nil
}

// Retry re-sends a failed entry under the same temporary id.
func (s *Stream) Retry(tempID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStreamClosed
	}
	p := s.pendingLocked(tempID)
	if p == nil {
		s.mu.Unlock()
		return ErrEntryUnknown
	}
	if !p.failed {
		s.mu.Unlock()
		return ErrNotFailed
	}
	p.failed = false
	p.err = nil
	req := SendRequest{
		ConversationID: s.conversationID,
		ClientID:       p.tempID,
		Text:           p.msg.Body,
		Attachments:    p.msg.Attachments,
	}
	s.mu.Unlock()

	s.notify()
	s.persist(req, nil)
	return nil
}

// Discard removes a failed entry the user gave up on.
func (s *Stream) Discard(tempID string) error {
	s.mu.Lock()
	p := s.pendingLocked(tempID)
	switch {
	case p == nil:
		s.mu.Unlock()
		return ErrEntryUnknown
	case !p.failed:
		s.mu.Unlock()
		return ErrNotFailed
	}
	s.dropPendingLocked(tempID)
	s.mu.Unlock()
	s.notify()
	return nil
}

func (s *Stream) persist(req SendRequest, done func(error)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := s.opContext()
		msg, err := s.store.SendMessage(ctx, req)
		cancel()
		s.settleSend(req.ClientID, msg, err)
		if done != nil {
			done(err)
		}
	}()
}

func (s *Stream) settleSend(tempID string, msg messaging.Message, err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.logger.Debug("send settled after close", "client_id", tempID, "error", err)
		return
	}
	if err != nil {
		if p := s.pendingLocked(tempID); p != nil {
			p.failed = true
			p.err = err
		}
		s.mu.Unlock()
		s.logger.Warn("send message failed", "conversation_id", s.ConversationID(), "client_id", tempID, "error", err)
		s.notify()
		return
	}
	if msg.ClientID == "" {
		msg.ClientID = tempID
	}
	if msg.ConversationID == "" {
		msg.ConversationID = s.conversationID
	}
	s.dropPendingLocked(tempID)
	s.upsertLocked(msg)
	s.mu.Unlock()
	s.notify()
}

// ToggleLike flips the current user's like optimistically. A second toggle for the same
// message is refused until the first settles; a failed toggle is reverted.
func (s *Stream) ToggleLike(messageID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStreamClosed
	}
	i := s.indexLocked(messageID)
	if i < 0 {
		s.mu.Unlock()
		return messaging.ErrMessageNotFound
	}
	if _, busy := s.likes[messageID]; busy {
		s.mu.Unlock()
		return ErrLikeInFlight
	}
	prev := append([]string(nil), s.confirmed[i].LikedBy...)
	next, liked := messaging.ToggleLike(prev, s.me.ID)
	s.confirmed[i].LikedBy = next
	s.likes[messageID] = struct{}{}
	conversationID := s.conversationID
	s.mu.Unlock()
	s.notify()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := s.opContext()
		updated, err := s.store.SetLike(ctx, conversationID, messageID, liked)
		cancel()

		s.mu.Lock()
		delete(s.likes, messageID)
		if s.closed {
			s.mu.Unlock()
			return
		}
		if j := s.indexLocked(messageID); j >= 0 {
			switch {
			case err != nil:
				s.confirmed[j].LikedBy = prev
			case updated.ID == messageID:
				s.confirmed[j].LikedBy = append([]string(nil), updated.LikedBy...)
			}
		}
		s.mu.Unlock()
		if err != nil {
			s.logger.Warn("toggle like failed", "message_id", messageID, "error", err)
		}
		s.notify()
	}()
	return nil
}

// MarkSeen flags every visible unread message from the other party as read and syncs the
// ids the store has not acknowledged yet, including ones a previous pass failed to sync.
func (s *Stream) MarkSeen() {
	s.mu.Lock()
	if s.closed || s.conversationID == "" {
		s.mu.Unlock()
		return
	}
	for i := range s.confirmed {
		msg := &s.confirmed[i]
		if msg.MarkReadBy(s.me.ID) {
			s.unsynced[msg.ID] = struct{}{}
		}
	}
	var ids []string
	for id := range s.unsynced {
		if _, busy := s.syncing[id]; busy {
			continue
		}
		s.syncing[id] = struct{}{}
		ids = append(ids, id)
	}
	conversationID := s.conversationID
	s.mu.Unlock()
	if len(ids) == 0 {
		return
	}
	sort.Strings(ids)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := s.opContext()
		err := s.store.MarkRead(ctx, conversationID, ids)
		cancel()

		s.mu.Lock()
		for _, id := range ids {
			delete(s.syncing, id)
			if err == nil {
				delete(s.unsynced, id)
			}
		}
		s.mu.Unlock()
		if err != nil {
			s.logger.Warn("mark read failed", "conversation_id", conversationID, "count", len(ids), "error", err)
		}
	}()
}

func (s *Stream) receive(change Change) {
	s.mu.Lock()
	if s.closed || change.Message.ConversationID != s.conversationID {
		s.mu.Unlock()
		return
	}
	s.upsertLocked(change.Message)
	s.mu.Unlock()

	s.MarkSeen()
	s.notify()
}

// upsertLocked merges a server record. Read never reverts and an in-flight like keeps its
// optimistic value.
func (s *Stream) upsertLocked(msg messaging.Message) {
	if msg.ID == "" {
		return
	}
	msg = msg.Clone()
	if msg.SenderID == s.me.ID && msg.SenderName == "" {
		msg.SenderName = s.me.DisplayName
		msg.SenderAvatarURL = s.me.AvatarURL
	}
	if i := s.indexLocked(msg.ID); i >= 0 {
		cur := s.confirmed[i]
		msg.Read = msg.Read || cur.Read
		if _, busy := s.likes[msg.ID]; busy {
			msg.LikedBy = cur.LikedBy
		}
		if msg.SenderName == "" {
			msg.SenderName = cur.SenderName
			msg.SenderAvatarURL = cur.SenderAvatarURL
		}
		if msg.ClientID == "" {
			msg.ClientID = cur.ClientID
		}
		if msg.CreatedAt.Equal(cur.CreatedAt) {
			s.confirmed[i] = msg
			return
		}
		s.confirmed = slices.Delete(s.confirmed, i, i+1)
	}
	if msg.ClientID != "" {
		s.dropPendingLocked(msg.ClientID)
	}
	pos := sort.Search(len(s.confirmed), func(i int) bool {
		return messaging.Less(msg, s.confirmed[i])
	})
	s.confirmed = slices.Insert(s.confirmed, pos, msg)
}

func (s *Stream) indexLocked(id string) int {
	for i := range s.confirmed {
		if s.confirmed[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Stream) pendingLocked(tempID string) *pendingEntry {
	for _, p := range s.pending {
		if p.tempID == tempID {
			return p
		}
	}
	return nil
}

func (s *Stream) dropPendingLocked(tempID string) {
	s.pending = slices.DeleteFunc(s.pending, func(p *pendingEntry) bool {
		return p.tempID == tempID
	})
}

func (s *Stream) notify() {
	if s.onChange == nil {
		return
	}
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	s.onChange(s.Entries())
}

func (s *Stream) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.opTimeout)
}
