package chat

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"campusmarket/internal/domain/messaging"
)

// InboxItem is one row of the conversation list as the signed-in user sees it.
type InboxItem struct {
	ConversationID string
	ListingID      string
	Listing        *messaging.ListingCard
	Counterpart    messaging.Participant
	Preview        string
	LastMessageID  string
	LastActivity   time.Time
	UnreadCount    int
	Archived       bool
}

// Inbox assembles and maintains the conversation list.
type Inbox struct {
	store  Store
	me     messaging.Participant
	logger *slog.Logger

	mu       sync.Mutex
	archived bool
	items    []InboxItem
	err      error
	active   string
	onChange func([]InboxItem)
	// loadedAt holds each conversation's last activity as of the last load. Unread counts
	// from the store already cover messages up to it.
	loadedAt map[string]time.Time
	// applied holds the message ids folded in since the last load, keyed by conversation.
	applied map[string]map[string]struct{}
}

func NewInbox(store Store, me messaging.Participant, logger *slog.Logger) *Inbox {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Inbox{store: store, me: me, logger: logger}
}

// OnChange registers a hook receiving the list after every change.
func (i *Inbox) OnChange(fn func([]InboxItem)) {
	i.mu.Lock()
	i.onChange = fn
	i.mu.Unlock()
}

// Load replaces the list with the active or archived conversations. A failure leaves an
// empty list and records the error for Err; Retry repeats the same load.
func (i *Inbox) Load(ctx context.Context, archived bool) []InboxItem {
	i.mu.Lock()
	i.archived = archived
	i.mu.Unlock()

	summaries, err := i.store.ListConversations(ctx, archived)

	i.mu.Lock()
	if err != nil {
		i.items = nil
		i.err = err
		i.mu.Unlock()
		i.logger.Warn("load conversations failed", "archived", archived, "error", err)
		i.notify()
		return nil
	}
	items := make([]InboxItem, 0, len(summaries))
	for _, summary := range summaries {
		if !summary.VisibleTo(i.me.ID) || summary.ArchivedFor(i.me.ID) != archived {
			continue
		}
		items = append(items, i.itemFrom(summary))
	}
	sortItems(items)
	i.items = items
	i.err = nil
	i.loadedAt = make(map[string]time.Time, len(items))
	i.applied = make(map[string]map[string]struct{}, len(items))
	for _, item := range items {
		i.loadedAt[item.ConversationID] = item.LastActivity
	}
	out := cloneItems(i.items)
	i.mu.Unlock()
	i.notify()
	return out
}

func (i *Inbox) Retry(ctx context.Context) []InboxItem {
	i.mu.Lock()
	archived := i.archived
	i.mu.Unlock()
	return i.Load(ctx, archived)
}

func (i *Inbox) Items() []InboxItem {
	i.mu.Lock()
	defer i.mu.Unlock()
	return cloneItems(i.items)
}

func (i *Inbox) Err() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.err
}

// SetActive names the conversation currently open on screen. Its messages count as read on
// arrival.
func (i *Inbox) SetActive(conversationID string) {
	i.mu.Lock()
	i.active = conversationID
	i.mu.Unlock()
}

// Apply folds a newly inserted message into the list and moves its conversation to the top.
// It reports false when the conversation is not in the list, which means a reload is due.
func (i *Inbox) Apply(msg messaging.Message) bool {
	i.mu.Lock()
	idx := -1
	for n := range i.items {
		if i.items[n].ConversationID == msg.ConversationID {
			idx = n
			break
		}
	}
	if idx < 0 {
		i.mu.Unlock()
		return false
	}
	item := &i.items[idx]
	if i.seenLocked(msg) || (msg.ID != "" && msg.ID == item.LastMessageID) {
		i.mu.Unlock()
		return true
	}
	counts := msg.SenderID != i.me.ID && !msg.Read && msg.ConversationID != i.active &&
		msg.CreatedAt.After(i.loadedAt[msg.ConversationID])
	if msg.CreatedAt.Before(item.LastActivity) {
		if counts {
			item.UnreadCount++
		}
		i.mu.Unlock()
		i.notify()
		return true
	}
	item.Preview = msg.Preview()
	item.LastMessageID = msg.ID
	item.LastActivity = msg.CreatedAt
	if counts {
		item.UnreadCount++
	}
	sortItems(i.items)
	i.mu.Unlock()
	i.notify()
	return true
}

// seenLocked records msg and reports whether it was already applied since the last load.
func (i *Inbox) seenLocked(msg messaging.Message) bool {
	if msg.ID == "" {
		return false
	}
	if i.applied == nil {
		i.applied = make(map[string]map[string]struct{})
	}
	ids := i.applied[msg.ConversationID]
	if ids == nil {
		ids = make(map[string]struct{})
		i.applied[msg.ConversationID] = ids
	}
	if _, ok := ids[msg.ID]; ok {
		return true
	}
	ids[msg.ID] = struct{}{}
	return false
}

// MarkRead zeroes the local unread count of a conversation.
func (i *Inbox) MarkRead(conversationID string) {
	i.mu.Lock()
	changed := false
	for n := range i.items {
		if i.items[n].ConversationID == conversationID && i.items[n].UnreadCount != 0 {
			i.items[n].UnreadCount = 0
			changed = true
		}
	}
	i.mu.Unlock()
	if changed {
		i.notify()
	}
}

// Remove drops a conversation from the list after it was archived away or deleted.
func (i *Inbox) Remove(conversationID string) {
	i.mu.Lock()
	kept := i.items[:0]
	for _, item := range i.items {
		if item.ConversationID != conversationID {
			kept = append(kept, item)
		}
	}
	i.items = kept
	i.mu.Unlock()
	i.notify()
}

func (i *Inbox) itemFrom(summary messaging.ConversationSummary) InboxItem {
	item := InboxItem{
		ConversationID: summary.ID,
		ListingID:      summary.ListingID,
		Counterpart:    summary.Counterpart(i.me.ID),
		Preview:        summary.LastMessagePreview,
		LastMessageID:  summary.LastMessageID,
		LastActivity:   summary.LastActivity(),
		UnreadCount:    summary.UnreadCount,
		Archived:       summary.ArchivedFor(i.me.ID),
	}
	if summary.Listing != nil {
		card := *summary.Listing
		item.Listing = &card
	}
	return item
}

func (i *Inbox) notify() {
	i.mu.Lock()
	fn := i.onChange
	items := cloneItems(i.items)
	i.mu.Unlock()
	if fn != nil {
		fn(items)
	}
}

func sortItems(items []InboxItem) {
	sort.SliceStable(items, func(a, b int) bool {
		if !items[a].LastActivity.Equal(items[b].LastActivity) {
			return items[a].LastActivity.After(items[b].LastActivity)
		}
		return items[a].ConversationID < items[b].ConversationID
	})
}

func cloneItems(items []InboxItem) []InboxItem {
	if items == nil {
		return nil
	}
	return append([]InboxItem(nil), items...)
}
