package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusmarket/internal/domain/messaging"
)

func newTestStore() (*MessagingStore, *time.Time) {
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	store := NewMessagingStore().WithClock(func() time.Time { return now })
	return store, &now
}

func send(t *testing.T, s *MessagingStore, convID, sender, body, clientID string, at time.Time) *messaging.Message {
	t.Helper()
	msg, err := messaging.NewMessage(messaging.NewMessageParams{
		ConversationID: convID, SenderID: sender, Body: body, ClientID: clientID, Now: at,
	})
	require.NoError(t, err)
	stored, err := s.AddMessage(context.Background(), *msg)
	require.NoError(t, err)
	return stored
}

func TestGetOrCreateConversationIsLazyAndUnique(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	first, created, err := s.GetOrCreateConversation(ctx, "l1", "alice", "bob")
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := s.GetOrCreateConversation(ctx, "l1", "alice", "bob")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	other, created, err := s.GetOrCreateConversation(ctx, "l2", "alice", "bob")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, other.ID)

	_, _, err = s.GetOrCreateConversation(ctx, "l1", "bob", "bob")
	assert.ErrorIs(t, err, messaging.ErrSelfConversation)
}

func TestAddMessageOrdersAndDedupesByClientID(t *testing.T) {
	s, now := newTestStore()
	ctx := context.Background()
	conv, _, err := s.GetOrCreateConversation(ctx, "l1", "alice", "bob")
	require.NoError(t, err)

	later := send(t, s, conv.ID, "bob", "later", "", now.Add(2*time.Minute))
	earlier := send(t, s, conv.ID, "alice", "earlier", "tmp_1", now.Add(time.Minute))
	dup := send(t, s, conv.ID, "alice", "earlier", "tmp_1", now.Add(3*time.Minute))
	assert.Equal(t, earlier.ID, dup.ID)

	msgs, err := s.ListMessages(ctx, conv.ID, messaging.Page{})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, earlier.ID, msgs[0].ID)
	assert.Equal(t, later.ID, msgs[1].ID)

	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, later.ID, got.LastMessageID)
	assert.Equal(t, "later", got.LastMessagePreview)
}

func TestAddMessageRejectsOutsiders(t *testing.T) {
	s, now := newTestStore()
	conv, _, err := s.GetOrCreateConversation(context.Background(), "l1", "alice", "bob")
	require.NoError(t, err)

	msg, err := messaging.NewMessage(messaging.NewMessageParams{ConversationID: conv.ID, SenderID: "mallory", Body: "hi", Now: *now})
	require.NoError(t, err)
	_, err = s.AddMessage(context.Background(), *msg)
	assert.ErrorIs(t, err, messaging.ErrNotParticipant)
}

func TestListMessagesPagesAfterCursor(t *testing.T) {
	s, now := newTestStore()
	ctx := context.Background()
	conv, _, err := s.GetOrCreateConversation(ctx, "l1", "alice", "bob")
	require.NoError(t, err)
	var ids []string
	for i := range 5 {
		ids = append(ids, send(t, s, conv.ID, "alice", "m", "", now.Add(time.Duration(i)*time.Second)).ID)
	}

	page, err := s.ListMessages(ctx, conv.ID, messaging.Page{Limit: 2, After: ids[1]})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[2], page[0].ID)
	assert.Equal(t, ids[3], page[1].ID)

	_, err = s.ListMessages(ctx, conv.ID, messaging.Page{After: "missing"})
	assert.ErrorIs(t, err, messaging.ErrMessageNotFound)
}

func TestMarkReadReturnsOnlyChangedAndSkipsOwnMessages(t *testing.T) {
	s, now := newTestStore()
	ctx := context.Background()
	conv, _, err := s.GetOrCreateConversation(ctx, "l1", "alice", "bob")
	require.NoError(t, err)
	fromBob := send(t, s, conv.ID, "bob", "hi", "", *now)
	fromAlice := send(t, s, conv.ID, "alice", "hey", "", now.Add(time.Second))

	changed, err := s.MarkRead(ctx, conv.ID, "alice", []string{fromBob.ID, fromAlice.ID})
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.Equal(t, fromBob.ID, changed[0].ID)

	changed, err = s.MarkRead(ctx, conv.ID, "alice", []string{fromBob.ID})
	require.NoError(t, err)
	assert.Empty(t, changed)

	list, err := s.ListConversations(ctx, messaging.ConversationFilter{UserID: "bob"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 0, list[0].UnreadCount)
}

func TestSetLikeIsPerUserSet(t *testing.T) {
	s, now := newTestStore()
	ctx := context.Background()
	conv, _, err := s.GetOrCreateConversation(ctx, "l1", "alice", "bob")
	require.NoError(t, err)
	msg := send(t, s, conv.ID, "bob", "bike", "", *now)

	updated, err := s.SetLike(ctx, conv.ID, msg.ID, "alice", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, updated.LikedBy)

	updated, err = s.SetLike(ctx, conv.ID, msg.ID, "alice", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, updated.LikedBy)

	updated, err = s.SetLike(ctx, conv.ID, msg.ID, "bob", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, updated.LikedBy)

	updated, err = s.SetLike(ctx, conv.ID, msg.ID, "alice", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, updated.LikedBy)

	_, err = s.SetLike(ctx, conv.ID, "nope", "alice", true)
	assert.ErrorIs(t, err, messaging.ErrMessageNotFound)
}

func TestArchiveAndDeleteAreOneSided(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	conv, _, err := s.GetOrCreateConversation(ctx, "l1", "alice", "bob")
	require.NoError(t, err)

	_, err = s.SetArchived(ctx, conv.ID, "alice", true)
	require.NoError(t, err)
	active, err := s.ListConversations(ctx, messaging.ConversationFilter{UserID: "alice"})
	require.NoError(t, err)
	assert.Empty(t, active)
	archived, err := s.ListConversations(ctx, messaging.ConversationFilter{UserID: "alice", Archived: true})
	require.NoError(t, err)
	assert.Len(t, archived, 1)

	_, err = s.SoftDelete(ctx, conv.ID, "bob")
	require.NoError(t, err)
	forBob, err := s.ListConversations(ctx, messaging.ConversationFilter{UserID: "bob"})
	require.NoError(t, err)
	assert.Empty(t, forBob)

	all, err := s.ListConversations(ctx, messaging.ConversationFilter{IncludeAll: true})
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = s.SoftDelete(ctx, conv.ID, "mallory")
	assert.ErrorIs(t, err, messaging.ErrNotParticipant)
}

func TestItemReferencesAreUniquePerListing(t *testing.T) {
	s, now := newTestStore()
	ctx := context.Background()
	conv, _, err := s.GetOrCreateConversation(ctx, "l1", "alice", "bob")
	require.NoError(t, err)

	require.NoError(t, s.AddItemReference(ctx, messaging.ItemReference{ConversationID: conv.ID, ListingID: "l1", Primary: true, AddedAt: *now}))
	require.NoError(t, s.AddItemReference(ctx, messaging.ItemReference{ConversationID: conv.ID, ListingID: "l2", AddedAt: *now}))
	require.NoError(t, s.AddItemReference(ctx, messaging.ItemReference{ConversationID: conv.ID, ListingID: "l2", AddedAt: *now}))

	refs, err := s.ListItemReferences(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.True(t, refs[0].Primary)

	err = s.AddItemReference(ctx, messaging.ItemReference{ConversationID: "missing", ListingID: "l1"})
	assert.ErrorIs(t, err, messaging.ErrConversationNotFound)
}
