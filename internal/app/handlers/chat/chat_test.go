package chat_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusmarket/internal/app/commands"
	"campusmarket/internal/app/dto"
	"campusmarket/internal/app/handlers/chat"
	"campusmarket/internal/app/middleware"
	"campusmarket/internal/app/outbox"
	"campusmarket/internal/app/policies"
	"campusmarket/internal/app/queries"
	domainlistings "campusmarket/internal/domain/listings"
	"campusmarket/internal/domain/messaging"
	domainuser "campusmarket/internal/domain/user"
	"campusmarket/internal/infra/storage/memory"
	"campusmarket/internal/infra/validation"
)

var now = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

type recorder struct {
	mu      sync.Mutex
	records []outbox.EventRecord
}

func (r *recorder) Publish(_ context.Context, rec outbox.EventRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.Name)
	}
	return out
}

type objectStore struct {
	mu      sync.Mutex
	objects map[string]string
	failOn  string
}

func (s *objectStore) Upload(_ context.Context, key, _ string, _ int64, body io.Reader) (string, error) {
	if s.failOn != "" && strings.HasSuffix(key, s.failOn) {
		return "", errors.New("bucket unreachable")
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = string(data)
	return "https://cdn.test/" + key, nil
}

func (s *objectStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

type harness struct {
	cmds    commands.Bus
	qs      queries.Bus
	events  *recorder
	objects *objectStore
	store   *memory.MessagingStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	users := memory.NewUserRepository()
	for _, u := range []struct{ id, name string }{{"alice", "Alice"}, {"bob", "Bob"}, {"carol", "Carol"}} {
		user, err := domainuser.NewUser(domainuser.CreateParams{
			ID: domainuser.ID(u.id), Email: u.id + "@campus.test", DisplayName: u.name, PasswordHash: "x", CreatedAt: now,
		})
		require.NoError(t, err)
		require.NoError(t, users.Save(ctx, user))
	}
	listings := memory.NewListingRepository()
	for _, l := range []struct {
		id, seller string
		publish    bool
	}{{"desk", "bob", true}, {"lamp", "bob", true}, {"draft", "bob", false}} {
		listing, err := domainlistings.NewListing(domainlistings.CreateParams{
			ID: domainlistings.ListingID(l.id), Seller: domainlistings.SellerID(l.seller), Kind: domainlistings.KindMarketplace,
			Title: strings.ToUpper(l.id[:1]) + l.id[1:], PriceCents: 2500, Images: []string{"https://cdn.test/" + l.id + ".png"}, Now: now,
		})
		require.NoError(t, err)
		if l.publish {
			require.NoError(t, listing.Publish(now))
		}
		require.NoError(t, listings.Save(ctx, listing))
	}

	events := &recorder{}
	box := memory.NewOutbox(events)
	store := memory.NewMessagingStore().WithClock(func() time.Time { return now })
	objects := &objectStore{objects: map[string]string{}}
	deps := &chat.Deps{
		Conversations: store,
		Users:         users,
		Listings:      listings,
		Outbox:        box,
		Encoder:       outbox.JSONEventEncoder{},
		Storage:       objects,
		StoragePrefix: "https://cdn.test/",
		Now:           func() time.Time { return now },
	}
	cmdBus := commands.NewInMemoryBus()
	queryBus := queries.NewInMemoryBus()
	chat.Register(cmdBus, queryBus, deps)

	validator := validation.New()
	return &harness{
		cmds: middleware.ChainCommands(cmdBus,
			middleware.Validation(validator),
			middleware.Authorization(policies.RoleAuthorizer{}),
			middleware.Idempotency(memory.NewIdempotencyStore(0), nil),
			middleware.OutboxFlush(box, nil),
		),
		qs: middleware.ChainQueries(queryBus,
			middleware.QueryValidation(validator),
			middleware.QueryAuthorization(policies.RoleAuthorizer{}),
		),
		events:  events,
		objects: objects,
		store:   store,
	}
}

func (h *harness) start(t *testing.T, user, listing string) dto.Conversation {
	t.Helper()
	conv, err := commands.Dispatch[chat.StartConversationCommand, dto.Conversation](context.Background(), h.cmds,
		chat.StartConversationCommand{UserID: user, ListingID: listing})
	require.NoError(t, err)
	return conv
}

func (h *harness) send(t *testing.T, user, convID, text, clientID string) dto.Message {
	t.Helper()
	msg, err := commands.Dispatch[chat.SendMessageCommand, dto.Message](context.Background(), h.cmds,
		chat.SendMessageCommand{UserID: user, ConversationID: convID, Text: text, ClientID: clientID})
	require.NoError(t, err)
	return msg
}

func TestStartConversationIsIdempotentPerListing(t *testing.T) {
	h := newHarness(t)

	first := h.start(t, "alice", "desk")
	assert.Equal(t, "alice", first.BuyerID)
	assert.Equal(t, "bob", first.SellerID)
	assert.Equal(t, "Bob", first.Seller.DisplayName)
	require.NotNil(t, first.Listing)
	assert.Equal(t, "Desk", first.Listing.Title)

	again := h.start(t, "alice", "desk")
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, []string{messaging.EventConversationCreated}, h.events.names())

	refs, err := queries.Ask[chat.ListItemReferencesQuery, []dto.ItemReference](context.Background(), h.qs,
		chat.ListItemReferencesQuery{UserID: "bob", ConversationID: first.ID})
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.True(t, refs[0].Primary)
	assert.Equal(t, "desk", refs[0].ListingID)
}

func TestStartConversationRejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.cmds.Dispatch(ctx, chat.StartConversationCommand{UserID: "bob", ListingID: "desk"})
	assert.ErrorIs(t, err, messaging.ErrSelfConversation)

	_, err = h.cmds.Dispatch(ctx, chat.StartConversationCommand{UserID: "alice", ListingID: "draft"})
	assert.ErrorIs(t, err, chat.ErrListingUnavailable)

	_, err = h.cmds.Dispatch(ctx, chat.StartConversationCommand{UserID: "alice", ListingID: "ghost"})
	assert.ErrorIs(t, err, domainlistings.ErrNotFound)

	_, err = h.cmds.Dispatch(ctx, chat.StartConversationCommand{UserID: "alice"})
	assert.ErrorIs(t, err, validation.ErrInvalid)
}

func TestSendMessageReplaysSameClientID(t *testing.T) {
	h := newHarness(t)
	conv := h.start(t, "alice", "desk")

	first := h.send(t, "alice", conv.ID, "Is this still available?", "tmp_01")
	assert.Equal(t, "Alice", first.SenderName)
	assert.Equal(t, "tmp_01", first.ClientID)

	replay := h.send(t, "alice", conv.ID, "Is this still available?", "tmp_01")
	assert.Equal(t, first.ID, replay.ID)

	list, err := queries.Ask[chat.ListMessagesQuery, dto.MessageList](context.Background(), h.qs,
		chat.ListMessagesQuery{UserID: "bob", ConversationID: conv.ID})
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	assert.Equal(t, []string{messaging.EventConversationCreated, messaging.EventMessageSent}, h.events.names())
}

func TestSendMessageValidation(t *testing.T) {
	h := newHarness(t)
	conv := h.start(t, "alice", "desk")
	ctx := context.Background()

	_, err := h.cmds.Dispatch(ctx, chat.SendMessageCommand{UserID: "alice", ConversationID: conv.ID, Text: "   "})
	assert.ErrorIs(t, err, messaging.ErrEmptyMessage)

	_, err = h.cmds.Dispatch(ctx, chat.SendMessageCommand{UserID: "carol", ConversationID: conv.ID, Text: "hi"})
	assert.ErrorIs(t, err, messaging.ErrNotParticipant)

	_, err = h.cmds.Dispatch(ctx, chat.SendMessageCommand{UserID: "alice", ConversationID: "missing", Text: "hi"})
	assert.ErrorIs(t, err, messaging.ErrConversationNotFound)

	atts := make([]messaging.Attachment, 4)
	for i := range atts {
		atts[i] = messaging.Attachment{URL: "https://cdn.test/x.png", ContentType: "image/png", Name: "x.png", Size: 1}
	}
	_, err = h.cmds.Dispatch(ctx, chat.SendMessageCommand{UserID: "alice", ConversationID: conv.ID, Attachments: atts})
	assert.Error(t, err)
}

func TestListConversationsShowsUnreadAndHidesDeleted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	desk := h.start(t, "alice", "desk")
	lamp := h.start(t, "carol", "lamp")
	h.send(t, "alice", desk.ID, "hi", "")
	h.send(t, "carol", lamp.ID, "hello", "")

	list, err := queries.Ask[chat.ListConversationsQuery, dto.ConversationList](ctx, h.qs, chat.ListConversationsQuery{UserID: "bob"})
	require.NoError(t, err)
	require.Len(t, list.Items, 2)
	for _, item := range list.Items {
		assert.Equal(t, 1, item.UnreadCount)
	}

	_, err = h.cmds.Dispatch(ctx, chat.DeleteConversationCommand{UserID: "bob", ConversationID: lamp.ID})
	require.NoError(t, err)
	list, err = queries.Ask[chat.ListConversationsQuery, dto.ConversationList](ctx, h.qs, chat.ListConversationsQuery{UserID: "bob"})
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	assert.Equal(t, desk.ID, list.Items[0].ID)

	carol, err := queries.Ask[chat.ListConversationsQuery, dto.ConversationList](ctx, h.qs, chat.ListConversationsQuery{UserID: "carol"})
	require.NoError(t, err)
	assert.Len(t, carol.Items, 1)
}

func TestMarkReadWithoutIDsMarksEveryIncomingMessage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv := h.start(t, "alice", "desk")
	one := h.send(t, "alice", conv.ID, "one", "")
	two := h.send(t, "alice", conv.ID, "two", "")
	h.send(t, "bob", conv.ID, "reply", "")

	res, err := commands.Dispatch[chat.MarkReadCommand, dto.ReadResult](ctx, h.cmds, chat.MarkReadCommand{UserID: "bob", ConversationID: conv.ID})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{one.ID, two.ID}, res.Updated)

	res, err = commands.Dispatch[chat.MarkReadCommand, dto.ReadResult](ctx, h.cmds, chat.MarkReadCommand{UserID: "bob", ConversationID: conv.ID})
	require.NoError(t, err)
	assert.Empty(t, res.Updated)

	got, err := queries.Ask[chat.GetConversationQuery, dto.Conversation](ctx, h.qs, chat.GetConversationQuery{UserID: "bob", ConversationID: conv.ID})
	require.NoError(t, err)
	assert.Zero(t, got.UnreadCount)
	got, err = queries.Ask[chat.GetConversationQuery, dto.Conversation](ctx, h.qs, chat.GetConversationQuery{UserID: "alice", ConversationID: conv.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, got.UnreadCount)
}

func TestSetLikeTogglesForCaller(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv := h.start(t, "alice", "desk")
	msg := h.send(t, "bob", conv.ID, "still available", "")

	liked, err := commands.Dispatch[chat.SetLikeCommand, dto.Message](ctx, h.cmds,
		chat.SetLikeCommand{UserID: "alice", ConversationID: conv.ID, MessageID: msg.ID, Liked: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, liked.LikedBy)

	unliked, err := commands.Dispatch[chat.SetLikeCommand, dto.Message](ctx, h.cmds,
		chat.SetLikeCommand{UserID: "alice", ConversationID: conv.ID, MessageID: msg.ID, Liked: false})
	require.NoError(t, err)
	assert.Empty(t, unliked.LikedBy)
}

func TestArchiveMovesConversationToArchivedTab(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv := h.start(t, "alice", "desk")

	_, err := h.cmds.Dispatch(ctx, chat.ArchiveConversationCommand{UserID: "alice", ConversationID: conv.ID, Archived: true})
	require.NoError(t, err)

	active, err := queries.Ask[chat.ListConversationsQuery, dto.ConversationList](ctx, h.qs, chat.ListConversationsQuery{UserID: "alice"})
	require.NoError(t, err)
	assert.Empty(t, active.Items)
	archived, err := queries.Ask[chat.ListConversationsQuery, dto.ConversationList](ctx, h.qs, chat.ListConversationsQuery{UserID: "alice", Archived: true})
	require.NoError(t, err)
	assert.Len(t, archived.Items, 1)
	bob, err := queries.Ask[chat.ListConversationsQuery, dto.ConversationList](ctx, h.qs, chat.ListConversationsQuery{UserID: "bob"})
	require.NoError(t, err)
	assert.Len(t, bob.Items, 1)
}

func TestAdminListRequiresModerator(t *testing.T) {
	h := newHarness(t)
	h.start(t, "alice", "desk")

	_, err := h.qs.Ask(context.Background(), chat.AdminListConversationsQuery{})
	assert.ErrorIs(t, err, policies.ErrUnauthenticated)

	ctx := policies.WithPrincipal(context.Background(), policies.Principal{UserID: "alice", Roles: []domainuser.Role{domainuser.RoleStudent}})
	_, err = h.qs.Ask(ctx, chat.AdminListConversationsQuery{})
	assert.ErrorIs(t, err, policies.ErrForbidden)

	ctx = policies.WithPrincipal(context.Background(), policies.Principal{UserID: "root", Roles: []domainuser.Role{domainuser.RoleAdmin}})
	all, err := queries.Ask[chat.AdminListConversationsQuery, dto.ConversationList](ctx, h.qs, chat.AdminListConversationsQuery{})
	require.NoError(t, err)
	assert.Len(t, all.Items, 1)
}

func TestAddItemReference(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv := h.start(t, "alice", "desk")

	ref, err := commands.Dispatch[chat.AddItemReferenceCommand, dto.ItemReference](ctx, h.cmds,
		chat.AddItemReferenceCommand{UserID: "bob", ConversationID: conv.ID, ListingID: "lamp"})
	require.NoError(t, err)
	assert.False(t, ref.Primary)

	refs, err := queries.Ask[chat.ListItemReferencesQuery, []dto.ItemReference](ctx, h.qs,
		chat.ListItemReferencesQuery{UserID: "alice", ConversationID: conv.ID})
	require.NoError(t, err)
	assert.Len(t, refs, 2)

	_, err = h.qs.Ask(ctx, chat.ListItemReferencesQuery{UserID: "carol", ConversationID: conv.ID})
	assert.ErrorIs(t, err, messaging.ErrNotParticipant)
}

func png(name string) chat.UploadFile {
	return chat.UploadFile{Name: name, ContentType: "image/png", Size: 3, Body: bytes.NewReader([]byte("png"))}
}

func TestUploadAttachmentsStoresEveryFile(t *testing.T) {
	h := newHarness(t)

	atts, err := commands.Dispatch[chat.UploadAttachmentsCommand, []dto.Attachment](context.Background(), h.cmds,
		chat.UploadAttachmentsCommand{UserID: "alice", Files: []chat.UploadFile{png("a.png"), png("b.png")}})
	require.NoError(t, err)
	require.Len(t, atts, 2)
	assert.True(t, strings.HasPrefix(atts[0].URL, "https://cdn.test/attachments/alice/"))
	assert.True(t, strings.HasSuffix(atts[0].URL, "-a.png"))
	assert.True(t, strings.HasSuffix(atts[1].URL, "-b.png"))
	assert.Len(t, h.objects.objects, 2)
}

func TestUploadAttachmentsIsAllOrNothing(t *testing.T) {
	h := newHarness(t)
	h.objects.failOn = "-b.png"

	_, err := h.cmds.Dispatch(context.Background(),
		chat.UploadAttachmentsCommand{UserID: "alice", Files: []chat.UploadFile{png("a.png"), png("b.png"), png("c.png")}})
	require.Error(t, err)
	assert.Empty(t, h.objects.objects)
}

func TestUploadAttachmentsRejectsBeforeStoring(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.cmds.Dispatch(ctx, chat.UploadAttachmentsCommand{UserID: "alice",
		Files: []chat.UploadFile{png("1.png"), png("2.png"), png("3.png"), png("4.png")}})
	assert.ErrorIs(t, err, messaging.ErrTooManyAttachments)

	_, err = h.cmds.Dispatch(ctx, chat.UploadAttachmentsCommand{UserID: "alice",
		Files: []chat.UploadFile{{Name: "cv.pdf", ContentType: "application/pdf", Size: 3, Body: strings.NewReader("pdf")}}})
	assert.ErrorIs(t, err, messaging.ErrAttachmentType)
	assert.Empty(t, h.objects.objects)
}

func TestSendMessageOnlyAcceptsOwnUploads(t *testing.T) {
	h := newHarness(t)
	conv := h.start(t, "alice", "desk")
	ctx := context.Background()

	uploaded, err := commands.Dispatch[chat.UploadAttachmentsCommand, []dto.Attachment](ctx, h.cmds,
		chat.UploadAttachmentsCommand{UserID: "alice", Files: []chat.UploadFile{png("desk.png")}})
	require.NoError(t, err)
	require.Len(t, uploaded, 1)
	own := messaging.Attachment{URL: uploaded[0].URL, ContentType: "image/png", Name: "desk.png", Size: 3}

	for _, url := range []string{
		"https://evil.example/attachments/alice/x-desk.png",
		"https://cdn.test/attachments/bob/x-desk.png",
		"https://cdn.test/attachments/alice/../bob/x-desk.png",
		"https://cdn.test/attachments/alice/",
		"https://cdn.test/avatars/alice.png",
	} {
		foreign := own
		foreign.URL = url
		_, err = h.cmds.Dispatch(ctx, chat.SendMessageCommand{UserID: "alice", ConversationID: conv.ID,
			Attachments: []messaging.Attachment{own, foreign}})
		assert.ErrorIs(t, err, messaging.ErrAttachmentForeign, url)
	}

	msg, err := commands.Dispatch[chat.SendMessageCommand, dto.Message](ctx, h.cmds,
		chat.SendMessageCommand{UserID: "alice", ConversationID: conv.ID, Attachments: []messaging.Attachment{own}})
	require.NoError(t, err)
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, own.URL, msg.Attachments[0].URL)

	_, err = h.cmds.Dispatch(ctx, chat.SendMessageCommand{UserID: "bob", ConversationID: conv.ID,
		Attachments: []messaging.Attachment{own}})
	assert.ErrorIs(t, err, messaging.ErrAttachmentForeign)
}
