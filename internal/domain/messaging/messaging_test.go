package messaging

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

func newConv(t *testing.T) *Conversation {
	t.Helper()
	c, err := NewConversation(NewConversationParams{ID: "c1", ListingID: "l1", BuyerID: "buyer", SellerID: "seller", Now: t0})
	require.NoError(t, err)
	return c
}

func TestNewConversationRejectsSelfAndMissingParticipants(t *testing.T) {
	_, err := NewConversation(NewConversationParams{ID: "c1", BuyerID: "u1", SellerID: "u1"})
	assert.ErrorIs(t, err, ErrSelfConversation)

	_, err = NewConversation(NewConversationParams{ID: "c1", BuyerID: "u1"})
	assert.ErrorIs(t, err, ErrParticipantsRequired)

	_, err = NewConversation(NewConversationParams{BuyerID: "u1", SellerID: "u2"})
	assert.ErrorIs(t, err, ErrIDRequired)
}

func TestArchiveAndDeleteArePerSide(t *testing.T) {
	c := newConv(t)

	require.NoError(t, c.SetArchived("buyer", true))
	assert.True(t, c.ArchivedFor("buyer"))
	assert.False(t, c.ArchivedFor("seller"))

	require.NoError(t, c.SoftDelete("seller"))
	assert.True(t, c.VisibleTo("buyer"))
	assert.False(t, c.VisibleTo("seller"))

	assert.ErrorIs(t, c.SetArchived("stranger", true), ErrNotParticipant)
	assert.ErrorIs(t, c.SoftDelete("stranger"), ErrNotParticipant)
	assert.False(t, c.VisibleTo("stranger"))
}

func TestCounterpartOf(t *testing.T) {
	c := newConv(t)
	assert.Equal(t, "seller", c.CounterpartOf("buyer"))
	assert.Equal(t, "buyer", c.CounterpartOf("seller"))
	assert.Empty(t, c.CounterpartOf("stranger"))
}

func TestRecordMessageKeepsNewest(t *testing.T) {
	c := newConv(t)
	assert.Equal(t, t0, c.LastActivity())

	c.RecordMessage(Message{ID: "m2", SenderID: "buyer", Body: "later", CreatedAt: t0.Add(2 * time.Minute)})
	c.RecordMessage(Message{ID: "m1", SenderID: "seller", Body: "earlier", CreatedAt: t0.Add(time.Minute)})

	assert.Equal(t, "m2", c.LastMessageID)
	assert.Equal(t, "later", c.LastMessagePreview)
	assert.Equal(t, t0.Add(2*time.Minute), c.LastActivity())
}

func TestPreviewText(t *testing.T) {
	assert.Equal(t, "hi there", PreviewText("  hi \n there ", 0))
	assert.Equal(t, "Sent an attachment", PreviewText("", 1))
	assert.Equal(t, "Sent 3 attachments", PreviewText(" ", 3))

	long := PreviewText(strings.Repeat("é", PreviewRunes+10), 0)
	assert.Equal(t, PreviewRunes, len([]rune(long)))
	assert.True(t, strings.HasSuffix(long, "…"))
}

func image(name string) Attachment {
	return Attachment{URL: "https://cdn.test/" + name, ContentType: "image/png", Name: name, Size: 10}
}

func TestNewMessageValidatesContent(t *testing.T) {
	_, err := NewMessage(NewMessageParams{ConversationID: "c1", SenderID: "u1", Body: "   "})
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = NewMessage(NewMessageParams{ConversationID: "c1", SenderID: "u1", Body: strings.Repeat("a", MaxBodyRunes+1)})
	assert.ErrorIs(t, err, ErrMessageTooLong)

	_, err = NewMessage(NewMessageParams{ConversationID: "c1", SenderID: "u1", Attachments: []Attachment{image("a"), image("b"), image("c"), image("d")}})
	assert.ErrorIs(t, err, ErrTooManyAttachments)

	msg, err := NewMessage(NewMessageParams{ConversationID: "c1", ClientID: " tmp-1 ", SenderID: "u1", Attachments: []Attachment{image("a")}, Now: t0})
	require.NoError(t, err)
	assert.Empty(t, msg.Body)
	assert.Equal(t, "tmp-1", msg.ClientID)
	assert.True(t, msg.HasContent())
	assert.False(t, msg.Read)
}

func TestCheckUpload(t *testing.T) {
	assert.NoError(t, CheckUpload("a.jpg", "image/jpeg; charset=binary", 1))
	assert.ErrorIs(t, CheckUpload("a.pdf", "application/pdf", 1), ErrAttachmentType)
	assert.ErrorIs(t, CheckUpload("a.png", "image/png", MaxAttachmentBytes+1), ErrAttachmentSize)
	assert.ErrorIs(t, CheckUpload("a.png", "image/png", 0), ErrAttachmentSize)
	assert.ErrorIs(t, CheckUpload(" ", "image/png", 1), ErrAttachmentInvalid)
}

func TestMarkReadNeverBySenderAndNeverReverts(t *testing.T) {
	m := Message{ID: "m1", SenderID: "u1"}
	assert.False(t, m.MarkReadBy("u1"))
	assert.False(t, m.Read)

	assert.True(t, m.MarkReadBy("u2"))
	assert.False(t, m.MarkReadBy("u2"))
	assert.True(t, m.Read)
}

func TestLikesAreASet(t *testing.T) {
	m := Message{ID: "m1", SenderID: "u1"}
	assert.True(t, m.SetLike("u2", true))
	assert.False(t, m.SetLike("u2", true))
	assert.Equal(t, []string{"u2"}, m.LikedBy)

	next, liked := ToggleLike(m.LikedBy, "u2")
	assert.False(t, liked)
	assert.Empty(t, next)
	assert.Equal(t, []string{"u2"}, m.LikedBy)

	next, liked = ToggleLike(next, "u3")
	assert.True(t, liked)
	assert.Equal(t, []string{"u3"}, next)
}

func TestSortMessagesBreaksTiesByID(t *testing.T) {
	list := []Message{
		{ID: "b", CreatedAt: t0},
		{ID: "c", CreatedAt: t0.Add(-time.Second)},
		{ID: "a", CreatedAt: t0},
	}
	SortMessages(list)
	assert.Equal(t, "c", list[0].ID)
	assert.Equal(t, "a", list[1].ID)
	assert.Equal(t, "b", list[2].ID)
}

func TestCloneDoesNotShareSlices(t *testing.T) {
	m := Message{ID: "m1", LikedBy: []string{"u1"}, Attachments: []Attachment{image("a")}}
	c := m.Clone()
	c.LikedBy[0] = "x"
	c.Attachments[0].Name = "x"
	assert.Equal(t, "u1", m.LikedBy[0])
	assert.Equal(t, "a", m.Attachments[0].Name)
}
