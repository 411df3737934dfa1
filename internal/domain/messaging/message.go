package messaging

import (
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxBodyRunes bounds message text.
const MaxBodyRunes = 4000

// Message belongs to exactly one conversation. Body may be empty when attachments exist.
type Message struct {
	ID             string
	ConversationID string
	// ClientID is the sender's temporary id, echoed back so pending entries can be reconciled.
	ClientID    string
	SenderID    string
	Body        string
	Attachments []Attachment
	Read        bool
	LikedBy     []string
	CreatedAt   time.Time

	SenderName      string
	SenderAvatarURL string
}

type NewMessageParams struct {
	ConversationID string
	ClientID       string
	SenderID       string
	Body           string
	Attachments    []Attachment
	Now            time.Time
}

// NewMessage validates content and returns a message without a server id.
func NewMessage(params NewMessageParams) (*Message, error) {
	if strings.TrimSpace(params.ConversationID) == "" {
		return nil, ErrIDRequired
	}
	sender := strings.TrimSpace(params.SenderID)
	if sender == "" {
		return nil, ErrSenderRequired
	}
	body := strings.TrimSpace(params.Body)
	if err := ValidateContent(body, params.Attachments); err != nil {
		return nil, err
	}
	now := params.Now
	if now.IsZero() {
		now = time.Now()
	}
	return &Message{
		ConversationID: strings.TrimSpace(params.ConversationID),
		ClientID:       strings.TrimSpace(params.ClientID),
		SenderID:       sender,
		Body:           body,
		Attachments:    cloneAttachments(params.Attachments),
		CreatedAt:      now.UTC(),
	}, nil
}

// ValidateContent enforces that a message carries text or at least one attachment.
func ValidateContent(body string, attachments []Attachment) error {
	body = strings.TrimSpace(body)
	if body == "" && len(attachments) == 0 {
		return ErrEmptyMessage
	}
	if utf8.RuneCountInString(body) > MaxBodyRunes {
		return ErrMessageTooLong
	}
	return CheckAttachments(attachments)
}

func (m *Message) HasContent() bool {
	return strings.TrimSpace(m.Body) != "" || len(m.Attachments) > 0
}

// MarkReadBy flips the read flag when reader is not the sender. Read never reverts.
func (m *Message) MarkReadBy(reader string) bool {
	if m.Read || reader == "" || reader == m.SenderID {
		return false
	}
	m.Read = true
	return true
}

func (m *Message) LikedByUser(userID string) bool {
	for _, id := range m.LikedBy {
		if id == userID {
			return true
		}
	}
	return false
}

// SetLike puts userID into or out of the liked-by set and reports whether the set changed.
func (m *Message) SetLike(userID string, liked bool) bool {
	if userID == "" || m.LikedByUser(userID) == liked {
		return false
	}
	if liked {
		m.LikedBy = append(m.LikedBy, userID)
		return true
	}
	out := m.LikedBy[:0:0]
	for _, id := range m.LikedBy {
		if id != userID {
			out = append(out, id)
		}
	}
	m.LikedBy = out
	return true
}

// ToggleLike returns a new liked-by set with userID's membership flipped and the new state.
func ToggleLike(likedBy []string, userID string) ([]string, bool) {
	m := Message{LikedBy: append([]string(nil), likedBy...)}
	liked := !m.LikedByUser(userID)
	m.SetLike(userID, liked)
	return m.LikedBy, liked
}

// Clone returns a deep copy safe to hand across goroutines.
func (m Message) Clone() Message {
	m.Attachments = cloneAttachments(m.Attachments)
	if m.LikedBy != nil {
		m.LikedBy = append([]string(nil), m.LikedBy...)
	}
	return m
}

// Preview renders the conversation-list snippet for a message.
func (m Message) Preview() string {
	return PreviewText(m.Body, len(m.Attachments))
}

// Less orders messages by creation time with the id as tie-break.
func Less(a, b Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func SortMessages(list []Message) {
	sort.SliceStable(list, func(i, j int) bool { return Less(list[i], list[j]) })
}
