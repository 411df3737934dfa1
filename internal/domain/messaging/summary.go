package messaging

import "time"

// Participant is the display profile joined onto conversations and messages.
type Participant struct {
	ID          string
	DisplayName string
	AvatarURL   string
}

// ListingCard summarises the listing a conversation is about. Messaging never mutates it.
type ListingCard struct {
	ID         string
	Title      string
	PriceCents int64
	ImageURL   string
	Status     string
}

// ConversationSummary is a conversation as seen by one user in their list.
type ConversationSummary struct {
	Conversation
	UnreadCount int
	Buyer       Participant
	Seller      Participant
	Listing     *ListingCard
}

// Counterpart picks the other side's profile for viewerID.
func (s ConversationSummary) Counterpart(viewerID string) Participant {
	switch s.SideOf(viewerID) {
	case SideBuyer:
		return s.Seller
	case SideSeller:
		return s.Buyer
	default:
		return Participant{}
	}
}

// ConversationFilter selects the conversations a list query returns.
type ConversationFilter struct {
	UserID string
	// Archived selects the archived tab for UserID; ignored when IncludeAll is set.
	Archived bool
	// IncludeAll returns every conversation (moderation view) without unread counts.
	IncludeAll bool
}

// Page bounds a message listing. A zero Page returns the oldest DefaultPageSize messages.
type Page struct {
	Limit int
	After string
}

const (
	DefaultPageSize = 500
	MaxPageSize     = 500
)

func (p Page) Size() int {
	if p.Limit <= 0 || p.Limit > MaxPageSize {
		return DefaultPageSize
	}
	return p.Limit
}

// ItemReference links a conversation to a listing discussed in it. One reference is primary.
type ItemReference struct {
	ConversationID string
	ListingID      string
	Primary        bool
	AddedAt        time.Time
}
