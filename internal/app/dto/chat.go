package dto

import (
	"time"

	"campusmarket/internal/domain/messaging"
)

type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

type ListingCard struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	PriceCents int64  `json:"price_cents"`
	ImageURL   string `json:"image_url,omitempty"`
	Status     string `json:"status"`
}

type Attachment struct {
	URL         string `json:"url"`
	ContentType string `json:"type"`
	Name        string `json:"name"`
	Size        int64  `json:"size"`
}

// Conversation is a thread as seen by the requesting user.
type Conversation struct {
	ID                  string       `json:"id"`
	ListingID           string       `json:"listing_id,omitempty"`
	BuyerID             string       `json:"buyer_id"`
	SellerID            string       `json:"seller_id"`
	Buyer               Participant  `json:"buyer"`
	Seller              Participant  `json:"seller"`
	Listing             *ListingCard `json:"listing,omitempty"`
	ArchivedByBuyer     bool         `json:"archived_by_buyer"`
	ArchivedBySeller    bool         `json:"archived_by_seller"`
	DeletedByBuyer      bool         `json:"deleted_by_buyer"`
	DeletedBySeller     bool         `json:"deleted_by_seller"`
	CreatedAt           time.Time    `json:"created_at"`
	LastMessageAt       *time.Time   `json:"last_message_at,omitempty"`
	LastMessageID       string       `json:"last_message_id,omitempty"`
	LastMessageSenderID string       `json:"last_message_sender_id,omitempty"`
	LastMessagePreview  string       `json:"last_message_preview,omitempty"`
	UnreadCount         int          `json:"unread_count"`
}

type ConversationList struct {
	Items []Conversation `json:"items"`
}

type Message struct {
	ID              string       `json:"id"`
	ConversationID  string       `json:"conversation_id"`
	ClientID        string       `json:"client_id,omitempty"`
	SenderID        string       `json:"sender_id"`
	SenderName      string       `json:"sender_name,omitempty"`
	SenderAvatarURL string       `json:"sender_avatar_url,omitempty"`
	Text            string       `json:"text"`
	Attachments     []Attachment `json:"attachments,omitempty"`
	Read            bool         `json:"read"`
	LikedBy         []string     `json:"liked_by"`
	CreatedAt       time.Time    `json:"created_at"`
}

type MessageList struct {
	Items []Message `json:"items"`
}

type ItemReference struct {
	ConversationID string    `json:"conversation_id"`
	ListingID      string    `json:"listing_id"`
	Primary        bool      `json:"primary"`
	AddedAt        time.Time `json:"added_at"`
}

type ReadResult struct {
	Updated []string `json:"updated"`
}

// Event is one frame of the realtime feed.
type Event struct {
	Type           string   `json:"type"`
	ConversationID string   `json:"conversation_id"`
	Message        *Message `json:"message,omitempty"`
}

func MapParticipant(p messaging.Participant) Participant {
	return Participant{ID: p.ID, DisplayName: p.DisplayName, AvatarURL: p.AvatarURL}
}

func MapConversation(s messaging.ConversationSummary) Conversation {
	out := Conversation{
		ID:                  s.ID,
		ListingID:           s.ListingID,
		BuyerID:             s.BuyerID,
		SellerID:            s.SellerID,
		Buyer:               MapParticipant(s.Buyer),
		Seller:              MapParticipant(s.Seller),
		ArchivedByBuyer:     s.ArchivedByBuyer,
		ArchivedBySeller:    s.ArchivedBySeller,
		DeletedByBuyer:      s.DeletedByBuyer,
		DeletedBySeller:     s.DeletedBySeller,
		CreatedAt:           s.CreatedAt,
		LastMessageID:       s.LastMessageID,
		LastMessageSenderID: s.LastMessageSenderID,
		LastMessagePreview:  s.LastMessagePreview,
		UnreadCount:         s.UnreadCount,
	}
	if out.Buyer.ID == "" {
		out.Buyer.ID = s.BuyerID
	}
	if out.Seller.ID == "" {
		out.Seller.ID = s.SellerID
	}
	if !s.LastMessageAt.IsZero() {
		at := s.LastMessageAt
		out.LastMessageAt = &at
	}
	if s.Listing != nil {
		out.Listing = &ListingCard{
			ID:         s.Listing.ID,
			Title:      s.Listing.Title,
			PriceCents: s.Listing.PriceCents,
			ImageURL:   s.Listing.ImageURL,
			Status:     s.Listing.Status,
		}
	}
	return out
}

// Summary converts the wire form back into the domain shape.
func (c Conversation) Summary() messaging.ConversationSummary {
	s := messaging.ConversationSummary{
		Conversation: messaging.Conversation{
			ID:                  c.ID,
			ListingID:           c.ListingID,
			BuyerID:             c.BuyerID,
			SellerID:            c.SellerID,
			ArchivedByBuyer:     c.ArchivedByBuyer,
			ArchivedBySeller:    c.ArchivedBySeller,
			DeletedByBuyer:      c.DeletedByBuyer,
			DeletedBySeller:     c.DeletedBySeller,
			CreatedAt:           c.CreatedAt,
			LastMessageID:       c.LastMessageID,
			LastMessageSenderID: c.LastMessageSenderID,
			LastMessagePreview:  c.LastMessagePreview,
		},
		UnreadCount: c.UnreadCount,
		Buyer:       messaging.Participant{ID: c.Buyer.ID, DisplayName: c.Buyer.DisplayName, AvatarURL: c.Buyer.AvatarURL},
		Seller:      messaging.Participant{ID: c.Seller.ID, DisplayName: c.Seller.DisplayName, AvatarURL: c.Seller.AvatarURL},
	}
	if c.LastMessageAt != nil {
		s.LastMessageAt = *c.LastMessageAt
	}
	if c.Listing != nil {
		s.Listing = &messaging.ListingCard{
			ID:         c.Listing.ID,
			Title:      c.Listing.Title,
			PriceCents: c.Listing.PriceCents,
			ImageURL:   c.Listing.ImageURL,
			Status:     c.Listing.Status,
		}
	}
	return s
}

func MapAttachments(list []messaging.Attachment) []Attachment {
	if len(list) == 0 {
		return nil
	}
	out := make([]Attachment, 0, len(list))
	for _, a := range list {
		out = append(out, Attachment{URL: a.URL, ContentType: a.ContentType, Name: a.Name, Size: a.Size})
	}
	return out
}

func DomainAttachments(list []Attachment) []messaging.Attachment {
	if len(list) == 0 {
		return nil
	}
	out := make([]messaging.Attachment, 0, len(list))
	for _, a := range list {
		out = append(out, messaging.Attachment{URL: a.URL, ContentType: a.ContentType, Name: a.Name, Size: a.Size})
	}
	return out
}

func MapMessage(m messaging.Message) Message {
	likedBy := append([]string{}, m.LikedBy...)
	return Message{
		ID:              m.ID,
		ConversationID:  m.ConversationID,
		ClientID:        m.ClientID,
		SenderID:        m.SenderID,
		SenderName:      m.SenderName,
		SenderAvatarURL: m.SenderAvatarURL,
		Text:            m.Body,
		Attachments:     MapAttachments(m.Attachments),
		Read:            m.Read,
		LikedBy:         likedBy,
		CreatedAt:       m.CreatedAt,
	}
}

func (m Message) Domain() messaging.Message {
	return messaging.Message{
		ID:              m.ID,
		ConversationID:  m.ConversationID,
		ClientID:        m.ClientID,
		SenderID:        m.SenderID,
		Body:            m.Text,
		Attachments:     DomainAttachments(m.Attachments),
		Read:            m.Read,
		LikedBy:         append([]string(nil), m.LikedBy...),
		CreatedAt:       m.CreatedAt,
		SenderName:      m.SenderName,
		SenderAvatarURL: m.SenderAvatarURL,
	}
}

func MapMessages(list []messaging.Message) MessageList {
	out := MessageList{Items: make([]Message, 0, len(list))}
	for _, m := range list {
		out.Items = append(out.Items, MapMessage(m))
	}
	return out
}

func MapItemReference(ref messaging.ItemReference) ItemReference {
	return ItemReference{
		ConversationID: ref.ConversationID,
		ListingID:      ref.ListingID,
		Primary:        ref.Primary,
		AddedAt:        ref.AddedAt,
	}
}
