package messaging

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// PreviewRunes bounds the stored last-message snippet.
const PreviewRunes = 140

type Side string

const (
	SideNone   Side = ""
	SideBuyer  Side = "buyer"
	SideSeller Side = "seller"
)

// Conversation pairs a buyer and a seller, optionally around a listing.
type Conversation struct {
	ID               string
	ListingID        string
	BuyerID          string
	SellerID         string
	ArchivedByBuyer  bool
	ArchivedBySeller bool
	DeletedByBuyer   bool
	DeletedBySeller  bool
	CreatedAt        time.Time

	LastMessageAt       time.Time
	LastMessageID       string
	LastMessageSenderID string
	LastMessagePreview  string
}

type NewConversationParams struct {
	ID        string
	ListingID string
	BuyerID   string
	SellerID  string
	Now       time.Time
}

func NewConversation(params NewConversationParams) (*Conversation, error) {
	id := strings.TrimSpace(params.ID)
	if id == "" {
		return nil, ErrIDRequired
	}
	buyer := strings.TrimSpace(params.BuyerID)
	seller := strings.TrimSpace(params.SellerID)
	if buyer == "" || seller == "" {
		return nil, ErrParticipantsRequired
	}
	if buyer == seller {
		return nil, ErrSelfConversation
	}
	now := params.Now
	if now.IsZero() {
		now = time.Now()
	}
	return &Conversation{
		ID:        id,
		ListingID: strings.TrimSpace(params.ListingID),
		BuyerID:   buyer,
		SellerID:  seller,
		CreatedAt: now.UTC(),
	}, nil
}

func (c *Conversation) SideOf(userID string) Side {
	switch {
	case userID == "":
		return SideNone
	case userID == c.BuyerID:
		return SideBuyer
	case userID == c.SellerID:
		return SideSeller
	default:
		return SideNone
	}
}

func (c *Conversation) IsParticipant(userID string) bool {
	return c.SideOf(userID) != SideNone
}

// VisibleTo reports whether userID is a participant who has not soft-deleted the thread.
func (c *Conversation) VisibleTo(userID string) bool {
	switch c.SideOf(userID) {
	case SideBuyer:
		return !c.DeletedByBuyer
	case SideSeller:
		return !c.DeletedBySeller
	default:
		return false
	}
}

func (c *Conversation) ArchivedFor(userID string) bool {
	switch c.SideOf(userID) {
	case SideBuyer:
		return c.ArchivedByBuyer
	case SideSeller:
		return c.ArchivedBySeller
	default:
		return false
	}
}

// CounterpartOf returns the other participant's id, or "" when userID is not a participant.
func (c *Conversation) CounterpartOf(userID string) string {
	switch c.SideOf(userID) {
	case SideBuyer:
		return c.SellerID
	case SideSeller:
		return c.BuyerID
	default:
		return ""
	}
}

func (c *Conversation) Participants() []string {
	return []string{c.BuyerID, c.SellerID}
}

// SetArchived flips only the acting side's archive flag.
func (c *Conversation) SetArchived(userID string, archived bool) error {
	switch c.SideOf(userID) {
	case SideBuyer:
		c.ArchivedByBuyer = archived
	case SideSeller:
		c.ArchivedBySeller = archived
	default:
		return ErrNotParticipant
	}
	return nil
}

// SoftDelete hides the conversation for userID only. Nothing is ever removed.
func (c *Conversation) SoftDelete(userID string) error {
	switch c.SideOf(userID) {
	case SideBuyer:
		c.DeletedByBuyer = true
	case SideSeller:
		c.DeletedBySeller = true
	default:
		return ErrNotParticipant
	}
	return nil
}

// RecordMessage advances last-activity metadata if msg is the newest message seen.
func (c *Conversation) RecordMessage(msg Message) {
	if !c.LastMessageAt.IsZero() && msg.CreatedAt.Before(c.LastMessageAt) {
		return
	}
	c.LastMessageAt = msg.CreatedAt
	c.LastMessageID = msg.ID
	c.LastMessageSenderID = msg.SenderID
	c.LastMessagePreview = msg.Preview()
}

func (c *Conversation) LastActivity() time.Time {
	if !c.LastMessageAt.IsZero() {
		return c.LastMessageAt
	}
	return c.CreatedAt
}

// PreviewText builds the list snippet: trimmed text, or an attachment note for image-only messages.
func PreviewText(body string, attachments int) string {
	body = strings.Join(strings.Fields(body), " ")
	if body == "" {
		switch {
		case attachments == 1:
			return "Sent an attachment"
		case attachments > 1:
			return fmt.Sprintf("Sent %d attachments", attachments)
		default:
			return ""
		}
	}
	if utf8.RuneCountInString(body) <= PreviewRunes {
		return body
	}
	runes := []rune(body)
	return string(runes[:PreviewRunes-1]) + "…"
}
