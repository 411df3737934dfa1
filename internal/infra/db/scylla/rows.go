package scylla

import (
	"encoding/json"
	"fmt"
	"time"

	"campusmarket/internal/domain/messaging"
)

type conversationRow struct {
	ID                  string
	ListingID           string
	BuyerID             string
	SellerID            string
	ArchivedByBuyer     bool
	ArchivedBySeller    bool
	DeletedByBuyer      bool
	DeletedBySeller     bool
	CreatedAt           time.Time
	LastMessageAt       time.Time
	LastMessageID       string
	LastMessageSenderID string
	LastMessageText     string
}

// dest lists scan targets in conversationColumns order.
func (r *conversationRow) dest() []any {
	return []any{
		&r.ID, &r.ListingID, &r.BuyerID, &r.SellerID,
		&r.ArchivedByBuyer, &r.ArchivedBySeller, &r.DeletedByBuyer, &r.DeletedBySeller,
		&r.CreatedAt, &r.LastMessageAt, &r.LastMessageID, &r.LastMessageSenderID, &r.LastMessageText,
	}
}

func (r conversationRow) toDomain() *messaging.Conversation {
	return &messaging.Conversation{
		ID:                  r.ID,
		ListingID:           r.ListingID,
		BuyerID:             r.BuyerID,
		SellerID:            r.SellerID,
		ArchivedByBuyer:     r.ArchivedByBuyer,
		ArchivedBySeller:    r.ArchivedBySeller,
		DeletedByBuyer:      r.DeletedByBuyer,
		DeletedBySeller:     r.DeletedBySeller,
		CreatedAt:           utcOrZero(r.CreatedAt),
		LastMessageAt:       utcOrZero(r.LastMessageAt),
		LastMessageID:       r.LastMessageID,
		LastMessageSenderID: r.LastMessageSenderID,
		LastMessagePreview:  r.LastMessageText,
	}
}

type messageRow struct {
	ConversationID string
	ID             string
	ClientID       string
	SenderID       string
	Body           string
	Attachments    string
	Read           bool
	LikedBy        []string
	CreatedAt      time.Time
}

// dest lists scan targets in messageColumns order.
func (r *messageRow) dest() []any {
	return []any{&r.ConversationID, &r.ID, &r.ClientID, &r.SenderID, &r.Body, &r.Attachments, &r.Read, &r.LikedBy, &r.CreatedAt}
}

func (r messageRow) toDomain() (*messaging.Message, error) {
	attachments, err := decodeAttachments(r.Attachments)
	if err != nil {
		return nil, fmt.Errorf("message %s: %w", r.ID, err)
	}
	var liked []string
	if len(r.LikedBy) > 0 {
		liked = append(liked, r.LikedBy...)
	}
	return &messaging.Message{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		ClientID:       r.ClientID,
		SenderID:       r.SenderID,
		Body:           r.Body,
		Attachments:    attachments,
		Read:           r.Read,
		LikedBy:        liked,
		CreatedAt:      utcOrZero(r.CreatedAt),
	}, nil
}

// Attachments are stored as a JSON column; they never change after the message is written.
func encodeAttachments(list []messaging.Attachment) (string, error) {
	if len(list) == 0 {
		return "", nil
	}
	data, err := json.Marshal(list)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeAttachments(raw string) ([]messaging.Attachment, error) {
	if raw == "" {
		return nil, nil
	}
	var out []messaging.Attachment
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// utcOrZero maps the epoch-less values gocql returns for null timestamps to the zero time.
func utcOrZero(t time.Time) time.Time {
	if t.IsZero() || t.Unix() <= 0 {
		return time.Time{}
	}
	return t.UTC()
}
