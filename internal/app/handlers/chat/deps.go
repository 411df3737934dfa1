package chat

import (
	"context"
	"io"
	"log/slog"
	"time"

	"campusmarket/internal/app/outbox"
	domainlistings "campusmarket/internal/domain/listings"
	"campusmarket/internal/domain/messaging"
	"campusmarket/internal/domain/shared/events"
	domainuser "campusmarket/internal/domain/user"
)

const unknownUserName = "Former member"

// AttachmentStorage stores uploaded objects and returns their public URL.
type AttachmentStorage interface {
	Upload(ctx context.Context, key, contentType string, size int64, body io.Reader) (string, error)
	Remove(ctx context.Context, key string) error
}

// Deps are the collaborators shared by every chat handler.
type Deps struct {
	Conversations messaging.Repository
	Users         domainuser.Repository
	Listings      domainlistings.Repository
	Outbox        outbox.Outbox
	Encoder       outbox.EventEncoder
	Storage       AttachmentStorage
	// StoragePrefix is the public URL prefix of Storage. Sent attachments must live under it.
	StoragePrefix string
	Now           func() time.Time
	Logger        *slog.Logger
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

func (d *Deps) record(ctx context.Context, evs ...events.DomainEvent) error {
	return outbox.RecordDomainEvents(ctx, d.Outbox, d.Encoder, evs)
}

// conversationFor loads a thread and checks that userID takes part in it.
func (d *Deps) conversationFor(ctx context.Context, conversationID, userID string) (*messaging.Conversation, error) {
	conv, err := d.Conversations.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.IsParticipant(userID) {
		return nil, messaging.ErrNotParticipant
	}
	return conv, nil
}

// enrichSummaries joins participant profiles and listing cards onto summaries in place.
func (d *Deps) enrichSummaries(ctx context.Context, list []messaging.ConversationSummary) error {
	if len(list) == 0 {
		return nil
	}
	userIDs := make([]string, 0, len(list)*2)
	listingIDs := make([]domainlistings.ListingID, 0, len(list))
	for _, s := range list {
		userIDs = append(userIDs, s.BuyerID, s.SellerID)
		if s.ListingID != "" {
			listingIDs = append(listingIDs, domainlistings.ListingID(s.ListingID))
		}
	}
	profiles, err := d.profiles(ctx, userIDs)
	if err != nil {
		return err
	}
	var cards map[domainlistings.ListingID]*domainlistings.Listing
	if len(listingIDs) > 0 && d.Listings != nil {
		if cards, err = d.Listings.ByIDs(ctx, listingIDs); err != nil {
			return err
		}
	}
	for i := range list {
		list[i].Buyer = participantOf(profiles, list[i].BuyerID)
		list[i].Seller = participantOf(profiles, list[i].SellerID)
		if l, ok := cards[domainlistings.ListingID(list[i].ListingID)]; ok {
			list[i].Listing = &messaging.ListingCard{
				ID:         string(l.ID),
				Title:      l.Title,
				PriceCents: l.PriceCents,
				ImageURL:   l.Thumbnail(),
				Status:     string(l.Status),
			}
		}
	}
	return nil
}

// enrichMessages joins sender display names and avatars in place.
func (d *Deps) enrichMessages(ctx context.Context, msgs []messaging.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.SenderID)
	}
	profiles, err := d.profiles(ctx, ids)
	if err != nil {
		return err
	}
	for i := range msgs {
		p := participantOf(profiles, msgs[i].SenderID)
		msgs[i].SenderName = p.DisplayName
		msgs[i].SenderAvatarURL = p.AvatarURL
	}
	return nil
}

func (d *Deps) profiles(ctx context.Context, ids []string) (map[domainuser.ID]*domainuser.User, error) {
	if d.Users == nil {
		return nil, nil
	}
	seen := make(map[domainuser.ID]struct{}, len(ids))
	unique := make([]domainuser.ID, 0, len(ids))
	for _, id := range ids {
		uid := domainuser.ID(id)
		if _, ok := seen[uid]; ok || id == "" {
			continue
		}
		seen[uid] = struct{}{}
		unique = append(unique, uid)
	}
	return d.Users.ByIDs(ctx, unique)
}

func participantOf(profiles map[domainuser.ID]*domainuser.User, id string) messaging.Participant {
	if u, ok := profiles[domainuser.ID(id)]; ok && u != nil {
		return messaging.Participant{ID: id, DisplayName: u.DisplayName, AvatarURL: u.AvatarURL}
	}
	return messaging.Participant{ID: id, DisplayName: unknownUserName}
}
