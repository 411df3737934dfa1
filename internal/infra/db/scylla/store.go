package scylla

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"campusmarket/internal/domain/messaging"
)

const (
	conversationColumns = `id, listing_id, buyer_id, seller_id, archived_by_buyer, archived_by_seller, deleted_by_buyer, deleted_by_seller, created_at, last_message_at, last_message_id, last_message_sender_id, last_message_text`
	messageColumns      = `conversation_id, message_id, client_id, sender_id, body, attachments, read, liked_by, created_at`
	listFanout          = 8
)

var errNoSession = errors.New("scylla session not initialized")

// Store implements messaging.Repository on Scylla. Message ids are ULIDs derived from the
// creation time, so the clustering order of a conversation partition is its timeline.
type Store struct {
	session *gocql.Session
	logger  *slog.Logger
	now     func() time.Time
}

func NewStore(session *gocql.Session, logger *slog.Logger) *Store {
	return &Store{session: session, logger: logger, now: time.Now}
}

func newID(at time.Time) string {
	return ulid.MustNew(ulid.Timestamp(at), ulid.DefaultEntropy()).String()
}

func (s *Store) query(ctx context.Context, cql string, values ...any) *gocql.Query {
	return s.session.Query(cql, values...).WithContext(ctx)
}

func (s *Store) GetOrCreateConversation(ctx context.Context, listingID, buyerID, sellerID string) (*messaging.Conversation, bool, error) {
	if s.session == nil {
		return nil, false, errNoSession
	}
	now := s.now().UTC()
	conv, err := messaging.NewConversation(messaging.NewConversationParams{
		ID:        newID(now),
		ListingID: listingID,
		BuyerID:   buyerID,
		SellerID:  sellerID,
		Now:       now,
	})
	if err != nil {
		return nil, false, err
	}

	existing := map[string]any{}
	applied, err := s.query(ctx,
		`INSERT INTO conversation_keys (listing_id, buyer_id, seller_id, conversation_id) VALUES (?, ?, ?, ?) IF NOT EXISTS`,
		conv.ListingID, conv.BuyerID, conv.SellerID, conv.ID).
		MapScanCAS(existing)
	if err != nil {
		return nil, false, fmt.Errorf("claim conversation key: %w", err)
	}
	if !applied {
		id, _ := existing["conversation_id"].(string)
		found, err := s.GetConversation(ctx, id)
		if err == nil {
			return found, false, nil
		}
		if !errors.Is(err, messaging.ErrConversationNotFound) {
			return nil, false, err
		}
		// the key was claimed but the row never written: finish the creation under that id
		conv.ID = id
	}

	if err := s.query(ctx,
		`INSERT INTO conversations (id, listing_id, buyer_id, seller_id, archived_by_buyer, archived_by_seller, deleted_by_buyer, deleted_by_seller, created_at) VALUES (?, ?, ?, ?, false, false, false, false, ?)`,
		conv.ID, conv.ListingID, conv.BuyerID, conv.SellerID, conv.CreatedAt).
		Consistency(gocql.Quorum).
		Exec(); err != nil {
		return nil, false, fmt.Errorf("insert conversation: %w", err)
	}
	for _, userID := range conv.Participants() {
		if err := s.query(ctx, `INSERT INTO user_conversations (user_id, conversation_id) VALUES (?, ?)`, userID, conv.ID).
			Consistency(gocql.Quorum).
			Exec(); err != nil {
			return nil, false, fmt.Errorf("index conversation: %w", err)
		}
	}
	if s.logger != nil {
		s.logger.Info("conversation created", "id", conv.ID, "listing_id", conv.ListingID)
	}
	return conv, true, nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (*messaging.Conversation, error) {
	if s.session == nil {
		return nil, errNoSession
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, messaging.ErrConversationNotFound
	}
	var row conversationRow
	err := s.query(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ? LIMIT 1`, id).
		Consistency(gocql.One).
		Scan(row.dest()...)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, messaging.ErrConversationNotFound
		}
		return nil, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListConversations(ctx context.Context, filter messaging.ConversationFilter) ([]messaging.ConversationSummary, error) {
	if s.session == nil {
		return nil, errNoSession
	}
	var convs []*messaging.Conversation
	var err error
	if filter.IncludeAll {
		convs, err = s.allConversations(ctx)
	} else {
		convs, err = s.conversationsOf(ctx, filter.UserID)
	}
	if err != nil {
		return nil, err
	}

	out := make([]messaging.ConversationSummary, 0, len(convs))
	for _, conv := range convs {
		if !filter.IncludeAll && (!conv.VisibleTo(filter.UserID) || conv.ArchivedFor(filter.UserID) != filter.Archived) {
			continue
		}
		out = append(out, messaging.ConversationSummary{Conversation: *conv})
	}
	if !filter.IncludeAll {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(listFanout)
		for i := range out {
			g.Go(func() error {
				n, err := s.unreadCount(gctx, out[i].ID, filter.UserID)
				out[i].UnreadCount = n
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LastActivity(), out[j].LastActivity()
		if !a.Equal(b) {
			return a.After(b)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) allConversations(ctx context.Context) ([]*messaging.Conversation, error) {
	iter := s.query(ctx, `SELECT `+conversationColumns+` FROM conversations`).Consistency(gocql.One).Iter()
	var out []*messaging.Conversation
	var row conversationRow
	for iter.Scan(row.dest()...) {
		out = append(out, row.toDomain())
		row = conversationRow{}
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) conversationsOf(ctx context.Context, userID string) ([]*messaging.Conversation, error) {
	iter := s.query(ctx, `SELECT conversation_id FROM user_conversations WHERE user_id = ?`, userID).
		Consistency(gocql.One).
		Iter()
	var ids []string
	var id string
	for iter.Scan(&id) {
		ids = append(ids, id)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}

	convs := make([]*messaging.Conversation, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(listFanout)
	for i, id := range ids {
		g.Go(func() error {
			conv, err := s.GetConversation(gctx, id)
			if errors.Is(err, messaging.ErrConversationNotFound) {
				return nil
			}
			convs[i] = conv
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := convs[:0]
	for _, conv := range convs {
		if conv != nil {
			out = append(out, conv)
		}
	}
	return out, nil
}

func (s *Store) unreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	iter := s.query(ctx, `SELECT sender_id, read FROM messages WHERE conversation_id = ?`, conversationID).
		Consistency(gocql.One).
		Iter()
	var (
		sender string
		read   bool
		n      int
	)
	for iter.Scan(&sender, &read) {
		if sender != userID && !read {
			n++
		}
	}
	return n, iter.Close()
}

func (s *Store) participantConversation(ctx context.Context, conversationID, userID string) (*messaging.Conversation, error) {
	conv, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.IsParticipant(userID) {
		return nil, messaging.ErrNotParticipant
	}
	return conv, nil
}

func (s *Store) AddMessage(ctx context.Context, msg messaging.Message) (*messaging.Message, error) {
	if s.session == nil {
		return nil, errNoSession
	}
	conv, err := s.participantConversation(ctx, msg.ConversationID, msg.SenderID)
	if err != nil {
		return nil, err
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}
	msg.CreatedAt = msg.CreatedAt.UTC().Truncate(time.Millisecond)
	msg.ID = newID(msg.CreatedAt)
	msg.Read = false
	msg.LikedBy = nil

	if msg.ClientID != "" {
		existing := map[string]any{}
		applied, err := s.query(ctx,
			`INSERT INTO message_client_ids (conversation_id, sender_id, client_id, message_id) VALUES (?, ?, ?, ?) IF NOT EXISTS`,
			msg.ConversationID, msg.SenderID, msg.ClientID, msg.ID).
			MapScanCAS(existing)
		if err != nil {
			return nil, fmt.Errorf("claim client id: %w", err)
		}
		if !applied {
			id, _ := existing["message_id"].(string)
			stored, err := s.GetMessage(ctx, msg.ConversationID, id)
			if err == nil {
				return stored, nil
			}
			if !errors.Is(err, messaging.ErrMessageNotFound) {
				return nil, err
			}
			msg.ID = id
		}
	}

	attachments, err := encodeAttachments(msg.Attachments)
	if err != nil {
		return nil, err
	}
	if err := s.query(ctx,
		`INSERT INTO messages (conversation_id, message_id, client_id, sender_id, body, attachments, read, created_at) VALUES (?, ?, ?, ?, ?, ?, false, ?)`,
		msg.ConversationID, msg.ID, msg.ClientID, msg.SenderID, msg.Body, attachments, msg.CreatedAt).
		Consistency(gocql.Quorum).
		Exec(); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	// the write timestamp is the message time, so the newest message wins whatever the arrival order
	if err := s.query(ctx,
		`UPDATE conversations USING TIMESTAMP ? SET last_message_at = ?, last_message_id = ?, last_message_sender_id = ?, last_message_text = ? WHERE id = ?`,
		msg.CreatedAt.UnixMicro(), msg.CreatedAt, msg.ID, msg.SenderID, msg.Preview(), conv.ID).
		Consistency(gocql.One).
		Exec(); err != nil && s.logger != nil {
		s.logger.Warn("failed to update last message meta", "error", err, "conversation_id", conv.ID)
	}
	out := msg.Clone()
	out.SenderName, out.SenderAvatarURL = "", ""
	return &out, nil
}

func (s *Store) GetMessage(ctx context.Context, conversationID, messageID string) (*messaging.Message, error) {
	if s.session == nil {
		return nil, errNoSession
	}
	if strings.TrimSpace(messageID) == "" {
		return nil, messaging.ErrMessageNotFound
	}
	var row messageRow
	err := s.query(ctx, `SELECT `+messageColumns+` FROM messages WHERE conversation_id = ? AND message_id = ?`, conversationID, messageID).
		Consistency(gocql.One).
		Scan(row.dest()...)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, messaging.ErrMessageNotFound
		}
		return nil, err
	}
	return row.toDomain()
}

func (s *Store) ListMessages(ctx context.Context, conversationID string, page messaging.Page) ([]messaging.Message, error) {
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	limit := page.Size()
	var iter *gocql.Iter
	if page.After != "" {
		if _, err := s.GetMessage(ctx, conversationID, page.After); err != nil {
			return nil, err
		}
		iter = s.query(ctx, `SELECT `+messageColumns+` FROM messages WHERE conversation_id = ? AND message_id > ? LIMIT ?`,
			conversationID, page.After, limit).Consistency(gocql.One).Iter()
	} else {
		iter = s.query(ctx, `SELECT `+messageColumns+` FROM messages WHERE conversation_id = ? LIMIT ?`,
			conversationID, limit).Consistency(gocql.One).Iter()
	}

	out := make([]messaging.Message, 0, limit)
	var row messageRow
	for iter.Scan(row.dest()...) {
		msg, err := row.toDomain()
		if err != nil {
			_ = iter.Close()
			return nil, err
		}
		out = append(out, *msg)
		row = messageRow{}
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	messaging.SortMessages(out)
	return out, nil
}

func (s *Store) SetLike(ctx context.Context, conversationID, messageID, userID string, liked bool) (*messaging.Message, error) {
	if _, err := s.participantConversation(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	if _, err := s.GetMessage(ctx, conversationID, messageID); err != nil {
		return nil, err
	}
	op := "+"
	if !liked {
		op = "-"
	}
	if err := s.query(ctx,
		`UPDATE messages SET liked_by = liked_by `+op+` ? WHERE conversation_id = ? AND message_id = ?`,
		[]string{userID}, conversationID, messageID).
		Consistency(gocql.Quorum).
		Exec(); err != nil {
		return nil, fmt.Errorf("update likes: %w", err)
	}
	return s.GetMessage(ctx, conversationID, messageID)
}

func (s *Store) MarkRead(ctx context.Context, conversationID, readerID string, messageIDs []string) ([]messaging.Message, error) {
	if _, err := s.participantConversation(ctx, conversationID, readerID); err != nil {
		return nil, err
	}
	var changed []messaging.Message
	for _, id := range messageIDs {
		msg, err := s.GetMessage(ctx, conversationID, id)
		if errors.Is(err, messaging.ErrMessageNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !msg.MarkReadBy(readerID) {
			continue
		}
		if err := s.query(ctx, `UPDATE messages SET read = true WHERE conversation_id = ? AND message_id = ?`, conversationID, id).
			Consistency(gocql.Quorum).
			Exec(); err != nil {
			return nil, fmt.Errorf("mark read: %w", err)
		}
		changed = append(changed, *msg)
	}
	return changed, nil
}

func (s *Store) SetArchived(ctx context.Context, conversationID, userID string, archived bool) (*messaging.Conversation, error) {
	conv, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if err := conv.SetArchived(userID, archived); err != nil {
		return nil, err
	}
	err = s.query(ctx, `UPDATE conversations SET archived_by_buyer = ?, archived_by_seller = ? WHERE id = ?`,
		conv.ArchivedByBuyer, conv.ArchivedBySeller, conv.ID).
		Consistency(gocql.Quorum).
		Exec()
	if err != nil {
		return nil, err
	}
	return conv, nil
}

func (s *Store) SoftDelete(ctx context.Context, conversationID, userID string) (*messaging.Conversation, error) {
	conv, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if err := conv.SoftDelete(userID); err != nil {
		return nil, err
	}
	err = s.query(ctx, `UPDATE conversations SET deleted_by_buyer = ?, deleted_by_seller = ? WHERE id = ?`,
		conv.DeletedByBuyer, conv.DeletedBySeller, conv.ID).
		Consistency(gocql.Quorum).
		Exec()
	if err != nil {
		return nil, err
	}
	return conv, nil
}

func (s *Store) AddItemReference(ctx context.Context, ref messaging.ItemReference) error {
	if _, err := s.GetConversation(ctx, ref.ConversationID); err != nil {
		return err
	}
	if ref.AddedAt.IsZero() {
		ref.AddedAt = s.now()
	}
	// the first reference to a listing wins, so a primary flag is never overwritten
	_, err := s.query(ctx,
		`INSERT INTO item_references (conversation_id, listing_id, is_primary, added_at) VALUES (?, ?, ?, ?) IF NOT EXISTS`,
		ref.ConversationID, ref.ListingID, ref.Primary, ref.AddedAt.UTC()).
		MapScanCAS(map[string]any{})
	return err
}

func (s *Store) ListItemReferences(ctx context.Context, conversationID string) ([]messaging.ItemReference, error) {
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	iter := s.query(ctx, `SELECT listing_id, is_primary, added_at FROM item_references WHERE conversation_id = ?`, conversationID).
		Consistency(gocql.One).
		Iter()
	var out []messaging.ItemReference
	ref := messaging.ItemReference{ConversationID: conversationID}
	for iter.Scan(&ref.ListingID, &ref.Primary, &ref.AddedAt) {
		ref.AddedAt = ref.AddedAt.UTC()
		out = append(out, ref)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	sortReferences(out)
	return out, nil
}

func sortReferences(refs []messaging.ItemReference) {
	sort.SliceStable(refs, func(i, j int) bool {
		if refs[i].Primary != refs[j].Primary {
			return refs[i].Primary
		}
		if !refs[i].AddedAt.Equal(refs[j].AddedAt) {
			return refs[i].AddedAt.Before(refs[j].AddedAt)
		}
		return refs[i].ListingID < refs[j].ListingID
	})
}

var _ messaging.Repository = (*Store)(nil)
