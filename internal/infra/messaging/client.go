package messaging

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"

	domain "campusmarket/internal/domain/messaging"
	"campusmarket/internal/infra/rpc"
)

// Config defines gRPC client settings.
type Config struct {
	Addr        string
	DialTimeout time.Duration
	CallTimeout time.Duration
}

// Client talks to the messaging service and satisfies domain.Repository, so the
// command handlers do not know whether conversations live in-process or remotely.
type Client struct {
	conn        *grpc.ClientConn
	callTimeout time.Duration
	logger      *slog.Logger
}

// NewClient dials the messaging service. The connection is established lazily; a
// service that is not ready within DialTimeout is logged, not fatal.
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.Addr == "" {
		return nil, errors.New("messaging: address required")
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	conn, err := grpc.NewClient(cfg.Addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(rpc.CodecName)),
	)
	if err != nil {
		return nil, err
	}
	client := NewFromConn(conn, cfg.CallTimeout, logger)

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if waitReady(dialCtx, conn) {
		client.log().Info("messaging grpc connected", "addr", cfg.Addr)
	} else {
		client.log().Warn("messaging grpc not ready yet", "addr", cfg.Addr, "state", conn.GetState().String())
	}
	return client, nil
}

// NewFromConn wraps an existing connection. The connection must use the rpc JSON codec.
func NewFromConn(conn *grpc.ClientConn, callTimeout time.Duration, logger *slog.Logger) *Client {
	if callTimeout <= 0 {
		callTimeout = 5 * time.Second
	}
	return &Client{conn: conn, callTimeout: callTimeout, logger: logger}
}

func waitReady(ctx context.Context, conn *grpc.ClientConn) bool {
	conn.Connect()
	for {
		state := conn.GetState()
		if state == connectivity.Ready {
			return true
		}
		if !conn.WaitForStateChange(ctx, state) {
			return false
		}
	}
}

// Close releases the gRPC connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Ready reports an error unless the connection is usable; used by the readiness probe.
func (c *Client) Ready() error {
	switch c.conn.GetState() {
	case connectivity.Ready, connectivity.Idle:
		return nil
	default:
		return domain.ErrUnavailable
	}
}

func (c *Client) log() *slog.Logger {
	if c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

func (c *Client) wrapCall(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return ctx, func() {}
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < c.callTimeout {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.callTimeout)
}

func call[Resp any](ctx context.Context, c *Client, method string, req any) (*Resp, error) {
	callCtx, cancel := c.wrapCall(ctx)
	defer cancel()
	out := new(Resp)
	if err := c.conn.Invoke(callCtx, rpc.FullMethod(method), req, out); err != nil {
		return nil, rpc.FromStatus(err)
	}
	return out, nil
}

func (c *Client) GetOrCreateConversation(ctx context.Context, listingID, buyerID, sellerID string) (*domain.Conversation, bool, error) {
	resp, err := call[rpc.ConversationReply](ctx, c, rpc.MethodGetOrCreateConversation, &rpc.GetOrCreateConversationRequest{
		ListingID: listingID,
		BuyerID:   buyerID,
		SellerID:  sellerID,
	})
	if err != nil {
		return nil, false, err
	}
	return resp.Conversation, resp.Created, nil
}

func (c *Client) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	resp, err := call[rpc.ConversationReply](ctx, c, rpc.MethodGetConversation, &rpc.ConversationRequest{ConversationID: id})
	if err != nil {
		return nil, err
	}
	return resp.Conversation, nil
}

func (c *Client) ListConversations(ctx context.Context, filter domain.ConversationFilter) ([]domain.ConversationSummary, error) {
	resp, err := call[rpc.ConversationsReply](ctx, c, rpc.MethodListConversations, &rpc.ListConversationsRequest{Filter: filter})
	if err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (c *Client) AddMessage(ctx context.Context, msg domain.Message) (*domain.Message, error) {
	resp, err := call[rpc.MessageReply](ctx, c, rpc.MethodAddMessage, &rpc.AddMessageRequest{Message: msg})
	if err != nil {
		return nil, err
	}
	return resp.Message, nil
}

func (c *Client) GetMessage(ctx context.Context, conversationID, messageID string) (*domain.Message, error) {
	resp, err := call[rpc.MessageReply](ctx, c, rpc.MethodGetMessage, &rpc.MessageRequest{
		ConversationID: conversationID,
		MessageID:      messageID,
	})
	if err != nil {
		return nil, err
	}
	return resp.Message, nil
}

func (c *Client) ListMessages(ctx context.Context, conversationID string, page domain.Page) ([]domain.Message, error) {
	resp, err := call[rpc.MessagesReply](ctx, c, rpc.MethodListMessages, &rpc.ListMessagesRequest{
		ConversationID: conversationID,
		Page:           page,
	})
	if err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (c *Client) SetLike(ctx context.Context, conversationID, messageID, userID string, liked bool) (*domain.Message, error) {
	resp, err := call[rpc.MessageReply](ctx, c, rpc.MethodSetLike, &rpc.SetLikeRequest{
		ConversationID: conversationID,
		MessageID:      messageID,
		UserID:         userID,
		Liked:          liked,
	})
	if err != nil {
		return nil, err
	}
	return resp.Message, nil
}

func (c *Client) MarkRead(ctx context.Context, conversationID, readerID string, messageIDs []string) ([]domain.Message, error) {
	resp, err := call[rpc.MessagesReply](ctx, c, rpc.MethodMarkRead, &rpc.MarkReadRequest{
		ConversationID: conversationID,
		ReaderID:       readerID,
		MessageIDs:     messageIDs,
	})
	if err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (c *Client) SetArchived(ctx context.Context, conversationID, userID string, archived bool) (*domain.Conversation, error) {
	resp, err := call[rpc.ConversationReply](ctx, c, rpc.MethodSetArchived, &rpc.SetArchivedRequest{
		ConversationID: conversationID,
		UserID:         userID,
		Archived:       archived,
	})
	if err != nil {
		return nil, err
	}
	return resp.Conversation, nil
}

func (c *Client) SoftDelete(ctx context.Context, conversationID, userID string) (*domain.Conversation, error) {
	resp, err := call[rpc.ConversationReply](ctx, c, rpc.MethodSoftDelete, &rpc.SoftDeleteRequest{
		ConversationID: conversationID,
		UserID:         userID,
	})
	if err != nil {
		return nil, err
	}
	return resp.Conversation, nil
}

func (c *Client) AddItemReference(ctx context.Context, ref domain.ItemReference) error {
	_, err := call[rpc.Empty](ctx, c, rpc.MethodAddItemReference, &rpc.ItemReferenceRequest{Reference: ref})
	return err
}

func (c *Client) ListItemReferences(ctx context.Context, conversationID string) ([]domain.ItemReference, error) {
	resp, err := call[rpc.ItemReferencesReply](ctx, c, rpc.MethodListItemReferences, &rpc.ConversationRequest{ConversationID: conversationID})
	if err != nil {
		return nil, err
	}
	return resp.Items, nil
}

var _ domain.Repository = (*Client)(nil)
