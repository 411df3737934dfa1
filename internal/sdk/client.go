// Package sdk is the HTTP and websocket client for the campusmarket API. It implements
// the chat engine ports so a terminal or test client can run the engine remotely.
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"campusmarket/internal/app/chat"
	"campusmarket/internal/app/dto"
	"campusmarket/internal/domain/messaging"
)

// maxMessages is the largest page the API serves.
const maxMessages = 500

const defaultTimeout = 15 * time.Second

// Client calls the campusmarket HTTP API on behalf of one signed-in user.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger

	mu    sync.RWMutex
	token string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func New(baseURL string, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("sdk: invalid base url %q", baseURL)
	}
	c := &Client{
		baseURL: strings.TrimRight(parsed.String(), "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	return c, nil
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

type RegisterRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
	Campus      string `json:"campus,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Register creates an account and keeps its bearer token.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (dto.AuthResponse, error) {
	var out dto.AuthResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/register", req, &out); err != nil {
		return dto.AuthResponse{}, err
	}
	c.SetToken(out.Token)
	return out, nil
}

// Login signs in and keeps the bearer token.
func (c *Client) Login(ctx context.Context, email, password string) (dto.AuthResponse, error) {
	var out dto.AuthResponse
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/login", body, &out); err != nil {
		return dto.AuthResponse{}, err
	}
	c.SetToken(out.Token)
	return out, nil
}

func (c *Client) Logout(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/logout", nil, nil); err != nil {
		return err
	}
	c.SetToken("")
	return nil
}

func (c *Client) Me(ctx context.Context) (dto.UserProfile, error) {
	var out dto.UserProfile
	err := c.do(ctx, http.MethodGet, "/api/v1/auth/me", nil, &out)
	return out, err
}

// CurrentUser implements chat.Identity.
func (c *Client) CurrentUser(ctx context.Context) (messaging.Participant, error) {
	me, err := c.Me(ctx)
	if err != nil {
		return messaging.Participant{}, err
	}
	return messaging.Participant{ID: me.ID, DisplayName: me.DisplayName, AvatarURL: me.AvatarURL}, nil
}

type CatalogParams struct {
	Kind   string
	Query  string
	Limit  int
	Offset int
}

func (c *Client) Catalog(ctx context.Context, params CatalogParams) (dto.ListingCatalog, error) {
	q := url.Values{}
	if params.Kind != "" {
		q.Set("kind", params.Kind)
	}
	if params.Query != "" {
		q.Set("q", params.Query)
	}
	if params.Limit > 0 {
		q.Set("limit", strconv.Itoa(params.Limit))
	}
	if params.Offset > 0 {
		q.Set("offset", strconv.Itoa(params.Offset))
	}
	var out dto.ListingCatalog
	err := c.do(ctx, http.MethodGet, withQuery("/api/v1/listings", q), nil, &out)
	return out, err
}

type CreateListingRequest struct {
	Kind        string   `json:"kind"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	PriceCents  int64    `json:"price_cents"`
	Images      []string `json:"images,omitempty"`
	Campus      string   `json:"campus,omitempty"`
	Publish     bool     `json:"publish"`
}

func (c *Client) CreateListing(ctx context.Context, req CreateListingRequest) (dto.Listing, error) {
	var out dto.Listing
	err := c.do(ctx, http.MethodPost, "/api/v1/listings", req, &out)
	return out, err
}

// StartConversation is the "I'm interested" action on a listing.
func (c *Client) StartConversation(ctx context.Context, listingID string) (dto.Conversation, error) {
	var out dto.Conversation
	err := c.do(ctx, http.MethodPost, "/api/v1/listings/"+url.PathEscape(listingID)+"/conversations", nil, &out)
	return out, err
}

// ListConversations implements chat.Store.
func (c *Client) ListConversations(ctx context.Context, archived bool) ([]messaging.ConversationSummary, error) {
	q := url.Values{}
	if archived {
		q.Set("archived", "true")
	}
	var out dto.ConversationList
	if err := c.do(ctx, http.MethodGet, withQuery("/api/v1/conversations", q), nil, &out); err != nil {
		return nil, err
	}
	list := make([]messaging.ConversationSummary, 0, len(out.Items))
	for _, item := range out.Items {
		list = append(list, item.Summary())
	}
	return list, nil
}

// ListMessages implements chat.Store; it returns the conversation's single ascending page.
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]messaging.Message, error) {
	q := url.Values{"limit": []string{strconv.Itoa(maxMessages)}}
	var out dto.MessageList
	if err := c.do(ctx, http.MethodGet, withQuery(conversationPath(conversationID, "/messages"), q), nil, &out); err != nil {
		return nil, err
	}
	list := make([]messaging.Message, 0, len(out.Items))
	for _, item := range out.Items {
		list = append(list, item.Domain())
	}
	return list, nil
}

type sendBody struct {
	ClientID    string           `json:"client_id,omitempty"`
	Text        string           `json:"text"`
	Attachments []dto.Attachment `json:"attachments,omitempty"`
}

// SendMessage implements chat.Store. The client id doubles as the idempotency key, so a
// retried send never creates a second message.
func (c *Client) SendMessage(ctx context.Context, req chat.SendRequest) (messaging.Message, error) {
	var out dto.Message
	body := sendBody{ClientID: req.ClientID, Text: req.Text, Attachments: dto.MapAttachments(req.Attachments)}
	if err := c.do(ctx, http.MethodPost, conversationPath(req.ConversationID, "/messages"), body, &out); err != nil {
		return messaging.Message{}, err
	}
	return out.Domain(), nil
}

func (c *Client) SetLike(ctx context.Context, conversationID, messageID string, liked bool) (messaging.Message, error) {
	var out dto.Message
	path := conversationPath(conversationID, "/messages/"+url.PathEscape(messageID)+"/like")
	if err := c.do(ctx, http.MethodPut, path, map[string]bool{"liked": liked}, &out); err != nil {
		return messaging.Message{}, err
	}
	return out.Domain(), nil
}

func (c *Client) MarkRead(ctx context.Context, conversationID string, messageIDs []string) error {
	return c.do(ctx, http.MethodPost, conversationPath(conversationID, "/read"), map[string][]string{"message_ids": messageIDs}, nil)
}

func (c *Client) SetArchived(ctx context.Context, conversationID string, archived bool) error {
	return c.do(ctx, http.MethodPost, conversationPath(conversationID, "/archive"), map[string]bool{"archived": archived}, nil)
}

func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodDelete, conversationPath(conversationID, ""), nil, nil)
}

// Upload implements chat.ObjectStorage by sending one file per request. The server scopes
// the object path to the signed-in user, so ownerID only guards against a mismatched session.
func (c *Client) Upload(ctx context.Context, ownerID string, file chat.File) (messaging.Attachment, error) {
	if file.Body == nil {
		return messaging.Attachment{}, messaging.ErrAttachmentInvalid
	}
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, file.Name))
	header.Set("Content-Type", file.ContentType)
	part, err := w.CreatePart(header)
	if err != nil {
		return messaging.Attachment{}, err
	}
	if _, err := io.Copy(part, file.Body); err != nil {
		return messaging.Attachment{}, fmt.Errorf("sdk: read %s: %w", file.Name, err)
	}
	if err := w.Close(); err != nil {
		return messaging.Attachment{}, err
	}

	var out struct {
		Items []dto.Attachment `json:"items"`
	}
	if err := c.send(ctx, http.MethodPost, "/api/v1/attachments", w.FormDataContentType(), &buf, &out); err != nil {
		return messaging.Attachment{}, err
	}
	if len(out.Items) != 1 {
		return messaging.Attachment{}, fmt.Errorf("sdk: upload returned %d attachments", len(out.Items))
	}
	c.logger.Debug("attachment uploaded", "owner_id", ownerID, "name", file.Name)
	return dto.DomainAttachments(out.Items)[0], nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
		contentType = "application/json"
	}
	return c.send(ctx, method, path, contentType, body, out)
}

func (c *Client) send(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		c.logger.Warn("api request failed", "method", method, "path", path, "error", err)
		return fmt.Errorf("%w: %v", messaging.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("sdk: decode %s %s: %w", method, path, err)
	}
	return nil
}

func conversationPath(id, suffix string) string {
	return "/api/v1/conversations/" + url.PathEscape(id) + suffix
}

func withQuery(path string, q url.Values) string {
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}

var (
	_ chat.Identity      = (*Client)(nil)
	_ chat.Store         = (*Client)(nil)
	_ chat.ObjectStorage = (*Client)(nil)
)
