package ginserver_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"campusmarket/internal/app/commands"
	"campusmarket/internal/app/dto"
	chatapp "campusmarket/internal/app/handlers/chat"
	listingsapp "campusmarket/internal/app/handlers/listings"
	"campusmarket/internal/app/middleware"
	"campusmarket/internal/app/outbox"
	"campusmarket/internal/app/policies"
	"campusmarket/internal/app/queries"
	authsvc "campusmarket/internal/app/services/auth"
	"campusmarket/internal/domain/messaging"
	ginserver "campusmarket/internal/infra/http/gin"
	"campusmarket/internal/infra/obs"
	"campusmarket/internal/infra/realtime"
	"campusmarket/internal/infra/security"
	"campusmarket/internal/infra/storage/memory"
	"campusmarket/internal/infra/validation"
)

type objectStore struct {
	mu      sync.Mutex
	objects map[string]int
	failOn  string
}

func (s *objectStore) Upload(_ context.Context, key, _ string, _ int64, body io.Reader) (string, error) {
	if s.failOn != "" && strings.HasSuffix(key, s.failOn) {
		return "", errors.New("bucket unreachable")
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = len(data)
	return "https://cdn.test/" + key, nil
}

func (s *objectStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *objectStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

type stack struct {
	router  *gin.Engine
	hub     *realtime.Hub
	objects *objectStore
}

func newStack(t *testing.T) *stack {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	users := memory.NewUserRepository()
	authService := &authsvc.Service{
		Users:       users,
		Sessions:    memory.NewSessionStore(),
		Passwords:   security.BcryptHasher{Cost: bcrypt.MinCost},
		Tokens:      security.RandomTokenGenerator{},
		SessionTTL:  time.Hour,
		AdminEmails: []string{"admin@campus.test"},
		Logger:      logger,
	}
	hub := realtime.NewHub(logger, 16)
	t.Cleanup(hub.Close)
	box := memory.NewOutbox(hub)
	listingRepo := memory.NewListingRepository()
	objects := &objectStore{objects: map[string]int{}}

	cmdBus := commands.NewInMemoryBus()
	queryBus := queries.NewInMemoryBus()
	listingsapp.Register(cmdBus, queryBus, &listingsapp.Deps{
		Listings:  listingRepo,
		Favorites: memory.NewFavoriteRepository(),
		Users:     users,
		Outbox:    box,
		Encoder:   outbox.JSONEventEncoder{},
		Logger:    logger,
	})
	chatapp.Register(cmdBus, queryBus, &chatapp.Deps{
		Conversations: memory.NewMessagingStore(),
		Users:         users,
		Listings:      listingRepo,
		Outbox:        box,
		Encoder:       outbox.JSONEventEncoder{},
		Storage:       objects,
		StoragePrefix: "https://cdn.test/",
		Logger:        logger,
	})
	v := validation.New()
	cmds := middleware.ChainCommands(cmdBus,
		middleware.Validation(v),
		middleware.Authorization(policies.RoleAuthorizer{}),
		middleware.Idempotency(memory.NewIdempotencyStore(0), nil),
		middleware.OutboxFlush(box, nil),
	)
	qs := middleware.ChainQueries(queryBus,
		middleware.QueryValidation(v),
		middleware.QueryAuthorization(policies.RoleAuthorizer{}),
	)

	router := ginserver.NewRouter("test", obs.Middleware{Logger: logger}, obs.HealthHandlers{}, ginserver.Handlers{
		Auth:           ginserver.AuthHandler{Service: authService, Logger: logger},
		Listing:        ginserver.ListingHandler{Commands: cmds, Queries: qs, Logger: logger},
		Chat:           ginserver.ChatHandler{Commands: cmds, Queries: qs, Logger: logger},
		Admin:          ginserver.AdminHandler{Commands: cmds, Queries: qs, Logger: logger},
		Realtime:       ginserver.RealtimeHandler{Hub: hub, Queries: qs, Logger: logger},
		AuthMiddleware: ginserver.AuthMiddleware{Service: authService, Logger: logger}.Handle,
	})
	return &stack{router: router, hub: hub, objects: objects}
}

func (s *stack) call(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (s *stack) register(t *testing.T, email, name string) dto.AuthResponse {
	t.Helper()
	rec := s.call(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"email": email, "display_name": name, "password": "correct-horse", "campus": "north",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[dto.AuthResponse](t, rec)
}

func (s *stack) listing(t *testing.T, token, title string) dto.Listing {
	t.Helper()
	rec := s.call(t, http.MethodPost, "/api/v1/listings", token, map[string]any{
		"kind": "marketplace", "title": title, "price_cents": 4500, "images": []string{"https://cdn.test/desk.png"}, "publish": true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[dto.Listing](t, rec)
}

func (s *stack) start(t *testing.T, token, listingID string) dto.Conversation {
	t.Helper()
	rec := s.call(t, http.MethodPost, "/api/v1/listings/"+listingID+"/conversations", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[dto.Conversation](t, rec)
}

func TestHealthEndpoints(t *testing.T) {
	s := newStack(t)
	assert.Equal(t, http.StatusOK, s.call(t, http.MethodGet, "/livez", "", nil).Code)
	assert.Equal(t, http.StatusOK, s.call(t, http.MethodGet, "/readyz", "", nil).Code)
}

func TestChatFlowOverHTTP(t *testing.T) {
	s := newStack(t)
	seller := s.register(t, "sam@campus.test", "Sam")
	buyer := s.register(t, "bea@campus.test", "Bea")
	desk := s.listing(t, seller.Token, "Standing desk")
	assert.Equal(t, "active", desk.Status)

	conv := s.start(t, buyer.Token, desk.ID)
	assert.Equal(t, buyer.User.ID, conv.BuyerID)
	assert.Equal(t, seller.User.ID, conv.SellerID)
	again := s.start(t, buyer.Token, desk.ID)
	assert.Equal(t, conv.ID, again.ID)

	path := "/api/v1/conversations/" + conv.ID
	rec := s.call(t, http.MethodPost, path+"/messages", buyer.Token, map[string]any{"client_id": "tmp_1", "text": "Is it still available?"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sent := decode[dto.Message](t, rec)
	assert.Equal(t, "tmp_1", sent.ClientID)
	assert.False(t, sent.Read)

	rec = s.call(t, http.MethodPost, path+"/messages", buyer.Token, map[string]any{"client_id": "tmp_1", "text": "Is it still available?"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, sent.ID, decode[dto.Message](t, rec).ID)

	rec = s.call(t, http.MethodGet, "/api/v1/conversations", seller.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[dto.ConversationList](t, rec)
	require.Len(t, list.Items, 1)
	assert.Equal(t, 1, list.Items[0].UnreadCount)
	assert.Equal(t, "Bea", list.Items[0].Buyer.DisplayName)
	require.NotNil(t, list.Items[0].Listing)
	assert.Equal(t, "Standing desk", list.Items[0].Listing.Title)

	rec = s.call(t, http.MethodGet, path+"/messages", seller.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	msgs := decode[dto.MessageList](t, rec)
	require.Len(t, msgs.Items, 1)
	assert.Equal(t, "Bea", msgs.Items[0].SenderName)

	rec = s.call(t, http.MethodPost, path+"/read", seller.Token, map[string]any{"message_ids": []string{sent.ID}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{sent.ID}, decode[dto.ReadResult](t, rec).Updated)

	rec = s.call(t, http.MethodPut, path+"/messages/"+sent.ID+"/like", seller.Token, map[string]bool{"liked": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{seller.User.ID}, decode[dto.Message](t, rec).LikedBy)
	rec = s.call(t, http.MethodPut, path+"/messages/"+sent.ID+"/like", seller.Token, map[string]bool{"liked": true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{seller.User.ID}, decode[dto.Message](t, rec).LikedBy)

	rec = s.call(t, http.MethodGet, "/api/v1/conversations", seller.Token, nil)
	assert.Equal(t, 0, decode[dto.ConversationList](t, rec).Items[0].UnreadCount)

	rec = s.call(t, http.MethodGet, path+"/items", buyer.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	items := decode[struct {
		Items []dto.ItemReference `json:"items"`
	}](t, rec)
	require.Len(t, items.Items, 1)
	assert.True(t, items.Items[0].Primary)

	rec = s.call(t, http.MethodPost, path+"/archive", buyer.Token, map[string]bool{"archived": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = s.call(t, http.MethodGet, "/api/v1/conversations", buyer.Token, nil)
	assert.Empty(t, decode[dto.ConversationList](t, rec).Items)
	rec = s.call(t, http.MethodGet, "/api/v1/conversations?archived=true", buyer.Token, nil)
	assert.Len(t, decode[dto.ConversationList](t, rec).Items, 1)

	rec = s.call(t, http.MethodDelete, path, seller.Token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.call(t, http.MethodGet, "/api/v1/conversations", seller.Token, nil)
	assert.Empty(t, decode[dto.ConversationList](t, rec).Items)
}

func TestChatErrorsMapToStatusCodes(t *testing.T) {
	s := newStack(t)
	seller := s.register(t, "sam@campus.test", "Sam")
	buyer := s.register(t, "bea@campus.test", "Bea")
	outsider := s.register(t, "otto@campus.test", "Otto")
	desk := s.listing(t, seller.Token, "Desk")
	conv := s.start(t, buyer.Token, desk.ID)
	path := "/api/v1/conversations/" + conv.ID

	assert.Equal(t, http.StatusUnauthorized, s.call(t, http.MethodGet, "/api/v1/conversations", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, s.call(t, http.MethodGet, "/api/v1/conversations", "bogus", nil).Code)
	assert.Equal(t, http.StatusForbidden, s.call(t, http.MethodGet, path+"/messages", outsider.Token, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.call(t, http.MethodGet, "/api/v1/conversations/missing/messages", buyer.Token, nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.call(t, http.MethodPost, "/api/v1/listings/"+desk.ID+"/conversations", seller.Token, nil).Code)

	rec := s.call(t, http.MethodPost, path+"/messages", buyer.Token, map[string]any{"text": "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), messaging.ErrEmptyMessage.Error())

	rec = s.call(t, http.MethodPost, path+"/messages", buyer.Token, map[string]any{"text": strings.Repeat("a", messaging.MaxBodyRunes+1)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.call(t, http.MethodPut, path+"/messages/nope/like", buyer.Token, map[string]bool{"liked": true})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func multipartBody(t *testing.T, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for name, contentType := range files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="files"; filename="`+name+`"`)
		header.Set("Content-Type", contentType)
		part, err := w.CreatePart(header)
		require.NoError(t, err)
		_, err = part.Write([]byte("image-bytes-" + name))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func (s *stack) upload(t *testing.T, token string, files map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, files)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/attachments", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestUploadAttachments(t *testing.T) {
	s := newStack(t)
	user := s.register(t, "bea@campus.test", "Bea")

	rec := s.upload(t, user.Token, map[string]string{"a.png": "image/png", "b.jpg": "image/jpeg"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	out := decode[struct {
		Items []dto.Attachment `json:"items"`
	}](t, rec)
	require.Len(t, out.Items, 2)
	for _, att := range out.Items {
		assert.True(t, strings.HasPrefix(att.URL, "https://cdn.test/attachments/"+user.User.ID+"/"), att.URL)
	}
	assert.Equal(t, 2, s.objects.count())

	rec = s.upload(t, user.Token, map[string]string{"1.png": "image/png", "2.png": "image/png", "3.png": "image/png", "4.png": "image/png"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.upload(t, user.Token, map[string]string{"notes.pdf": "application/pdf"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	s.objects.failOn = "broken.png"
	rec = s.upload(t, user.Token, map[string]string{"ok.png": "image/png", "broken.png": "image/png"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 2, s.objects.count(), "partial batch is rolled back")
}

func TestAdminModeration(t *testing.T) {
	s := newStack(t)
	admin := s.register(t, "admin@campus.test", "Ada")
	assert.Contains(t, admin.User.Roles, "admin")
	seller := s.register(t, "sam@campus.test", "Sam")
	buyer := s.register(t, "bea@campus.test", "Bea")
	desk := s.listing(t, seller.Token, "Desk")
	s.start(t, buyer.Token, desk.ID)

	assert.Equal(t, http.StatusForbidden, s.call(t, http.MethodGet, "/api/v1/admin/users", seller.Token, nil).Code)

	rec := s.call(t, http.MethodGet, "/api/v1/admin/users", admin.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, decode[dto.UserList](t, rec).Total)

	rec = s.call(t, http.MethodGet, "/api/v1/admin/conversations", admin.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[dto.ConversationList](t, rec).Items, 1)

	rec = s.call(t, http.MethodPost, "/api/v1/admin/listings/"+desk.ID+"/suspend", admin.Token, map[string]string{"reason": "duplicate"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "suspended", decode[dto.Listing](t, rec).Status)

	rec = s.call(t, http.MethodPost, "/api/v1/listings/"+desk.ID+"/conversations", s.register(t, "new@campus.test", "New").Token, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRealtimeStreamPushesMessages(t *testing.T) {
	s := newStack(t)
	seller := s.register(t, "sam@campus.test", "Sam")
	buyer := s.register(t, "bea@campus.test", "Bea")
	desk := s.listing(t, seller.Token, "Desk")
	conv := s.start(t, buyer.Token, desk.ID)

	srv := httptest.NewServer(s.router)
	defer srv.Close()
	q := url.Values{"access_token": []string{seller.Token}, "conversation_id": []string{conv.ID}}
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/realtime?" + q.Encode()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool {
		return s.hub.Subscribers(realtime.ConversationTopic(conv.ID)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	rec := s.call(t, http.MethodPost, "/api/v1/conversations/"+conv.ID+"/messages", buyer.Token, map[string]any{"text": "hello"})
	require.Equal(t, http.StatusCreated, rec.Code)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev dto.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, messaging.EventMessageSent, ev.Type)
	require.NotNil(t, ev.Message)
	assert.Equal(t, "hello", ev.Message.Text)

	outsider := s.register(t, "otto@campus.test", "Otto")
	q.Set("access_token", outsider.Token)
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/v1/realtime?"+q.Encode(), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
