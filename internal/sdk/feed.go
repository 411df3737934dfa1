package sdk

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"campusmarket/internal/app/chat"
	"campusmarket/internal/app/dto"
	"campusmarket/internal/domain/messaging"
)

const (
	minRedial = time.Second
	maxRedial = 30 * time.Second
)

// Feed follows the realtime websocket endpoint. A dropped connection is redialed with
// backoff; frames published while disconnected are not replayed.
type Feed struct {
	client *Client
	dialer *websocket.Dialer
}

func (c *Client) Feed() *Feed {
	return &Feed{client: c, dialer: websocket.DefaultDialer}
}

func (f *Feed) SubscribeConversation(ctx context.Context, conversationID string, fn func(chat.Change)) (chat.Unsubscribe, error) {
	return f.subscribe(ctx, url.Values{"conversation_id": []string{conversationID}}, fn)
}

func (f *Feed) SubscribeInbox(ctx context.Context, fn func(chat.Change)) (chat.Unsubscribe, error) {
	return f.subscribe(ctx, url.Values{}, fn)
}

func (f *Feed) subscribe(ctx context.Context, q url.Values, fn func(chat.Change)) (chat.Unsubscribe, error) {
	token := f.client.Token()
	if token == "" {
		return nil, ErrNotSignedIn
	}
	q.Set("access_token", token)
	endpoint := websocketURL(f.client.baseURL) + "/api/v1/realtime?" + q.Encode()

	conn, err := f.dial(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	sub := &subscription{feed: f, endpoint: endpoint, fn: fn, conn: conn, done: make(chan struct{})}
	go sub.run(conn)
	return sub.close, nil
}

func (f *Feed) dial(ctx context.Context, endpoint string) (*websocket.Conn, error) {
	conn, resp, err := f.dialer.DialContext(ctx, endpoint, nil)
	if err == nil {
		return conn, nil
	}
	if resp != nil && resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	return nil, errors.Join(messaging.ErrUnavailable, err)
}

type subscription struct {
	feed     *Feed
	endpoint string
	fn       func(chat.Change)

	mu   sync.Mutex
	conn *websocket.Conn
	done chan struct{}
	once sync.Once
}

func (s *subscription) run(conn *websocket.Conn) {
	for conn != nil {
		s.read(conn)
		conn = s.redial()
	}
}

func (s *subscription) read(conn *websocket.Conn) {
	defer conn.Close()
	for {
		var ev dto.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if !s.closed() {
				s.feed.client.logger.Debug("realtime connection lost", "error", err)
			}
			return
		}
		if change, ok := toChange(ev); ok && !s.closed() {
			s.fn(change)
		}
	}
}

// redial returns nil once the subscription is closed or the server refuses it.
func (s *subscription) redial() *websocket.Conn {
	wait := minRedial
	for {
		timer := time.NewTimer(wait)
		select {
		case <-s.done:
			timer.Stop()
			return nil
		case <-timer.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), maxRedial)
		conn, err := s.feed.dial(ctx, s.endpoint)
		cancel()
		if err == nil {
			s.mu.Lock()
			if s.closed() {
				s.mu.Unlock()
				conn.Close()
				return nil
			}
			s.conn = conn
			s.mu.Unlock()
			return conn
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status < http.StatusInternalServerError {
			s.feed.client.logger.Warn("realtime subscription refused", "status", apiErr.Status, "error", err)
			return nil
		}
		s.feed.client.logger.Debug("realtime redial failed", "error", err, "retry_in", wait)
		wait = min(wait*2, maxRedial)
	}
}

func (s *subscription) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *subscription) close() {
	s.once.Do(func() {
		s.mu.Lock()
		close(s.done)
		conn := s.conn
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
	})
}

func toChange(ev dto.Event) (chat.Change, bool) {
	if ev.Message == nil {
		return chat.Change{}, false
	}
	var kind chat.ChangeKind
	switch ev.Type {
	case messaging.EventMessageSent:
		kind = chat.ChangeInserted
	case messaging.EventMessageUpdated:
		kind = chat.ChangeUpdated
	default:
		return chat.Change{}, false
	}
	return chat.Change{Kind: kind, Message: ev.Message.Domain()}, true
}

func websocketURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}

var _ chat.Feed = (*Feed)(nil)
