package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"campusmarket/internal/domain/user"
)

var (
	ErrTokenRequired   = errors.New("auth: token is required")
	ErrUserRequired    = errors.New("auth: user is required")
	ErrTTLInvalid      = errors.New("auth: ttl must be positive")
	ErrSessionNotFound = errors.New("auth: session not found")
)

// Token is an opaque bearer credential. Only its holder and the session store know it.
type Token string

// Session keeps a signed-in device alive. It slides forward while the device stays active,
// so a chat left open for days does not log the user out mid-conversation.
type Session struct {
	Token      Token
	UserID     user.ID
	CreatedAt  time.Time
	LastSeenAt time.Time
	ExpiresAt  time.Time
}

type CreateSessionParams struct {
	Token  Token
	UserID user.ID
	TTL    time.Duration
	Now    time.Time
}

func NewSession(params CreateSessionParams) (*Session, error) {
	token := Token(strings.TrimSpace(string(params.Token)))
	switch {
	case token == "":
		return nil, ErrTokenRequired
	case strings.TrimSpace(string(params.UserID)) == "":
		return nil, ErrUserRequired
	case params.TTL <= 0:
		return nil, ErrTTLInvalid
	}
	at := utcOrNow(params.Now)
	return &Session{
		Token:      token,
		UserID:     params.UserID,
		CreatedAt:  at,
		LastSeenAt: at,
		ExpiresAt:  at.Add(params.TTL),
	}, nil
}

// Expired reports whether the session is no longer valid at the given instant.
func (s *Session) Expired(at time.Time) bool {
	return !s.ExpiresAt.After(utcOrNow(at))
}

// Refresh records activity and pushes the expiry out to at+ttl once less than half of ttl
// remains. It reports whether the session changed and needs saving.
func (s *Session) Refresh(at time.Time, ttl time.Duration) bool {
	at = utcOrNow(at)
	if ttl <= 0 || s.Expired(at) {
		return false
	}
	if s.ExpiresAt.Sub(at) > ttl/2 {
		return false
	}
	s.LastSeenAt = at
	s.ExpiresAt = at.Add(ttl)
	return true
}

func utcOrNow(at time.Time) time.Time {
	if at.IsZero() {
		at = time.Now()
	}
	return at.UTC()
}

// SessionStore persists sessions by token. Get returns ErrSessionNotFound for expired ones.
type SessionStore interface {
	Save(ctx context.Context, session *Session) error
	Get(ctx context.Context, token Token) (*Session, error)
	Delete(ctx context.Context, token Token) error
}
