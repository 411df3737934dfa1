package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusmarket/internal/app/commands"
	"campusmarket/internal/app/outbox"
	"campusmarket/internal/app/policies"
	"campusmarket/internal/app/queries"
	"campusmarket/internal/domain/messaging"
	domainuser "campusmarket/internal/domain/user"
)

type result struct {
	ID string `json:"id"`
}

type sendCmd struct {
	key string
}

func (sendCmd) Key() string              { return "chat.send" }
func (c sendCmd) IdempotencyKey() string { return c.key }
func (sendCmd) ResultPrototype() any     { return &result{} }

type suspendCmd struct{}

func (suspendCmd) Key() string { return "admin.suspend" }
func (suspendCmd) AdminOnly()  {}

type likeCmd struct {
	userID string
	body   string
}

func (likeCmd) Key() string       { return "chat.like" }
func (c likeCmd) ActorID() string { return c.userID }
func (c likeCmd) Check() error {
	if c.body == "" {
		return messaging.ErrEmptyMessage
	}
	return nil
}

type inboxQuery struct {
	userID string
}

func (inboxQuery) Key() string       { return "chat.inbox" }
func (q inboxQuery) ActorID() string { return q.userID }

type validatorFunc func(ctx context.Context, message any) error

func (f validatorFunc) Validate(ctx context.Context, message any) error { return f(ctx, message) }

func as(userID string, roles ...domainuser.Role) context.Context {
	return policies.WithPrincipal(context.Background(), policies.Principal{UserID: userID, Roles: roles})
}

// captureLogs returns a debug-level JSON logger and a reader for its records.
func captureLogs() (*slog.Logger, func() []map[string]any) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return logger, func() []map[string]any {
		var out []map[string]any
		dec := json.NewDecoder(bytes.NewReader(buf.Bytes()))
		for dec.More() {
			var rec map[string]any
			if err := dec.Decode(&rec); err != nil {
				break
			}
			out = append(out, rec)
		}
		return out
	}
}

func requestID(id string) RequestIDFunc {
	return func(context.Context) string { return id }
}

type mapStore struct {
	mu    sync.Mutex
	items map[string]IdempotencyRecord
}

func (s *mapStore) Get(_ context.Context, key string) (IdempotencyRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.items[key]
	return rec, ok, nil
}

func (s *mapStore) Save(_ context.Context, rec IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[rec.Key] = rec
	return nil
}

type countingOutbox struct {
	flushes atomic.Int32
	err     error
}

func (o *countingOutbox) Add(context.Context, outbox.EventRecord) error { return nil }
func (o *countingOutbox) Flush(context.Context) error {
	o.flushes.Add(1)
	return o.err
}

func TestIdempotencyReplaysStoredResult(t *testing.T) {
	var calls atomic.Int32
	base := commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
		n := calls.Add(1)
		return result{ID: string(rune('a' + n - 1))}, nil
	})
	bus := ChainCommands(base, Idempotency(&mapStore{items: map[string]IdempotencyRecord{}}, nil))

	first, err := bus.Dispatch(context.Background(), sendCmd{key: "k1"})
	require.NoError(t, err)
	again, err := bus.Dispatch(context.Background(), sendCmd{key: "k1"})
	require.NoError(t, err)
	other, err := bus.Dispatch(context.Background(), sendCmd{key: "k2"})
	require.NoError(t, err)

	assert.Equal(t, result{ID: "a"}, first)
	assert.Equal(t, result{ID: "a"}, again)
	assert.Equal(t, result{ID: "b"}, other)
	assert.EqualValues(t, 2, calls.Load())
}

func TestIdempotencyDoesNotStoreFailures(t *testing.T) {
	var calls atomic.Int32
	base := commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("store unavailable")
		}
		return result{ID: "ok"}, nil
	})
	bus := ChainCommands(base, Idempotency(&mapStore{items: map[string]IdempotencyRecord{}}, nil))

	_, err := bus.Dispatch(context.Background(), sendCmd{key: "k1"})
	require.Error(t, err)
	res, err := bus.Dispatch(context.Background(), sendCmd{key: "k1"})
	require.NoError(t, err)
	assert.Equal(t, result{ID: "ok"}, res)
}

func TestIdempotencyCollapsesConcurrentDuplicates(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	base := commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
		calls.Add(1)
		<-release
		return result{ID: "once"}, nil
	})
	bus := ChainCommands(base, Idempotency(&mapStore{items: map[string]IdempotencyRecord{}}, nil))

	var wg sync.WaitGroup
	results := make([]any, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = bus.Dispatch(context.Background(), sendCmd{key: "same"})
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, result{ID: "once"}, r)
	}
	assert.EqualValues(t, 1, calls.Load())
}

func TestCommandsWithoutKeyBypassIdempotency(t *testing.T) {
	var calls atomic.Int32
	base := commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
		calls.Add(1)
		return result{}, nil
	})
	bus := ChainCommands(base, Idempotency(&mapStore{items: map[string]IdempotencyRecord{}}, nil))
	for range 2 {
		_, err := bus.Dispatch(context.Background(), sendCmd{})
		require.NoError(t, err)
	}
	assert.EqualValues(t, 2, calls.Load())
}

func TestOutboxFlushRunsOnlyAfterSuccess(t *testing.T) {
	box := &countingOutbox{}
	fail := true
	base := commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
		if fail {
			return nil, errors.New("boom")
		}
		return result{}, nil
	})
	bus := ChainCommands(base, OutboxFlush(box, slog.New(slog.DiscardHandler)))

	_, err := bus.Dispatch(context.Background(), sendCmd{})
	require.Error(t, err)
	assert.EqualValues(t, 0, box.flushes.Load())

	fail = false
	_, err = bus.Dispatch(context.Background(), sendCmd{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, box.flushes.Load())
}

func TestAuthorizationGuardsAdminCommands(t *testing.T) {
	base := commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
		return "done", nil
	})
	bus := ChainCommands(base, Logging(slog.New(slog.DiscardHandler), nil), Authorization(policies.RoleAuthorizer{}))

	_, err := bus.Dispatch(context.Background(), suspendCmd{})
	assert.ErrorIs(t, err, policies.ErrUnauthenticated)

	student := policies.WithPrincipal(context.Background(), policies.Principal{UserID: "u1", Roles: []domainuser.Role{domainuser.RoleStudent}})
	_, err = bus.Dispatch(student, suspendCmd{})
	assert.ErrorIs(t, err, policies.ErrForbidden)

	admin := policies.WithPrincipal(context.Background(), policies.Principal{UserID: "u2", Roles: []domainuser.Role{domainuser.RoleAdmin}})
	res, err := bus.Dispatch(admin, suspendCmd{})
	require.NoError(t, err)
	assert.Equal(t, "done", res)

	res, err = bus.Dispatch(context.Background(), sendCmd{})
	require.NoError(t, err)
	assert.Equal(t, "done", res)
}

func TestChainRunsMiddlewaresInOrder(t *testing.T) {
	var order []string
	mark := func(name string) CommandMiddleware {
		return func(next commands.Bus) commands.Bus {
			return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
				order = append(order, name)
				return next.Dispatch(ctx, cmd)
			})
		}
	}
	base := commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
		order = append(order, "handler")
		return nil, nil
	})
	_, err := ChainCommands(base, mark("first"), mark("second")).Dispatch(context.Background(), sendCmd{})
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "handler"}, order)
}

func TestChainSkipsNilMiddlewares(t *testing.T) {
	base := commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
		return "done", nil
	})
	res, err := ChainCommands(base, nil, Authorization(policies.RoleAuthorizer{}), nil).Dispatch(context.Background(), sendCmd{})
	require.NoError(t, err)
	assert.Equal(t, "done", res)
}

func TestLoggingTagsUserAndRequest(t *testing.T) {
	logger, records := captureLogs()
	fail := errors.New("store unavailable")
	base := commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
		if c, ok := cmd.(likeCmd); ok && c.body == "boom" {
			return nil, fail
		}
		return "done", nil
	})
	bus := ChainCommands(base,
		Logging(logger, requestID("req-7")),
		Validation(validatorFunc(func(context.Context, any) error { return nil })),
	)

	_, err := bus.Dispatch(as("u1"), sendCmd{})
	require.NoError(t, err)
	_, err = bus.Dispatch(context.Background(), likeCmd{userID: "u2"})
	require.ErrorIs(t, err, messaging.ErrEmptyMessage)
	_, err = bus.Dispatch(context.Background(), likeCmd{userID: "u3", body: "boom"})
	require.ErrorIs(t, err, fail)

	recs := records()
	require.Len(t, recs, 3)

	assert.Equal(t, "DEBUG", recs[0]["level"])
	assert.Equal(t, "command handled", recs[0]["msg"])
	assert.Equal(t, "chat.send", recs[0]["command"])
	assert.Equal(t, "u1", recs[0]["user_id"])
	assert.Equal(t, "req-7", recs[0]["request_id"])

	assert.Equal(t, "INFO", recs[1]["level"])
	assert.Equal(t, "command rejected", recs[1]["msg"])
	assert.Equal(t, "u2", recs[1]["user_id"])
	assert.Equal(t, messaging.ErrEmptyMessage.Error(), recs[1]["error"])

	assert.Equal(t, "WARN", recs[2]["level"])
	assert.Equal(t, "command failed", recs[2]["msg"])
	assert.Equal(t, "u3", recs[2]["user_id"])
}

func TestQueryLoggingOmitsUnknownCaller(t *testing.T) {
	logger, records := captureLogs()
	base := queryFunc(func(ctx context.Context, q queries.Query) (any, error) {
		return nil, messaging.ErrNotParticipant
	})
	qs := ChainQueries(base, QueryLogging(logger, nil))

	_, err := qs.Ask(context.Background(), inboxQuery{})
	require.ErrorIs(t, err, messaging.ErrNotParticipant)

	recs := records()
	require.Len(t, recs, 1)
	assert.Equal(t, "query rejected", recs[0]["msg"])
	assert.Equal(t, "chat.inbox", recs[0]["query"])
	assert.NotContains(t, recs[0], "user_id")
	assert.NotContains(t, recs[0], "request_id")
}

func TestAuthorizationKeepsCallersToTheirOwnID(t *testing.T) {
	base := commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
		return "done", nil
	})
	bus := ChainCommands(base, Authorization(policies.RoleAuthorizer{}))

	_, err := bus.Dispatch(as("u1", domainuser.RoleStudent), likeCmd{userID: "u2", body: "x"})
	assert.ErrorIs(t, err, policies.ErrForbidden)

	_, err = bus.Dispatch(as("u1", domainuser.RoleStudent), likeCmd{userID: "u1", body: "x"})
	assert.NoError(t, err)
	_, err = bus.Dispatch(as("mod", domainuser.RoleAdmin), likeCmd{userID: "u2", body: "x"})
	assert.NoError(t, err)
	_, err = bus.Dispatch(context.Background(), likeCmd{userID: "u2", body: "x"})
	assert.NoError(t, err)

	qs := ChainQueries(queryFunc(func(ctx context.Context, q queries.Query) (any, error) {
		return "inbox", nil
	}), QueryAuthorization(policies.RoleAuthorizer{}))
	_, err = qs.Ask(as("u1", domainuser.RoleStudent), inboxQuery{userID: "u2"})
	assert.ErrorIs(t, err, policies.ErrForbidden)
	res, err := qs.Ask(as("u2", domainuser.RoleStudent), inboxQuery{userID: "u2"})
	require.NoError(t, err)
	assert.Equal(t, "inbox", res)
}

func TestValidationRunsMessageChecksAfterTags(t *testing.T) {
	tagErr := errors.New("UserID failed required")
	var calls atomic.Int32
	base := commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
		calls.Add(1)
		return "done", nil
	})
	v := validatorFunc(func(_ context.Context, message any) error {
		if c, ok := message.(likeCmd); ok && c.userID == "" {
			return tagErr
		}
		return nil
	})
	bus := ChainCommands(base, Validation(v))

	_, err := bus.Dispatch(context.Background(), likeCmd{})
	assert.ErrorIs(t, err, tagErr)
	assert.Equal(t, tagErr.Error(), err.Error())
	_, err = bus.Dispatch(context.Background(), likeCmd{userID: "u1"})
	assert.ErrorIs(t, err, messaging.ErrEmptyMessage)
	_, err = bus.Dispatch(context.Background(), likeCmd{userID: "u1", body: "hi"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls.Load())
}

func TestOutboxFlushFailureKeepsCommandResult(t *testing.T) {
	logger, records := captureLogs()
	box := &countingOutbox{err: errors.New("broker down")}
	base := commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
		return result{ID: "m1"}, nil
	})
	bus := ChainCommands(base, OutboxFlush(box, logger))

	res, err := bus.Dispatch(as("u1"), sendCmd{})
	require.NoError(t, err)
	assert.Equal(t, result{ID: "m1"}, res)
	assert.EqualValues(t, 1, box.flushes.Load())

	recs := records()
	require.Len(t, recs, 1)
	assert.Equal(t, "ERROR", recs[0]["level"])
	assert.Equal(t, "events not delivered", recs[0]["msg"])
	assert.Equal(t, "chat.send", recs[0]["command"])
	assert.Equal(t, "u1", recs[0]["user_id"])
}
