package middleware

import (
	"context"
	"errors"

	"campusmarket/internal/app/commands"
	"campusmarket/internal/app/policies"
	"campusmarket/internal/app/queries"
	"campusmarket/internal/domain/messaging"
)

type CommandMiddleware func(next commands.Bus) commands.Bus

type QueryMiddleware func(next queries.Bus) queries.Bus

// ChainCommands wraps base so that mws[0] runs first. Nil entries are skipped.
func ChainCommands(base commands.Bus, mws ...CommandMiddleware) commands.Bus {
	wrapped := base
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			wrapped = mws[i](wrapped)
		}
	}
	return wrapped
}

func ChainQueries(base queries.Bus, mws ...QueryMiddleware) queries.Bus {
	wrapped := base
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			wrapped = mws[i](wrapped)
		}
	}
	return wrapped
}

type commandFunc func(ctx context.Context, cmd commands.Command) (any, error)

func (f commandFunc) Dispatch(ctx context.Context, cmd commands.Command) (any, error) {
	return f(ctx, cmd)
}

type queryFunc func(ctx context.Context, q queries.Query) (any, error)

func (f queryFunc) Ask(ctx context.Context, q queries.Query) (any, error) {
	return f(ctx, q)
}

// actor matches both commands.Actor and queries.Actor.
type actor interface {
	ActorID() string
}

// userOf names the user a message runs for: its actor, else the signed-in principal.
func userOf(ctx context.Context, message any) string {
	if a, ok := message.(actor); ok && a.ActorID() != "" {
		return a.ActorID()
	}
	if p, ok := policies.PrincipalFrom(ctx); ok {
		return p.UserID
	}
	return ""
}

// rejectedError marks an error caused by the caller's input or rights. It reads and
// matches exactly like the error it wraps.
type rejectedError struct{ err error }

func (e rejectedError) Error() string { return e.err.Error() }
func (e rejectedError) Unwrap() error { return e.err }

func reject(err error) error {
	if err == nil {
		return nil
	}
	return rejectedError{err: err}
}

// rejected reports whether err is the caller's fault rather than a failure of ours.
func rejected(err error) bool {
	var r rejectedError
	switch {
	case errors.As(err, &r),
		messaging.IsValidation(err),
		errors.Is(err, messaging.ErrNotParticipant),
		errors.Is(err, messaging.ErrConversationNotFound),
		errors.Is(err, messaging.ErrMessageNotFound),
		errors.Is(err, policies.ErrUnauthenticated),
		errors.Is(err, policies.ErrForbidden):
		return true
	}
	return false
}
