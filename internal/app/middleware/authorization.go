package middleware

import (
	"context"

	"campusmarket/internal/app/commands"
	"campusmarket/internal/app/policies"
	"campusmarket/internal/app/queries"
)

type Authorizer interface {
	Authorize(ctx context.Context, message any) error
}

// Authorization checks a before the command runs. A command naming an actor other than the
// signed-in principal is refused unless the principal is an admin.
func Authorization(a Authorizer) CommandMiddleware {
	if a == nil {
		panic("middleware: authorizer required")
	}
	return func(next commands.Bus) commands.Bus {
		return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
			if err := authorize(ctx, a, cmd); err != nil {
				return nil, err
			}
			return next.Dispatch(ctx, cmd)
		})
	}
}

func QueryAuthorization(a Authorizer) QueryMiddleware {
	if a == nil {
		panic("middleware: authorizer required")
	}
	return func(next queries.Bus) queries.Bus {
		return queryFunc(func(ctx context.Context, q queries.Query) (any, error) {
			if err := authorize(ctx, a, q); err != nil {
				return nil, err
			}
			return next.Ask(ctx, q)
		})
	}
}

func authorize(ctx context.Context, a Authorizer, message any) error {
	if err := a.Authorize(ctx, message); err != nil {
		return reject(err)
	}
	act, ok := message.(actor)
	if !ok {
		return nil
	}
	// Calls without a principal come from trusted in-process callers.
	p, signedIn := policies.PrincipalFrom(ctx)
	if !signedIn || p.UserID == act.ActorID() || p.IsAdmin() {
		return nil
	}
	return reject(policies.ErrForbidden)
}
