package middleware

import (
	"context"

	"campusmarket/internal/app/commands"
	"campusmarket/internal/app/queries"
)

type Validator interface {
	Validate(ctx context.Context, message any) error
}

// Checker is implemented by messages with rules the struct tags cannot express.
// Check runs after the tag rules pass.
type Checker interface {
	Check() error
}

func Validation(v Validator) CommandMiddleware {
	if v == nil {
		panic("middleware: validator required")
	}
	return func(next commands.Bus) commands.Bus {
		return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
			if err := validate(ctx, v, cmd); err != nil {
				return nil, err
			}
			return next.Dispatch(ctx, cmd)
		})
	}
}

func QueryValidation(v Validator) QueryMiddleware {
	if v == nil {
		panic("middleware: validator required")
	}
	return func(next queries.Bus) queries.Bus {
		return queryFunc(func(ctx context.Context, q queries.Query) (any, error) {
			if err := validate(ctx, v, q); err != nil {
				return nil, err
			}
			return next.Ask(ctx, q)
		})
	}
}

func validate(ctx context.Context, v Validator, message any) error {
	if err := v.Validate(ctx, message); err != nil {
		return reject(err)
	}
	if c, ok := message.(Checker); ok {
		return reject(c.Check())
	}
	return nil
}
