package middleware

import (
	"context"
	"log/slog"

	"campusmarket/internal/app/commands"
	"campusmarket/internal/app/outbox"
)

// OutboxFlush delivers events recorded by a successful command before returning its
// result. The command's writes are already stored when a flush fails, so the failure
// is logged and the result still returned; readers catch up on their next load.
func OutboxFlush(box outbox.Outbox, logger *slog.Logger) CommandMiddleware {
	if box == nil {
		panic("middleware: outbox required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return func(next commands.Bus) commands.Bus {
		return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
			res, err := next.Dispatch(ctx, cmd)
			if err != nil {
				return nil, err
			}
			if err := box.Flush(ctx); err != nil {
				attrs := []any{"command", cmd.Key(), "error", err}
				if uid := userOf(ctx, cmd); uid != "" {
					attrs = append(attrs, "user_id", uid)
				}
				logger.ErrorContext(ctx, "events not delivered", attrs...)
			}
			return res, nil
		})
	}
}
