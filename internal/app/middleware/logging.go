package middleware

import (
	"context"
	"log/slog"
	"time"

	"campusmarket/internal/app/commands"
	"campusmarket/internal/app/queries"
)

// RequestIDFunc reads the transport request id carried by ctx.
type RequestIDFunc func(ctx context.Context) string

// Logging records every command with its duration, acting user and outcome.
// Rejected input is logged at info; warnings are kept for failures on our side.
func Logging(logger *slog.Logger, requestID RequestIDFunc) CommandMiddleware {
	log := dispatchLogger{logger: logger, requestID: requestID, kind: "command"}.init()
	return func(next commands.Bus) commands.Bus {
		return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
			start := time.Now()
			res, err := next.Dispatch(ctx, cmd)
			log.done(ctx, cmd.Key(), cmd, start, err)
			if err != nil {
				return nil, err
			}
			return res, nil
		})
	}
}

// QueryLogging is Logging for the query bus.
func QueryLogging(logger *slog.Logger, requestID RequestIDFunc) QueryMiddleware {
	log := dispatchLogger{logger: logger, requestID: requestID, kind: "query"}.init()
	return func(next queries.Bus) queries.Bus {
		return queryFunc(func(ctx context.Context, q queries.Query) (any, error) {
			start := time.Now()
			res, err := next.Ask(ctx, q)
			log.done(ctx, q.Key(), q, start, err)
			if err != nil {
				return nil, err
			}
			return res, nil
		})
	}
}

type dispatchLogger struct {
	logger    *slog.Logger
	requestID RequestIDFunc
	kind      string
}

func (l dispatchLogger) init() dispatchLogger {
	if l.logger == nil {
		l.logger = slog.Default()
	}
	return l
}

func (l dispatchLogger) attrs(ctx context.Context, key string, message any, start time.Time) []any {
	attrs := []any{l.kind, key, "duration", time.Since(start)}
	if uid := userOf(ctx, message); uid != "" {
		attrs = append(attrs, "user_id", uid)
	}
	if l.requestID != nil {
		if rid := l.requestID(ctx); rid != "" {
			attrs = append(attrs, "request_id", rid)
		}
	}
	return attrs
}

func (l dispatchLogger) done(ctx context.Context, key string, message any, start time.Time, err error) {
	attrs := l.attrs(ctx, key, message, start)
	switch {
	case err == nil:
		l.logger.DebugContext(ctx, l.kind+" handled", attrs...)
	case rejected(err):
		l.logger.InfoContext(ctx, l.kind+" rejected", append(attrs, "error", err)...)
	default:
		l.logger.WarnContext(ctx, l.kind+" failed", append(attrs, "error", err)...)
	}
}
