package kafka

import (
	"context"
	"log/slog"

	"github.com/IBM/sarama"

	appoutbox "campusmarket/internal/app/outbox"
	infraoutbox "campusmarket/internal/infra/outbox"
)

// Deduper remembers handled event ids. Forget undoes Seen when handling failed.
type Deduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

// Relay hands broker events to a local publisher, typically the realtime hub, skipping
// redeliveries.
type Relay struct {
	Inbox     Deduper
	Publisher appoutbox.Publisher
	Logger    *slog.Logger
}

func (r Relay) Handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	rec, err := infraoutbox.DecodeEnvelope(msg.Value)
	if err != nil {
		// poison message: log and let the offset move on
		r.log("relay dropped malformed event", "error", err, "topic", msg.Topic, "offset", msg.Offset)
		return nil
	}
	if r.Inbox != nil {
		seen, err := r.Inbox.Seen(ctx, rec.ID)
		if err != nil {
			r.log("relay inbox failed", "error", err, "event_id", rec.ID)
			return err
		}
		if seen {
			return nil
		}
	}
	if err := r.Publisher.Publish(ctx, rec); err != nil {
		r.log("relay publish failed", "error", err, "event", rec.Name, "event_id", rec.ID)
		if r.Inbox != nil {
			if ferr := r.Inbox.Forget(ctx, rec.ID); ferr != nil {
				r.log("relay inbox forget failed", "error", ferr, "event_id", rec.ID)
			}
		}
		return err
	}
	return nil
}

func (r Relay) log(msg string, args ...any) {
	if r.Logger != nil {
		r.Logger.Warn(msg, args...)
	}
}

// Topics lists the broker topics carrying events the realtime feed needs.
func Topics(prefix string) []string {
	return []string{
		infraoutbox.TopicFor(prefix, "message."),
		infraoutbox.TopicFor(prefix, "conversation."),
	}
}
