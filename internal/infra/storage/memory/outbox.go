package memory

import (
	"context"
	"errors"
	"sync"

	appoutbox "campusmarket/internal/app/outbox"
)

// Outbox keeps records in memory and hands them to Publisher on Flush.
// Records added by concurrent commands are flushed together.
type Outbox struct {
	mu        sync.Mutex
	records   []appoutbox.EventRecord
	publisher appoutbox.Publisher
}

func NewOutbox(publisher appoutbox.Publisher) *Outbox {
	return &Outbox{publisher: publisher}
}

func (o *Outbox) Add(ctx context.Context, record appoutbox.EventRecord) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.records = append(o.records, record)
	return nil
}

func (o *Outbox) Flush(ctx context.Context) error {
	o.mu.Lock()
	pending := o.records
	o.records = nil
	o.mu.Unlock()
	if o.publisher == nil {
		return nil
	}
	var errs []error
	for _, rec := range pending {
		if err := o.publisher.Publish(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ appoutbox.Outbox = (*Outbox)(nil)
