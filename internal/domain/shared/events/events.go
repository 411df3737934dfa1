package events

import "time"

// DomainEvent is a fact raised by an aggregate and shipped through the outbox.
type DomainEvent interface {
	EventName() string
	AggregateID() string
	OccurredAt() time.Time
}

// Recorder collects events raised while a command runs.
type Recorder struct {
	pending []DomainEvent
}

func (r *Recorder) Record(evs ...DomainEvent) {
	for _, ev := range evs {
		if ev == nil {
			continue
		}
		r.pending = append(r.pending, ev)
	}
}

// Pending returns a copy of the recorded events in the order they were raised.
func (r *Recorder) Pending() []DomainEvent {
	out := make([]DomainEvent, len(r.pending))
	copy(out, r.pending)
	return out
}

func (r *Recorder) Clear() {
	r.pending = nil
}
