package memory

import (
	"context"
	"sync"
	"time"

	"campusmarket/internal/app/middleware"
)

// IdempotencyStore keeps replayable command results for ttl, mirroring the Mongo TTL index.
// A zero ttl keeps records for the life of the process.
type IdempotencyStore struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	items map[string]middleware.IdempotencyRecord
}

func NewIdempotencyStore(ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{
		ttl:   ttl,
		now:   time.Now,
		items: make(map[string]middleware.IdempotencyRecord),
	}
}

func (s *IdempotencyStore) Get(ctx context.Context, key string) (middleware.IdempotencyRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.items[key]
	if ok && s.expired(rec) {
		delete(s.items, key)
		return middleware.IdempotencyRecord{}, false, nil
	}
	return rec, ok, nil
}

func (s *IdempotencyStore) Save(ctx context.Context, rec middleware.IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = s.now()
	}
	rec.Payload = append([]byte(nil), rec.Payload...)
	s.items[rec.Key] = rec
	s.sweep()
	return nil
}

func (s *IdempotencyStore) expired(rec middleware.IdempotencyRecord) bool {
	return s.ttl > 0 && s.now().Sub(rec.OccurredAt) >= s.ttl
}

// sweep drops expired records so abandoned keys do not accumulate. Caller holds mu.
func (s *IdempotencyStore) sweep() {
	if s.ttl <= 0 {
		return
	}
	for key, rec := range s.items {
		if s.expired(rec) {
			delete(s.items, key)
		}
	}
}

var _ middleware.IdempotencyStore = (*IdempotencyStore)(nil)
