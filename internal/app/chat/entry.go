package chat

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"campusmarket/internal/domain/messaging"
)

type EntryKind string

const (
	EntryPending   EntryKind = "pending"
	EntryConfirmed EntryKind = "confirmed"
	EntryFailed    EntryKind = "failed"
)

// Entry is one row of a message stream. Pending and failed entries are keyed by TempID,
// confirmed ones by Message.ID.
type Entry struct {
	Kind    EntryKind
	TempID  string
	Message messaging.Message
	Err     error
	// LikePending is set while a like toggle for this message awaits the store.
	LikePending bool
}

func (e Entry) Key() string {
	if e.Kind == EntryConfirmed {
		return e.Message.ID
	}
	return e.TempID
}

func (e Entry) Mine(userID string) bool {
	return e.Message.SenderID == userID
}

// TempIDs returns a generator of sortable, process-unique temporary message ids.
func TempIDs() func() string {
	var mu sync.Mutex
	entropy := ulid.Monotonic(rand.Reader, 0)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		return "tmp_" + ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
	}
}
