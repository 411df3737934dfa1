package chat

import "errors"

var (
	ErrComposerBusy = errors.New("chat: previous message is still sending")
	ErrLikeInFlight = errors.New("chat: like for this message is still in flight")
	ErrStreamClosed = errors.New("chat: stream closed")
	ErrStreamOpen   = errors.New("chat: stream already opened")
	ErrEntryUnknown = errors.New("chat: no such entry")
	ErrNotFailed    = errors.New("chat: entry has not failed")
	ErrNoSelection  = errors.New("chat: no conversation selected")
)
