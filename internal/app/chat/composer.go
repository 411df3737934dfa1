package chat

import (
	"context"
	"strings"
	"sync"

	"campusmarket/internal/domain/messaging"
)

// Composer is a single input box bound to a stream. It accepts one submission at a time.
type Composer struct {
	stream   *Stream
	uploader *Uploader

	mu   sync.Mutex
	busy bool
}

func NewComposer(stream *Stream, uploader *Uploader) *Composer {
	return &Composer{stream: stream, uploader: uploader}
}

func (c *Composer) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// Submit uploads files, then sends the message. It stays busy until the store has answered
// the send, and returns the temporary id of the new entry.
func (c *Composer) Submit(ctx context.Context, text string, files []File) (string, error) {
	if strings.TrimSpace(text) == "" && len(files) == 0 {
		return "", messaging.ErrEmptyMessage
	}
	if err := CheckFiles(files); err != nil {
		return "", err
	}

	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return "", ErrComposerBusy
	}
	c.busy = true
	c.mu.Unlock()
	release := func(error) {
		c.mu.Lock()
		c.busy = false
		c.mu.Unlock()
	}

	var attachments []messaging.Attachment
	if len(files) > 0 {
		if c.uploader == nil {
			release(nil)
			return "", messaging.ErrAttachmentInvalid
		}
		uploaded, err := c.uploader.Upload(ctx, files)
		if err != nil {
			release(err)
			return "", err
		}
		attachments = uploaded
	}

	tempID, err := c.stream.send(text, attachments, release)
	if err != nil {
		release(err)
		return "", err
	}
	return tempID, nil
}

// SubmitDraft sends the draft's files and clears the draft once accepted.
func (c *Composer) SubmitDraft(ctx context.Context, text string, draft *Draft) (string, error) {
	tempID, err := c.Submit(ctx, text, draft.Files())
	if err != nil {
		return "", err
	}
	draft.Reset()
	return tempID, nil
}
