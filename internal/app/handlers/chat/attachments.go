package chat

import (
	"context"
	"errors"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"campusmarket/internal/app/commands"
	"campusmarket/internal/app/dto"
	"campusmarket/internal/domain/messaging"
)

const uploadAttachmentsKey = "chat.attachments.upload"

const defaultUploadConcurrency = 3

var ErrStorageUnavailable = errors.New("chat: attachment storage is not configured")

type UploadFile struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// UploadAttachmentsCommand stores up to three images for a message that has not been sent yet.
// Either every file is stored or none is.
type UploadAttachmentsCommand struct {
	UserID string       `validate:"required"`
	Files  []UploadFile `validate:"min=1"`
}

func (UploadAttachmentsCommand) Key() string       { return uploadAttachmentsKey }
func (c UploadAttachmentsCommand) ActorID() string { return c.UserID }

type UploadAttachmentsHandler struct {
	*Deps
	Concurrency int
}

func (h UploadAttachmentsHandler) Handle(ctx context.Context, cmd UploadAttachmentsCommand) ([]dto.Attachment, error) {
	if h.Storage == nil {
		return nil, ErrStorageUnavailable
	}
	if len(cmd.Files) > messaging.MaxAttachments {
		return nil, messaging.ErrTooManyAttachments
	}
	for _, f := range cmd.Files {
		if err := messaging.CheckUpload(f.Name, f.ContentType, f.Size); err != nil {
			return nil, err
		}
	}

	keys := make([]string, len(cmd.Files))
	out := make([]messaging.Attachment, len(cmd.Files))
	stored := make([]bool, len(cmd.Files))
	limit := h.Concurrency
	if limit <= 0 {
		limit = defaultUploadConcurrency
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, f := range cmd.Files {
		keys[i] = objectKey(cmd.UserID, f.Name)
		g.Go(func() error {
			url, err := h.Storage.Upload(gctx, keys[i], f.ContentType, f.Size, f.Body)
			if err != nil {
				return err
			}
			stored[i] = true
			out[i] = messaging.Attachment{URL: url, ContentType: f.ContentType, Name: f.Name, Size: f.Size}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		h.cleanup(keys, stored)
		return nil, err
	}
	return dto.MapAttachments(out), nil
}

// cleanup removes the objects that made it to storage before a sibling upload failed.
func (h UploadAttachmentsHandler) cleanup(keys []string, stored []bool) {
	for i, ok := range stored {
		if !ok {
			continue
		}
		if err := h.Storage.Remove(context.Background(), keys[i]); err != nil && h.Logger != nil {
			h.Logger.Warn("attachment cleanup failed", "key", keys[i], "error", err)
		}
	}
}

func objectKey(userID, name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" {
		base = "file"
	}
	return "attachments/" + userID + "/" + uuid.NewString() + "-" + base
}

// ownsAttachments checks that every url points into userID's upload folder.
func (d *Deps) ownsAttachments(userID string, list []messaging.Attachment) error {
	if len(list) == 0 {
		return nil
	}
	prefix := d.StoragePrefix + "attachments/" + url.PathEscape(userID) + "/"
	for _, a := range list {
		rest, ok := strings.CutPrefix(a.URL, prefix)
		if !ok || rest == "" || rest == ".." || strings.Contains(rest, "/") {
			return messaging.ErrAttachmentForeign
		}
	}
	return nil
}

var _ commands.Handler[UploadAttachmentsCommand, []dto.Attachment] = UploadAttachmentsHandler{}
