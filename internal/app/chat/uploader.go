package chat

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"campusmarket/internal/domain/messaging"
)

// Uploader turns picked files into attachment descriptors. A batch either fully succeeds or
// returns no descriptors at all.
type Uploader struct {
	Storage ObjectStorage
	OwnerID string
	// Concurrency bounds parallel uploads; zero means one goroutine per file.
	Concurrency int
}

func (u *Uploader) Upload(ctx context.Context, files []File) ([]messaging.Attachment, error) {
	if len(files) == 0 {
		return nil, nil
	}
	if err := CheckFiles(files); err != nil {
		return nil, err
	}

	out := make([]messaging.Attachment, len(files))
	g, gctx := errgroup.WithContext(ctx)
	if u.Concurrency > 0 {
		g.SetLimit(u.Concurrency)
	}
	for i, file := range files {
		g.Go(func() error {
			att, err := u.Storage.Upload(gctx, u.OwnerID, file)
			if err != nil {
				return fmt.Errorf("chat: upload %s: %w", file.Name, err)
			}
			if att.Name == "" {
				att.Name = file.Name
			}
			if att.ContentType == "" {
				att.ContentType = file.ContentType
			}
			if att.Size == 0 {
				att.Size = file.Size
			}
			out[i] = att
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// CheckFiles applies the attachment policy without touching the network.
func CheckFiles(files []File) error {
	if len(files) > messaging.MaxAttachments {
		return fmt.Errorf("%w: %d > %d", messaging.ErrTooManyAttachments, len(files), messaging.MaxAttachments)
	}
	for _, f := range files {
		if err := messaging.CheckUpload(f.Name, f.ContentType, f.Size); err != nil {
			return err
		}
	}
	return nil
}

// Draft collects the files picked for one compose action.
type Draft struct {
	files []File
}

// Add validates f and appends it. The fourth file is refused and the first three are kept.
func (d *Draft) Add(f File) error {
	if len(d.files) >= messaging.MaxAttachments {
		return fmt.Errorf("%w: at most %d images per message", messaging.ErrTooManyAttachments, messaging.MaxAttachments)
	}
	if err := messaging.CheckUpload(f.Name, f.ContentType, f.Size); err != nil {
		return err
	}
	d.files = append(d.files, f)
	return nil
}

func (d *Draft) Remove(i int) {
	if i < 0 || i >= len(d.files) {
		return
	}
	d.files = append(d.files[:i], d.files[i+1:]...)
}

func (d *Draft) Files() []File {
	return append([]File(nil), d.files...)
}

func (d *Draft) Len() int {
	return len(d.files)
}

func (d *Draft) Reset() {
	d.files = nil
}
