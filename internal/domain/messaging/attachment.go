package messaging

import (
	"fmt"
	"strings"
)

const (
	// MaxAttachments caps the images a single composed message may carry.
	MaxAttachments = 3
	// MaxAttachmentBytes caps each uploaded file.
	MaxAttachmentBytes int64 = 10 << 20
)

var allowedContentTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/gif":  {},
	"image/webp": {},
}

// Attachment references an uploaded object. It never changes after upload.
type Attachment struct {
	URL         string `json:"url"`
	ContentType string `json:"type"`
	Name        string `json:"name"`
	Size        int64  `json:"size"`
}

// AllowedContentType reports whether the MIME type may be attached to a message.
func AllowedContentType(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if idx := strings.IndexByte(ct, ';'); idx >= 0 {
		ct = strings.TrimSpace(ct[:idx])
	}
	_, ok := allowedContentTypes[ct]
	return ok
}

// CheckUpload validates a local file before it is sent to object storage.
func CheckUpload(name, contentType string, size int64) error {
	if strings.TrimSpace(name) == "" {
		return ErrAttachmentInvalid
	}
	if !AllowedContentType(contentType) {
		return fmt.Errorf("%w: %s", ErrAttachmentType, contentType)
	}
	if size <= 0 || size > MaxAttachmentBytes {
		return fmt.Errorf("%w: %s is %d bytes", ErrAttachmentSize, name, size)
	}
	return nil
}

// CheckAttachments validates the descriptors embedded in a message.
func CheckAttachments(list []Attachment) error {
	if len(list) > MaxAttachments {
		return fmt.Errorf("%w: %d > %d", ErrTooManyAttachments, len(list), MaxAttachments)
	}
	for _, a := range list {
		if strings.TrimSpace(a.URL) == "" {
			return ErrAttachmentInvalid
		}
		if err := CheckUpload(a.Name, a.ContentType, a.Size); err != nil {
			return err
		}
	}
	return nil
}

func cloneAttachments(list []Attachment) []Attachment {
	if len(list) == 0 {
		return nil
	}
	return append([]Attachment(nil), list...)
}
