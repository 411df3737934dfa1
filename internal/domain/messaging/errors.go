package messaging

import "errors"

var (
	ErrIDRequired           = errors.New("messaging: id is required")
	ErrParticipantsRequired = errors.New("messaging: buyer and seller are required")
	ErrSelfConversation     = errors.New("messaging: cannot start a conversation with yourself")
	ErrConversationNotFound = errors.New("messaging: conversation not found")
	ErrMessageNotFound      = errors.New("messaging: message not found")
	ErrNotParticipant       = errors.New("messaging: not a conversation participant")
	ErrSenderRequired       = errors.New("messaging: sender is required")
	ErrEmptyMessage         = errors.New("messaging: message needs text or an attachment")
	ErrMessageTooLong       = errors.New("messaging: message text too long")
	ErrTooManyAttachments   = errors.New("messaging: too many attachments")
	ErrAttachmentType       = errors.New("messaging: attachment type not allowed")
	ErrAttachmentSize       = errors.New("messaging: attachment too large")
	ErrAttachmentInvalid    = errors.New("messaging: attachment url and name are required")
	ErrAttachmentForeign    = errors.New("messaging: attachment was not uploaded by the sender")
	ErrUnavailable          = errors.New("messaging: store unavailable")
)

// IsValidation reports whether err is a rejected-input error that should never be retried.
func IsValidation(err error) bool {
	switch {
	case errors.Is(err, ErrEmptyMessage),
		errors.Is(err, ErrMessageTooLong),
		errors.Is(err, ErrTooManyAttachments),
		errors.Is(err, ErrAttachmentType),
		errors.Is(err, ErrAttachmentSize),
		errors.Is(err, ErrAttachmentInvalid),
		errors.Is(err, ErrAttachmentForeign),
		errors.Is(err, ErrSelfConversation),
		errors.Is(err, ErrParticipantsRequired),
		errors.Is(err, ErrSenderRequired),
		errors.Is(err, ErrIDRequired):
		return true
	}
	return false
}
