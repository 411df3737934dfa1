package rpc

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"campusmarket/internal/domain/messaging"
)

// sentinels travel as the status message prefix and are restored by FromStatus.
var sentinels = []error{
	messaging.ErrConversationNotFound,
	messaging.ErrMessageNotFound,
	messaging.ErrNotParticipant,
	messaging.ErrIDRequired,
	messaging.ErrParticipantsRequired,
	messaging.ErrSelfConversation,
	messaging.ErrSenderRequired,
	messaging.ErrEmptyMessage,
	messaging.ErrMessageTooLong,
	messaging.ErrTooManyAttachments,
	messaging.ErrAttachmentType,
	messaging.ErrAttachmentSize,
	messaging.ErrAttachmentInvalid,
	messaging.ErrAttachmentForeign,
	messaging.ErrUnavailable,
}

// ToStatus converts a repository error into a gRPC status error.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(codeOf(err), err.Error())
}

func codeOf(err error) codes.Code {
	switch {
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, messaging.ErrConversationNotFound), errors.Is(err, messaging.ErrMessageNotFound):
		return codes.NotFound
	case errors.Is(err, messaging.ErrNotParticipant):
		return codes.PermissionDenied
	case messaging.IsValidation(err):
		return codes.InvalidArgument
	case errors.Is(err, messaging.ErrUnavailable):
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

type remoteError struct {
	sentinel error
	msg      string
}

func (e *remoteError) Error() string { return e.msg }
func (e *remoteError) Unwrap() error { return e.sentinel }

// FromStatus restores the domain sentinel behind a status error so callers can keep using
// errors.Is. Transport failures become messaging.ErrUnavailable.
func FromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	msg := st.Message()
	switch st.Code() {
	case codes.Canceled:
		return context.Canceled
	case codes.Unavailable, codes.DeadlineExceeded:
		return &remoteError{sentinel: messaging.ErrUnavailable, msg: msg}
	case codes.NotFound, codes.PermissionDenied, codes.InvalidArgument:
		for _, s := range sentinels {
			if strings.HasPrefix(msg, s.Error()) {
				return &remoteError{sentinel: s, msg: msg}
			}
		}
	}
	return err
}
