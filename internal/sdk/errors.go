package sdk

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"campusmarket/internal/domain/messaging"
)

// APIError is a non-2xx response. Unwrap exposes the domain error the server reported
// so callers can use errors.Is across the wire.
type APIError struct {
	Status  int
	Message string
	cause   error
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return http.StatusText(e.Status)
	}
	return e.Message
}

func (e *APIError) Unwrap() error { return e.cause }

var ErrNotSignedIn = errors.New("sdk: not signed in")

var knownErrors = []error{
	messaging.ErrConversationNotFound,
	messaging.ErrMessageNotFound,
	messaging.ErrNotParticipant,
	messaging.ErrSelfConversation,
	messaging.ErrEmptyMessage,
	messaging.ErrMessageTooLong,
	messaging.ErrTooManyAttachments,
	messaging.ErrAttachmentType,
	messaging.ErrAttachmentSize,
	messaging.ErrAttachmentInvalid,
	messaging.ErrAttachmentForeign,
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		apiErr.Message = body.Error
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	for _, known := range knownErrors {
		if strings.HasPrefix(apiErr.Message, known.Error()) {
			apiErr.cause = known
			return apiErr
		}
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		apiErr.cause = ErrNotSignedIn
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		apiErr.cause = messaging.ErrUnavailable
	}
	return apiErr
}
