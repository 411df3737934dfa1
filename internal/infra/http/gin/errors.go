package ginserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	gin "github.com/gin-gonic/gin"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"campusmarket/internal/app/handlers/chat"
	"campusmarket/internal/app/policies"
	domainlistings "campusmarket/internal/domain/listings"
	"campusmarket/internal/domain/messaging"
	domainuser "campusmarket/internal/domain/user"
	"campusmarket/internal/infra/validation"
)

// respondError maps application errors to HTTP. Unexpected failures are logged with attrs.
func respondError(c *gin.Context, logger *slog.Logger, err error, action string, attrs ...any) {
	code, msg := classify(err)
	if code >= http.StatusInternalServerError && logger != nil {
		logger.Error(action+" failed", append([]any{"error", err}, attrs...)...)
	}
	c.JSON(code, gin.H{"error": msg})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, validation.ErrInvalid),
		messaging.IsValidation(err),
		errors.Is(err, domainlistings.ErrInvalidKind),
		errors.Is(err, domainlistings.ErrTitleRequired),
		errors.Is(err, domainlistings.ErrNegativePrice),
		errors.Is(err, domainlistings.ErrIDRequired):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, policies.ErrUnauthenticated):
		return http.StatusUnauthorized, "auth required"
	case errors.Is(err, policies.ErrForbidden),
		errors.Is(err, messaging.ErrNotParticipant),
		errors.Is(err, domainlistings.ErrNotOwner):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, messaging.ErrConversationNotFound),
		errors.Is(err, messaging.ErrMessageNotFound),
		errors.Is(err, domainlistings.ErrNotFound),
		errors.Is(err, domainuser.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, chat.ErrListingUnavailable),
		errors.Is(err, domainlistings.ErrInvalidState):
		return http.StatusConflict, err.Error()
	case errors.Is(err, chat.ErrStorageUnavailable),
		errors.Is(err, messaging.ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "service unavailable"
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.NotFound:
			return http.StatusNotFound, "not found"
		case codes.InvalidArgument:
			return http.StatusBadRequest, st.Message()
		case codes.Unauthenticated, codes.PermissionDenied:
			return http.StatusForbidden, "forbidden"
		case codes.Unavailable, codes.DeadlineExceeded:
			return http.StatusServiceUnavailable, "messaging unavailable"
		}
	}
	return http.StatusInternalServerError, "internal error"
}

func parseIntWithDefault(raw string, def int) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value < 0 {
		return def
	}
	return value
}

func parseBool(raw string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	return err == nil && v
}
