package rpc

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"campusmarket/internal/domain/messaging"
)

func TestToStatusCodes(t *testing.T) {
	cases := []struct {
		err  error
		code codes.Code
	}{
		{messaging.ErrConversationNotFound, codes.NotFound},
		{fmt.Errorf("load: %w", messaging.ErrMessageNotFound), codes.NotFound},
		{messaging.ErrNotParticipant, codes.PermissionDenied},
		{messaging.ErrTooManyAttachments, codes.InvalidArgument},
		{messaging.ErrAttachmentForeign, codes.InvalidArgument},
		{messaging.ErrUnavailable, codes.Unavailable},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{errors.New("boom"), codes.Internal},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.code, status.Code(ToStatus(tc.err)), tc.err.Error())
	}
	assert.NoError(t, ToStatus(nil))
}

func TestFromStatusRestoresSentinels(t *testing.T) {
	for _, sentinel := range sentinels {
		got := FromStatus(ToStatus(fmt.Errorf("%w: detail", sentinel)))
		assert.ErrorIs(t, got, sentinel)
		assert.Contains(t, got.Error(), "detail")
	}

	transport := status.Error(codes.Unavailable, "connection refused")
	assert.ErrorIs(t, FromStatus(transport), messaging.ErrUnavailable)

	internal := status.Error(codes.Internal, "boom")
	assert.Equal(t, internal, FromStatus(internal))

	plain := errors.New("plain")
	assert.Equal(t, plain, FromStatus(plain))
}

func TestCodecRoundTrip(t *testing.T) {
	c := jsonCodec{}
	data, err := c.Marshal(&SetLikeRequest{ConversationID: "c1", MessageID: "m1", UserID: "u1", Liked: true})
	assert.NoError(t, err)
	var out SetLikeRequest
	assert.NoError(t, c.Unmarshal(data, &out))
	assert.Equal(t, "m1", out.MessageID)
	assert.True(t, out.Liked)
	assert.Equal(t, "json", c.Name())
}
