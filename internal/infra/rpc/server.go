package rpc

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"campusmarket/internal/domain/messaging"
)

// ServiceDesc exposes any messaging.Repository as the Messaging gRPC service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*messaging.Repository)(nil),
	Methods: []grpc.MethodDesc{
		method(MethodGetOrCreateConversation, func(ctx context.Context, repo messaging.Repository, req *GetOrCreateConversationRequest) (*ConversationReply, error) {
			conv, created, err := repo.GetOrCreateConversation(ctx, req.ListingID, req.BuyerID, req.SellerID)
			if err != nil {
				return nil, err
			}
			return &ConversationReply{Conversation: conv, Created: created}, nil
		}),
		method(MethodGetConversation, func(ctx context.Context, repo messaging.Repository, req *ConversationRequest) (*ConversationReply, error) {
			conv, err := repo.GetConversation(ctx, req.ConversationID)
			if err != nil {
				return nil, err
			}
			return &ConversationReply{Conversation: conv}, nil
		}),
		method(MethodListConversations, func(ctx context.Context, repo messaging.Repository, req *ListConversationsRequest) (*ConversationsReply, error) {
			items, err := repo.ListConversations(ctx, req.Filter)
			if err != nil {
				return nil, err
			}
			return &ConversationsReply{Items: items}, nil
		}),
		method(MethodAddMessage, func(ctx context.Context, repo messaging.Repository, req *AddMessageRequest) (*MessageReply, error) {
			msg, err := repo.AddMessage(ctx, req.Message)
			if err != nil {
				return nil, err
			}
			return &MessageReply{Message: msg}, nil
		}),
		method(MethodGetMessage, func(ctx context.Context, repo messaging.Repository, req *MessageRequest) (*MessageReply, error) {
			msg, err := repo.GetMessage(ctx, req.ConversationID, req.MessageID)
			if err != nil {
				return nil, err
			}
			return &MessageReply{Message: msg}, nil
		}),
		method(MethodListMessages, func(ctx context.Context, repo messaging.Repository, req *ListMessagesRequest) (*MessagesReply, error) {
			items, err := repo.ListMessages(ctx, req.ConversationID, req.Page)
			if err != nil {
				return nil, err
			}
			return &MessagesReply{Items: items}, nil
		}),
		method(MethodSetLike, func(ctx context.Context, repo messaging.Repository, req *SetLikeRequest) (*MessageReply, error) {
			msg, err := repo.SetLike(ctx, req.ConversationID, req.MessageID, req.UserID, req.Liked)
			if err != nil {
				return nil, err
			}
			return &MessageReply{Message: msg}, nil
		}),
		method(MethodMarkRead, func(ctx context.Context, repo messaging.Repository, req *MarkReadRequest) (*MessagesReply, error) {
			items, err := repo.MarkRead(ctx, req.ConversationID, req.ReaderID, req.MessageIDs)
			if err != nil {
				return nil, err
			}
			return &MessagesReply{Items: items}, nil
		}),
		method(MethodSetArchived, func(ctx context.Context, repo messaging.Repository, req *SetArchivedRequest) (*ConversationReply, error) {
			conv, err := repo.SetArchived(ctx, req.ConversationID, req.UserID, req.Archived)
			if err != nil {
				return nil, err
			}
			return &ConversationReply{Conversation: conv}, nil
		}),
		method(MethodSoftDelete, func(ctx context.Context, repo messaging.Repository, req *SoftDeleteRequest) (*ConversationReply, error) {
			conv, err := repo.SoftDelete(ctx, req.ConversationID, req.UserID)
			if err != nil {
				return nil, err
			}
			return &ConversationReply{Conversation: conv}, nil
		}),
		method(MethodAddItemReference, func(ctx context.Context, repo messaging.Repository, req *ItemReferenceRequest) (*Empty, error) {
			return &Empty{}, repo.AddItemReference(ctx, req.Reference)
		}),
		method(MethodListItemReferences, func(ctx context.Context, repo messaging.Repository, req *ConversationRequest) (*ItemReferencesReply, error) {
			items, err := repo.ListItemReferences(ctx, req.ConversationID)
			if err != nil {
				return nil, err
			}
			return &ItemReferencesReply{Items: items}, nil
		}),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "campusmarket/messaging.v1",
}

func method[Req, Resp any](name string, fn func(context.Context, messaging.Repository, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, status.Error(codes.InvalidArgument, err.Error())
			}
			repo := srv.(messaging.Repository)
			call := func(ctx context.Context, req any) (any, error) {
				out, err := fn(ctx, repo, req.(*Req))
				if err != nil {
					return nil, ToStatus(err)
				}
				return out, nil
			}
			if interceptor == nil {
				return call(ctx, in)
			}
			return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}, call)
		},
	}
}

// NewServer builds a gRPC server serving repo.
func NewServer(repo messaging.Repository, logger *slog.Logger, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(loggingInterceptor(logger)))
	srv := grpc.NewServer(opts...)
	srv.RegisterService(&ServiceDesc, repo)
	return srv
}

func loggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if logger == nil {
			return resp, err
		}
		code := status.Code(err)
		attrs := []any{"method", info.FullMethod, "code", code.String(), "duration_ms", time.Since(start).Milliseconds()}
		switch code {
		case codes.OK, codes.NotFound, codes.PermissionDenied, codes.InvalidArgument, codes.Canceled:
			logger.Debug("rpc", attrs...)
		default:
			logger.Error("rpc failed", append(attrs, "error", err)...)
		}
		return resp, err
	}
}
