package api

import (
	"context"

	"github.com/emberapp/ember/internal/store"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

const ConversationServiceName = "ember.v1.ConversationService"

// Remover forgets a conversation locally.
type Remover interface {
	RemoveConversation(conversationID string) error
}

// ConversationService implements ember.v1.ConversationService.
type ConversationService struct {
	db      *store.DB
	remover Remover
}

// NewConversationService creates a new conversation service backed by the store.
func NewConversationService(db *store.DB, remover Remover) *ConversationService {
	return &ConversationService{db: db, remover: remover}
}

func (s *ConversationService) ListConversations(_ context.Context, req *ListConversationsRequest) (*ConversationList, error) {
	limit := 50
	if req.Limit > 0 {
		limit = req.Limit
	}

	convs, err := s.db.ListConversations(limit, req.Offset)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "list conversations: %v", err)
	}

	out := &ConversationList{
		Conversations: make([]Conversation, 0, len(convs)),
		HasMore:       len(convs) == limit,
	}
	for i := range convs {
		out.Conversations = append(out.Conversations, conversationFrom(&convs[i]))
	}
	return out, nil
}

func (s *ConversationService) GetConversation(_ context.Context, req *ConversationRequest) (*Conversation, error) {
	c, err := s.db.GetConversation(req.ConversationID)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "get conversation: %v", err)
	}
	if c == nil {
		return nil, grpcstatus.Errorf(codes.NotFound, "conversation %q not found", req.ConversationID)
	}
	out := conversationFrom(c)
	return &out, nil
}

func (s *ConversationService) RemoveConversation(_ context.Context, req *ConversationRequest) (*Ack, error) {
	if req.ConversationID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "conversationId is required")
	}
	if err := s.remover.RemoveConversation(req.ConversationID); err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "remove conversation: %v", err)
	}
	return &Ack{OK: true, Message: "removed"}, nil
}

// ConversationServiceDesc describes ember.v1.ConversationService.
var ConversationServiceDesc = grpc.ServiceDesc{
	ServiceName: ConversationServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		unary(ConversationServiceName, "ListConversations", (*ConversationService).ListConversations),
		unary(ConversationServiceName, "GetConversation", (*ConversationService).GetConversation),
		unary(ConversationServiceName, "RemoveConversation", (*ConversationService).RemoveConversation),
	},
}
