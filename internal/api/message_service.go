package api

import (
	"context"
	"errors"
	"strings"

	"github.com/emberapp/ember/internal/model"
	"github.com/emberapp/ember/internal/store"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

const MessageServiceName = "ember.v1.MessageService"

// Messenger sends and acknowledges messages.
type Messenger interface {
	SendMessage(ctx context.Context, conversationID, toUserID, content string, typ model.MessageType) (*model.Message, error)
	RetryMessage(ctx context.Context, messageID string) (*model.Message, error)
	MarkRead(ctx context.Context, conversationID string, ids []string) (int, error)
}

// Typist reports local typing and reads remote typing state.
type Typist interface {
	NotifyTyping(ctx context.Context, conversationID string)
	NotifyStoppedTyping(ctx context.Context, conversationID string)
	TypingUsers(conversationID string) []string
}

// MessageService implements ember.v1.MessageService.
type MessageService struct {
	db        *store.DB
	messenger Messenger
	typing    Typist
}

// NewMessageService creates a new message service.
func NewMessageService(db *store.DB, messenger Messenger, typing Typist) *MessageService {
	return &MessageService{db: db, messenger: messenger, typing: typing}
}

func (s *MessageService) ListMessages(_ context.Context, req *ListMessagesRequest) (*MessageList, error) {
	limit := 50
	if req.Limit > 0 {
		limit = req.Limit
	}

	msgs, err := s.db.ListMessages(req.ConversationID, req.Before, limit)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "list messages: %v", err)
	}

	out := &MessageList{
		Messages: make([]Message, 0, len(msgs)),
		HasMore:  len(msgs) == limit,
	}
	for i := range msgs {
		out.Messages = append(out.Messages, messageFrom(&msgs[i]))
	}
	return out, nil
}

func (s *MessageService) Search(_ context.Context, req *SearchRequest) (*SearchResults, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "query is required")
	}
	limit := 50
	if req.Limit > 0 {
		limit = req.Limit
	}

	results, err := s.db.SearchMessages(req.Query, req.ConversationID, limit)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "search messages: %v", err)
	}

	out := &SearchResults{
		Results: make([]SearchResult, 0, len(results)),
		HasMore: len(results) == limit,
	}
	for i := range results {
		out.Results = append(out.Results, searchResultFrom(&results[i]))
	}
	return out, nil
}

// SendMessage returns the optimistic message even when delivery failed, with
// the failure carried in the status.
func (s *MessageService) SendMessage(ctx context.Context, req *SendMessageRequest) (*Message, error) {
	if req.ConversationID == "" || req.To == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "conversationId and to are required")
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "content is empty")
	}
	msg, err := s.messenger.SendMessage(ctx, req.ConversationID, req.To, req.Content, model.MessageType(req.Type))
	if msg == nil {
		return nil, toStatus(err)
	}
	out := messageFrom(msg)
	if err != nil {
		var sf *model.SendFailure
		if !errors.As(err, &sf) {
			return nil, toStatus(err)
		}
		out.Status = string(model.StatusFailed)
	}
	return &out, nil
}

func (s *MessageService) RetryMessage(ctx context.Context, req *MessageRequest) (*Message, error) {
	msg, err := s.messenger.RetryMessage(ctx, req.MessageID)
	if err != nil {
		return nil, toStatus(err)
	}
	out := messageFrom(msg)
	return &out, nil
}

func (s *MessageService) MarkRead(ctx context.Context, req *MarkReadRequest) (*MarkReadResponse, error) {
	if req.ConversationID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "conversationId is required")
	}
	n, err := s.messenger.MarkRead(ctx, req.ConversationID, req.MessageIDs)
	if err != nil {
		return nil, toStatus(err)
	}
	return &MarkReadResponse{Marked: n}, nil
}

func (s *MessageService) NotifyTyping(ctx context.Context, req *NotifyTypingRequest) (*Ack, error) {
	if req.ConversationID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "conversationId is required")
	}
	if req.Stopped {
		s.typing.NotifyStoppedTyping(ctx, req.ConversationID)
	} else {
		s.typing.NotifyTyping(ctx, req.ConversationID)
	}
	return &Ack{OK: true}, nil
}

func (s *MessageService) TypingUsers(_ context.Context, req *ConversationRequest) (*TypingUsers, error) {
	users := s.typing.TypingUsers(req.ConversationID)
	if users == nil {
		users = []string{}
	}
	return &TypingUsers{ConversationID: req.ConversationID, Users: users}, nil
}

// MessageServiceDesc describes ember.v1.MessageService.
var MessageServiceDesc = grpc.ServiceDesc{
	ServiceName: MessageServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		unary(MessageServiceName, "ListMessages", (*MessageService).ListMessages),
		unary(MessageServiceName, "Search", (*MessageService).Search),
		unary(MessageServiceName, "SendMessage", (*MessageService).SendMessage),
		unary(MessageServiceName, "RetryMessage", (*MessageService).RetryMessage),
		unary(MessageServiceName, "MarkRead", (*MessageService).MarkRead),
		unary(MessageServiceName, "NotifyTyping", (*MessageService).NotifyTyping),
		unary(MessageServiceName, "TypingUsers", (*MessageService).TypingUsers),
	},
}
