package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/emberapp/ember/internal/model"
	intsync "github.com/emberapp/ember/internal/sync"
	"go.uber.org/multierr"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

const SyncServiceName = "ember.v1.SyncService"

// Syncer is the part of the sync manager exposed over the control API.
type Syncer interface {
	Stats() (intsync.Stats, error)
	SyncConversation(ctx context.Context, conversationID string) error
	ForceSyncConversation(ctx context.Context, conversationID string) error
	SyncAllConversations(ctx context.Context) error
	Conflicts(conversationID string) []model.Conflict
	ResolveConflict(ctx context.Context, messageID string, res model.Resolution) error
}

// SyncService implements ember.v1.SyncService.
type SyncService struct {
	sync Syncer
}

// NewSyncService creates a new sync service.
func NewSyncService(sync Syncer) *SyncService {
	return &SyncService{sync: sync}
}

func (s *SyncService) GetStats(_ context.Context, _ *Empty) (*Stats, error) {
	st, err := s.sync.Stats()
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "stats: %v", err)
	}
	out := statsFrom(st)
	return &out, nil
}

func (s *SyncService) SyncConversation(ctx context.Context, req *SyncConversationRequest) (*Ack, error) {
	if req.ConversationID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "conversationId is required")
	}
	sync := s.sync.SyncConversation
	if req.Force {
		sync = s.sync.ForceSyncConversation
	}
	if err := sync(ctx, req.ConversationID); err != nil {
		return nil, toStatus(err)
	}
	return &Ack{OK: true, Message: "synced"}, nil
}

func (s *SyncService) SyncAll(ctx context.Context, _ *Empty) (*Ack, error) {
	if err := s.sync.SyncAllConversations(ctx); err != nil {
		errs := multierr.Errors(err)
		return &Ack{OK: false, Message: fmt.Sprintf("%d failed, first: %v", len(errs), errs[0])}, nil
	}
	return &Ack{OK: true, Message: "all conversations synced"}, nil
}

func (s *SyncService) ListConflicts(_ context.Context, req *ListConflictsRequest) (*ConflictList, error) {
	conflicts := s.sync.Conflicts(req.ConversationID)
	out := &ConflictList{Conflicts: make([]Conflict, 0, len(conflicts))}
	for i := range conflicts {
		out.Conflicts = append(out.Conflicts, conflictFrom(&conflicts[i]))
	}
	return out, nil
}

func (s *SyncService) ResolveConflict(ctx context.Context, req *ResolveConflictRequest) (*Ack, error) {
	res := model.Resolution(req.Resolution)
	if !res.Valid() {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "resolution must be %s or %s", model.KeepLocal, model.KeepServer)
	}
	if err := s.sync.ResolveConflict(ctx, req.MessageID, res); err != nil {
		return nil, toStatus(err)
	}
	return &Ack{OK: true, Message: "resolved"}, nil
}

// toStatus maps domain errors onto gRPC codes.
func toStatus(err error) error {
	var (
		sf   *model.SendFailure
		serr *model.SyncError
	)
	switch {
	case errors.Is(err, model.ErrConflictNotFound), errors.Is(err, model.ErrMessageNotFound):
		return grpcstatus.Error(codes.NotFound, err.Error())
	case errors.Is(err, model.ErrNotInitialized), errors.Is(err, intsync.ErrClosed):
		return grpcstatus.Error(codes.FailedPrecondition, err.Error())
	case errors.As(err, &sf):
		return grpcstatus.Error(codes.Aborted, err.Error())
	case errors.As(err, &serr):
		return grpcstatus.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return grpcstatus.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return grpcstatus.Error(codes.Canceled, err.Error())
	default:
		return grpcstatus.Error(codes.Internal, err.Error())
	}
}

func invalidArgument(err error) error {
	return grpcstatus.Error(codes.InvalidArgument, err.Error())
}

// SyncServiceDesc describes ember.v1.SyncService.
var SyncServiceDesc = grpc.ServiceDesc{
	ServiceName: SyncServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		unary(SyncServiceName, "GetStats", (*SyncService).GetStats),
		unary(SyncServiceName, "SyncConversation", (*SyncService).SyncConversation),
		unary(SyncServiceName, "SyncAll", (*SyncService).SyncAll),
		unary(SyncServiceName, "ListConflicts", (*SyncService).ListConflicts),
		unary(SyncServiceName, "ResolveConflict", (*SyncService).ResolveConflict),
	},
}
