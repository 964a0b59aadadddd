package api

import (
	"context"
	"time"

	"github.com/emberapp/ember/internal/status"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

const SessionServiceName = "ember.v1.SessionService"

// Connection is the part of the realtime manager the session service drives.
type Connection interface {
	State() status.State
	Since() time.Time
	QueueDepth() int
	Connect(ctx context.Context, sessionID string) error
	Disconnect()
}

// Foregrounder receives the app-foreground hook.
type Foregrounder interface {
	OnForeground(ctx context.Context) error
}

// SessionService implements ember.v1.SessionService.
type SessionService struct {
	sessionName string
	userID      string
	startedAt   time.Time
	conn        Connection
	sync        Foregrounder
}

// NewSessionService creates a new session service.
func NewSessionService(sessionName, userID string, conn Connection, sync Foregrounder) *SessionService {
	return &SessionService{
		sessionName: sessionName,
		userID:      userID,
		startedAt:   time.Now(),
		conn:        conn,
		sync:        sync,
	}
}

func (s *SessionService) GetStatus(_ context.Context, _ *Empty) (*SessionStatus, error) {
	return &SessionStatus{
		Session:    s.sessionName,
		UserID:     s.userID,
		State:      string(s.conn.State()),
		Since:      s.conn.Since(),
		UptimeMs:   time.Since(s.startedAt).Milliseconds(),
		QueueDepth: s.conn.QueueDepth(),
	}, nil
}

func (s *SessionService) Connect(ctx context.Context, _ *Empty) (*Ack, error) {
	if st := s.conn.State(); st != status.Disconnected {
		return &Ack{OK: true, Message: "already " + string(st)}, nil
	}
	if err := s.conn.Connect(ctx, s.sessionName); err != nil {
		return nil, grpcstatus.Errorf(codes.Unavailable, "connect: %v", err)
	}
	return &Ack{OK: true, Message: "connected"}, nil
}

func (s *SessionService) Disconnect(_ context.Context, _ *Empty) (*Ack, error) {
	s.conn.Disconnect()
	return &Ack{OK: true, Message: "disconnected"}, nil
}

func (s *SessionService) Foreground(ctx context.Context, _ *Empty) (*Ack, error) {
	if err := s.sync.OnForeground(ctx); err != nil {
		return &Ack{OK: false, Message: err.Error()}, nil
	}
	return &Ack{OK: true, Message: "synced"}, nil
}

// SessionServiceDesc describes ember.v1.SessionService.
var SessionServiceDesc = grpc.ServiceDesc{
	ServiceName: SessionServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		unary(SessionServiceName, "GetStatus", (*SessionService).GetStatus),
		unary(SessionServiceName, "Connect", (*SessionService).Connect),
		unary(SessionServiceName, "Disconnect", (*SessionService).Disconnect),
		unary(SessionServiceName, "Foreground", (*SessionService).Foreground),
	},
}
