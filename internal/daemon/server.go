package daemon

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/emberapp/ember/internal/api"
	"github.com/emberapp/ember/internal/session"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// Server is the control API listener on the session's Unix socket.
type Server struct {
	grpc       *grpc.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger
}

// NewServer binds the session socket, readable by the owner only, and
// registers every control service on it. A leftover socket from a crashed
// daemon is replaced; the session lock already guarantees no live owner.
func NewServer(
	p Params,
	logger *zap.Logger,
	sessionSvc *api.SessionService,
	syncSvc *api.SyncService,
	convSvc *api.ConversationService,
	messageSvc *api.MessageService,
	eventSvc *api.EventService,
) (*Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = session.SocketPath(p.SessionName)
	}
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	logger = logger.Named("rpc")
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(unaryLogger(logger)),
		grpc.ChainStreamInterceptor(streamLogger(logger)),
	)
	srv.RegisterService(&api.SessionServiceDesc, sessionSvc)
	srv.RegisterService(&api.SyncServiceDesc, syncSvc)
	srv.RegisterService(&api.ConversationServiceDesc, convSvc)
	srv.RegisterService(&api.MessageServiceDesc, messageSvc)
	srv.RegisterService(&api.EventServiceDesc, eventSvc)

	return &Server{grpc: srv, listener: listener, socketPath: socketPath, logger: logger}, nil
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("control API listening", zap.String("socket", s.socketPath))
	return s.grpc.Serve(s.listener)
}

// Stop drains in-flight calls until ctx expires, then cuts open streams such
// as event watchers, and removes the socket.
func (s *Server) Stop(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("graceful stop timed out, closing open streams")
		s.grpc.Stop()
		<-done
	}
	_ = os.Remove(s.socketPath)
	s.logger.Info("control API stopped")
}

func unaryLogger(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				logger.Error("handler panic", zap.String("method", info.FullMethod), zap.Any("panic", r))
				err = grpcstatus.Errorf(codes.Internal, "internal error in %s", info.FullMethod)
			}
			logCall(logger, info.FullMethod, start, err)
		}()
		return handler(ctx, req)
	}
}

func streamLogger(logger *zap.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		logger.Debug("stream opened", zap.String("method", info.FullMethod))
		err := handler(srv, ss)
		logCall(logger, info.FullMethod, start, err)
		return err
	}
}

func logCall(logger *zap.Logger, method string, start time.Time, err error) {
	code := grpcstatus.Code(err)
	fields := []zap.Field{
		zap.String("method", method),
		zap.Stringer("code", code),
		zap.Duration("took", time.Since(start)),
	}
	switch code {
	case codes.OK, codes.Canceled, codes.NotFound, codes.InvalidArgument:
		logger.Debug("rpc", fields...)
	default:
		logger.Warn("rpc failed", append(fields, zap.Error(err))...)
	}
}
