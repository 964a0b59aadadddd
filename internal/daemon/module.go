package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/emberapp/ember/internal/api"
	"github.com/emberapp/ember/internal/config"
	"github.com/emberapp/ember/internal/dispatch"
	"github.com/emberapp/ember/internal/lock"
	"github.com/emberapp/ember/internal/logging"
	"github.com/emberapp/ember/internal/metrics"
	"github.com/emberapp/ember/internal/outbox"
	"github.com/emberapp/ember/internal/realtime"
	"github.com/emberapp/ember/internal/receipts"
	"github.com/emberapp/ember/internal/rest"
	"github.com/emberapp/ember/internal/session"
	"github.com/emberapp/ember/internal/store"
	intsync "github.com/emberapp/ember/internal/sync"
	"github.com/emberapp/ember/internal/transport"
	"github.com/emberapp/ember/internal/typing"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string         // optional override for testing; empty = use default
	Config      *config.Config // optional; nil = load ~/.ember/config.toml
	Debug       bool
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideMetrics,
			provideLock,
			provideStore,
			providePersister,
			provideQueue,
			provideRealtime,
			provideREST,
			provideTyping,
			provideTracker,
			provideSyncManager,
			provideDispatch,
			provideSessionService,
			provideSyncService,
			provideConversationService,
			provideMessageService,
			provideEventService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	cfg := p.Config
	if cfg == nil {
		var err error
		if cfg, err = config.LoadOrDefault(session.ConfigPath()); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if p.Debug {
		level = zapcore.DebugLevel
	}
	return logging.New(logging.Options{Path: session.For(p.SessionName).Log, Session: p.SessionName, Level: level})
}

func provideMetrics() *metrics.Metrics {
	return metrics.New()
}

func provideLock(p Params, cfg *config.Config, logger *zap.Logger) (*lock.Lock, error) {
	layout := session.For(p.SessionName)
	if err := layout.Ensure(); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(layout.Dir, cfg.Auth.UserID)
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

// provideStore depends on the lock so the database is never opened by a
// second daemon.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.For(p.SessionName).DB
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("from", result.From), zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func providePersister(p Params, cfg *config.Config, db *store.DB) (outbox.Persister, error) {
	switch cfg.Queue.Persist {
	case config.PersistMemory:
		return outbox.NewMemoryPersister(), nil
	case config.PersistBolt:
		bp, err := outbox.OpenBolt(session.For(p.SessionName).Queue)
		if err != nil {
			return nil, err
		}
		return bp, nil
	default:
		return outbox.NewSQLitePersister(db), nil
	}
}

func provideQueue(cfg *config.Config, persister outbox.Persister, m *metrics.Metrics, logger *zap.Logger) (*outbox.Queue, error) {
	return outbox.New(outbox.Options{
		MaxSize:      cfg.Queue.MaxSize,
		EphemeralTTL: cfg.Queue.EphemeralTTL,
		Persister:    persister,
		Metrics:      m,
	}, logger)
}

func provideRealtime(cfg *config.Config, q *outbox.Queue, m *metrics.Metrics, logger *zap.Logger) *realtime.Manager {
	return realtime.New(realtime.ConfigFrom(cfg), transport.WebSocketDialer{}, q, logger, m)
}

func provideREST(cfg *config.Config, logger *zap.Logger) *rest.Client {
	return rest.New(cfg.Endpoint().APIURL, cfg.Auth.Token, cfg.Sync.FetchTimeout, logger)
}

func provideTyping(cfg *config.Config, rt *realtime.Manager, m *metrics.Metrics, logger *zap.Logger) *typing.Coordinator {
	return typing.New(typing.ConfigFrom(cfg), rt, cfg.Auth.UserID, logger, m)
}

func provideTracker(cfg *config.Config, db *store.DB, rt *realtime.Manager, m *metrics.Metrics, logger *zap.Logger) *receipts.Tracker {
	return receipts.New(db, rt, cfg.Auth.UserID, cfg.Receipts.AutoDelivery, logger, m)
}

func provideSyncManager(cfg *config.Config, db *store.DB, client *rest.Client, tracker *receipts.Tracker, m *metrics.Metrics, logger *zap.Logger) *intsync.Manager {
	return intsync.New(intsync.ConfigFrom(cfg), db, client, tracker, logger, m)
}

func provideDispatch(mgr *intsync.Manager, tracker *receipts.Tracker, tc *typing.Coordinator, logger *zap.Logger) *dispatch.EventHandler {
	return dispatch.NewEventHandler(mgr, tracker, tc, logger)
}

func provideSessionService(p Params, cfg *config.Config, rt *realtime.Manager, mgr *intsync.Manager) *api.SessionService {
	return api.NewSessionService(p.SessionName, cfg.Auth.UserID, rt, mgr)
}

func provideSyncService(mgr *intsync.Manager) *api.SyncService {
	return api.NewSyncService(mgr)
}

func provideConversationService(db *store.DB, mgr *intsync.Manager) *api.ConversationService {
	return api.NewConversationService(db, mgr)
}

func provideMessageService(db *store.DB, mgr *intsync.Manager, tc *typing.Coordinator) *api.MessageService {
	return api.NewMessageService(db, mgr, tc)
}

func provideEventService(p Params, rt *realtime.Manager, q *outbox.Queue, tc *typing.Coordinator, tracker *receipts.Tracker, mgr *intsync.Manager) *api.EventService {
	return api.NewEventService(p.SessionName, rt, q, tc, tracker, mgr)
}

// components groups what the lifecycle hook starts and stops.
type components struct {
	fx.In

	Params   Params
	Config   *config.Config
	Server   *Server
	Lock     *lock.Lock
	DB       *store.DB
	Queue    *outbox.Queue
	Realtime *realtime.Manager
	Typing   *typing.Coordinator
	Sync     *intsync.Manager
	Dispatch *dispatch.EventHandler
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, c components) {
	var (
		metricsSrv *http.Server
		boot       context.CancelFunc
		booted     = make(chan struct{})
	)

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			c.Dispatch.Register(c.Realtime)
			c.Realtime.OnError(func(err error) {
				c.Logger.Error("realtime link gave up", zap.Error(err))
			})

			// Start gRPC server in background.
			go func() {
				if err := c.Server.Start(); err != nil {
					c.Logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			if addr := c.Config.Metrics.Addr; addr != "" {
				metricsSrv = &http.Server{Addr: addr, Handler: c.Metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
				go func() {
					if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						c.Logger.Error("metrics server error", zap.Error(err))
					}
				}()
				c.Logger.Info("serving metrics", zap.String("addr", addr))
			}

			// Connect and run the initial sync without blocking startup.
			var ctx context.Context
			ctx, boot = context.WithCancel(context.Background())
			go func() {
				defer close(booted)
				if err := c.Realtime.Connect(ctx, c.Params.SessionName); err != nil {
					c.Logger.Warn("initial connect failed, continuing offline", zap.Error(err))
				}
				if err := c.Sync.Initialize(ctx, c.Config.Auth.UserID, c.Realtime); err != nil {
					c.Logger.Warn("initial sync incomplete", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			boot()
			<-booted
			c.Sync.Close()
			c.Typing.Reset()
			c.Realtime.Close()
			if err := c.Queue.Close(); err != nil {
				c.Logger.Warn("error closing offline queue", zap.Error(err))
			}
			if metricsSrv != nil {
				_ = metricsSrv.Shutdown(ctx)
			}
			c.Server.Stop(ctx)
			if err := c.DB.Close(); err != nil {
				c.Logger.Warn("error closing store", zap.Error(err))
			}
			if err := c.Lock.Release(); err != nil {
				c.Logger.Warn("error releasing lock", zap.Error(err))
			}
			c.Logger.Info("daemon stopped")
			return nil
		},
	})
}
