package daemon

import (
	"context"

	"github.com/matheus3301/sockchat/internal/api"
	"github.com/matheus3301/sockchat/internal/bus"
	"github.com/matheus3301/sockchat/internal/chat"
	"github.com/matheus3301/sockchat/internal/config"
	"github.com/matheus3301/sockchat/internal/jobs"
	"github.com/matheus3301/sockchat/internal/lock"
	"github.com/matheus3301/sockchat/internal/logging"
	"github.com/matheus3301/sockchat/internal/netwatch"
	"github.com/matheus3301/sockchat/internal/outbox"
	"github.com/matheus3301/sockchat/internal/profile"
	"github.com/matheus3301/sockchat/internal/scope"
	"github.com/matheus3301/sockchat/internal/session"
	"github.com/matheus3301/sockchat/internal/store"
	"github.com/matheus3301/sockchat/internal/transport"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile    string
	SocketPath string         // optional override for testing; empty = use default
	Config     *config.Config // optional; nil = resolve from file and environment
	LogLevel   string
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideScope,
			provideObserver,
			provideTransport,
			provideScheduler,
			provideCoordinator,
			provideController,
			provideService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	if p.Config != nil {
		return p.Config, nil
	}
	return config.Resolve(profile.ConfigPath())
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.Profile), p.Profile, p.LogLevel)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideStore depends on the lock so a second daemon never touches the database.
func provideStore(p Params, _ *lock.Lock, b *bus.Bus, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.Profile)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate(logger.Named("migrate"))
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("store initialized", zap.String("path", dbPath), zap.Uint("schema", result.Version))
	return db.Attach(b), nil
}

func provideScope(logger *zap.Logger) *scope.Scope {
	return scope.New(context.Background(), logger.Named("scope"))
}

func provideObserver(cfg *config.Config, b *bus.Bus, logger *zap.Logger) (*netwatch.Observer, error) {
	addr, err := netwatch.EndpointAddr(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	opts := netwatch.Options{
		Interval: cfg.ProbeInterval,
		Timeout:  cfg.ProbeTimeout,
		Prober:   netwatch.DialProber(addr),
	}
	return netwatch.New(context.Background(), opts, b, logger.Named("netwatch")), nil
}

func provideTransport(cfg *config.Config, b *bus.Bus, sc *scope.Scope, logger *zap.Logger) (*transport.Client, error) {
	u, err := cfg.URL()
	if err != nil {
		return nil, err
	}
	return transport.New(transport.Options{
		URL:                  u,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		Queue: outbox.Options{
			MaxAttempts: cfg.MaxRetryAttempts,
			RetryDelay:  cfg.RetryDelay,
		},
	}, b, sc, logger.Named("transport"))
}

func provideScheduler(sc *scope.Scope, b *bus.Bus, obs *netwatch.Observer, logger *zap.Logger) *jobs.Scheduler {
	return jobs.NewScheduler(sc, b, obs, logger.Named("jobs"), jobs.Options{})
}

func provideCoordinator(db *store.DB, tr *transport.Client, obs *netwatch.Observer, b *bus.Bus, logger *zap.Logger) *chat.Coordinator {
	return chat.New(db, tr, obs, b, logger.Named("chat"))
}

func provideController(cfg *config.Config, coord *chat.Coordinator, sched *jobs.Scheduler, b *bus.Bus, logger *zap.Logger) *session.Controller {
	return session.NewController(coord, sched, b, logger.Named("session"), session.Options{
		ReplyDelay: cfg.ReplyDelay,
		Ephemeral:  cfg.Ephemeral,
	})
}

func provideService(p Params, ctrl *session.Controller, coord *chat.Coordinator, tr *transport.Client, obs *netwatch.Observer, b *bus.Bus, logger *zap.Logger) *api.Service {
	return api.NewService(p.Profile, ctrl, coord, tr, obs, b, logger.Named("api"))
}

func registerLifecycle(
	lc fx.Lifecycle,
	srv *Server,
	svc *api.Service,
	lk *lock.Lock,
	db *store.DB,
	sc *scope.Scope,
	obs *netwatch.Observer,
	ctrl *session.Controller,
	logger *zap.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Keep probing reachability; the controller connects on the
			// replayed initial value.
			obs.Start(sc)
			ctrl.Start(sc.Context())

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			svc.Close()
			srv.Stop(ctx)
			ctrl.Stop()
			sc.Close()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
