package app

import (
	"context"
	"time"

	"sentinal-call/config"
	"sentinal-call/internal/handler"
	"sentinal-call/internal/outbox"
	"sentinal-call/internal/redis"
	"sentinal-call/internal/repository"
	"sentinal-call/internal/server"
	"sentinal-call/internal/services"
	"sentinal-call/internal/websocket"
	"sentinal-call/pkg/database"
	"sentinal-call/pkg/logger"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Module returns the fx module for the API process, composing all providers
// and lifecycle hooks.
func Module(cfg *config.Config) fx.Option {
	return fx.Module("api",
		fx.Supply(cfg),
		fx.Provide(
			provideLogger,
			provideDatabase,
			provideRedis,
			repository.NewCallRepository,
			repository.NewSignalRepository,
			repository.NewEventRepository,
			providePresence,
			redis.NewCallStateStore,
			provideRateLimiter,
			redis.NewPublisher,
			redis.NewSubscriber,
			provideCallService,
			provideAuthService,
			provideOutbox,
			websocket.NewHub,
			provideWebSocketHandler,
			provideBridge,
			handler.NewCallHandler,
			provideServer,
		),
		fx.WithLogger(func(l *logger.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Logger.Named("fx")}
		}),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(cfg *config.Config) *logger.Logger {
	l := logger.New(cfg.LogMode)
	logger.SetGlobalLogger(l)
	return l
}

func provideDatabase(cfg *config.Config, log *logger.Logger) (*gorm.DB, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, err
	}
	if !cfg.AutoMigrate {
		return db, nil
	}
	if cfg.DBDriver == "sqlite" {
		if err := repository.InitSchema(db); err != nil {
			_ = database.Close(db)
			return nil, err
		}
		log.Info("sqlite schema initialized", zap.String("path", cfg.DBPath))
		return db, nil
	}
	result, err := database.MigrateUp(database.URL(cfg))
	if err != nil {
		_ = database.Close(db)
		return nil, err
	}
	if result.Changed {
		log.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		log.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	return db, nil
}

func provideRedis(cfg *config.Config) *goredis.Client {
	return redis.NewClient(redis.ConfigFrom(cfg))
}

func providePresence(cfg *config.Config, client *goredis.Client) *redis.PresenceStore {
	return redis.NewPresenceStore(client, cfg.PresenceTTL)
}

func provideRateLimiter(cfg *config.Config, client *goredis.Client) *redis.RateLimiter {
	return redis.NewRateLimiter(client, redis.RateLimitConfig{CallLimit: cfg.CallRateLimit, CallWindow: cfg.CallRateWindow})
}

func provideCallService(
	cfg *config.Config,
	calls repository.CallRepository,
	signals repository.SignalRepository,
	presence *redis.PresenceStore,
	states *redis.CallStateStore,
	log *logger.Logger,
) *services.CallService {
	return services.NewCallService(calls, signals, presence, states, log, services.CallServiceConfig{
		IncomingWindow:  cfg.IncomingWindow,
		SignalPageLimit: cfg.SignalPageLimit,
	})
}

func provideAuthService(cfg *config.Config) *services.AuthService {
	return services.NewAuthService(cfg.JWTSecret, time.Duration(cfg.JWTExpiryMin)*time.Minute)
}

func provideOutbox(cfg *config.Config, repo repository.EventRepository, publisher *redis.Publisher, log *logger.Logger) *outbox.Runner {
	return outbox.NewRunner(outbox.DefaultProcessor(cfg, repo, publisher, log))
}

func provideWebSocketHandler(auth *services.AuthService, hub *websocket.Hub, calls *services.CallService, log *logger.Logger) *websocket.Handler {
	return websocket.NewHandler(auth, hub, websocket.NewChannelAuthorizer(calls.Access()), log)
}

func provideBridge(subscriber *redis.Subscriber, hub *websocket.Hub) *websocket.RedisBridge {
	return websocket.NewRedisBridge(subscriber, hub)
}

func provideServer(
	cfg *config.Config,
	log *logger.Logger,
	calls *handler.CallHandler,
	ws *websocket.Handler,
	auth *services.AuthService,
	limiter *redis.RateLimiter,
	db *gorm.DB,
	client *goredis.Client,
) *server.Server {
	srv := server.New(cfg, log)
	srv.SetupRoutes(&server.Handlers{Call: calls, WebSocket: ws}, auth, limiter, map[string]server.HealthCheck{
		"database": func(ctx context.Context) error { return database.HealthCheck(ctx, db) },
		"redis":    func(ctx context.Context) error { return redis.Ping(ctx, client) },
	})
	return srv
}

func registerLifecycle(
	lc fx.Lifecycle,
	srv *server.Server,
	hub *websocket.Hub,
	bridge *websocket.RedisBridge,
	runner *outbox.Runner,
	db *gorm.DB,
	client *goredis.Client,
	log *logger.Logger,
) {
	var cancel context.CancelFunc
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := redis.Ping(ctx, client); err != nil {
				return err
			}

			var runCtx context.Context
			runCtx, cancel = context.WithCancel(context.Background())

			go hub.Run(runCtx)
			go func() {
				if err := bridge.Run(runCtx); err != nil {
					log.Error("redis bridge stopped", zap.Error(err))
				}
			}()
			runner.Start(runCtx)

			go func() {
				if err := srv.Start(); err != nil {
					log.Error("http server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			err := srv.Shutdown(ctx)
			if cancel != nil {
				cancel()
			}
			runner.Stop()
			if cerr := client.Close(); cerr != nil {
				log.Warn("error closing redis", zap.Error(cerr))
			}
			if cerr := database.Close(db); cerr != nil {
				log.Warn("error closing database", zap.Error(cerr))
			}
			log.Info("api stopped")
			_ = log.Sync()
			return err
		},
	})
}
