package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/iliyamo/agency-api/internal/auth"
	"github.com/iliyamo/agency-api/internal/cache"
	"github.com/iliyamo/agency-api/internal/config"
	"github.com/iliyamo/agency-api/internal/cron"
	"github.com/iliyamo/agency-api/internal/database"
	"github.com/iliyamo/agency-api/internal/handler"
	"github.com/iliyamo/agency-api/internal/middleware"
	"github.com/iliyamo/agency-api/internal/queue"
	"github.com/iliyamo/agency-api/internal/ratelimit"
	"github.com/iliyamo/agency-api/internal/repository"
	"github.com/iliyamo/agency-api/internal/router"
	"github.com/iliyamo/agency-api/internal/service"
	"github.com/iliyamo/agency-api/internal/token"
)

func main() {
	app := fx.New(
		fx.Provide(
			config.Load,
			newLogger,
			newDB,
			repository.NewUserRepo,
			repository.NewTokenRepo,
			repository.NewRateLimitRepo,
			repository.NewBlockRepo,
			newRedis,
			newBlockCache,
			newLimiter,
			newCodec,
			newEvents,
			newAuthenticator,
			newGuard,
			newAuthHandler,
			newAdminHandler,
			newRouter,
		),
		fx.Invoke(startConsumer, startSweeper, startHTTPServer),
	)

	app.Run()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Env == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newDB(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*sql.DB, error) {
	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := database.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("database ready", zap.String("host", cfg.DBHost), zap.String("name", cfg.DBName))

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return db.Close() },
	})
	return db, nil
}

func newRedis(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) *redis.Client {
	rdb := config.NewRedisClient(cfg.Redis)
	if rdb == nil {
		logger.Info("redis unavailable, block list cached in process")
		return nil
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return rdb.Close() },
	})
	return rdb
}

func newBlockCache(cfg config.Config, rdb *redis.Client, logger *zap.Logger) ratelimit.BlockCache {
	if rdb == nil {
		return cache.NewMemoryBlockCache(nil)
	}
	return cache.NewRedisBlockCache(rdb, cfg.Redis.Prefix, nil, logger)
}

func newLimiter(rates *repository.RateLimitRepo, blocks *repository.BlockRepo, bc ratelimit.BlockCache) *ratelimit.Limiter {
	return ratelimit.NewLimiter(rates, blocks, bc, nil)
}

func newCodec(cfg config.Config) *token.Codec {
	return token.NewCodec(cfg.JWTSecret, nil)
}

func newEvents(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) auth.EventPublisher {
	ev := cfg.SecurityEvents
	if !ev.Enabled {
		return service.LogPublisher{Log: logger}
	}
	p := service.NewPublisher(ev.URL, ev.Queue, logger)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return p.Close() },
	})
	return p
}

func newAuthenticator(cfg config.Config, users *repository.UserRepo, tokens *repository.TokenRepo, codec *token.Codec, events auth.EventPublisher, logger *zap.Logger) *auth.Authenticator {
	return auth.New(users, tokens, codec, events, auth.Options{
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
		BcryptCost: cfg.BcryptCost,
	}, logger)
}

func newGuard(cfg config.Config, limiter *ratelimit.Limiter, events auth.EventPublisher, logger *zap.Logger) *middleware.Guard {
	return &middleware.Guard{
		Limiter:    limiter,
		Violations: cfg.RateLimit.Violations,
		BlockFor:   cfg.RateLimit.BlockDuration,
		Events:     events,
		Debug:      cfg.RateLimit.Debug,
		Log:        logger,
	}
}

func newAuthHandler(cfg config.Config, a *auth.Authenticator, logger *zap.Logger) *handler.AuthHandler {
	return handler.NewAuthHandler(a, cfg.Debug, logger)
}

func newAdminHandler(cfg config.Config, limiter *ratelimit.Limiter, a *auth.Authenticator, events auth.EventPublisher, logger *zap.Logger) *handler.AdminHandler {
	return &handler.AdminHandler{
		Limiter:  limiter,
		Auth:     a,
		Events:   events,
		BlockFor: cfg.RateLimit.BlockDuration,
		Debug:    cfg.Debug,
		Log:      logger,
	}
}

func newRouter(cfg config.Config, logger *zap.Logger, db *sql.DB, guard *middleware.Guard, a *auth.Authenticator, ah *handler.AuthHandler, adm *handler.AdminHandler) *echo.Echo {
	return router.New(router.Deps{
		Cfg:    cfg,
		Log:    logger,
		Guard:  guard,
		Authn:  a,
		Auth:   ah,
		Admin:  adm,
		Health: handler.Health(db),
	})
}

func startConsumer(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) {
	ev := cfg.SecurityEvents
	if !ev.ConsumerEnabled {
		return
	}
	c := &queue.Consumer{URL: ev.URL, Queue: ev.Queue, LogDir: ev.LogDir, Log: logger.Named("security")}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("security consumer stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}

func startSweeper(lc fx.Lifecycle, cfg config.Config, tokens *repository.TokenRepo, rates *repository.RateLimitRepo, blocks *repository.BlockRepo, logger *zap.Logger) {
	if cfg.SweepInterval <= 0 {
		return
	}
	var window time.Duration
	for _, p := range cfg.RateLimit.Policies() {
		window = max(window, p.Window)
	}
	s := &cron.Sweeper{Tokens: tokens, Rates: rates, Blocks: blocks, MaxWindow: window, Log: logger.Named("sweep")}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error { return s.Start(cfg.SweepInterval) },
		OnStop: func(context.Context) error {
			s.Stop()
			return nil
		},
	})
}

func startHTTPServer(lc fx.Lifecycle, cfg config.Config, e *echo.Echo, logger *zap.Logger) {
	addr := ":" + cfg.Port
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				logger.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env))
				if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Fatal("http server", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return e.Shutdown(ctx)
		},
	})
}
