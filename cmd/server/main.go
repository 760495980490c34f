package main // Entry point package

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/gameverse/internal/config"
	"github.com/iliyamo/gameverse/internal/database"
	"github.com/iliyamo/gameverse/internal/handler"
	"github.com/iliyamo/gameverse/internal/middleware"
	"github.com/iliyamo/gameverse/internal/queue"
	"github.com/iliyamo/gameverse/internal/repository"
	"github.com/iliyamo/gameverse/internal/router"
	"github.com/iliyamo/gameverse/internal/service"
	"github.com/iliyamo/gameverse/internal/validation"
)

const shutdownTimeout = 10 * time.Second

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return l
}

func main() {
	config.LoadDotEnv()
	cfg := config.Load() // Load environment config

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	// prices go out as JSON numbers
	decimal.MarshalJSONWithoutQuotes = true

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", slog.Any("err", err))
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		return err
	}
	defer db.Close()
	if cfg.DBMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			return err
		}
	}

	rdb := config.NewRedisClient(config.LoadRedisConfig())
	if rdb != nil {
		defer rdb.Close()
	}
	cacheCfg := config.LoadCacheConfig()
	invalidate := func(ctx context.Context) error {
		if rdb == nil {
			return nil
		}
		return middleware.InvalidateCache(ctx, rdb, cacheCfg.Prefix)
	}

	qcfg := config.LoadQueueConfig()
	publisher := queue.NewPublisher(qcfg.URL, qcfg.QueueName, logger)
	defer publisher.Close()
	dispatcher := queue.NewDispatcher(publisher, qcfg.Workers, qcfg.Buffer, qcfg.PublishTimeout, logger)
	// runs before publisher.Close so queued events still go out
	defer dispatcher.Close()

	users := repository.NewUserRepo(db)
	tokens := repository.NewTokenRepo(db)
	games := repository.NewGameRepo(db)
	purchases := repository.NewPurchaseRepo(db)
	commerce := service.NewCommerce(purchases, games, users, dispatcher, logger)

	e := newServer(logger)
	router.RegisterRoutes(e, router.Deps{
		JWTSecret: cfg.JWTSecret,
		DB:        db,
		RateLimit: middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, logger),
		Cache:     cacheMiddleware(cacheCfg, rdb, logger),
		Auth:      handler.NewAuthHandler(cfg, users, tokens, dispatcher),
		Games:     handler.NewGameHandler(games, invalidate, logger),
		Users:     handler.NewUserHandler(cfg, users, tokens, games, commerce),
		Admin:     handler.NewAdminHandler(users, games, purchases, invalidate, logger),
		Purchases: handler.NewPurchaseHandler(commerce),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := ":" + cfg.Port
		logger.Info("listening", slog.String("addr", addr), slog.String("env", cfg.Env))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if qcfg.ConsumerEnable {
		consumer := queue.NewConsumer(qcfg.URL, qcfg.QueueName, qcfg.Prefetch, qcfg.LogPath, logger)
		g.Go(func() error { return consumer.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return e.Shutdown(sctx)
	})
	return g.Wait()
}

func newServer(logger *slog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validation.New()
	e.HTTPErrorHandler = handler.NewHTTPErrorHandler(logger)
	e.Use(echomw.Recover())
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.RequestLogger(logger))
	return e
}

func cacheMiddleware(cfg config.CacheConfig, rdb *redis.Client, logger *slog.Logger) echo.MiddlewareFunc {
	if rdb == nil || !cfg.Enabled {
		return nil
	}
	return middleware.NewRedisCache(cfg, rdb, logger)
}
