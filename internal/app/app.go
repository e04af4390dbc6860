package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirinyoku/dinetrack/internal/config"
	"github.com/kirinyoku/dinetrack/internal/domain"
	"github.com/kirinyoku/dinetrack/internal/notify"
	"github.com/kirinyoku/dinetrack/internal/postgres"
	"github.com/kirinyoku/dinetrack/internal/redis"
	postgresrepo "github.com/kirinyoku/dinetrack/internal/repository/postgres"
	redisrepo "github.com/kirinyoku/dinetrack/internal/repository/redis"
	"github.com/kirinyoku/dinetrack/internal/service"
	"github.com/kirinyoku/dinetrack/internal/service/reservation"
	"github.com/kirinyoku/dinetrack/internal/sweeper"
	httpgin "github.com/kirinyoku/dinetrack/internal/transport/http/gin"
	"golang.org/x/sync/errgroup"
)

type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	httpServer *http.Server
	sweeper    *sweeper.Sweeper
	feed       *redisrepo.ChangeFeed
	hub        *notify.Hub
}

func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	// Initialize dependencies
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Postgres.User,
		cfg.Postgres.Password,
		cfg.Postgres.Host,
		cfg.Postgres.Port,
		cfg.Postgres.Name,
		cfg.Postgres.SSLMode,
	)

	pgxPool, err := postgres.New(context.Background(), postgres.Config{DSN: dsn})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres: %w", err)
	}

	rdb, err := redis.New(context.Background(), redis.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	// Initialize repositories
	store := postgresrepo.NewStore(pgxPool)
	if err := store.Migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	cache := redisrepo.New(rdb)
	feed := redisrepo.NewChangeFeed(rdb)
	limiter := redisrepo.NewSlidingWindowLimiter(rdb, "hold", 10, 1*time.Minute)
	idempotencyStore := redisrepo.NewIdempotencyStore(rdb, 2*time.Hour)

	// Initialize services
	services := service.NewServices(store, cache, feed, limiter, logger, service.Config{
		Reservation: reservation.Config{HoldTTL: cfg.Hold.TTL},
	})

	hub := notify.NewHub(0, logger)

	// Initialize Gin router
	router := httpgin.NewRouter(services, idempotencyStore, hub, logger)

	return &App{
		cfg:    cfg,
		logger: logger,
		httpServer: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler: router,
		},
		sweeper: sweeper.New(services.Reservation, cfg.Hold.SweepInterval, logger),
		feed:    feed,
		hub:     hub,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	// Start HTTP server
	g.Go(func() error {
		a.logger.Info("HTTP server listening", "host", a.cfg.Server.Host, "port", a.cfg.Server.Port)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	})

	// Relay published changes into the local hub
	g.Go(func() error {
		err := a.feed.Run(gCtx, func(ctx context.Context, channel string, ev domain.Event) {
			a.hub.Publish(channel, ev)
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	// Reclaim expired holds
	g.Go(func() error {
		err := a.sweeper.Run(gCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("shutting down HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.httpServer.Shutdown(ctx)
	})

	return g.Wait()
}
