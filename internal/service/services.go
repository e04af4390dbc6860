package service

import (
	"log/slog"

	postgres "github.com/kirinyoku/dinetrack/internal/repository/postgres"
	redis "github.com/kirinyoku/dinetrack/internal/repository/redis"
	"github.com/kirinyoku/dinetrack/internal/service/orders"
	"github.com/kirinyoku/dinetrack/internal/service/reservation"
)

type Services struct {
	Reservation *reservation.Service
	Orders      *orders.Service
}

type Config struct {
	Reservation reservation.Config
	Orders      orders.Config
}

func NewServices(
	store *postgres.Store,
	cache *redis.Cache,
	feed *redis.ChangeFeed,
	limiter *redis.SlidingWindowLimiter,
	logger *slog.Logger,
	cfg Config,
) *Services {
	return &Services{
		Reservation: reservation.New(store.Tables(), cache, feed, limiter, logger, cfg.Reservation),
		Orders:      orders.New(store.Orders(), cache, feed, logger, cfg.Orders),
	}
}
