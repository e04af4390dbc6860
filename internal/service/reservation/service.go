package reservation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirinyoku/dinetrack/internal/domain"
	"github.com/kirinyoku/dinetrack/internal/repository"
	redisrepo "github.com/kirinyoku/dinetrack/internal/repository/redis"
)

// TableStore is the slice of the state store the reservation manager
// needs. Every mutating method is a single atomic conditional write:
// of two racing calls on the same table, at most one succeeds and the
// loser gets a definitive domain error.
type TableStore interface {
	List(ctx context.Context) ([]domain.Table, error)
	Get(ctx context.Context, id int64) (*domain.Table, error)
	ListOccupied(ctx context.Context) ([]int, error)
	Hold(ctx context.Context, id int64, holderID string, expiresAt time.Time) (*domain.Table, error)
	Occupy(ctx context.Context, id int64) (*domain.Table, error)
	Release(ctx context.Context, id int64) (*domain.Table, error)
	ListExpired(ctx context.Context, now time.Time) ([]int64, error)
	ReleaseExpired(ctx context.Context, id int64, now time.Time) (*domain.Table, error)
}

// Publisher fans an event out to every subscriber of a channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, ev domain.Event) error
}

type Config struct {
	HoldTTL time.Duration
	ListTTL time.Duration
}

type Service struct {
	store   TableStore
	cache   *redisrepo.Cache
	pub     Publisher
	limiter *redisrepo.SlidingWindowLimiter
	logger  *slog.Logger
	cfg     Config
}

func New(
	store TableStore,
	cache *redisrepo.Cache,
	pub Publisher,
	limiter *redisrepo.SlidingWindowLimiter,
	logger *slog.Logger,
	cfg Config,
) *Service {
	if cfg.HoldTTL <= 0 {
		cfg.HoldTTL = 2 * time.Minute
	}

	if cfg.ListTTL <= 0 {
		cfg.ListTTL = 5 * time.Second
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		store:   store,
		cache:   cache,
		pub:     pub,
		limiter: limiter,
		logger:  logger,
		cfg:     cfg,
	}
}

// List returns a snapshot of all tables in display-number order.
func (s *Service) List(ctx context.Context) ([]domain.Table, error) {
	const op = "service.reservation.List"

	if s.cache == nil {
		tables, err := s.store.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, err)
		}
		return tables, nil
	}

	tables, err := redisrepo.GetOrSetJSON(
		ctx,
		s.cache,
		redisrepo.KeyTableList(),
		s.cfg.ListTTL,
		func(ctx context.Context) ([]domain.Table, error) {
			return s.store.List(ctx)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return tables, nil
}

func (s *Service) Get(ctx context.Context, tableID int64) (*domain.Table, error) {
	const op = "service.reservation.Get"

	t, err := s.store.Get(ctx, tableID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrTableNotFound)
		}

		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return t, nil
}

// Occupied returns the display numbers of currently occupied tables.
func (s *Service) Occupied(ctx context.Context) ([]int, error) {
	const op = "service.reservation.Occupied"

	nums, err := s.store.ListOccupied(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return nums, nil
}

// Hold reserves a table for holderID for the configured TTL. The hold
// succeeds only while the table is available; the winner of a race gets
// the table, everyone else ErrTableNotAvailable.
//
// Returns:
//   - *domain.Table: the held table when successful.
//   - error: reservation.ErrTableNotAvailable if the table is held or occupied.
//   - error: reservation.ErrTableNotFound if the table does not exist.
//   - error: reservation.ErrRateLimited if rlKey exceeded its window.
func (s *Service) Hold(
	ctx context.Context,
	tableID int64,
	holderID string,
	rlKey string,
) (*domain.Table, error) {
	const op = "service.reservation.Hold"

	if holderID == "" {
		return nil, fmt.Errorf("%s: holder id required", op)
	}

	if s.limiter != nil && rlKey != "" {
		ok, _, retry, err := s.limiter.Allow(ctx, rlKey)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, err)
		}
		if !ok {
			return nil, fmt.Errorf("%s: retry in %s:%w", op, retry, ErrRateLimited)
		}
	}

	t, err := s.store.Hold(ctx, tableID, holderID, time.Now().Add(s.cfg.HoldTTL))
	if err != nil {
		if errors.Is(err, repository.ErrNotAvailable) {
			return nil, fmt.Errorf("%s:%w", op, ErrTableNotAvailable)
		}

		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrTableNotFound)
		}

		return nil, fmt.Errorf("%s:%w", op, err)
	}

	s.tableChanged(ctx, t, domain.EventTableHeld)

	return t, nil
}

// Occupy assigns the table to a party, directly or by confirming an
// existing hold.
//
// Returns:
//   - *domain.Table: the occupied table when successful.
//   - error: reservation.ErrCannotOccupy if the table is already occupied.
//   - error: reservation.ErrTableNotFound if the table does not exist.
func (s *Service) Occupy(ctx context.Context, tableID int64) (*domain.Table, error) {
	const op = "service.reservation.Occupy"

	t, err := s.store.Occupy(ctx, tableID)
	if err != nil {
		if errors.Is(err, repository.ErrCannotOccupy) {
			return nil, fmt.Errorf("%s:%w", op, ErrCannotOccupy)
		}

		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrTableNotFound)
		}

		return nil, fmt.Errorf("%s:%w", op, err)
	}

	s.tableChanged(ctx, t, domain.EventTableOccupied)

	return t, nil
}

// Release cancels a hold explicitly.
//
// Returns:
//   - *domain.Table: the released table when successful.
//   - error: reservation.ErrTableNotHeld if the table is not held.
//   - error: reservation.ErrTableNotFound if the table does not exist.
func (s *Service) Release(ctx context.Context, tableID int64) (*domain.Table, error) {
	const op = "service.reservation.Release"

	t, err := s.store.Release(ctx, tableID)
	if err != nil {
		if errors.Is(err, repository.ErrNotHeld) {
			return nil, fmt.Errorf("%s:%w", op, ErrTableNotHeld)
		}

		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrTableNotFound)
		}

		return nil, fmt.Errorf("%s:%w", op, err)
	}

	s.tableChanged(ctx, t, domain.EventTableReleased)

	return t, nil
}

// Expire releases every table whose hold has lapsed. Each table is
// released with its own conditional write, re-checking at write time
// that the hold is still in place, so a sweep never undoes a concurrent
// occupy. One failed release is logged and the pass moves on.
func (s *Service) Expire(ctx context.Context) (int, error) {
	const op = "service.reservation.Expire"

	now := time.Now()

	ids, err := s.store.ListExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, err)
	}

	released := 0
	for _, id := range ids {
		t, err := s.store.ReleaseExpired(ctx, id, now)
		if err != nil {
			// Lost the race to an occupy or explicit release.
			if errors.Is(err, repository.ErrNotHeld) {
				continue
			}

			s.logger.Error("failed to release expired hold", "table_id", id, "error", err)
			continue
		}

		released++
		s.tableChanged(ctx, t, domain.EventTableReleased)
	}

	return released, nil
}

func (s *Service) tableChanged(ctx context.Context, t *domain.Table, eventType string) {
	if s.cache != nil {
		_ = s.cache.InvalidateTables(ctx)
	}

	if s.pub == nil {
		return
	}

	ev := domain.Event{
		Type:    eventType,
		TableID: t.ID,
		Status:  string(t.Status),
	}
	if t.HeldBy != nil {
		ev.HeldBy = *t.HeldBy
	}

	if err := s.pub.Publish(ctx, domain.ChannelTable(t.ID), ev); err != nil {
		s.logger.Error("failed to publish table event",
			"table_id", t.ID, "type", eventType, "error", err)
	}
}
