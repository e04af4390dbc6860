package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/dinetrack/internal/domain"
	"github.com/kirinyoku/dinetrack/internal/repository"
	redisrepo "github.com/kirinyoku/dinetrack/internal/repository/redis"
)

// initialRawStatus is what the upstream ordering flow sends when a
// customer places an order.
const initialRawStatus = "requested"

// OrderStore is the slice of the state store the lifecycle tracker
// needs. UpdateStatus must be atomic and must never regress the stored
// canonical stage, whatever label arrives.
type OrderStore interface {
	Create(ctx context.Context, tableID int64, items []domain.OrderItem, totalCost int64, rawStatus string, canonical domain.Stage) (*domain.Order, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	List(ctx context.Context) ([]domain.Order, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, rawStatus string, canonical domain.Stage) (*domain.Order, error)
}

type Publisher interface {
	Publish(ctx context.Context, channel string, ev domain.Event) error
}

type Config struct {
	OrderTTL time.Duration
}

type Service struct {
	store  OrderStore
	cache  *redisrepo.Cache
	pub    Publisher
	logger *slog.Logger
	cfg    Config
}

func New(
	store OrderStore,
	cache *redisrepo.Cache,
	pub Publisher,
	logger *slog.Logger,
	cfg Config,
) *Service {
	if cfg.OrderTTL <= 0 {
		cfg.OrderTTL = 10 * time.Second
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		store:  store,
		cache:  cache,
		pub:    pub,
		logger: logger,
		cfg:    cfg,
	}
}

// Create stores a new order in the waiting stage and announces it on
// the order's channel.
//
// Returns:
//   - *domain.Order: the stored order.
//   - error: orders.ErrEmptyOrder if items is empty.
//   - error: orders.ErrInvalidOrder on a non-positive quantity or negative total.
//   - error: orders.ErrTableNotFound if the referenced table does not exist.
func (s *Service) Create(
	ctx context.Context,
	tableID int64,
	items []domain.OrderItem,
	totalCost int64,
) (*domain.Order, error) {
	const op = "service.orders.Create"

	if len(items) == 0 {
		return nil, fmt.Errorf("%s:%w", op, ErrEmptyOrder)
	}

	for _, it := range items {
		if it.Dish == "" || it.Quantity < 1 {
			return nil, fmt.Errorf("%s:%w", op, ErrInvalidOrder)
		}
	}

	if totalCost < 0 {
		return nil, fmt.Errorf("%s:%w", op, ErrInvalidOrder)
	}

	o, err := s.store.Create(ctx, tableID, items, totalCost, initialRawStatus, domain.Normalize(initialRawStatus))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrTableNotFound)
		}

		return nil, fmt.Errorf("%s:%w", op, err)
	}

	s.publish(ctx, domain.ChannelOrder(o.ID.String()), orderEvent(o))

	return o, nil
}

// Advance records a new raw status and moves the canonical stage
// forward. A label that normalizes to the current or an earlier stage
// is accepted and treated as a resend: the raw label is stored, the
// canonical stage stays where it is. Subscribers of the order's channel
// see the resulting stage; once the order is served, the owning table's
// channel is notified as well so floor views refresh without polling.
//
// Returns:
//   - *domain.Order: the order as persisted after the update.
//   - error: orders.ErrOrderNotFound if the order does not exist.
func (s *Service) Advance(ctx context.Context, orderID uuid.UUID, rawStatus string) (*domain.Order, error) {
	const op = "service.orders.Advance"

	o, err := s.store.UpdateStatus(ctx, orderID, rawStatus, domain.Normalize(rawStatus))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrOrderNotFound)
		}

		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if s.cache != nil {
		_ = s.cache.InvalidateOrder(ctx, o.ID.String())
	}

	s.publish(ctx, domain.ChannelOrder(o.ID.String()), orderEvent(o))

	if o.CanonicalStatus == domain.StageServed {
		s.publish(ctx, domain.ChannelTable(o.TableID), orderEvent(o))
	}

	return o, nil
}

// Get retrieves one order.
//
// Returns:
//   - *domain.Order: the order when found.
//   - error: orders.ErrOrderNotFound if the order does not exist.
func (s *Service) Get(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	const op = "service.orders.Get"

	load := func(ctx context.Context) (domain.Order, error) {
		o, err := s.store.Get(ctx, orderID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return domain.Order{}, ErrOrderNotFound
			}

			return domain.Order{}, err
		}

		return *o, nil
	}

	if s.cache == nil {
		o, err := load(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, err)
		}
		return &o, nil
	}

	o, err := redisrepo.GetOrSetJSON(
		ctx,
		s.cache,
		redisrepo.KeyOrder(orderID.String()),
		s.cfg.OrderTTL,
		load,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &o, nil
}

// List returns all orders, newest first.
func (s *Service) List(ctx context.Context) ([]domain.Order, error) {
	const op = "service.orders.List"

	out, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

func orderEvent(o *domain.Order) domain.Event {
	return domain.Event{
		Type:    domain.EventOrderUpdate,
		OrderID: o.ID.String(),
		TableID: o.TableID,
		Status:  string(o.CanonicalStatus),
	}
}

func (s *Service) publish(ctx context.Context, channel string, ev domain.Event) {
	if s.pub == nil {
		return
	}

	if err := s.pub.Publish(ctx, channel, ev); err != nil {
		s.logger.Error("failed to publish order event",
			"channel", channel, "type", ev.Type, "error", err)
	}
}
