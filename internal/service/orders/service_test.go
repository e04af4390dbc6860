package orders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/dinetrack/internal/domain"
	"github.com/kirinyoku/dinetrack/internal/repository"
)

// fakeOrderStore applies the same never-regress rule the SQL update
// does: the stored canonical stage only moves forward, the raw label is
// recorded as received.
type fakeOrderStore struct {
	mu     sync.Mutex
	orders map[uuid.UUID]*domain.Order
	tables map[int64]struct{}
}

func newFakeOrderStore(tableIDs ...int64) *fakeOrderStore {
	s := &fakeOrderStore{
		orders: make(map[uuid.UUID]*domain.Order),
		tables: make(map[int64]struct{}),
	}
	for _, id := range tableIDs {
		s.tables[id] = struct{}{}
	}
	return s
}

func (s *fakeOrderStore) Create(ctx context.Context, tableID int64, items []domain.OrderItem, totalCost int64, rawStatus string, canonical domain.Stage) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tables[tableID]; !ok {
		return nil, repository.ErrNotFound
	}

	o := &domain.Order{
		ID:              uuid.New(),
		TableID:         tableID,
		Items:           items,
		TotalCost:       totalCost,
		RawStatus:       rawStatus,
		CanonicalStatus: canonical,
		CreatedAt:       time.Now(),
	}
	s.orders[o.ID] = o
	cp := *o
	return &cp, nil
}

func (s *fakeOrderStore) Get(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *fakeOrderStore) List(ctx context.Context) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, *o)
	}
	return out, nil
}

func (s *fakeOrderStore) UpdateStatus(ctx context.Context, id uuid.UUID, rawStatus string, canonical domain.Stage) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}

	o.RawStatus = rawStatus
	o.CanonicalStatus = o.CanonicalStatus.Advance(canonical)
	cp := *o
	return &cp, nil
}

type published struct {
	channel string
	event   domain.Event
}

type fakePublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *fakePublisher) Publish(ctx context.Context, channel string, ev domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, published{channel: channel, event: ev})
	return nil
}

func (p *fakePublisher) all() []published {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]published, len(p.events))
	copy(out, p.events)
	return out
}

func newTestService(store OrderStore, pub Publisher) *Service {
	return New(store, nil, pub, nil, Config{})
}

func pizzaItems() []domain.OrderItem {
	return []domain.OrderItem{
		{Dish: "margherita", Quantity: 2},
		{Dish: "tiramisu", Quantity: 1},
	}
}

func TestCreate(t *testing.T) {
	store := newFakeOrderStore(3)
	pub := &fakePublisher{}
	svc := newTestService(store, pub)

	o, err := svc.Create(context.Background(), 3, pizzaItems(), 2600)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if o.CanonicalStatus != domain.StageWaiting {
		t.Errorf("new order stage = %q, want waiting", o.CanonicalStatus)
	}
	if o.RawStatus != "requested" {
		t.Errorf("raw status = %q, want requested", o.RawStatus)
	}
	if o.TableID != 3 {
		t.Errorf("table id = %d, want 3", o.TableID)
	}

	events := pub.all()
	if len(events) != 1 {
		t.Fatalf("published %d events, want 1", len(events))
	}
	if want := domain.ChannelOrder(o.ID.String()); events[0].channel != want {
		t.Errorf("event channel = %q, want %q", events[0].channel, want)
	}
	if events[0].event.Status != string(domain.StageWaiting) {
		t.Errorf("event status = %q, want waiting", events[0].event.Status)
	}
}

func TestCreateValidation(t *testing.T) {
	svc := newTestService(newFakeOrderStore(1), &fakePublisher{})

	tests := []struct {
		name    string
		items   []domain.OrderItem
		total   int64
		wantErr error
	}{
		{"noItems", nil, 100, ErrEmptyOrder},
		{"emptyDish", []domain.OrderItem{{Dish: "", Quantity: 1}}, 100, ErrInvalidOrder},
		{"zeroQuantity", []domain.OrderItem{{Dish: "soup", Quantity: 0}}, 100, ErrInvalidOrder},
		{"negativeTotal", pizzaItems(), -1, ErrInvalidOrder},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), 1, tt.items, tt.total)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCreateUnknownTable(t *testing.T) {
	svc := newTestService(newFakeOrderStore(), &fakePublisher{})

	_, err := svc.Create(context.Background(), 99, pizzaItems(), 2600)
	if !errors.Is(err, ErrTableNotFound) {
		t.Fatalf("error = %v, want ErrTableNotFound", err)
	}
}

func TestAdvance(t *testing.T) {
	store := newFakeOrderStore(3)
	pub := &fakePublisher{}
	svc := newTestService(store, pub)

	o, err := svc.Create(context.Background(), 3, pizzaItems(), 2600)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	got, err := svc.Advance(context.Background(), o.ID, "Preparing")
	if err != nil {
		t.Fatalf("Advance returned error: %v", err)
	}

	if got.CanonicalStatus != domain.StagePreparing {
		t.Errorf("stage = %q, want preparing", got.CanonicalStatus)
	}
	if got.RawStatus != "Preparing" {
		t.Errorf("raw status = %q, want the label as received", got.RawStatus)
	}

	events := pub.all()
	if len(events) != 2 {
		t.Fatalf("published %d events, want 2", len(events))
	}
	last := events[1]
	if want := domain.ChannelOrder(o.ID.String()); last.channel != want {
		t.Errorf("event channel = %q, want %q", last.channel, want)
	}
	if last.event.Status != string(domain.StagePreparing) {
		t.Errorf("event status = %q, want preparing", last.event.Status)
	}
}

func TestAdvanceServedNotifiesTableChannel(t *testing.T) {
	store := newFakeOrderStore(3)
	pub := &fakePublisher{}
	svc := newTestService(store, pub)

	o, err := svc.Create(context.Background(), 3, pizzaItems(), 2600)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if _, err := svc.Advance(context.Background(), o.ID, "served"); err != nil {
		t.Fatalf("Advance returned error: %v", err)
	}

	events := pub.all()
	channels := make(map[string]int)
	for _, e := range events {
		channels[e.channel]++
	}

	if channels[domain.ChannelOrder(o.ID.String())] != 2 {
		t.Errorf("order channel received %d events, want 2 (create + served)",
			channels[domain.ChannelOrder(o.ID.String())])
	}
	if channels[domain.ChannelTable(3)] != 1 {
		t.Errorf("table channel received %d events, want 1 on serve",
			channels[domain.ChannelTable(3)])
	}
}

func TestAdvanceBackwardLabelIsResend(t *testing.T) {
	store := newFakeOrderStore(3)
	pub := &fakePublisher{}
	svc := newTestService(store, pub)

	o, err := svc.Create(context.Background(), 3, pizzaItems(), 2600)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if _, err := svc.Advance(context.Background(), o.ID, "cooked"); err != nil {
		t.Fatalf("advance to cooked failed: %v", err)
	}

	got, err := svc.Advance(context.Background(), o.ID, "accepted")
	if err != nil {
		t.Fatalf("backward label must be accepted, got error: %v", err)
	}

	if got.CanonicalStatus != domain.StageCooked {
		t.Errorf("stage = %q, want cooked (no regression)", got.CanonicalStatus)
	}
	if got.RawStatus != "accepted" {
		t.Errorf("raw status = %q, want accepted", got.RawStatus)
	}

	// The resend is still announced with the current stage.
	events := pub.all()
	last := events[len(events)-1]
	if last.event.Status != string(domain.StageCooked) {
		t.Errorf("resend event status = %q, want cooked", last.event.Status)
	}
}

func TestAdvanceUnknownLabelKeepsStage(t *testing.T) {
	store := newFakeOrderStore(3)
	svc := newTestService(store, &fakePublisher{})

	o, err := svc.Create(context.Background(), 3, pizzaItems(), 2600)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if _, err := svc.Advance(context.Background(), o.ID, "preparing"); err != nil {
		t.Fatalf("advance failed: %v", err)
	}

	got, err := svc.Advance(context.Background(), o.ID, "on-the-grill")
	if err != nil {
		t.Fatalf("unknown label must be accepted, got error: %v", err)
	}

	if got.CanonicalStatus != domain.StagePreparing {
		t.Errorf("stage = %q, want preparing (unknown maps to waiting, never regresses)", got.CanonicalStatus)
	}
	if got.RawStatus != "on-the-grill" {
		t.Errorf("raw status = %q, want the label as received", got.RawStatus)
	}
}

func TestAdvanceUnknownOrder(t *testing.T) {
	svc := newTestService(newFakeOrderStore(3), &fakePublisher{})

	_, err := svc.Advance(context.Background(), uuid.New(), "preparing")
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("error = %v, want ErrOrderNotFound", err)
	}
}

func TestGetUnknownOrder(t *testing.T) {
	svc := newTestService(newFakeOrderStore(3), &fakePublisher{})

	_, err := svc.Get(context.Background(), uuid.New())
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("error = %v, want ErrOrderNotFound", err)
	}
}
