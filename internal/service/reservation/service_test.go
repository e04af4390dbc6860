package reservation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kirinyoku/dinetrack/internal/domain"
	"github.com/kirinyoku/dinetrack/internal/repository"
)

// fakeTableStore mirrors the conditional-write contract of the postgres
// repo: each mutation checks the current status under one lock, so two
// racing calls see exactly one winner.
type fakeTableStore struct {
	mu     sync.Mutex
	tables map[int64]*domain.Table

	failRelease map[int64]error
}

func newFakeTableStore(tables ...domain.Table) *fakeTableStore {
	s := &fakeTableStore{
		tables:      make(map[int64]*domain.Table),
		failRelease: make(map[int64]error),
	}
	for i := range tables {
		t := tables[i]
		s.tables[t.ID] = &t
	}
	return s
}

func availableTable(id int64, number int) domain.Table {
	return domain.Table{ID: id, Number: number, SeatCount: 4, Status: domain.TableAvailable}
}

func (s *fakeTableStore) List(ctx context.Context) ([]domain.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Table, 0, len(s.tables))
	for _, t := range s.tables {
		out = append(out, *t)
	}
	return out, nil
}

func (s *fakeTableStore) Get(ctx context.Context, id int64) (*domain.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *fakeTableStore) ListOccupied(ctx context.Context) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []int
	for _, t := range s.tables {
		if t.Status == domain.TableOccupied {
			out = append(out, t.Number)
		}
	}
	return out, nil
}

func (s *fakeTableStore) Hold(ctx context.Context, id int64, holderID string, expiresAt time.Time) (*domain.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if t.Status != domain.TableAvailable {
		return nil, repository.ErrNotAvailable
	}

	t.Status = domain.TableHeld
	t.HeldBy = &holderID
	t.HoldExpiresAt = &expiresAt
	cp := *t
	return &cp, nil
}

func (s *fakeTableStore) Occupy(ctx context.Context, id int64) (*domain.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if t.Status == domain.TableOccupied {
		return nil, repository.ErrCannotOccupy
	}

	t.Status = domain.TableOccupied
	t.HeldBy = nil
	t.HoldExpiresAt = nil
	cp := *t
	return &cp, nil
}

func (s *fakeTableStore) Release(ctx context.Context, id int64) (*domain.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if t.Status != domain.TableHeld {
		return nil, repository.ErrNotHeld
	}

	t.Status = domain.TableAvailable
	t.HeldBy = nil
	t.HoldExpiresAt = nil
	cp := *t
	return &cp, nil
}

func (s *fakeTableStore) ListExpired(ctx context.Context, now time.Time) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []int64
	for _, t := range s.tables {
		if t.Status == domain.TableHeld && t.HoldExpiresAt != nil && !t.HoldExpiresAt.After(now) {
			out = append(out, t.ID)
		}
	}
	return out, nil
}

func (s *fakeTableStore) ReleaseExpired(ctx context.Context, id int64, now time.Time) (*domain.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err, ok := s.failRelease[id]; ok {
		return nil, err
	}

	t, ok := s.tables[id]
	if !ok {
		return nil, repository.ErrNotHeld
	}
	if t.Status != domain.TableHeld || t.HoldExpiresAt == nil || t.HoldExpiresAt.After(now) {
		return nil, repository.ErrNotHeld
	}

	t.Status = domain.TableAvailable
	t.HeldBy = nil
	t.HoldExpiresAt = nil
	cp := *t
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

func newTestService(store TableStore, pub Publisher) *Service {
	return New(store, nil, pub, nil, nil, Config{HoldTTL: 2 * time.Minute})
}

func TestHold(t *testing.T) {
	store := newFakeTableStore(availableTable(7, 7))
	pub := &fakePublisher{}
	svc := newTestService(store, pub)

	got, err := svc.Hold(context.Background(), 7, "cust-A", "")
	if err != nil {
		t.Fatalf("Hold returned error: %v", err)
	}

	if got.Status != domain.TableHeld {
		t.Errorf("status = %q, want %q", got.Status, domain.TableHeld)
	}
	if got.HeldBy == nil || *got.HeldBy != "cust-A" {
		t.Errorf("HeldBy = %v, want cust-A", got.HeldBy)
	}
	if got.HoldExpiresAt == nil {
		t.Fatal("HoldExpiresAt not set on a held table")
	}

	events := pub.all()
	if len(events) != 1 {
		t.Fatalf("published %d events, want 1", len(events))
	}
	if events[0].channel != "table_7" {
		t.Errorf("event channel = %q, want table_7", events[0].channel)
	}
	if events[0].event.Type != domain.EventTableHeld {
		t.Errorf("event type = %q, want %q", events[0].event.Type, domain.EventTableHeld)
	}
}

func TestHoldOnHeldTable(t *testing.T) {
	store := newFakeTableStore(availableTable(7, 7))
	svc := newTestService(store, &fakePublisher{})

	if _, err := svc.Hold(context.Background(), 7, "cust-A", ""); err != nil {
		t.Fatalf("first hold failed: %v", err)
	}

	_, err := svc.Hold(context.Background(), 7, "cust-B", "")
	if !errors.Is(err, ErrTableNotAvailable) {
		t.Fatalf("second hold error = %v, want ErrTableNotAvailable", err)
	}
}

func TestHoldUnknownTable(t *testing.T) {
	svc := newTestService(newFakeTableStore(), &fakePublisher{})

	_, err := svc.Hold(context.Background(), 42, "cust-A", "")
	if !errors.Is(err, ErrTableNotFound) {
		t.Fatalf("error = %v, want ErrTableNotFound", err)
	}
}

func TestHoldMissingHolder(t *testing.T) {
	svc := newTestService(newFakeTableStore(availableTable(1, 1)), &fakePublisher{})

	if _, err := svc.Hold(context.Background(), 1, "", ""); err == nil {
		t.Fatal("expected error for empty holder id")
	}
}

func TestConcurrentHoldsOneWinner(t *testing.T) {
	store := newFakeTableStore(availableTable(7, 7))
	svc := newTestService(store, &fakePublisher{})

	var wg sync.WaitGroup
	results := make(chan error, 2)

	for _, holder := range []string{"cust-A", "cust-B"} {
		wg.Add(1)
		go func(h string) {
			defer wg.Done()
			_, err := svc.Hold(context.Background(), 7, h, "")
			results <- err
		}(holder)
	}
	wg.Wait()
	close(results)

	var wins, losses int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrTableNotAvailable):
			losses++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if wins != 1 || losses != 1 {
		t.Fatalf("wins = %d, losses = %d; want exactly one of each", wins, losses)
	}
}

func TestOccupyConfirmsHoldAndClearsFields(t *testing.T) {
	store := newFakeTableStore(availableTable(7, 7))
	pub := &fakePublisher{}
	svc := newTestService(store, pub)

	if _, err := svc.Hold(context.Background(), 7, "cust-A", ""); err != nil {
		t.Fatalf("hold failed: %v", err)
	}

	got, err := svc.Occupy(context.Background(), 7)
	if err != nil {
		t.Fatalf("occupy failed: %v", err)
	}

	if got.Status != domain.TableOccupied {
		t.Errorf("status = %q, want %q", got.Status, domain.TableOccupied)
	}
	if got.HeldBy != nil || got.HoldExpiresAt != nil {
		t.Error("hold fields must be cleared when a table becomes occupied")
	}

	_, err = svc.Occupy(context.Background(), 7)
	if !errors.Is(err, ErrCannotOccupy) {
		t.Fatalf("second occupy error = %v, want ErrCannotOccupy", err)
	}

	events := pub.all()
	if len(events) != 2 {
		t.Fatalf("published %d events, want 2", len(events))
	}
	if events[1].event.Type != domain.EventTableOccupied {
		t.Errorf("second event type = %q, want %q", events[1].event.Type, domain.EventTableOccupied)
	}
}

func TestReleaseNotHeld(t *testing.T) {
	svc := newTestService(newFakeTableStore(availableTable(1, 1)), &fakePublisher{})

	_, err := svc.Release(context.Background(), 1)
	if !errors.Is(err, ErrTableNotHeld) {
		t.Fatalf("error = %v, want ErrTableNotHeld", err)
	}
}

func TestExpireReleasesLapsedHolds(t *testing.T) {
	past := time.Now().Add(-time.Minute)
	holder := "cust-A"

	heldExpired := func(id int64) domain.Table {
		return domain.Table{
			ID: id, Number: int(id), SeatCount: 4,
			Status: domain.TableHeld, HeldBy: &holder, HoldExpiresAt: &past,
		}
	}

	store := newFakeTableStore(heldExpired(1), heldExpired(2), heldExpired(3), availableTable(4, 4))
	pub := &fakePublisher{}
	svc := newTestService(store, pub)

	released, err := svc.Expire(context.Background())
	if err != nil {
		t.Fatalf("Expire returned error: %v", err)
	}
	if released != 3 {
		t.Fatalf("released = %d, want 3", released)
	}

	for _, id := range []int64{1, 2, 3} {
		got, err := store.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("get table %d: %v", id, err)
		}
		if got.Status != domain.TableAvailable {
			t.Errorf("table %d status = %q, want available", id, got.Status)
		}
		if got.HeldBy != nil || got.HoldExpiresAt != nil {
			t.Errorf("table %d hold fields not cleared", id)
		}
	}

	events := pub.all()
	if len(events) != 3 {
		t.Fatalf("published %d events, want 3", len(events))
	}
	for _, e := range events {
		if e.event.Type != domain.EventTableReleased {
			t.Errorf("event type = %q, want %q", e.event.Type, domain.EventTableReleased)
		}
	}
}

func TestExpireIsolatesFailures(t *testing.T) {
	past := time.Now().Add(-time.Minute)
	holder := "cust-A"

	store := newFakeTableStore()
	for id := int64(1); id <= 3; id++ {
		h := holder
		p := past
		store.tables[id] = &domain.Table{
			ID: id, Number: int(id), SeatCount: 4,
			Status: domain.TableHeld, HeldBy: &h, HoldExpiresAt: &p,
		}
	}
	store.failRelease[2] = errors.New("connection reset")

	pub := &fakePublisher{}
	svc := newTestService(store, pub)

	released, err := svc.Expire(context.Background())
	if err != nil {
		t.Fatalf("Expire returned error: %v", err)
	}
	if released != 2 {
		t.Fatalf("released = %d, want 2 despite one failure", released)
	}

	if len(pub.all()) != 2 {
		t.Fatalf("published %d events, want 2", len(pub.all()))
	}
}

func TestExpireSkipsHoldsLostToOccupy(t *testing.T) {
	// The sweep scan sees an expired hold, but an occupy lands before
	// the conditional release; the release must be a silent no-op.
	past := time.Now().Add(-time.Minute)
	holder := "cust-A"
	store := newFakeTableStore(domain.Table{
		ID: 1, Number: 1, SeatCount: 4,
		Status: domain.TableHeld, HeldBy: &holder, HoldExpiresAt: &past,
	})
	store.failRelease[1] = repository.ErrNotHeld

	svc := newTestService(store, &fakePublisher{})

	released, err := svc.Expire(context.Background())
	if err != nil {
		t.Fatalf("Expire returned error: %v", err)
	}
	if released != 0 {
		t.Fatalf("released = %d, want 0", released)
	}
}
