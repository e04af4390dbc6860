package sweeper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeExpirer struct {
	mu    sync.Mutex
	calls int
	errs  []error
}

func (f *fakeExpirer) Expire(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return 0, err
		}
	}
	return 1, nil
}

func (f *fakeExpirer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestRunSweepsRepeatedly(t *testing.T) {
	exp := &fakeExpirer{}
	sw := New(exp, 5*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sw.Run(ctx) }()

	deadline := time.After(time.Second)
	for exp.count() < 3 {
		select {
		case <-deadline:
			t.Fatal("sweeper did not tick 3 times within a second")
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}
}

func TestRunSurvivesFailedPass(t *testing.T) {
	exp := &fakeExpirer{errs: []error{errors.New("connection refused")}}
	sw := New(exp, 5*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sw.Run(ctx)

	deadline := time.After(time.Second)
	for exp.count() < 2 {
		select {
		case <-deadline:
			t.Fatal("sweeper stopped after a failed pass")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestNewDefaultsInterval(t *testing.T) {
	sw := New(&fakeExpirer{}, 0, nil)
	if sw.interval != 30*time.Second {
		t.Errorf("default interval = %s, want 30s", sw.interval)
	}
}
