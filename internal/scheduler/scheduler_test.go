package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/avlonitis/synapse/internal/config"
	"github.com/avlonitis/synapse/internal/store"
)

type fakeDispatcher struct {
	mu      sync.Mutex
	calls   []string
	failFor map[string]bool
}

func (d *fakeDispatcher) Dispatch(_ context.Context, nodeName, prompt string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, nodeName+":"+prompt)
	if d.failFor[nodeName] {
		return fmt.Errorf("node %s unavailable", nodeName)
	}
	return nil
}

func (d *fakeDispatcher) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(config.StoreConfig{})
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPollDispatchesDueInjections(t *testing.T) {
	s := newTestStore(t)
	d := &fakeDispatcher{}
	sched := New(s, d, nil, config.SchedulerConfig{PollInterval: time.Hour})

	past := time.Now().Add(-time.Minute)
	_ = s.SaveInjection(&store.Injection{
		ID: "due", NodeName: "hub", Name: "due one",
		Schedule: `{"kind":"interval","interval_ms":60000}`,
		Prompt:   "check status", Status: "active", NextRunAt: &past,
	})
	future := time.Now().Add(time.Hour)
	_ = s.SaveInjection(&store.Injection{
		ID: "later", NodeName: "hub", Name: "not yet",
		Schedule: `{"kind":"interval","interval_ms":60000}`,
		Prompt:   "later", Status: "active", NextRunAt: &future,
	})

	sched.poll(context.Background())

	if d.callCount() != 1 {
		t.Fatalf("expected 1 dispatch, got %d", d.callCount())
	}
	if d.calls[0] != "hub:check status" {
		t.Errorf("unexpected dispatch %q", d.calls[0])
	}

	got, _ := s.GetInjection("due")
	if got.LastStatus != "success" {
		t.Errorf("expected success, got %q", got.LastStatus)
	}
	if got.NextRunAt == nil || !got.NextRunAt.After(time.Now()) {
		t.Error("expected interval injection to be rescheduled")
	}
}

func TestDispatchFailureRecorded(t *testing.T) {
	s := newTestStore(t)
	d := &fakeDispatcher{failFor: map[string]bool{"ghost": true}}
	sched := New(s, d, nil, config.SchedulerConfig{PollInterval: time.Hour})

	past := time.Now().Add(-time.Minute)
	_ = s.SaveInjection(&store.Injection{
		ID: "bad", NodeName: "ghost", Name: "fails",
		Schedule: `{"kind":"interval","interval_ms":60000}`,
		Prompt:   "hello", Status: "active", NextRunAt: &past,
	})

	sched.poll(context.Background())

	got, _ := s.GetInjection("bad")
	if got.LastStatus != "error" {
		t.Errorf("expected error status, got %q", got.LastStatus)
	}
	if got.LastError == "" {
		t.Error("expected last error to be recorded")
	}
}

func TestOneOffCompletes(t *testing.T) {
	s := newTestStore(t)
	d := &fakeDispatcher{}
	sched := New(s, d, nil, config.SchedulerConfig{PollInterval: time.Hour})

	past := time.Now().Add(-time.Minute)
	atMs := past.UnixMilli()
	_ = s.SaveInjection(&store.Injection{
		ID: "once", NodeName: "hub", Name: "one-shot",
		Schedule: fmt.Sprintf(`{"kind":"once","at_ms":%d}`, atMs),
		Prompt:   "fire once", Status: "active", NextRunAt: &past,
	})

	sched.poll(context.Background())

	got, _ := s.GetInjection("once")
	if got.Status != "completed" {
		t.Errorf("expected completed, got %q", got.Status)
	}

	// Second poll must not dispatch again.
	sched.poll(context.Background())
	if d.callCount() != 1 {
		t.Errorf("expected 1 dispatch, got %d", d.callCount())
	}
}

func TestStartStops(t *testing.T) {
	s := newTestStore(t)
	sched := New(s, &fakeDispatcher{}, nil, config.SchedulerConfig{PollInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sched.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
