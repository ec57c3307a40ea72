package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"klaxon/internal/models"
)

// mockProcessor counts calls and returns scripted results
type mockProcessor struct {
	calls    atomic.Int64
	alertIDs []string
	err      error
	panics   atomic.Bool
	block    chan struct{}
}

func (m *mockProcessor) ProcessEvent(ctx context.Context, event *models.Event, tenant string) ([]string, error) {
	m.calls.Add(1)
	if m.block != nil {
		<-m.block
	}
	if m.panics.Load() {
		panic("boom")
	}
	return m.alertIDs, m.err
}

func testEvent(id string) *models.Event {
	return &models.Event{
		ID:        id,
		TenantID:  "tenant-1",
		Type:      "user_login",
		Timestamp: time.Now().UTC(),
	}
}

// waitFor polls until the condition holds or the deadline passes
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestPoolProcessesEvents(t *testing.T) {
	proc := &mockProcessor{alertIDs: []string{"alert-1"}}
	pool := NewPool(Config{Processor: proc, Workers: 2, QueueSize: 16})
	pool.Start()

	for i := 0; i < 5; i++ {
		if err := pool.Submit(testEvent("evt")); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}

	waitFor(t, 2*time.Second, func() bool {
		return pool.Stats().Processed == 5
	})
	pool.Stop()

	stats := pool.Stats()
	if stats.Submitted != 5 {
		t.Errorf("submitted = %d, want 5", stats.Submitted)
	}
	if stats.AlertsCreated != 5 {
		t.Errorf("alerts created = %d, want 5", stats.AlertsCreated)
	}
	if stats.Failed != 0 {
		t.Errorf("failed = %d, want 0", stats.Failed)
	}
}

func TestPoolCountsFailures(t *testing.T) {
	proc := &mockProcessor{err: errors.New("store down")}
	pool := NewPool(Config{Processor: proc, Workers: 1, QueueSize: 4})
	pool.Start()

	if err := pool.Submit(testEvent("evt-1")); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return pool.Stats().Failed == 1
	})
	pool.Stop()
}

func TestPoolRecoversFromPanic(t *testing.T) {
	proc := &mockProcessor{}
	proc.panics.Store(true)
	pool := NewPool(Config{Processor: proc, Workers: 1, QueueSize: 4})
	pool.Start()

	if err := pool.Submit(testEvent("evt-1")); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return pool.Stats().Failed == 1
	})

	// The worker survived the panic and keeps processing.
	proc.panics.Store(false)
	if err := pool.Submit(testEvent("evt-2")); err != nil {
		t.Fatalf("submit after panic failed: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		return pool.Stats().Processed == 1
	})
	pool.Stop()
}

func TestPoolBackpressure(t *testing.T) {
	block := make(chan struct{})
	proc := &mockProcessor{block: block}
	pool := NewPool(Config{Processor: proc, Workers: 1, QueueSize: 2})
	pool.Start()
	defer func() {
		close(block)
		pool.Stop()
	}()

	// The worker blocks on its first event, so the bounded queue fills
	// and further submits are rejected rather than blocking.
	sawFull := false
	for i := 0; i < 10; i++ {
		if errors.Is(pool.Submit(testEvent("evt")), ErrQueueFull) {
			sawFull = true
			break
		}
	}

	if !sawFull {
		t.Fatal("expected ErrQueueFull once the queue filled")
	}
	if pool.Stats().Dropped == 0 {
		t.Error("expected dropped events under backpressure")
	}
}

func TestPoolStopDrainsQueue(t *testing.T) {
	proc := &mockProcessor{}
	pool := NewPool(Config{Processor: proc, Workers: 2, QueueSize: 64})
	pool.Start()

	for i := 0; i < 20; i++ {
		if err := pool.Submit(testEvent("evt")); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}

	pool.Stop()

	if got := pool.Stats().Processed; got != 20 {
		t.Errorf("processed = %d after Stop, want 20 (queue must drain)", got)
	}

	if err := pool.Submit(testEvent("late")); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("submit after stop = %v, want ErrPoolClosed", err)
	}
}
