package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pilot-net/cachet-agent/pkg/types"
)

// MockRecorder is a hand-written Recorder double.
type MockRecorder struct {
	RecordFunc func(ctx context.Context, r types.CheckResult) error

	mu       sync.Mutex
	recorded []types.CheckResult
}

func (m *MockRecorder) Record(ctx context.Context, r types.CheckResult) error {
	if m.RecordFunc != nil {
		if err := m.RecordFunc(ctx, r); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.recorded = append(m.recorded, r)
	m.mu.Unlock()
	return nil
}

func (m *MockRecorder) Recent(context.Context, int, int) ([]types.CheckResult, error) {
	return nil, nil
}

func (m *MockRecorder) Backend() string { return "mock" }

func (m *MockRecorder) Close() error { return nil }

func (m *MockRecorder) Recorded() []types.CheckResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.CheckResult(nil), m.recorded...)
}

func TestWriter_CloseDrainsQueue(t *testing.T) {
	rec := &MockRecorder{}
	w := NewWriter(rec, 10, time.Second, testLogger())

	for i := 1; i <= 5; i++ {
		if !w.Add(result(i, "x")) {
			t.Fatalf("result %d dropped", i)
		}
	}
	w.Close()

	got := rec.Recorded()
	if len(got) != 5 {
		t.Fatalf("expected 5 recorded, got %d", len(got))
	}
	for i, r := range got {
		if r.ComponentID != i+1 {
			t.Errorf("order: position %d has component %d", i, r.ComponentID)
		}
	}
	if s := w.Stats(); s.Written != 5 || s.Failed != 0 || s.Dropped != 0 {
		t.Errorf("stats: %+v", s)
	}
}

func TestWriter_SlowBackendDoesNotBlockAdd(t *testing.T) {
	release := make(chan struct{})
	rec := &MockRecorder{
		RecordFunc: func(ctx context.Context, r types.CheckResult) error {
			select {
			case <-release:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
	w := NewWriter(rec, 2, time.Minute, testLogger())

	start := time.Now()
	accepted := 0
	for i := 0; i < 10; i++ {
		if w.Add(result(i, "x")) {
			accepted++
		}
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Add blocked for %s", elapsed)
	}
	// One result may already be with the backend, two more fit the queue.
	if accepted > 3 {
		t.Errorf("accepted %d results with a queue of 2", accepted)
	}

	close(release)
	w.Close()

	s := w.Stats()
	if s.Dropped != int64(10-accepted) {
		t.Errorf("dropped: got %d, want %d", s.Dropped, 10-accepted)
	}
	if s.Written != int64(accepted) {
		t.Errorf("written: got %d, want %d", s.Written, accepted)
	}
}

func TestWriter_BackendErrorsAreCounted(t *testing.T) {
	rec := &MockRecorder{
		RecordFunc: func(context.Context, types.CheckResult) error {
			return errors.New("connection refused")
		},
	}
	w := NewWriter(rec, 0, 0, testLogger())
	w.Add(result(1, "x"))
	w.Add(result(2, "y"))
	w.Close()

	if s := w.Stats(); s.Failed != 2 || s.Written != 0 {
		t.Errorf("stats: %+v", s)
	}
}

func TestWriter_AddAfterClose(t *testing.T) {
	w := NewWriter(Nop{}, 0, 0, testLogger())
	w.Close()
	w.Close()

	if w.Add(result(1, "x")) {
		t.Error("expected Add after Close to be refused")
	}
}
