package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pilot-net/cachet-agent/pkg/types"
)

const (
	defaultQueueSize    = 1024
	defaultWriteTimeout = 5 * time.Second
)

// Writer records results on its own goroutine. Add never blocks: when the
// queue is full the result is dropped and counted.
type Writer struct {
	rec     Recorder
	timeout time.Duration
	logger  *slog.Logger

	queue chan types.CheckResult
	done  chan struct{}

	mu      sync.Mutex
	closed  bool
	written int64
	failed  int64
	dropped int64
}

// WriterStats counts what happened to queued results.
type WriterStats struct {
	Written int64
	Failed  int64
	Dropped int64
}

// NewWriter starts a writer over rec. Zero values pick the defaults.
func NewWriter(rec Recorder, queueSize int, timeout time.Duration, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}

	w := &Writer{
		rec:     rec,
		timeout: timeout,
		logger:  logger.With("component", "history"),
		queue:   make(chan types.CheckResult, queueSize),
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

// Add queues r. It returns false if r was dropped.
func (w *Writer) Add(r types.CheckResult) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return false
	}
	select {
	case w.queue <- r:
		return true
	default:
		w.dropped++
		w.logger.Warn("history queue full, dropping result",
			"backend", w.rec.Backend(),
			"component_id", r.ComponentID,
			"dropped", w.dropped)
		return false
	}
}

func (w *Writer) run() {
	defer close(w.done)

	for r := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		err := w.rec.Record(ctx, r)
		cancel()

		w.mu.Lock()
		if err != nil {
			w.failed++
		} else {
			w.written++
		}
		w.mu.Unlock()

		if err != nil {
			w.logger.Warn("failed to record check result",
				"backend", w.rec.Backend(),
				"component_id", r.ComponentID,
				"error", err)
		}
	}
}

// Close stops accepting results and waits until the queue is drained.
// It does not close the underlying Recorder.
func (w *Writer) Close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()
	<-w.done
}

// Stats returns the current counters.
func (w *Writer) Stats() WriterStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WriterStats{Written: w.written, Failed: w.failed, Dropped: w.dropped}
}
