package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"supportdraft/internal/domain"
	"supportdraft/internal/metrics"
)

var (
	ErrClosed = errors.New("dispatcher is closed")
	ErrFull   = errors.New("dispatcher backlog is full")
)

// Processor handles one inquiry end to end
type Processor interface {
	Process(ctx context.Context, inq domain.Inquiry) error
}

// InProcessDispatcher runs inquiries on background goroutines with bounded
// concurrency. At most backlog inquiries wait for a free worker; past that
// Dispatch fails with ErrFull.
type InProcessDispatcher struct {
	proc    Processor
	sem     chan struct{}
	pending chan struct{}
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewInProcessDispatcher(proc Processor, concurrency, backlog int, timeout time.Duration) *InProcessDispatcher {
	if concurrency <= 0 {
		concurrency = 4
	}
	if backlog <= 0 {
		backlog = 64
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &InProcessDispatcher{
		proc:    proc,
		sem:     make(chan struct{}, concurrency),
		pending: make(chan struct{}, concurrency+backlog),
		timeout: timeout,
	}
}

// Dispatch schedules inq and returns immediately. The inquiry outlives the
// caller's context, which is usually an HTTP request.
func (d *InProcessDispatcher) Dispatch(ctx context.Context, inq domain.Inquiry) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		metrics.QueueMessages.WithLabelValues("enqueue", "rejected").Inc()
		return ErrClosed
	}

	select {
	case d.pending <- struct{}{}:
	default:
		d.mu.Unlock()
		metrics.QueueMessages.WithLabelValues("enqueue", "rejected").Inc()
		return ErrFull
	}
	d.wg.Add(1)
	d.mu.Unlock()

	metrics.QueueMessages.WithLabelValues("enqueue", "success").Inc()

	runCtx := context.WithoutCancel(ctx)
	go func() {
		defer d.wg.Done()
		defer func() { <-d.pending }()

		d.sem <- struct{}{}
		defer func() { <-d.sem }()

		ctx, cancel := context.WithTimeout(runCtx, d.timeout)
		defer cancel()

		if err := d.proc.Process(ctx, inq); err != nil {
			metrics.QueueMessages.WithLabelValues("process", "error").Inc()
			slog.Error("Inquiry processing failed", "chat_id", inq.ChatID, "event_id", inq.EventID, "error", err)
			return
		}
		metrics.QueueMessages.WithLabelValues("process", "success").Inc()
	}()
	return nil
}

// Close stops accepting inquiries and waits for running ones until ctx is done
func (d *InProcessDispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
