package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supportdraft/internal/domain"
)

type fakeProcessor struct {
	mu       sync.Mutex
	seen     []domain.Inquiry
	err      error
	block    chan struct{}
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (f *fakeProcessor) Process(ctx context.Context, inq domain.Inquiry) error {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}

	if f.block != nil {
		<-f.block
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, inq)
	return f.err
}

func (f *fakeProcessor) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

func TestInProcessDispatcher_OutlivesRequestContext(t *testing.T) {
	proc := &fakeProcessor{}
	d := NewInProcessDispatcher(proc, 2, 0, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, d.Dispatch(ctx, domain.Inquiry{ChatID: "chat-1", Query: "q"}))
	cancel()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer closeCancel()
	require.NoError(t, d.Close(closeCtx))

	assert.Equal(t, 1, proc.count())
}

func TestInProcessDispatcher_BoundsConcurrency(t *testing.T) {
	proc := &fakeProcessor{block: make(chan struct{})}
	d := NewInProcessDispatcher(proc, 2, 0, time.Second)

	for i := 0; i < 6; i++ {
		require.NoError(t, d.Dispatch(context.Background(), domain.Inquiry{ChatID: fmt.Sprintf("chat-%d", i)}))
	}

	time.Sleep(50 * time.Millisecond)
	close(proc.block)

	closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.Close(closeCtx))

	assert.Equal(t, 6, proc.count())
	assert.LessOrEqual(t, proc.maxSeen.Load(), int32(2))
}

func TestInProcessDispatcher_RejectsWhenBacklogIsFull(t *testing.T) {
	proc := &fakeProcessor{block: make(chan struct{})}
	d := NewInProcessDispatcher(proc, 1, 2, time.Second)

	// one running plus two waiting
	for i := 0; i < 3; i++ {
		require.NoError(t, d.Dispatch(context.Background(), domain.Inquiry{ChatID: fmt.Sprintf("chat-%d", i)}))
	}
	err := d.Dispatch(context.Background(), domain.Inquiry{ChatID: "chat-overflow"})
	assert.ErrorIs(t, err, ErrFull)

	close(proc.block)
	closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.Close(closeCtx))
	assert.Equal(t, 3, proc.count())

	// slots are released once inquiries finish
	d2 := NewInProcessDispatcher(&fakeProcessor{}, 1, 1, time.Second)
	for i := 0; i < 5; i++ {
		require.Eventually(t, func() bool {
			return d2.Dispatch(context.Background(), domain.Inquiry{ChatID: "chat-1"}) == nil
		}, time.Second, time.Millisecond)
	}
	require.NoError(t, d2.Close(closeCtx))
}

func TestInProcessDispatcher_RejectsAfterClose(t *testing.T) {
	d := NewInProcessDispatcher(&fakeProcessor{}, 1, 0, time.Second)
	require.NoError(t, d.Close(context.Background()))

	err := d.Dispatch(context.Background(), domain.Inquiry{ChatID: "chat-1"})
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestInProcessDispatcher_CloseTimesOut(t *testing.T) {
	proc := &fakeProcessor{block: make(chan struct{})}
	defer close(proc.block)

	d := NewInProcessDispatcher(proc, 1, 0, time.Second)
	require.NoError(t, d.Dispatch(context.Background(), domain.Inquiry{ChatID: "chat-1"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Close(ctx), context.DeadlineExceeded)
}

type ackRecord struct {
	acked   bool
	nacked  bool
	requeue bool
}

type fakeAcknowledger struct {
	mu  sync.Mutex
	rec ackRecord
}

func (a *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rec.acked = true
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rec.nacked = true
	a.rec.requeue = requeue
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func delivery(t *testing.T, body []byte, redelivered bool) (amqp.Delivery, *fakeAcknowledger) {
	t.Helper()
	ack := &fakeAcknowledger{}
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: body, Redelivered: redelivered}, ack
}

func TestWorker_Handle(t *testing.T) {
	inq := domain.Inquiry{EventID: "evt-1", ChatID: "chat-1", Query: "返品したい"}
	body, err := json.Marshal(inq)
	require.NoError(t, err)

	tests := []struct {
		name        string
		body        []byte
		procErr     error
		redelivered bool
		want        ackRecord
	}{
		{"processed", body, nil, false, ackRecord{acked: true}},
		{"malformed body", []byte("{"), nil, false, ackRecord{nacked: true}},
		{"invalid inquiry", body, fmt.Errorf("%w: no text", domain.ErrInvalidInput), false, ackRecord{nacked: true}},
		{"transient failure", body, errors.New("slack down"), false, ackRecord{nacked: true, requeue: true}},
		{"failure after redelivery", body, errors.New("slack down"), true, ackRecord{nacked: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := &fakeProcessor{err: tt.procErr}
			w := NewWorker(nil, proc, "inquiries", time.Second)

			d, ack := delivery(t, tt.body, tt.redelivered)
			w.handle(context.Background(), d)

			assert.Equal(t, tt.want, ack.rec)
		})
	}
}

func TestWorker_HandleDecodesInquiry(t *testing.T) {
	received := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)
	inq := domain.Inquiry{EventID: "evt-1", ChatID: "chat-1", Query: "配送状況", CustomerName: "山田", ReceivedAt: received}
	body, err := json.Marshal(inq)
	require.NoError(t, err)

	proc := &fakeProcessor{}
	w := NewWorker(nil, proc, "inquiries", time.Second)

	d, _ := delivery(t, body, false)
	w.handle(context.Background(), d)

	require.Equal(t, 1, proc.count())
	assert.Equal(t, inq, proc.seen[0])
}
