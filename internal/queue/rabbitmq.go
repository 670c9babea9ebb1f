package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"supportdraft/internal/domain"
	"supportdraft/internal/metrics"
)

// Connect dials the broker and checks that a channel can be opened
func Connect(ctx context.Context, url string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq failed: %w", err)
	}

	checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		ch, err := conn.Channel()
		if err == nil {
			err = ch.Close()
		}
		done <- err
	}()

	select {
	case <-checkCtx.Done():
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq health check timeout: %w", checkCtx.Err())
	case err := <-done:
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("open rabbitmq channel failed: %w", err)
		}
		return conn, nil
	}
}

func declareQueue(ch *amqp.Channel, name string) error {
	_, err := ch.QueueDeclare(
		name,
		true,
		false,
		false,
		false,
		nil,
	)
	return err
}

// Publisher sends inquiries to a durable queue
type Publisher struct {
	conn      *amqp.Connection
	queueName string
}

func NewPublisher(conn *amqp.Connection, queueName string) *Publisher {
	return &Publisher{conn: conn, queueName: queueName}
}

func (p *Publisher) Dispatch(ctx context.Context, inq domain.Inquiry) error {
	ch, err := p.conn.Channel()
	if err != nil {
		metrics.QueueMessages.WithLabelValues("enqueue", "error").Inc()
		return fmt.Errorf("open rabbitmq channel failed: %w", err)
	}
	defer ch.Close()

	if err := declareQueue(ch, p.queueName); err != nil {
		metrics.QueueMessages.WithLabelValues("enqueue", "error").Inc()
		return fmt.Errorf("declare queue failed: %w", err)
	}

	payload, err := json.Marshal(inq)
	if err != nil {
		return fmt.Errorf("marshal inquiry failed: %w", err)
	}

	if err := ch.PublishWithContext(
		ctx,
		"",
		p.queueName,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			MessageId:    inq.EventID,
			Timestamp:    inq.ReceivedAt,
			Body:         payload,
			DeliveryMode: amqp.Persistent,
		},
	); err != nil {
		metrics.QueueMessages.WithLabelValues("enqueue", "error").Inc()
		return fmt.Errorf("publish inquiry failed: %w", err)
	}

	metrics.QueueMessages.WithLabelValues("enqueue", "success").Inc()
	return nil
}

// Worker consumes inquiries from the queue and runs them through a Processor
type Worker struct {
	conn      *amqp.Connection
	proc      Processor
	queueName string
	timeout   time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewWorker(conn *amqp.Connection, proc Processor, queueName string, timeout time.Duration) *Worker {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Worker{
		conn:      conn,
		proc:      proc,
		queueName: queueName,
		timeout:   timeout,
	}
}

func (w *Worker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}

	if err := declareQueue(ch, w.queueName); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("declare worker queue failed: %w", err)
	}

	// one unacknowledged inquiry at a time
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("set worker qos failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	slog.Info("Inquiry worker started", "queue", w.queueName)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					slog.Warn("Inquiry delivery channel closed", "queue", w.queueName)
					return
				}
				w.handle(workerCtx, d)
			}
		}
	}()

	return nil
}

// handle processes one delivery. A failed inquiry is requeued once; a
// malformed or invalid one is dropped.
func (w *Worker) handle(ctx context.Context, d amqp.Delivery) {
	var inq domain.Inquiry
	if err := json.Unmarshal(d.Body, &inq); err != nil {
		slog.Error("Worker failed to decode inquiry", "error", err)
		metrics.QueueMessages.WithLabelValues("process", "malformed").Inc()
		_ = d.Nack(false, false)
		return
	}

	processCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.timeout)
	defer cancel()

	err := w.proc.Process(processCtx, inq)
	switch {
	case err == nil:
		metrics.QueueMessages.WithLabelValues("process", "success").Inc()
		_ = d.Ack(false)
	case errors.Is(err, domain.ErrInvalidInput) || d.Redelivered:
		slog.Error("Dropping inquiry", "chat_id", inq.ChatID, "event_id", inq.EventID, "redelivered", d.Redelivered, "error", err)
		metrics.QueueMessages.WithLabelValues("process", "dropped").Inc()
		_ = d.Nack(false, false)
	default:
		slog.Warn("Requeueing inquiry", "chat_id", inq.ChatID, "event_id", inq.EventID, "error", err)
		metrics.QueueMessages.WithLabelValues("process", "requeued").Inc()
		_ = d.Nack(false, true)
	}
}

func (w *Worker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
