package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"order-service/model"
)

// Sender delivers a single email. Implementations must tolerate duplicate
// deliveries: the queue guarantees at-least-once, not exactly-once.
type Sender interface {
	Send(ctx context.Context, msg model.EmailMessage) error
}

// Worker is the long-lived consumer side of the email queue. Broker outages
// are retried with a fixed backoff and never crash the process; individual
// message failures are nacked back onto the queue for another attempt.
type Worker struct {
	conn     *Conn
	sender   Sender
	prefetch int

	// SendTimeout bounds a single downstream delivery.
	SendTimeout time.Duration
}

func NewWorker(conn *Conn, sender Sender) *Worker {
	return &Worker{
		conn:        conn,
		sender:      sender,
		prefetch:    5,
		SendTimeout: 30 * time.Second,
	}
}

// Run consumes until ctx is cancelled. In-flight messages finish or are
// requeued by the broker when the connection drops.
func (w *Worker) Run(ctx context.Context) {
	for {
		if err := w.consume(ctx); err != nil {
			log.Printf("email worker: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

func (w *Worker) consume(ctx context.Context) error {
	ch, err := w.conn.Channel()
	if err != nil {
		return err
	}
	if err := ch.Qos(w.prefetch, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}

	deliveries, err := ch.Consume(Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("start consume: %w", err)
	}
	log.Printf("email worker listening on %s (prefetch %d)", Queue, w.prefetch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			if err := w.Process(ctx, d.Body); err != nil {
				log.Printf("email worker: delivery failed, requeueing: %v", err)
				if nackErr := d.Nack(false, true); nackErr != nil {
					log.Printf("email worker: nack failed: %v", nackErr)
				}
				continue
			}
			if ackErr := d.Ack(false); ackErr != nil {
				log.Printf("email worker: ack failed: %v", ackErr)
			}
		}
	}
}

// Process turns a raw queue body into one delivery attempt. It is a pure
// function of the message, which keeps it testable without a broker.
func (w *Worker) Process(ctx context.Context, body []byte) error {
	var msg model.EmailMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("decode email message: %w", err)
	}
	if msg.To == "" {
		return fmt.Errorf("email message has no recipient")
	}

	sendCtx, cancel := context.WithTimeout(ctx, w.SendTimeout)
	defer cancel()
	return w.sender.Send(sendCtx, msg)
}
