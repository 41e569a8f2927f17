package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"order-service/model"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ConfirmTimeout bounds how long a publish waits for the broker to confirm
// durable persistence.
const ConfirmTimeout = 5 * time.Second

// Producer publishes email messages with publisher confirms. A message does
// not count as sent until the broker has acknowledged it; a timeout or a
// nack surfaces as an error, never as a silent drop.
type Producer struct {
	conn *Conn
}

func NewProducer(conn *Conn) *Producer {
	return &Producer{conn: conn}
}

func (p *Producer) Publish(ctx context.Context, msg model.EmailMessage) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("enable confirms: %w", err)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal email message: %w", err)
	}

	confirmation, err := ch.PublishWithDeferredConfirmWithContext(ctx,
		Exchange,
		RoutingKey,
		true,  // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish email message: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, ConfirmTimeout)
	defer cancel()

	acked, err := confirmation.WaitContext(waitCtx)
	if err != nil {
		return fmt.Errorf("broker did not confirm within %s: %w", ConfirmTimeout, err)
	}
	if !acked {
		return fmt.Errorf("broker rejected email message for %s", msg.To)
	}
	return nil
}
