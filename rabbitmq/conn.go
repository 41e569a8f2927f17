package rabbitmq

import (
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	Exchange   = "email"
	RoutingKey = "email.send"
	Queue      = "email.send.q"
)

// Conn is an explicitly owned broker connection with a lazy reconnect
// lifecycle. Producer and worker each get their own Conn injected; nothing
// is shared through package state.
type Conn struct {
	url string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// Dial connects to the broker, retrying a few times so container startup
// order does not matter.
func Dial(url string) (*Conn, error) {
	c := &Conn{url: url}

	var err error
	for i := 1; i <= 5; i++ {
		if _, err = c.Channel(); err == nil {
			return c, nil
		}
		log.Printf("Waiting for RabbitMQ... (%d/5) Error: %v", i, err)
		time.Sleep(2 * time.Second)
	}
	return nil, fmt.Errorf("could not connect to RabbitMQ: %w", err)
}

// Channel returns the current channel, reopening connection and channel if
// either has been closed underneath us.
func (c *Conn) Channel() (*amqp.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ch != nil && !c.ch.IsClosed() {
		return c.ch, nil
	}

	if c.conn == nil || c.conn.IsClosed() {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			return nil, fmt.Errorf("dial broker: %w", err)
		}
		c.conn = conn
	}

	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := declareTopology(ch); err != nil {
		ch.Close()
		return nil, err
	}

	c.ch = ch
	return ch, nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ch != nil {
		c.ch.Close()
		c.ch = nil
	}
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

// declareTopology sets up the fixed wiring: one direct exchange, one durable
// queue, one routing key.
func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(Exchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(Queue, RoutingKey, Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	return nil
}
