package intake

import (
	"fmt"

	"github.com/streadway/amqp"

	"github.com/crash-analysis/pkg/config"
)

// Client owns the broker connection of the service.
type Client struct {
	cfg  config.AMQPConfig
	conn *amqp.Connection
	ch   *amqp.Channel
}

// Dial connects to cfg.URL, declares the durable task queue and, when
// configured, the fanout exchange for analyzed events.
func Dial(cfg config.AMQPConfig) (*Client, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	c := &Client{cfg: cfg, conn: conn, ch: ch}

	if err := ch.Qos(max(cfg.Prefetch, 1), 0, false); err != nil {
		c.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		c.Close()
		return nil, fmt.Errorf("declare queue %s: %w", cfg.Queue, err)
	}
	if cfg.Exchange != "" {
		if err := ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
			c.Close()
			return nil, fmt.Errorf("declare exchange %s: %w", cfg.Exchange, err)
		}
	}
	return c, nil
}

// Deliveries starts consuming the task queue with manual acknowledgement.
func (c *Client) Deliveries() (<-chan amqp.Delivery, error) {
	return c.ch.Consume(c.cfg.Queue, "", false, false, false, false, nil)
}

// Publisher returns the analyzed-event publisher, or nil when no
// exchange is configured.
func (c *Client) Publisher() *Publisher {
	if c.cfg.Exchange == "" {
		return nil
	}
	return NewPublisher(c.ch, c.cfg.Exchange)
}

// Close closes the channel and the connection.
func (c *Client) Close() error {
	if c.ch != nil {
		c.ch.Close()
	}
	return c.conn.Close()
}
