package intake

import (
	"context"
	"encoding/json"
	"time"

	"github.com/streadway/amqp"

	"github.com/crash-analysis/pkg/model"
)

// RoutingKey is the routing key of analyzed events.
const RoutingKey = "crash.analyzed"

// Channel is the part of *amqp.Channel a Publisher uses.
type Channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Publisher sends every stored report summary to an exchange.
type Publisher struct {
	ch       Channel
	exchange string
}

// NewPublisher returns a publisher on exchange.
func NewPublisher(ch Channel, exchange string) *Publisher {
	return &Publisher{ch: ch, exchange: exchange}
}

// Analyzed publishes report as JSON.
func (p *Publisher) Analyzed(_ context.Context, report *model.CrashReport) error {
	body, err := json.Marshal(report)
	if err != nil {
		return err
	}
	return p.ch.Publish(p.exchange, RoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    report.TaskUUID,
		Timestamp:    time.Now(),
		Body:         body,
	})
}
