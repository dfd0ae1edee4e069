package intake

import (
	"context"
	"errors"

	"github.com/streadway/amqp"

	"github.com/crash-analysis/internal/repository"
	apperrors "github.com/crash-analysis/pkg/errors"
	"github.com/crash-analysis/pkg/utils"
)

// ErrDeliveriesClosed is returned by Run when the broker closes the
// delivery channel.
var ErrDeliveriesClosed = errors.New("amqp delivery channel closed")

// Consumer turns deliveries into pending crash tasks.
type Consumer struct {
	tasks  repository.TaskRepository
	logger utils.Logger
}

// NewConsumer returns a consumer storing tasks in tasks.
func NewConsumer(tasks repository.TaskRepository, logger utils.Logger) *Consumer {
	if logger == nil {
		logger = &utils.NullLogger{}
	}
	return &Consumer{tasks: tasks, logger: logger}
}

// Run handles deliveries until ctx is done or the channel closes.
func (c *Consumer) Run(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return ErrDeliveriesClosed
			}
			if err := c.Handle(ctx, d); err != nil {
				c.logger.Warn("Failed to acknowledge delivery %d: %v", d.DeliveryTag, err)
			}
		}
	}
}

// Handle creates the task of one delivery and settles it: malformed
// messages are rejected, database failures requeued, and redelivered
// tasks acknowledged without a second insert.
func (c *Consumer) Handle(ctx context.Context, d amqp.Delivery) error {
	msg, err := DecodeMessage(d.Body)
	if err != nil {
		c.logger.Warn("Dropping delivery %d: %v", d.DeliveryTag, err)
		return d.Reject(false)
	}
	log := c.logger.WithField("uuid", msg.UUID)

	_, err = c.tasks.GetTaskByUUID(ctx, msg.UUID)
	switch {
	case err == nil:
		log.Info("Task already queued, acknowledging redelivery")
		return d.Ack(false)
	case !errors.Is(err, apperrors.ErrNotFound):
		log.Error("Failed to look up task: %v", err)
		return d.Nack(false, true)
	}

	task := msg.Task()
	if err := c.tasks.CreateTask(ctx, task); err != nil {
		log.Error("Failed to create task: %v", err)
		return d.Nack(false, true)
	}
	log.Info("Queued task %d for %s", task.ID, task.DumpKey)
	return d.Ack(false)
}
