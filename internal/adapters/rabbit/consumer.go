package rabbit

import (
	"context"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

const QueueAvailability = "availability.q"

type Consumer struct {
	ch    *amqp.Channel
	queue string
}

// NewConsumer declares a durable queue bound to the events exchange for each
// routing key.
func NewConsumer(conn *amqp.Connection, queue string, keys ...string) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "open channel")
	}
	if err := declareQueue(ch, queue, keys); err != nil {
		return nil, err
	}
	return &Consumer{ch: ch, queue: queue}, nil
}

// declareQueue closes ch when any declaration fails.
func declareQueue(ch topology, queue string, keys []string) (err error) {
	defer func() {
		if err != nil {
			err = closeOnError(ch, err)
		}
	}()
	if err := declareExchange(ch); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return errors.Wrapf(err, "declare queue %s", queue)
	}
	for _, key := range keys {
		if err := ch.QueueBind(queue, key, ExchangeEvents, false, nil); err != nil {
			return errors.Wrapf(err, "bind %s to %s", queue, key)
		}
	}
	return errors.Wrap(ch.Qos(16, 0, false), "set prefetch")
}

// Consume starts delivery with manual acks. The channel closes when ctx is
// done or the connection drops.
func (c *Consumer) Consume(ctx context.Context) (<-chan amqp.Delivery, error) {
	return c.ch.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
}

func (c *Consumer) Close() error {
	return c.ch.Close()
}
