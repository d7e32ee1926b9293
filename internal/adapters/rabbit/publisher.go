package rabbit

import (
	"context"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

const ExchangeEvents = "gigster.events"

type Publisher struct {
	ch *amqp.Channel
}

func NewPublisher(conn *amqp.Connection) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "open channel")
	}
	if err := declareExchange(ch); err != nil {
		return nil, closeOnError(ch, err)
	}
	return &Publisher{ch: ch}, nil
}

// topology is the part of *amqp.Channel used to declare exchanges and queues.
type topology interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Close() error
}

// closeOnError releases a channel whose setup failed and returns the setup error.
func closeOnError(ch topology, err error) error {
	if cerr := ch.Close(); cerr != nil && !errors.Is(cerr, amqp.ErrClosed) {
		return errors.WithSecondaryError(err, cerr)
	}
	return err
}

func declareExchange(ch topology) error {
	err := ch.ExchangeDeclare(ExchangeEvents, "topic", true, false, false, false, nil)
	return errors.Wrapf(err, "declare exchange %s", ExchangeEvents)
}

func (p *Publisher) Publish(ctx context.Context, key string, msg amqp.Publishing) error {
	msg.DeliveryMode = amqp.Persistent
	return p.ch.PublishWithContext(ctx, ExchangeEvents, key, false, false, msg)
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}
