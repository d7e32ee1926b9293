package rabbit

import (
	"testing"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	failOn   string
	closeErr error
	calls    []string
	closed   int
}

func (f *fakeChannel) step(name string) error {
	f.calls = append(f.calls, name)
	if name == f.failOn {
		return errors.Newf("%s refused", name)
	}
	return nil
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	return f.step("exchange")
}

func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	return amqp.Queue{Name: name}, f.step("queue")
}

func (f *fakeChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	return f.step("bind " + key)
}

func (f *fakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	return f.step("qos")
}

func (f *fakeChannel) Close() error {
	f.closed++
	return f.closeErr
}

func TestDeclareQueue_ClosesChannelOnFailure(t *testing.T) {
	for _, step := range []string{"exchange", "queue", "bind purchase.completed", "qos"} {
		t.Run(step, func(t *testing.T) {
			ch := &fakeChannel{failOn: step}
			err := declareQueue(ch, QueueAvailability, []string{"purchase.completed", "concert.updated"})
			require.Error(t, err)
			assert.Contains(t, err.Error(), step+" refused")
			assert.Equal(t, 1, ch.closed)
			assert.Equal(t, step, ch.calls[len(ch.calls)-1])
		})
	}
}

func TestDeclareQueue_KeepsChannelOpenOnSuccess(t *testing.T) {
	ch := &fakeChannel{}
	require.NoError(t, declareQueue(ch, QueueAvailability, []string{"purchase.completed"}))
	assert.Equal(t, []string{"exchange", "queue", "bind purchase.completed", "qos"}, ch.calls)
	assert.Zero(t, ch.closed)
}

func TestCloseOnError(t *testing.T) {
	setupErr := errors.New("declare exchange failed")

	ch := &fakeChannel{closeErr: amqp.ErrClosed}
	assert.Equal(t, setupErr, closeOnError(ch, setupErr))

	ch = &fakeChannel{closeErr: errors.New("connection reset")}
	err := closeOnError(ch, setupErr)
	assert.True(t, errors.Is(err, setupErr))
	assert.Equal(t, 1, ch.closed)
}
