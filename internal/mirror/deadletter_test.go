package mirror

import (
	"context"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDeadLetterChannel struct {
	queue    []amqp.Delivery
	depth    int
	getErr   error
	declared string
}

func (f *fakeDeadLetterChannel) Get(string, bool) (amqp.Delivery, bool, error) {
	if f.getErr != nil {
		return amqp.Delivery{}, false, f.getErr
	}
	if len(f.queue) == 0 {
		return amqp.Delivery{}, false, nil
	}
	msg := f.queue[0]
	f.queue = f.queue[1:]
	return msg, true, nil
}

func (f *fakeDeadLetterChannel) QueueDeclarePassive(name string, _, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	f.declared = name
	return amqp.Queue{Name: name, Messages: f.depth}, nil
}

func TestDeadLetterer_KeepsOriginalHeaders(t *testing.T) {
	pub := &fakePublisher{}
	d := NewDeadLetterer(pub, "products.sync.dlq", "products.sync")
	d.now = func() time.Time { return time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC) }

	msg := &amqp.Delivery{
		MessageId:   "m-1",
		Type:        "updated",
		ContentType: "application/json",
		Headers:     amqp.Table{"trace": "abc"},
		Body:        []byte(`{"id":1}`),
	}
	require.NoError(t, d.DeadLetter(context.Background(), msg, errStoreDown, 6))

	published := pub.published()
	require.Len(t, published, 1)
	got := published[0].msg
	assert.Equal(t, "m-1", got.MessageId)
	assert.Equal(t, "updated", got.Type)
	assert.Equal(t, "abc", got.Headers["trace"])
	assert.Equal(t, errStoreDown.Error(), got.Headers[HeaderError])
	assert.Equal(t, int32(6), got.Headers[HeaderAttempts])
	assert.Equal(t, "2026-03-01T08:00:00Z", got.Headers[HeaderFailedAt])
	assert.NotContains(t, msg.Headers, HeaderError, "delivery headers must not be mutated")
}

func TestDeadLetterQueue_Depth(t *testing.T) {
	ch := &fakeDeadLetterChannel{depth: 4}
	q := NewDeadLetterQueue(ch, &fakePublisher{}, "products.sync.dlq", "products.sync")

	n, err := q.Depth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "products.sync.dlq", ch.declared)
}

func TestDeadLetterQueue_Replay(t *testing.T) {
	newQueue := func(acks ...*fakeAcknowledger) *fakeDeadLetterChannel {
		ch := &fakeDeadLetterChannel{}
		for i, ack := range acks {
			ch.queue = append(ch.queue, amqp.Delivery{
				Acknowledger: ack,
				DeliveryTag:  uint64(i + 1),
				MessageId:    "m",
				Headers:      amqp.Table{HeaderError: "boom"},
				Body:         []byte(`{"id":1}`),
			})
		}
		return ch
	}

	t.Run("moves up to limit", func(t *testing.T) {
		a1, a2, a3 := &fakeAcknowledger{}, &fakeAcknowledger{}, &fakeAcknowledger{}
		pub := &fakePublisher{}
		q := NewDeadLetterQueue(newQueue(a1, a2, a3), pub, "products.sync.dlq", "products.sync")

		n, err := q.Replay(context.Background(), 2)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		published := pub.published()
		require.Len(t, published, 2)
		assert.Equal(t, "products.sync", published[0].queue)
		assert.NotEmpty(t, published[0].msg.Headers[HeaderReplayedAt])
		acks, _ := a2.counts()
		assert.Equal(t, 1, acks)
		acks, _ = a3.counts()
		assert.Equal(t, 0, acks)
	})

	t.Run("stops when queue is empty", func(t *testing.T) {
		q := NewDeadLetterQueue(newQueue(&fakeAcknowledger{}), &fakePublisher{}, "products.sync.dlq", "products.sync")

		n, err := q.Replay(context.Background(), 10)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("failed republish returns message to the dead-letter queue", func(t *testing.T) {
		ack := &fakeAcknowledger{}
		q := NewDeadLetterQueue(newQueue(ack), &fakePublisher{err: errors.New("nacked")}, "products.sync.dlq", "products.sync")

		n, err := q.Replay(context.Background(), 10)
		require.Error(t, err)
		assert.Equal(t, 0, n)
		acks, nacks := ack.counts()
		assert.Equal(t, 0, acks)
		assert.Equal(t, 1, nacks)
		assert.True(t, ack.requeue)
	})

	t.Run("get error", func(t *testing.T) {
		ch := &fakeDeadLetterChannel{getErr: errors.New("channel closed")}
		q := NewDeadLetterQueue(ch, &fakePublisher{}, "products.sync.dlq", "products.sync")

		_, err := q.Replay(context.Background(), 1)
		require.Error(t, err)
	})
}
