package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siteprobe/siteprobe-be/internal/queue"
)

func TestStartMessageDispatcher(t *testing.T) {
	t.Run("closed delivery channel signals reconnect", func(t *testing.T) {
		w := NewWorker(&Config{Logger: slog.Default(), Concurrency: 1})

		deliveries := make(chan amqp.Delivery)
		close(deliveries)

		err := w.startMessageDispatcher(context.Background(), deliveries)

		// Non-nil return is what keeps the consume loop redialing instead
		// of the worker going quiet after a broker restart
		assert.ErrorIs(t, err, errDeliveriesClosed)
	})

	t.Run("context cancellation returns nil", func(t *testing.T) {
		w := NewWorker(&Config{Logger: slog.Default(), Concurrency: 1})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := w.startMessageDispatcher(ctx, make(chan amqp.Delivery))

		assert.NoError(t, err)
	})

	t.Run("malformed body is nacked without requeue", func(t *testing.T) {
		w := NewWorker(&Config{Logger: slog.Default(), Concurrency: 1})
		ack := &fakeAcknowledger{}

		deliveries := make(chan amqp.Delivery, 1)
		deliveries <- amqp.Delivery{
			Acknowledger: ack,
			DeliveryTag:  4,
			Body:         []byte(`{not json`),
		}
		close(deliveries)

		err := w.startMessageDispatcher(context.Background(), deliveries)

		assert.ErrorIs(t, err, errDeliveriesClosed)
		require.Len(t, ack.nacks, 1)
		assert.Equal(t, nackCall{tag: 4, requeue: false}, ack.nacks[0])
	})

	t.Run("valid job reaches the pool with its delivery", func(t *testing.T) {
		w := NewWorker(&Config{Logger: slog.Default(), Concurrency: 1})
		ack := &fakeAcknowledger{}

		payload, err := queue.NewJobPayload("scan-1", "https://example.com", nil, true, nil)
		require.NoError(t, err)
		body, err := json.Marshal(payload)
		require.NoError(t, err)

		deliveries := make(chan amqp.Delivery, 1)
		deliveries <- amqp.Delivery{
			Acknowledger: ack,
			DeliveryTag:  5,
			Body:         body,
		}

		done := make(chan error, 1)
		go func() {
			done <- w.startMessageDispatcher(context.Background(), deliveries)
		}()

		select {
		case msg := <-w.jobsChan:
			assert.Equal(t, payload, msg.Payload)
			assert.Equal(t, uint64(5), msg.Delivery.DeliveryTag)
		case <-time.After(2 * time.Second):
			t.Fatal("dispatcher never handed the job to the pool")
		}

		close(deliveries)
		select {
		case err := <-done:
			assert.ErrorIs(t, err, errDeliveriesClosed)
		case <-time.After(2 * time.Second):
			t.Fatal("dispatcher did not stop after delivery channel closed")
		}
	})
}
