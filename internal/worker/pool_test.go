package worker

import (
	"errors"
	"log/slog"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siteprobe/siteprobe-be/internal/queue"
	"github.com/siteprobe/siteprobe-be/internal/worker/domain"
)

type nackCall struct {
	tag     uint64
	requeue bool
}

// fakeAcknowledger records settle calls the way a live channel would receive
// them.
type fakeAcknowledger struct {
	acks  []uint64
	nacks []nackCall
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	f.acks = append(f.acks, tag)
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	f.nacks = append(f.nacks, nackCall{tag: tag, requeue: requeue})
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	f.nacks = append(f.nacks, nackCall{tag: tag, requeue: requeue})
	return nil
}

func newScanMessage(t *testing.T, ack amqp.Acknowledger, tag uint64) *domain.ScanMessage {
	t.Helper()

	payload, err := queue.NewJobPayload("scan-1", "https://example.com", nil, true, nil)
	require.NoError(t, err)

	return &domain.ScanMessage{
		Payload: payload,
		Delivery: amqp.Delivery{
			Acknowledger: ack,
			DeliveryTag:  tag,
		},
	}
}

func TestSettleDelivery(t *testing.T) {
	t.Run("success acks through the delivery", func(t *testing.T) {
		w := NewWorker(&Config{Logger: slog.Default(), Concurrency: 1})
		ack := &fakeAcknowledger{}
		msg := newScanMessage(t, ack, 7)

		w.settleDelivery("worker-0", msg, nil)

		assert.Equal(t, []uint64{7}, ack.acks)
		assert.Empty(t, ack.nacks)
	})

	t.Run("transient failure nacks with requeue", func(t *testing.T) {
		w := NewWorker(&Config{Logger: slog.Default(), Concurrency: 1})
		ack := &fakeAcknowledger{}
		msg := newScanMessage(t, ack, 8)

		w.settleDelivery("worker-0", msg, domain.NewRetryableError(errors.New("db down")))

		require.Len(t, ack.nacks, 1)
		assert.Equal(t, nackCall{tag: 8, requeue: true}, ack.nacks[0])
		assert.Empty(t, ack.acks)
	})

	t.Run("duplicate delivery nacks without requeue", func(t *testing.T) {
		w := NewWorker(&Config{Logger: slog.Default(), Concurrency: 1})
		ack := &fakeAcknowledger{}
		msg := newScanMessage(t, ack, 9)

		w.settleDelivery("worker-0", msg, domain.ErrScanAlreadyClaimed)

		require.Len(t, ack.nacks, 1)
		assert.Equal(t, nackCall{tag: 9, requeue: false}, ack.nacks[0])
		assert.Empty(t, ack.acks)
	})
}
