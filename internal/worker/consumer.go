package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/siteprobe/siteprobe-be/internal/queue"
	"github.com/siteprobe/siteprobe-be/internal/worker/domain"
)

// errDeliveriesClosed reports that the broker closed the delivery channel,
// which happens whenever the underlying connection is lost. The consume
// loop reacts by redialing and re-registering the consumer.
var errDeliveriesClosed = errors.New("rabbitmq delivery channel closed")

// setupConsumer re-establishes the broker connection if it was lost, sets
// QoS on the current channel and returns a fresh delivery channel
func (w *Worker) setupConsumer(ctx context.Context) (<-chan amqp.Delivery, error) {
	// A lost connection leaves the client holding a dead channel; dial
	// first so QoS and Consume run against a live one
	if err := w.rabbitClient.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}

	channel := w.rabbitClient.GetChannel()
	if channel == nil {
		return nil, fmt.Errorf("rabbitmq channel is nil")
	}

	// Prefetch bounds unacknowledged deliveries per consumer so a slow
	// worker does not hoard the queue
	err := channel.Qos(
		w.prefetchCount,
		0,     // prefetch size
		false, // global
	)
	if err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	w.logger.Info("RabbitMQ QoS configured",
		slog.Int("prefetch_count", w.prefetchCount),
	)

	// Unique consumer tag ties broker-side diagnostics back to this worker
	consumerTag := w.workerID

	// Manual acknowledgment: a delivery stays unacked until the scan is
	// fully processed, so a worker crash requeues it automatically
	deliveries, err := w.rabbitClient.Consume(consumerTag)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	w.logger.Info("RabbitMQ consumer started",
		slog.String("consumer_tag", consumerTag),
		slog.String("queue", w.queueName),
	)

	return deliveries, nil
}

// startMessageDispatcher listens to RabbitMQ deliveries and dispatches scan
// jobs to the worker pool. It returns nil on shutdown and
// errDeliveriesClosed when the broker closed the delivery channel.
func (w *Worker) startMessageDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	w.logger.Info("Message dispatcher started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed")
				return errDeliveriesClosed
			}

			payload, err := decodeScanJob(delivery.Body)
			if err != nil {
				w.logger.Error("Rejected malformed scan job",
					slog.String("message_id", delivery.MessageId),
					slog.String("error", err.Error()),
				)
				// NACK without requeue - a malformed body never becomes valid
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					w.logger.Error("Failed to NACK malformed message",
						slog.String("error", nackErr.Error()),
					)
				}
				continue
			}

			msg := &domain.ScanMessage{
				Payload:  payload,
				Delivery: delivery,
			}

			select {
			case w.jobsChan <- msg:
				w.logger.Debug("Scan job dispatched to worker pool",
					slog.String("scan_id", payload.ScanID),
					slog.Uint64("delivery_tag", delivery.DeliveryTag),
				)
			case <-ctx.Done():
				w.logger.Info("Message dispatcher stopped while dispatching job")
				// NACK with requeue so another worker picks the scan up
				if nackErr := delivery.Nack(false, true); nackErr != nil {
					w.logger.Error("Failed to NACK message on shutdown",
						slog.String("error", nackErr.Error()),
					)
				}
				return nil
			}
		}
	}
}

// decodeScanJob parses and validates a delivery body as a scan job payload
func decodeScanJob(body []byte) (*queue.JobPayload, error) {
	var payload queue.JobPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	if err := payload.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	return &payload, nil
}
