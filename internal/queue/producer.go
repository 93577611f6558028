package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/siteprobe/siteprobe-be/shared/rabbitmq"
)

// ErrQueueUnavailable is returned when the broker did not durably accept a
// job after the producer's retries were exhausted. Callers must surface it
// as a
// user-visible "try again", never as a silent success.
var ErrQueueUnavailable = errors.New("scan queue unavailable")

// Broker is the subset of the RabbitMQ client the producer needs.
type Broker interface {
	Publish(ctx context.Context, body []byte, contentType string, messageID string) error
	Inspect(ctx context.Context) (*rabbitmq.QueueState, error)
	IsConnected() bool
}

// JobHandle is what Enqueue returns once the broker has durably accepted a
// job: the broker-assigned identifier, the job name, and an echo of the
// submitted payload. Diagnostic callers use the triple to confirm round-trip
// fidelity.
type JobHandle struct {
	ID      string      `json:"id"`
	Name    string      `json:"name"`
	Payload *JobPayload `json:"payload"`
}

// QueueHealth reports broker reachability and queue metrics for the
// operational diagnostic endpoint. Never consulted on the submission path.
type QueueHealth struct {
	Reachable bool   `json:"reachable"`
	Queue     string `json:"queue,omitempty"`
	Depth     int    `json:"depth"`
	Consumers int    `json:"consumers"`
	Error     string `json:"error,omitempty"`
}

// Producer enqueues scan jobs. It holds the process-wide producer broker
// client, which is lazily connected and shared by all concurrent request
// handlers.
type Producer struct {
	broker Broker
	logger *slog.Logger
}

// NewProducer creates a Producer on top of a producer-role broker client.
func NewProducer(broker Broker, logger *slog.Logger) *Producer {
	return &Producer{
		broker: broker,
		logger: logger,
	}
}

// Enqueue publishes the payload and returns once the broker has durably
// accepted it. Delivery downstream is at-least-once; worker-side consumption
// is idempotent on ScanID.
func (p *Producer) Enqueue(ctx context.Context, payload *JobPayload) (*JobHandle, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job payload: %w", err)
	}

	jobID := uuid.New().String()

	if err := p.broker.Publish(ctx, body, "application/json", jobID); err != nil {
		p.logger.Error("Failed to enqueue scan job",
			slog.String("scan_id", payload.ScanID),
			slog.String("role", string(rabbitmq.RoleProducer)),
			slog.String("operation", "enqueue"),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}

	p.logger.Info("Scan job enqueued",
		slog.String("scan_id", payload.ScanID),
		slog.String("job_id", jobID),
		slog.String("domain", payload.Domain),
	)

	return &JobHandle{
		ID:      jobID,
		Name:    JobNameURLScan,
		Payload: payload,
	}, nil
}

// Health probes the broker and reports queue depth and consumer count.
// It never fails the caller; an unreachable broker is itself the finding.
func (p *Producer) Health(ctx context.Context) *QueueHealth {
	state, err := p.broker.Inspect(ctx)
	if err != nil {
		p.logger.Warn("Queue health probe failed",
			slog.String("error", err.Error()),
		)
		return &QueueHealth{
			Reachable: false,
			Error:     err.Error(),
		}
	}

	return &QueueHealth{
		Reachable: true,
		Queue:     state.Queue,
		Depth:     state.Depth,
		Consumers: state.Consumers,
	}
}
