package domain

import (
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/siteprobe/siteprobe-be/internal/queue"
)

// ScanMessage carries a decoded scan job through the worker pool together
// with its broker delivery. Delivery tags are scoped to the channel that
// issued them, so the ACK/NACK must go through the delivery itself rather
// than whatever channel the client currently holds.
type ScanMessage struct {
	Payload  *queue.JobPayload
	Delivery amqp.Delivery
}

// ScanResult holds the findings a scan produced, bucketed by severity.
type ScanResult struct {
	Critical int
	High     int
	Medium   int
	Low      int
	Info     int
}

// Total is the sum across all severity buckets.
func (r *ScanResult) Total() int {
	return r.Critical + r.High + r.Medium + r.Low + r.Info
}
