package domain

import (
	"errors"
)

// Scan lifecycle statuses. The persisted record is the source of truth for
// "does this scan exist" and "is it currently running"; the broker's
// claim/ack protocol is the source of truth for active job ownership.
const (
	ScanStatusPending   = "pending"
	ScanStatusRunning   = "running"
	ScanStatusCompleted = "completed"
	ScanStatusFailed    = "failed"
)

var (
	// ErrScanNotFound reports an unknown scan identifier. It is a normal
	// outcome, not a fault: a record may simply not have been written yet.
	ErrScanNotFound = errors.New("scan not found")
)

// SeverityCounts aggregates vulnerability findings per severity.
type SeverityCounts struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Info     int `json:"info"`
	Total    int `json:"total"`
}
