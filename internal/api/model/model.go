package model

import (
	"database/sql"
	"time"
)

// Scan is the persisted scan status record.
type Scan struct {
	ScanID          string         `db:"scan_id"`
	URL             string         `db:"url"`
	Domain          string         `db:"domain"`
	UserID          sql.NullString `db:"user_id"`
	IsPublicScan    bool           `db:"is_public_scan"`
	Status          string         `db:"status"`
	Critical        int            `db:"critical"`
	High            int            `db:"high"`
	Medium          int            `db:"medium"`
	Low             int            `db:"low"`
	Info            int            `db:"info"`
	Total           int            `db:"total"`
	ErrorMessage    sql.NullString `db:"error_message"`
	WorkerID        sql.NullString `db:"worker_id"`
	CreatedAt       time.Time      `db:"created_at"`
	CompletedAt     sql.NullTime   `db:"completed_at"`
	LastHeartbeatAt sql.NullTime   `db:"last_heartbeat_at"`
}
