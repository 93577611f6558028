// Package liveview composes the externally reachable remote-desktop stream
// endpoint for an in-progress scan. It never proxies or probes the endpoint;
// it is a pure composition over two already-resolved facts.
package liveview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/siteprobe/siteprobe-be/internal/api/model"
)

// Remote-desktop stream location on the scan worker host.
const (
	streamPort = 6080
	streamPath = "/vnc.html"
)

// ErrNotConfigured reports a deployment gap: no worker streaming host is
// configured. Distinct from the scan not existing.
var ErrNotConfigured = errors.New("live view service not configured")

// Store reads persisted scan records.
type Store interface {
	GetScanByID(ctx context.Context, scanID string) (*model.Scan, error)
}

// LiveView is the composed stream endpoint plus the scan's current status,
// so the caller can decide whether viewing is meaningful (only while the
// scan is running).
type LiveView struct {
	URL    string `json:"url"`
	Status string `json:"status"`
}

// Broker resolves live-view endpoints.
type Broker struct {
	workerHost string
	store      Store
	logger     *slog.Logger
}

// NewBroker creates a live-view broker. workerHost may be empty; resolution
// then degrades to ErrNotConfigured instead of failing scans.
func NewBroker(workerHost string, store Store, logger *slog.Logger) *Broker {
	return &Broker{
		workerHost: workerHost,
		store:      store,
		logger:     logger,
	}
}

// LiveViewURL resolves the stream endpoint for a scan. Unknown scan ids
// surface the store's domain.ErrScanNotFound regardless of configuration;
// a known scan without a configured worker host yields ErrNotConfigured.
func (b *Broker) LiveViewURL(ctx context.Context, scanID string) (*LiveView, error) {
	scan, err := b.store.GetScanByID(ctx, scanID)
	if err != nil {
		return nil, err
	}

	if b.workerHost == "" {
		b.logger.Warn("Live view requested but no worker host configured",
			slog.String("scan_id", scanID),
		)
		return nil, ErrNotConfigured
	}

	streamURL, err := composeStreamURL(b.workerHost)
	if err != nil {
		return nil, err
	}

	return &LiveView{
		URL:    streamURL,
		Status: scan.Status,
	}, nil
}

// composeStreamURL derives the stream endpoint deterministically from the
// worker host: same host, fixed port and path.
func composeStreamURL(workerHost string) (string, error) {
	u, err := url.Parse(workerHost)
	if err != nil {
		return "", fmt.Errorf("invalid worker host %q: %w", workerHost, err)
	}

	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("worker host %q must be an absolute URL", workerHost)
	}

	u.Host = fmt.Sprintf("%s:%d", u.Hostname(), streamPort)
	u.Path = streamPath
	u.RawQuery = ""

	return u.String(), nil
}
