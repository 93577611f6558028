package queue

import (
	"fmt"
	"net/url"
)

// JobNameURLScan tags scan jobs on the wire. The broker routes the payload
// opaquely; only producer and worker interpret it.
const JobNameURLScan = "url-scan"

// Default scan configuration, applied wherever the caller does not override.
const (
	DefaultTimeoutMs        = 30000
	DefaultMaxRedirects     = 5
	DefaultBrowserTimeoutMs = 30000
)

// ScanConfig is the caller-overridable execution configuration carried
// inside a job. Timeouts are milliseconds and are interpreted entirely by
// the worker, never by the queue.
type ScanConfig struct {
	Timeout         int  `json:"timeout"`
	FollowRedirects bool `json:"followRedirects"`
	MaxRedirects    int  `json:"maxRedirects"`
	BrowserTimeout  int  `json:"browserTimeout"`
}

// DefaultScanConfig returns the system defaults.
func DefaultScanConfig() ScanConfig {
	return ScanConfig{
		Timeout:         DefaultTimeoutMs,
		FollowRedirects: true,
		MaxRedirects:    DefaultMaxRedirects,
		BrowserTimeout:  DefaultBrowserTimeoutMs,
	}
}

// ScanConfigOverrides carries the caller's optional configuration; nil
// fields fall back to defaults.
type ScanConfigOverrides struct {
	Timeout         *int  `json:"timeout"`
	FollowRedirects *bool `json:"followRedirects"`
	MaxRedirects    *int  `json:"maxRedirects"`
	BrowserTimeout  *int  `json:"browserTimeout"`
}

// Merge applies the overrides on top of the defaults.
func (o *ScanConfigOverrides) Merge() ScanConfig {
	cfg := DefaultScanConfig()
	if o == nil {
		return cfg
	}

	if o.Timeout != nil {
		cfg.Timeout = *o.Timeout
	}
	if o.FollowRedirects != nil {
		cfg.FollowRedirects = *o.FollowRedirects
	}
	if o.MaxRedirects != nil {
		cfg.MaxRedirects = *o.MaxRedirects
	}
	if o.BrowserTimeout != nil {
		cfg.BrowserTimeout = *o.BrowserTimeout
	}

	return cfg
}

// JobPayload is the unit of work handed from producer to worker. ScanID is
// immutable once enqueued and is the sole external handle correlating queue,
// worker, and persisted status. A nil UserID denotes an anonymous scan.
type JobPayload struct {
	ScanID       string     `json:"scanId"`
	URL          string     `json:"url"`
	Domain       string     `json:"domain"`
	UserID       *string    `json:"userId"`
	IsPublicScan bool       `json:"isPublicScan"`
	ScanConfig   ScanConfig `json:"scanConfig"`
}

// NewJobPayload builds a payload for the given target, deriving the domain
// from the submitted URL (which itself is carried as submitted, not
// normalized).
func NewJobPayload(scanID, rawURL string, userID *string, isPublicScan bool, overrides *ScanConfigOverrides) (*JobPayload, error) {
	if scanID == "" {
		return nil, fmt.Errorf("scan id is required")
	}

	domain, err := deriveDomain(rawURL)
	if err != nil {
		return nil, err
	}

	return &JobPayload{
		ScanID:       scanID,
		URL:          rawURL,
		Domain:       domain,
		UserID:       userID,
		IsPublicScan: isPublicScan,
		ScanConfig:   overrides.Merge(),
	}, nil
}

// Validate checks the fields a payload must carry before it may travel.
func (p *JobPayload) Validate() error {
	if p.ScanID == "" {
		return fmt.Errorf("scan id is required")
	}
	if p.URL == "" {
		return fmt.Errorf("scan target url is required")
	}
	if p.Domain == "" {
		return fmt.Errorf("scan target domain is required")
	}
	return nil
}

func deriveDomain(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid scan target url: %w", err)
	}

	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("scan target url has no host: %s", rawURL)
	}

	return host, nil
}
