// Package scanner drives a headless browser against a scan target and turns
// what it observes into severity-bucketed findings.
package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/siteprobe/siteprobe-be/internal/queue"
	"github.com/siteprobe/siteprobe-be/internal/worker/domain"
)

// Scanner executes a scan job against its target URL.
type Scanner interface {
	Scan(ctx context.Context, payload *queue.JobPayload) (*domain.ScanResult, error)
}

// Config holds browser scanner settings
type Config struct {
	Headless     bool
	NoSandbox    bool
	NavigateWait time.Duration
}

// BrowserScanner renders the target in headless Chrome and runs passive
// checks against the loaded page.
type BrowserScanner struct {
	config *Config
	logger *slog.Logger
}

// NewBrowserScanner creates a browser-backed scanner
func NewBrowserScanner(config *Config, logger *slog.Logger) *BrowserScanner {
	return &BrowserScanner{
		config: config,
		logger: logger,
	}
}

// pageProbe is what the in-page script reports back after load
type pageProbe struct {
	InsecureForms   int  `json:"insecureForms"`
	PasswordInputs  int  `json:"passwordInputs"`
	MixedContent    int  `json:"mixedContent"`
	InlineHandlers  int  `json:"inlineHandlers"`
	HasCSPMeta      bool `json:"hasCspMeta"`
	FramesDetected  int  `json:"framesDetected"`
	ExternalScripts int  `json:"externalScripts"`
}

const probeScript = `(() => {
	const insecure = (u) => { try { return new URL(u, location.href).protocol === "http:"; } catch { return false; } };
	const forms = [...document.querySelectorAll("form")];
	const scripts = [...document.querySelectorAll("script[src]")];
	const imgs = [...document.querySelectorAll("img[src], link[href]")];
	return {
		insecureForms: forms.filter(f => insecure(f.action || location.href)).length,
		passwordInputs: document.querySelectorAll("input[type=password]").length,
		mixedContent: location.protocol === "https:"
			? imgs.filter(el => insecure(el.src || el.href)).length + scripts.filter(s => insecure(s.src)).length
			: 0,
		inlineHandlers: document.querySelectorAll("[onclick], [onload], [onerror], [onmouseover]").length,
		hasCspMeta: !!document.querySelector('meta[http-equiv="Content-Security-Policy" i]'),
		framesDetected: document.querySelectorAll("iframe, frame").length,
		externalScripts: scripts.filter(s => { try { return new URL(s.src, location.href).host !== location.host; } catch { return false; } }).length,
	};
})()`

// Scan loads the target URL in a fresh browser context and evaluates the
// rendered page. The browser session is bounded by the payload's
// browserTimeout independently of the overall job timeout.
func (s *BrowserScanner) Scan(ctx context.Context, payload *queue.JobPayload) (*domain.ScanResult, error) {
	browserCtx, cancel := context.WithTimeout(ctx,
		time.Duration(payload.ScanConfig.BrowserTimeout)*time.Millisecond)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", s.config.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("ignore-certificate-errors", false),
	)
	if s.config.NoSandbox {
		opts = append(opts, chromedp.Flag("no-sandbox", true))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(browserCtx, opts...)
	defer allocCancel()

	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	var (
		probe     pageProbe
		pageTitle string
		finalURL  string
	)

	tasks := chromedp.Tasks{
		network.Enable(),
		chromedp.Navigate(payload.URL),
		chromedp.WaitReady("body"),
	}
	if s.config.NavigateWait > 0 {
		tasks = append(tasks, chromedp.Sleep(s.config.NavigateWait))
	}
	tasks = append(tasks,
		chromedp.Title(&pageTitle),
		chromedp.Location(&finalURL),
		chromedp.Evaluate(probeScript, &probe),
	)

	if err := chromedp.Run(taskCtx, tasks); err != nil {
		return nil, fmt.Errorf("browser scan of %s failed: %w", payload.URL, err)
	}

	result := s.assess(&probe, finalURL)

	s.logger.Info("Browser scan finished",
		slog.String("scan_id", payload.ScanID),
		slog.String("final_url", finalURL),
		slog.String("page_title", pageTitle),
		slog.Int("total_findings", result.Total()),
	)

	return result, nil
}

// assess maps the page probe into severity buckets
func (s *BrowserScanner) assess(probe *pageProbe, finalURL string) *domain.ScanResult {
	result := &domain.ScanResult{}

	servedPlaintext := strings.HasPrefix(strings.ToLower(finalURL), "http://")

	if probe.PasswordInputs > 0 && servedPlaintext {
		result.Critical += probe.PasswordInputs
	}
	if probe.InsecureForms > 0 {
		result.High += probe.InsecureForms
	}
	if probe.MixedContent > 0 {
		result.Medium += probe.MixedContent
	}
	if servedPlaintext {
		result.Medium++
	}
	if !probe.HasCSPMeta {
		result.Low++
	}
	if probe.InlineHandlers > 0 {
		result.Low++
	}
	if probe.FramesDetected > 0 {
		result.Info += probe.FramesDetected
	}
	if probe.ExternalScripts > 0 {
		result.Info++
	}

	return result
}
