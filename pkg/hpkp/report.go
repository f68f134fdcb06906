// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package hpkp

//go:generate mockgen -source=report.go -destination=mocks/mock_reporter.go -package=mocks Reporter

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"
)

const (
	// DefaultReportQueueSize is the number of reports buffered before new
	// reports are dropped.
	DefaultReportQueueSize = 64

	// DefaultReportTimeout bounds a single report POST.
	DefaultReportTimeout = 10 * time.Second

	// DefaultReportsPerHostPerSecond is the sustained report rate per host.
	DefaultReportsPerHostPerSecond = 1.0 / 60

	// DefaultReportBurst is the number of reports a host may send at once.
	DefaultReportBurst = 3

	reportThrottleIdle = 30 * time.Minute
)

// Report is a pin validation failure report as defined by RFC 7469 §3.
type Report struct {
	DateTime                  time.Time `json:"date-time"`
	Hostname                  string    `json:"hostname"`
	Port                      int       `json:"port"`
	EffectiveExpirationDate   time.Time `json:"effective-expiration-date"`
	IncludeSubdomains         bool      `json:"include-subdomains"`
	NotedHostname             string    `json:"noted-hostname"`
	ServedCertificateChain    []string  `json:"served-certificate-chain"`
	ValidatedCertificateChain []string  `json:"validated-certificate-chain"`
	KnownPins                 []string  `json:"known-pins"`

	// ReportURI is where the report is sent. It is not part of the body.
	ReportURI string `json:"-"`
}

// NewReport builds a report for a chain that failed validation against p.
func NewReport(now time.Time, ex Exchange, p *Policy) *Report {
	knownPins := make([]string, 0, p.PinCount())
	for _, pin := range p.Pins() {
		knownPins = append(knownPins, fmt.Sprintf("%s%s\"", pinSHA256Prefix, pin))
	}
	validated := ex.VerifiedChain
	if len(validated) == 0 {
		validated = ex.Chain
	}
	return &Report{
		DateTime:                  now.UTC(),
		Hostname:                  ex.Hostname,
		Port:                      ex.Port,
		EffectiveExpirationDate:   p.ExpiresAt().UTC(),
		IncludeSubdomains:         p.IncludeSubdomains(),
		NotedHostname:             NormalizeHostname(ex.Hostname),
		ServedCertificateChain:    encodeChain(ex.Chain),
		ValidatedCertificateChain: encodeChain(validated),
		KnownPins:                 knownPins,
		ReportURI:                 p.ReportURI(),
	}
}

func encodeChain(chain []*x509.Certificate) []string {
	out := make([]string, 0, len(chain))
	for _, cert := range chain {
		if cert == nil {
			continue
		}
		out = append(out, string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})))
	}
	return out
}

// Reporter delivers violation reports. Report must not block the caller.
type Reporter interface {
	Report(report *Report)
}

// ReporterConfig configures an HTTPReporter.
type ReporterConfig struct {
	// HTTPClient posts the reports. Defaults to a client with
	// DefaultReportTimeout.
	HTTPClient *http.Client

	// QueueSize is the report buffer length. Defaults to
	// DefaultReportQueueSize.
	QueueSize int

	// RatePerHost is the sustained number of reports per second per host.
	// Defaults to DefaultReportsPerHostPerSecond.
	RatePerHost float64

	// Burst is the per-host burst. Defaults to DefaultReportBurst.
	Burst int

	// Clock drives the per-host rate. Defaults to SystemClock.
	Clock Clock

	// Logger for structured logging. Defaults to slog.Default().
	Logger *slog.Logger
}

// HTTPReporter queues reports and POSTs them as JSON to the report-uri of
// the violated policy from a background goroutine.
type HTTPReporter struct {
	client  *http.Client
	queue   chan *Report
	limiter *reportThrottle
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

var _ Reporter = (*HTTPReporter)(nil)

// NewHTTPReporter starts a reporter. Call Close to stop it.
func NewHTTPReporter(cfg *ReporterConfig) *HTTPReporter {
	if cfg == nil {
		cfg = &ReporterConfig{}
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: DefaultReportTimeout}
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = DefaultReportQueueSize
	}
	perHost := cfg.RatePerHost
	if perHost <= 0 {
		perHost = DefaultReportsPerHostPerSecond
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = DefaultReportBurst
	}
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &HTTPReporter{
		client:  client,
		queue:   make(chan *Report, size),
		limiter: newReportThrottle(clock, perHost, burst, reportThrottleIdle),
		logger:  logger.With("component", "hpkp_reporter"),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// Report queues report for delivery. Reports without a usable report-uri,
// reports over the per-host rate and reports that do not fit in the queue
// are dropped.
func (r *HTTPReporter) Report(report *Report) {
	if report == nil || !validReportURI(report.ReportURI) {
		return
	}
	if !r.limiter.Allow(report.NotedHostname) {
		r.logger.Debug("report rate exceeded, dropping", "host", report.Hostname)
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- report:
	default:
		r.logger.Warn("report queue full, dropping", "host", report.Hostname)
	}
}

// Close stops accepting reports, delivers the ones already queued and
// waits for the worker to exit.
func (r *HTTPReporter) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrReporterClosed
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	r.wg.Wait()
	return nil
}

func (r *HTTPReporter) run() {
	defer r.wg.Done()
	for report := range r.queue {
		if err := r.send(report); err != nil {
			r.logger.Warn("failed to deliver pin validation report",
				"host", report.Hostname, "report_uri", report.ReportURI, "error", err)
		}
	}
}

func (r *HTTPReporter) send(report *Report) error {
	body, err := json.Marshal(report)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), DefaultReportTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, report.ReportURI, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("report endpoint returned %d", resp.StatusCode)
	}
	r.logger.Debug("pin validation report delivered", "host", report.Hostname, "status", resp.StatusCode)
	return nil
}

func validReportURI(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "https" || u.Scheme == "http") && u.Host != ""
}
