// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package hpkp

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"log/slog"
)

// Exchange is one secure response as seen by the Enforcer.
type Exchange struct {
	// Hostname is the host the request was sent to.
	Hostname string

	// Port is the server port. It is only used in violation reports.
	Port int

	// HeaderValue is the Public-Key-Pins value of the response, or "" when
	// the response carried none.
	HeaderValue string

	// HeaderPresent marks a header that was sent with an empty value. A
	// non-empty HeaderValue is always present.
	HeaderPresent bool

	// Chain is the certificate chain presented by the server, leaf first.
	Chain []*x509.Certificate

	// VerifiedChain is the chain built by PKIX validation, if any. It is
	// only used in violation reports.
	VerifiedChain []*x509.Certificate
}

// EnforcerConfig configures an Enforcer.
type EnforcerConfig struct {
	// Store holds the noted policies. Required.
	Store Store

	// Clock is the time source for parsed policies. Defaults to SystemClock.
	// It should be the clock the Store uses.
	Clock Clock

	// Reporter receives pin validation failure reports. Optional.
	Reporter Reporter

	// Logger for structured logging. Defaults to slog.Default().
	Logger *slog.Logger
}

// Enforcer validates certificate chains against noted pinning policies and
// notes new policies on first contact.
type Enforcer struct {
	store    Store
	clock    Clock
	reporter Reporter
	logger   *slog.Logger
}

// NewEnforcer creates an Enforcer over the configured store.
func NewEnforcer(cfg *EnforcerConfig) (*Enforcer, error) {
	if cfg == nil || cfg.Store == nil {
		return nil, ErrInvalidConfig
	}
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Enforcer{
		store:    cfg.Store,
		clock:    clock,
		reporter: cfg.Reporter,
		logger:   logger.With("component", "hpkp_enforcer"),
	}, nil
}

// Enforce validates chain for hostname given the Public-Key-Pins value of
// the response ("" when absent). A returned error matching ErrPinningFailed
// means the connection must be aborted; ErrInvalidArgument means the chain
// held something other than parsed X.509 certificates.
func (e *Enforcer) Enforce(ctx context.Context, hostname, headerValue string, chain []*x509.Certificate) error {
	return e.EnforceExchange(ctx, Exchange{
		Hostname:    hostname,
		HeaderValue: headerValue,
		Chain:       chain,
	})
}

// EnforceRaw is Enforce for DER certificates as delivered by crypto/tls.
func (e *Enforcer) EnforceRaw(ctx context.Context, hostname, headerValue string, rawCerts [][]byte) error {
	chain, err := ParseChain(rawCerts)
	if err != nil {
		return err
	}
	return e.Enforce(ctx, hostname, headerValue, chain)
}

// EnforceExchange is Enforce with the report-only details of an Exchange.
//
// For a pinned host the chain is validated against the policy noted before
// this response, and a well-formed header is then offered to the store. A
// malformed header on a pinned host fails the exchange. For an unknown host
// a valid header is validated against its own pins and noted only when the
// chain matches; an absent or malformed header is ignored.
func (e *Enforcer) EnforceExchange(ctx context.Context, ex Exchange) error {
	existing, err := e.store.FindPinningInformation(ctx, ex.Hostname)
	switch {
	case err == nil:
		return e.enforceKnown(ctx, ex, existing)
	case errors.Is(err, ErrNoPolicy):
		return e.enforceFirstUse(ctx, ex)
	default:
		e.logger.Error("pin store lookup failed", "host", ex.Hostname, "error", err)
		return &PinningError{Hostname: ex.Hostname, Err: err}
	}
}

// hasHeader reports whether the response carried a pin header at all.
func (ex Exchange) hasHeader() bool {
	return ex.HeaderPresent || ex.HeaderValue != ""
}

func (e *Enforcer) enforceKnown(ctx context.Context, ex Exchange, existing *Policy) error {
	var renewal *Policy
	if ex.hasHeader() {
		parsed, err := ParseAt(PublicKeyPinsHeader, ex.HeaderValue, e.clock.Now())
		if err != nil {
			e.logger.Warn("malformed pin header from pinned host", "host", ex.Hostname, "error", err)
			return &PinningError{Hostname: ex.Hostname, Err: err}
		}
		renewal = parsed
	}

	if err := e.validate(ex, existing); err != nil {
		return err
	}

	if renewal != nil {
		if err := e.store.Add(ctx, ex.Hostname, renewal); err != nil {
			e.logger.Warn("failed to note renewed policy", "host", ex.Hostname, "error", err)
		}
	}
	return nil
}

func (e *Enforcer) enforceFirstUse(ctx context.Context, ex Exchange) error {
	if !ex.hasHeader() {
		return nil
	}
	parsed, err := ParseAt(PublicKeyPinsHeader, ex.HeaderValue, e.clock.Now())
	if err != nil {
		// RFC 7469 §2.3.1: nothing can be enforced without a valid header.
		e.logger.Debug("ignoring invalid pin header on first contact", "host", ex.Hostname, "error", err)
		return nil
	}

	if err := e.validate(ex, parsed); err != nil {
		return err
	}

	if err := e.store.Add(ctx, ex.Hostname, parsed); err != nil {
		e.logger.Warn("failed to note policy", "host", ex.Hostname, "error", err)
		return nil
	}
	e.logger.Info("host pinned", "host", ex.Hostname, "pins", parsed.PinCount(),
		"max_age", parsed.MaxAge(), "include_subdomains", parsed.IncludeSubdomains())
	return nil
}

// validate checks ex.Chain against p and reports a mismatch.
func (e *Enforcer) validate(ex Exchange, p *Policy) error {
	ok, err := matchChain(p, ex.Chain)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	e.logger.Warn("certificate chain does not match pinned keys", "host", ex.Hostname, "known_pins", p.PinCount())
	e.report(ex, p)
	return &PinningError{Hostname: ex.Hostname}
}

func (e *Enforcer) report(ex Exchange, p *Policy) {
	if e.reporter == nil || p.ReportURI() == "" {
		return
	}
	e.reporter.Report(NewReport(e.clock.Now(), ex, p))
}

// CheckReportOnly handles a Public-Key-Pins-Report-Only value: the chain is
// checked against the announced pins and a mismatch is reported, but the
// exchange never fails on it and nothing is noted. Only ErrInvalidArgument
// is returned.
func (e *Enforcer) CheckReportOnly(_ context.Context, ex Exchange) error {
	if ex.HeaderValue == "" {
		return nil
	}
	p, err := ParseAt(PublicKeyPinsReportOnlyHeader, ex.HeaderValue, e.clock.Now())
	if err != nil {
		e.logger.Debug("ignoring invalid report-only pin header", "host", ex.Hostname, "error", err)
		return nil
	}
	ok, err := matchChain(p, ex.Chain)
	if err != nil {
		return err
	}
	if !ok {
		e.logger.Info("report-only pin validation failed", "host", ex.Hostname)
		e.report(ex, p)
	}
	return nil
}

// VerifyConnection checks a completed handshake against the policy already
// noted for cs.ServerName, so a pinned host with a foreign key is rejected
// before any request is written. The server name is canonicalized like
// Transport does. Hosts without a policy pass.
func (e *Enforcer) VerifyConnection(cs tls.ConnectionState) error {
	ex := Exchange{Hostname: CanonicalHost(cs.ServerName), Chain: cs.PeerCertificates}
	if len(cs.VerifiedChains) > 0 {
		ex.VerifiedChain = cs.VerifiedChains[0]
	}
	p, err := e.store.FindPinningInformation(context.Background(), ex.Hostname)
	switch {
	case errors.Is(err, ErrNoPolicy):
		return nil
	case err != nil:
		return &PinningError{Hostname: ex.Hostname, Err: err}
	}
	return e.validate(ex, p)
}

// TLSConfig returns a clone of base whose VerifyConnection also runs
// Enforcer.VerifyConnection. A nil base yields a TLS 1.2+ config.
func (e *Enforcer) TLSConfig(base *tls.Config) *tls.Config {
	var cfg *tls.Config
	if base == nil {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	} else {
		cfg = base.Clone()
	}
	prev := cfg.VerifyConnection
	cfg.VerifyConnection = func(cs tls.ConnectionState) error {
		if prev != nil {
			if err := prev(cs); err != nil {
				return err
			}
		}
		return e.VerifyConnection(cs)
	}
	return cfg
}

// Store returns the store the enforcer notes policies in.
func (e *Enforcer) Store() Store {
	return e.store
}
