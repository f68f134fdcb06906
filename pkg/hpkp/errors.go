// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

// Package hpkp implements HTTP Public Key Pinning (RFC 7469) with
// trust-on-first-use semantics for HTTP clients.
//
// A Public-Key-Pins response header is parsed into an immutable Policy. A
// Store remembers policies per hostname, honoring max-age expiry and
// includeSubdomains inheritance. The Enforcer ties both together at
// connection-validation time: it computes SPKI SHA-256 pins for the peer
// certificate chain, rejects chains that match none of the pins remembered
// for the host, and notes new policies for hosts seen for the first time.
//
// Once a host is pinned, its pin set can only be renewed with an identical
// pin set. An update announcing different pins is silently discarded so a
// single forged response cannot replace established trust.
package hpkp

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedHeader is returned when a pin-policy header cannot be parsed.
	ErrMalformedHeader = errors.New("hpkp: malformed header")

	// ErrInvalidArgument indicates caller misuse: a nil or non-X.509
	// certificate, a nil policy or a policy with an empty pin set. It is
	// never a security event.
	ErrInvalidArgument = errors.New("hpkp: invalid argument")

	// ErrPinningFailed indicates that no certificate in the presented chain
	// matched the pins governing the host. The connection must be aborted.
	ErrPinningFailed = errors.New("hpkp: public key pinning failed")

	// ErrNoPolicy is returned by a Store when no policy governs a hostname.
	ErrNoPolicy = errors.New("hpkp: no pinning policy")

	// ErrStore indicates a store backend failed to read or write a policy.
	ErrStore = errors.New("hpkp: store failure")

	// ErrInvalidConfig indicates a component configuration is missing
	// required fields.
	ErrInvalidConfig = errors.New("hpkp: invalid configuration")

	// ErrReporterClosed is returned when a report is queued after Close.
	ErrReporterClosed = errors.New("hpkp: reporter closed")
)

// HeaderError describes why a pin-policy header was rejected.
type HeaderError struct {
	// Reason is a short description of the violated rule.
	Reason string

	// Err is an optional underlying error, such as a base64 decoding error.
	Err error
}

// Error returns the reason, including the underlying error when present.
func (e *HeaderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrMalformedHeader, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrMalformedHeader, e.Reason)
}

// Unwrap returns ErrMalformedHeader and the underlying error for use with
// errors.Is/As.
func (e *HeaderError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrMalformedHeader, e.Err}
	}
	return []error{ErrMalformedHeader}
}

func headerErrorf(err error, format string, args ...any) *HeaderError {
	return &HeaderError{Reason: fmt.Sprintf(format, args...), Err: err}
}

// PinningError is returned by the Enforcer when a host's certificate chain
// cannot be trusted under its pinning policy. It always matches
// ErrPinningFailed with errors.Is.
type PinningError struct {
	// Hostname is the host whose chain was rejected.
	Hostname string

	// Err is the cause when the failure was not a plain pin mismatch, for
	// example a malformed renewal header on a pinned host.
	Err error
}

// Error returns a formatted message including the hostname.
func (e *PinningError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s for %s: %v", ErrPinningFailed, e.Hostname, e.Err)
	}
	return fmt.Sprintf("%s for %s", ErrPinningFailed, e.Hostname)
}

// Unwrap returns ErrPinningFailed and the cause, if any.
func (e *PinningError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrPinningFailed, e.Err}
	}
	return []error{ErrPinningFailed}
}
