// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

// Package dane turns RFC 6698 TLSA records into public key pins. A TLSA
// record with selector SPKI and matching type SHA-256 carries the same
// digest as an RFC 7469 pin, so DNSSEC-signed records can seed a pin store
// before the first connection to a host.
package dane

import "errors"

var (
	// ErrNoTLSARecords indicates no TLSA records were found for the queried name.
	ErrNoTLSARecords = errors.New("dane: no TLSA records found")

	// ErrNoUsablePins indicates TLSA records were found but none of them
	// can be expressed as a SubjectPublicKeyInfo SHA-256 pin.
	ErrNoUsablePins = errors.New("dane: no TLSA record usable as a pin")

	// ErrDNSLookupFailed indicates the DNS query for TLSA records failed.
	ErrDNSLookupFailed = errors.New("dane: DNS lookup failed")

	// ErrDNSSECRequired indicates the response lacked the Authenticated Data
	// flag while the resolver requires it.
	ErrDNSSECRequired = errors.New("dane: DNSSEC validation required but AD flag not set")

	// ErrInvalidCertificate indicates a nil or unparsed certificate.
	ErrInvalidCertificate = errors.New("dane: invalid certificate")

	// ErrInvalidPin indicates a pin that is not a base64 SHA-256 digest.
	ErrInvalidPin = errors.New("dane: invalid pin")

	// ErrInvalidHostname indicates an empty or malformed hostname.
	ErrInvalidHostname = errors.New("dane: invalid hostname")

	// ErrInvalidPort indicates port number zero.
	ErrInvalidPort = errors.New("dane: invalid port")

	// ErrResolverConfig indicates the resolver configuration is invalid.
	ErrResolverConfig = errors.New("dane: invalid resolver configuration")
)
