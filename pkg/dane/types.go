// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package dane

import (
	"log/slog"
	"time"
)

// Certificate usages (RFC 6698 §2.1.1).
const (
	UsagePKIXTA uint8 = 0
	UsagePKIXEE uint8 = 1
	UsageDANETA uint8 = 2
	UsageDANEEE uint8 = 3
)

// Selectors (RFC 6698 §2.1.2).
const (
	SelectorFullCert uint8 = 0
	SelectorSPKI     uint8 = 1
)

// Matching types (RFC 6698 §2.1.3).
const (
	MatchingExact  uint8 = 0
	MatchingSHA256 uint8 = 1
	MatchingSHA512 uint8 = 2
)

// TLSARecord is a parsed TLSA resource record.
type TLSARecord struct {
	Usage        uint8
	Selector     uint8
	MatchingType uint8

	// CertData is the certificate association data, already hex-decoded.
	CertData []byte
}

// ResolverConfig configures the DNS resolver used for TLSA lookups.
type ResolverConfig struct {
	// Server is the DNS resolver address, e.g. "9.9.9.9:53". When empty the
	// first nameserver of /etc/resolv.conf is used.
	Server string

	// UseTLS queries the server over DNS-over-TLS (port 853 by default).
	UseTLS bool

	// TLSServerName is the SNI value for DNS-over-TLS.
	TLSServerName string

	// RequireAD rejects responses without the Authenticated Data flag.
	// Pins taken from unauthenticated DNS can be forged by any on-path
	// attacker, so callers seeding a pin store should set it.
	RequireAD bool

	// Timeout bounds one query. Defaults to 5 seconds.
	Timeout time.Duration

	// Logger for structured logging. Defaults to slog.Default().
	Logger *slog.Logger
}

// RecordString is a TLSA record formatted for a DNS zone file.
type RecordString struct {
	// Name is the owner name, e.g. "_443._tcp.example.com.".
	Name         string
	Usage        uint8
	Selector     uint8
	MatchingType uint8

	// HexData is the hex encoded association data.
	HexData string

	// ZoneLine is the complete zone file line.
	ZoneLine string
}
