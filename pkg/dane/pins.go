// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package dane

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"slices"

	"github.com/jeremyhahn/go-hpkp/pkg/hpkp"
)

// PinsFromRecords returns the distinct pins expressed by records, sorted.
//
// Only SubjectPublicKeyInfo records qualify: a SHA-256 digest is the pin
// itself and an exact SPKI is hashed into one. Full-certificate and SHA-512
// records are skipped. The certificate usage is not considered since a pin
// may match any certificate of the chain.
func PinsFromRecords(records []*TLSARecord) []string {
	seen := make(map[string]struct{})
	for _, rec := range records {
		if rec == nil || rec.Selector != SelectorSPKI {
			continue
		}
		switch rec.MatchingType {
		case MatchingSHA256:
			if len(rec.CertData) == sha256.Size {
				seen[base64.StdEncoding.EncodeToString(rec.CertData)] = struct{}{}
			}
		case MatchingExact:
			if len(rec.CertData) > 0 {
				seen[hpkp.PinPublicKeyInfo(rec.CertData)] = struct{}{}
			}
		}
	}

	pins := make([]string, 0, len(seen))
	for pin := range seen {
		pins = append(pins, pin)
	}
	slices.Sort(pins)
	return pins
}

// GenerateTLSARecord returns the DANE-EE "3 1 1" record for cert. Its
// association data is the certificate's pin in hex.
func GenerateTLSARecord(cert *x509.Certificate, hostname string, port uint16) (*RecordString, error) {
	pin, err := hpkp.PinCertificate(cert)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCertificate, err)
	}
	return RecordForPin(pin, hostname, port)
}

// RecordForPin converts a base64 pin into the equivalent "3 1 1" record.
func RecordForPin(pin, hostname string, port uint16) (*RecordString, error) {
	if err := checkHostname(hostname); err != nil {
		return nil, err
	}
	if port == 0 {
		return nil, ErrInvalidPort
	}
	digest, err := base64.StdEncoding.DecodeString(pin)
	if err != nil || len(digest) != sha256.Size {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPin, pin)
	}

	name := tlsaName(hostname, port)
	data := hex.EncodeToString(digest)
	return &RecordString{
		Name:         name,
		Usage:        UsageDANEEE,
		Selector:     SelectorSPKI,
		MatchingType: MatchingSHA256,
		HexData:      data,
		ZoneLine:     fmt.Sprintf("%s IN TLSA %d %d %d %s", name, UsageDANEEE, SelectorSPKI, MatchingSHA256, data),
	}, nil
}
