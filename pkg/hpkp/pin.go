// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package hpkp

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"fmt"
)

// PinCertificate returns the RFC 7469 pin of a certificate: the base64
// encoded SHA-256 digest of its DER SubjectPublicKeyInfo.
//
// A nil certificate, or one that was not parsed from X.509 DER and therefore
// carries no SubjectPublicKeyInfo, is ErrInvalidArgument.
func PinCertificate(cert *x509.Certificate) (string, error) {
	if cert == nil {
		return "", fmt.Errorf("%w: certificate cannot be nil", ErrInvalidArgument)
	}
	if len(cert.RawSubjectPublicKeyInfo) == 0 {
		return "", fmt.Errorf("%w: pinning requires a parsed X.509 certificate", ErrInvalidArgument)
	}
	return PinPublicKeyInfo(cert.RawSubjectPublicKeyInfo), nil
}

// PinPublicKeyInfo returns the pin for a DER-encoded SubjectPublicKeyInfo.
func PinPublicKeyInfo(spki []byte) string {
	sum := sha256.Sum256(spki)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// ParseChain parses DER certificates as delivered by crypto/tls. A blob that
// is not an X.509 certificate is ErrInvalidArgument.
func ParseChain(rawCerts [][]byte) ([]*x509.Certificate, error) {
	chain := make([]*x509.Certificate, 0, len(rawCerts))
	for i, raw := range rawCerts {
		cert, err := x509.ParseCertificate(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: certificate %d is not X.509: %w", ErrInvalidArgument, i, err)
		}
		chain = append(chain, cert)
	}
	return chain, nil
}

// matchChain reports whether any certificate in chain carries one of the
// policy's pins. It stops at the first match.
func matchChain(p *Policy, chain []*x509.Certificate) (bool, error) {
	for _, cert := range chain {
		pin, err := PinCertificate(cert)
		if err != nil {
			return false, err
		}
		if p.HasPin(pin) {
			return true, nil
		}
	}
	return false, nil
}
