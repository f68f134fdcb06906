// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package hpkp

import (
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/http/httpguts"
)

const (
	// PublicKeyPinsHeader is the enforcing pin-policy header (RFC 7469 §2.1).
	PublicKeyPinsHeader = "Public-Key-Pins"

	// PublicKeyPinsReportOnlyHeader announces pins that are only reported,
	// never enforced or noted (RFC 7469 §2.1.1).
	PublicKeyPinsReportOnlyHeader = "Public-Key-Pins-Report-Only"
)

const (
	pinSHA256Prefix        = `pin-sha256="`
	maxAgePrefix           = "max-age="
	reportURIPrefix        = `report-uri="`
	includeSubdomainsToken = "includeSubdomains"
)

// Parse parses a pin-policy header using the system clock for the expiry.
func Parse(headerName, headerValue string) (*Policy, error) {
	return ParseAt(headerName, headerValue, SystemClock.Now())
}

// ParseAt parses a pin-policy header. The expiry of the returned policy is
// now plus max-age seconds.
//
// The value is split on ';' and each trimmed segment is classified by
// prefix. Only the pin-sha256 prefix is matched case-insensitively; the
// includeSubdomains token must appear with exactly that casing. Unknown
// segments are ignored. A max-age directive and at least one pin are
// required.
func ParseAt(headerName, headerValue string, now time.Time) (*Policy, error) {
	if headerName == "" {
		return nil, headerErrorf(nil, "header name cannot be empty")
	}
	if headerValue == "" {
		return nil, headerErrorf(nil, "header value cannot be empty")
	}
	if !httpguts.ValidHeaderFieldName(headerName) {
		return nil, headerErrorf(nil, "invalid header name %q", headerName)
	}
	if !httpguts.ValidHeaderFieldValue(headerValue) {
		return nil, headerErrorf(nil, "header value contains control characters")
	}

	p := &Policy{
		headerName: headerName,
		pins:       make(map[string]struct{}),
	}
	sawMaxAge := false

	for _, segment := range strings.Split(headerValue, ";") {
		segment = strings.TrimSpace(segment)
		switch {
		case hasPrefixFold(segment, pinSHA256Prefix):
			pin := quotedValue(segment[len(pinSHA256Prefix):])
			if pin == "" {
				return nil, headerErrorf(nil, "pin-sha256 value cannot be empty")
			}
			if _, err := base64.StdEncoding.DecodeString(pin); err != nil {
				return nil, headerErrorf(err, "pin %s is not a valid base64 string", pin)
			}
			p.pins[pin] = struct{}{}
		case strings.HasPrefix(segment, maxAgePrefix):
			raw := segment[len(maxAgePrefix):]
			seconds, err := strconv.ParseUint(raw, 10, 32)
			if err != nil {
				return nil, headerErrorf(err, "max-age %s is not a valid number", raw)
			}
			p.maxAge = uint32(seconds)
			p.expiresAt = expiry(now, p.maxAge)
			sawMaxAge = true
		case strings.HasPrefix(segment, reportURIPrefix):
			p.reportURI = quotedValue(segment[len(reportURIPrefix):])
		case strings.Contains(segment, includeSubdomainsToken):
			p.includeSubdomains = true
		}
	}

	if !sawMaxAge {
		return nil, headerErrorf(nil, "missing max-age directive")
	}
	if len(p.pins) == 0 {
		return nil, headerErrorf(nil, "pins list cannot be empty")
	}
	return p, nil
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// quotedValue returns the remainder of a `name="value"` segment without its
// closing quote.
func quotedValue(rest string) string {
	return strings.TrimSuffix(rest, `"`)
}
