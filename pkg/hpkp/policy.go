// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package hpkp

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Policy is the immutable, parsed form of a pin-policy header for one host.
//
// A Policy is only produced by Parse/ParseAt, by JSON decoding, or by With
// from an existing Policy. Its fields are never modified after construction,
// so a *Policy may be shared freely between goroutines.
type Policy struct {
	headerName        string
	maxAge            uint32
	expiresAt         time.Time
	includeSubdomains bool
	reportURI         string
	pins              map[string]struct{}
}

// HeaderName returns the name of the header the policy was read from.
func (p *Policy) HeaderName() string { return p.headerName }

// MaxAge returns the max-age directive in seconds. Zero means the host must
// be forgotten.
func (p *Policy) MaxAge() uint32 { return p.maxAge }

// ExpiresAt returns the instant after which the policy no longer applies.
func (p *Policy) ExpiresAt() time.Time { return p.expiresAt }

// ExpiresAtEpochMillis returns ExpiresAt as milliseconds since the Unix epoch.
func (p *Policy) ExpiresAtEpochMillis() int64 { return p.expiresAt.UnixMilli() }

// IncludeSubdomains reports whether descendant hostnames inherit the policy.
func (p *Policy) IncludeSubdomains() bool { return p.includeSubdomains }

// ReportURI returns the report-uri directive, or "" when absent.
func (p *Policy) ReportURI() string { return p.reportURI }

// Pins returns the base64 pins in sorted order. The slice is a copy.
func (p *Policy) Pins() []string {
	out := make([]string, 0, len(p.pins))
	for pin := range p.pins {
		out = append(out, pin)
	}
	slices.Sort(out)
	return out
}

// PinCount returns the number of distinct pins.
func (p *Policy) PinCount() int { return len(p.pins) }

// HasPin reports whether pin is a member of the policy's pin set.
func (p *Policy) HasPin(pin string) bool {
	_, ok := p.pins[pin]
	return ok
}

// Expired reports whether the policy no longer applies at now.
func (p *Policy) Expired(now time.Time) bool {
	return now.After(p.expiresAt)
}

// SamePins reports whether p and other carry exactly the same pin set,
// regardless of order.
func (p *Policy) SamePins(other *Policy) bool {
	if other == nil || len(p.pins) != len(other.pins) {
		return false
	}
	for pin := range p.pins {
		if _, ok := other.pins[pin]; !ok {
			return false
		}
	}
	return true
}

// Equal compares header name, max-age, subdomain inclusion, report URI and
// the pin set. The expiry instant is derived from max-age and is not
// compared.
func (p *Policy) Equal(other *Policy) bool {
	if p == nil || other == nil {
		return p == other
	}
	return p.headerName == other.headerName &&
		p.maxAge == other.maxAge &&
		p.includeSubdomains == other.includeSubdomains &&
		p.reportURI == other.reportURI &&
		p.SamePins(other)
}

// Hash returns a hash consistent with Equal.
func (p *Policy) Hash() uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(p.headerName)
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(strconv.FormatUint(uint64(p.maxAge), 10))
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(strconv.FormatBool(p.includeSubdomains))
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(p.reportURI)
	for _, pin := range p.Pins() {
		_, _ = d.WriteString("\x00")
		_, _ = d.WriteString(pin)
	}
	return d.Sum64()
}

// Directives returns the header directives carried by the policy.
func (p *Policy) Directives() Directives {
	return Directives{
		Pins:              p.Pins(),
		MaxAge:            p.maxAge,
		IncludeSubdomains: p.includeSubdomains,
		ReportURI:         p.reportURI,
	}
}

// String returns the policy serialized as a header value. Parsing the
// result with the same header name yields an equal Policy.
func (p *Policy) String() string {
	return p.Directives().String()
}

// Option overrides one field when deriving a Policy with With.
type Option func(*Policy)

// WithMaxAge sets max-age and recomputes the expiry relative to now.
func WithMaxAge(seconds uint32, now time.Time) Option {
	return func(p *Policy) {
		p.maxAge = seconds
		p.expiresAt = expiry(now, seconds)
	}
}

// WithIncludeSubdomains sets the includeSubdomains flag.
func WithIncludeSubdomains(include bool) Option {
	return func(p *Policy) {
		p.includeSubdomains = include
	}
}

// WithReportURI sets the report URI. An empty string removes it.
func WithReportURI(uri string) Option {
	return func(p *Policy) {
		p.reportURI = uri
	}
}

// WithPins replaces the pin set. Duplicates collapse.
func WithPins(pins ...string) Option {
	return func(p *Policy) {
		p.pins = make(map[string]struct{}, len(pins))
		for _, pin := range pins {
			p.pins[pin] = struct{}{}
		}
	}
}

// WithHeaderName sets the header name.
func WithHeaderName(name string) Option {
	return func(p *Policy) {
		p.headerName = name
	}
}

// With returns a new Policy equal to p with opts applied. p is unchanged.
func (p *Policy) With(opts ...Option) *Policy {
	cp := *p
	cp.pins = make(map[string]struct{}, len(p.pins))
	for pin := range p.pins {
		cp.pins[pin] = struct{}{}
	}
	for _, opt := range opts {
		opt(&cp)
	}
	return &cp
}

func expiry(now time.Time, maxAge uint32) time.Time {
	return now.Add(time.Duration(maxAge) * time.Second)
}

// Directives is the content of a pin-policy header in structured form.
type Directives struct {
	Pins              []string
	MaxAge            uint32
	IncludeSubdomains bool
	ReportURI         string
}

// String formats the directives as a header value:
//
//	pin-sha256="<b64>"; pin-sha256="<b64>"; max-age=<n>[; includeSubdomains][; report-uri="<uri>"]
func (d Directives) String() string {
	parts := make([]string, 0, len(d.Pins)+3)
	for _, pin := range d.Pins {
		parts = append(parts, fmt.Sprintf("%s%s\"", pinSHA256Prefix, pin))
	}
	parts = append(parts, maxAgePrefix+strconv.FormatUint(uint64(d.MaxAge), 10))
	if d.IncludeSubdomains {
		parts = append(parts, includeSubdomainsToken)
	}
	if d.ReportURI != "" {
		parts = append(parts, fmt.Sprintf("%s%s\"", reportURIPrefix, d.ReportURI))
	}
	return strings.Join(parts, "; ")
}

// policyJSON is the persisted form of a Policy.
type policyJSON struct {
	HeaderName        string   `json:"header_name"`
	MaxAge            uint32   `json:"max_age"`
	ExpiresAt         int64    `json:"expires_at_ms"`
	IncludeSubdomains bool     `json:"include_subdomains,omitempty"`
	ReportURI         string   `json:"report_uri,omitempty"`
	Pins              []string `json:"pins"`
}

// MarshalJSON encodes the policy including its absolute expiry.
func (p *Policy) MarshalJSON() ([]byte, error) {
	return json.Marshal(policyJSON{
		HeaderName:        p.headerName,
		MaxAge:            p.maxAge,
		ExpiresAt:         p.ExpiresAtEpochMillis(),
		IncludeSubdomains: p.includeSubdomains,
		ReportURI:         p.reportURI,
		Pins:              p.Pins(),
	})
}

// UnmarshalJSON decodes a policy written by MarshalJSON. The same
// invariants as the parser apply: a header name and at least one pin.
func (p *Policy) UnmarshalJSON(data []byte) error {
	var raw policyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.HeaderName == "" {
		return headerErrorf(nil, "header name cannot be empty")
	}
	if len(raw.Pins) == 0 {
		return headerErrorf(nil, "pins list cannot be empty")
	}
	decoded := &Policy{
		headerName:        raw.HeaderName,
		maxAge:            raw.MaxAge,
		expiresAt:         time.UnixMilli(raw.ExpiresAt),
		includeSubdomains: raw.IncludeSubdomains,
		reportURI:         raw.ReportURI,
	}
	*p = *decoded.With(WithPins(raw.Pins...))
	return nil
}
