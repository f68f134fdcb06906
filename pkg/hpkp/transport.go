// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package hpkp

import (
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/net/idna"
)

// Transport is an http.RoundTripper that enforces public key pinning on
// every HTTPS response before handing it to the caller.
type Transport struct {
	wrap     http.RoundTripper
	enforcer *Enforcer
}

// NewTransport wraps rt with pin enforcement. A nil rt uses
// http.DefaultTransport.
func NewTransport(rt http.RoundTripper, enforcer *Enforcer) *Transport {
	if rt == nil {
		rt = http.DefaultTransport
	}
	return &Transport{wrap: rt, enforcer: enforcer}
}

// RoundTrip executes a single HTTP transaction and validates the server's
// certificate chain. When validation fails the response body is closed and
// only the error is returned. It is safe for concurrent use.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.wrap.RoundTrip(req)
	if err != nil {
		return resp, err
	}
	if resp.TLS == nil {
		return resp, nil
	}

	ex := Exchange{
		Hostname: CanonicalHost(req.URL.Hostname()),
		Port:     requestPort(req),
		Chain:    resp.TLS.PeerCertificates,
	}
	if len(resp.TLS.VerifiedChains) > 0 {
		ex.VerifiedChain = resp.TLS.VerifiedChains[0]
	}

	ctx := req.Context()
	if values := resp.Header.Values(PublicKeyPinsHeader); len(values) > 0 {
		ex.HeaderValue = values[0]
		ex.HeaderPresent = true
	}
	if err := t.enforcer.EnforceExchange(ctx, ex); err != nil {
		resp.Body.Close()
		return nil, err
	}

	if !ex.HeaderPresent {
		if reportOnly := resp.Header.Get(PublicKeyPinsReportOnlyHeader); reportOnly != "" {
			ex.HeaderValue = reportOnly
			if err := t.enforcer.CheckReportOnly(ctx, ex); err != nil {
				resp.Body.Close()
				return nil, err
			}
		}
	}
	return resp, nil
}

// CanonicalHost converts host to its lowercase ASCII (IDNA lookup) form so
// that "Example.COM" and "exämple.com" map to stable store keys. Hosts the
// IDNA profile rejects are only lowercased.
func CanonicalHost(host string) string {
	host = strings.TrimSuffix(host, ".")
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return strings.ToLower(host)
	}
	return ascii
}

func requestPort(req *http.Request) int {
	if p := req.URL.Port(); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			return n
		}
	}
	if req.URL.Scheme == "http" {
		return 80
	}
	return 443
}
